package calendar

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// Frequency is how often a recurring event repeats.
type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyYearly  Frequency = "YEARLY"
)

// Weekday is an RFC 5545 two-letter weekday code.
type Weekday string

const (
	Monday    Weekday = "MO"
	Tuesday   Weekday = "TU"
	Wednesday Weekday = "WE"
	Thursday  Weekday = "TH"
	Friday    Weekday = "FR"
	Saturday  Weekday = "SA"
	Sunday    Weekday = "SU"
)

// weekdayOrder sorts Monday first, matching the canonical BYDAY encoding.
var weekdayOrder = map[Weekday]int{
	Monday: 0, Tuesday: 1, Wednesday: 2, Thursday: 3,
	Friday: 4, Saturday: 5, Sunday: 6,
}

var rruleWeekdays = map[Weekday]rrule.Weekday{
	Monday: rrule.MO, Tuesday: rrule.TU, Wednesday: rrule.WE,
	Thursday: rrule.TH, Friday: rrule.FR, Saturday: rrule.SA, Sunday: rrule.SU,
}

var rruleFrequencies = map[Frequency]rrule.Frequency{
	FrequencyDaily:   rrule.DAILY,
	FrequencyWeekly:  rrule.WEEKLY,
	FrequencyMonthly: rrule.MONTHLY,
	FrequencyYearly:  rrule.YEARLY,
}

const untilLayout = "20060102T150405Z"

// RecurrenceRule describes how an event repeats. Count and Until are
// mutually exclusive; Until is kept in UTC.
type RecurrenceRule struct {
	Frequency Frequency `json:"frequency"`
	Interval  int       `json:"interval"`
	Count     int       `json:"count,omitempty"`
	Until     time.Time `json:"until,omitempty"`
	ByDay     []Weekday `json:"by_day,omitempty"`
}

// Validate checks the rule's structural invariants.
func (r *RecurrenceRule) Validate() error {
	if _, ok := rruleFrequencies[r.Frequency]; !ok {
		return &ValidationError{Field: "recurrence.frequency", Reason: fmt.Sprintf("unknown frequency %q", r.Frequency)}
	}
	if r.Interval < 1 {
		return &ValidationError{Field: "recurrence.interval", Reason: "interval must be at least 1"}
	}
	if r.Count > 0 && !r.Until.IsZero() {
		return &ValidationError{Field: "recurrence", Reason: "count and until are mutually exclusive"}
	}
	for _, d := range r.ByDay {
		if _, ok := weekdayOrder[d]; !ok {
			return &ValidationError{Field: "recurrence.by_day", Reason: fmt.Sprintf("unknown weekday %q", d)}
		}
	}
	return nil
}

// EncodeRRule renders a rule as an RFC 5545 RRULE value. The encoding is
// canonical: FREQ, INTERVAL, COUNT or UNTIL, then BYDAY sorted
// Monday through Sunday, so equal rules always produce equal strings.
func EncodeRRule(r *RecurrenceRule) string {
	parts := []string{
		"FREQ=" + string(r.Frequency),
		"INTERVAL=" + strconv.Itoa(r.Interval),
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	} else if !r.Until.IsZero() {
		parts = append(parts, "UNTIL="+r.Until.UTC().Format(untilLayout))
	}
	if len(r.ByDay) > 0 {
		days := make([]Weekday, len(r.ByDay))
		copy(days, r.ByDay)
		sort.Slice(days, func(i, j int) bool {
			return weekdayOrder[days[i]] < weekdayOrder[days[j]]
		})
		codes := make([]string, len(days))
		for i, d := range days {
			codes[i] = string(d)
		}
		parts = append(parts, "BYDAY="+strings.Join(codes, ","))
	}
	return strings.Join(parts, ";")
}

// DecodeRRule parses an RRULE value back into a rule. Unknown keys or
// values yield MalformedRecurrenceRuleError; DecodeRRule(EncodeRRule(r))
// reproduces r for every valid rule.
func DecodeRRule(s string) (*RecurrenceRule, error) {
	if s == "" {
		return nil, &MalformedRecurrenceRuleError{Rule: s}
	}
	rule := &RecurrenceRule{Interval: 1}
	for _, part := range strings.Split(s, ";") {
		key, value, found := strings.Cut(part, "=")
		if !found || value == "" {
			return nil, &MalformedRecurrenceRuleError{Rule: s, Token: part}
		}
		switch key {
		case "FREQ":
			freq := Frequency(value)
			if _, ok := rruleFrequencies[freq]; !ok {
				return nil, &MalformedRecurrenceRuleError{Rule: s, Token: part}
			}
			rule.Frequency = freq
		case "INTERVAL":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return nil, &MalformedRecurrenceRuleError{Rule: s, Token: part}
			}
			rule.Interval = n
		case "COUNT":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return nil, &MalformedRecurrenceRuleError{Rule: s, Token: part}
			}
			rule.Count = n
		case "UNTIL":
			t, err := time.Parse(untilLayout, value)
			if err != nil {
				return nil, &MalformedRecurrenceRuleError{Rule: s, Token: part}
			}
			rule.Until = t.UTC()
		case "BYDAY":
			for _, code := range strings.Split(value, ",") {
				d := Weekday(code)
				if _, ok := weekdayOrder[d]; !ok {
					return nil, &MalformedRecurrenceRuleError{Rule: s, Token: part}
				}
				rule.ByDay = append(rule.ByDay, d)
			}
			sort.Slice(rule.ByDay, func(i, j int) bool {
				return weekdayOrder[rule.ByDay[i]] < weekdayOrder[rule.ByDay[j]]
			})
		default:
			return nil, &MalformedRecurrenceRuleError{Rule: s, Token: part}
		}
	}
	if rule.Frequency == "" {
		return nil, &MalformedRecurrenceRuleError{Rule: s, Token: "FREQ"}
	}
	if err := rule.Validate(); err != nil {
		return nil, &MalformedRecurrenceRuleError{Rule: s}
	}
	return rule, nil
}

// Safety cap so an unbounded rule cannot explode a window expansion.
const maxOccurrences = 1000

// ExpandOccurrences materializes the concrete instances of a recurring
// event that intersect the window. The base event's duration is preserved
// on each instance.
func ExpandOccurrences(base *Event, w Window) ([]*Event, error) {
	if base.Recurrence == nil {
		if base.Overlaps(w.Start, w.End) {
			return []*Event{base}, nil
		}
		return nil, nil
	}
	r := base.Recurrence
	if err := r.Validate(); err != nil {
		return nil, err
	}

	opt := rrule.ROption{
		Freq:     rruleFrequencies[r.Frequency],
		Interval: r.Interval,
		Dtstart:  base.Start,
	}
	if r.Count > 0 {
		opt.Count = r.Count
	}
	if !r.Until.IsZero() {
		opt.Until = r.Until
	}
	for _, d := range r.ByDay {
		opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d])
	}

	rr, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, &MalformedRecurrenceRuleError{Rule: EncodeRRule(r)}
	}

	duration := base.Duration()
	starts := rr.Between(w.Start.Add(-duration), w.End, true)
	if len(starts) > maxOccurrences {
		starts = starts[:maxOccurrences]
	}

	var out []*Event
	for _, start := range starts {
		inst := *base
		inst.Start = start
		inst.End = start.Add(duration)
		if !inst.Overlaps(w.Start, w.End) {
			continue
		}
		inst.StampLabels()
		out = append(out, &inst)
	}
	return out, nil
}
