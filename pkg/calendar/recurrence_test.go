package calendar

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		rule RecurrenceRule
		want string
	}{
		{
			name: "weekly three days with count",
			rule: RecurrenceRule{
				Frequency: FrequencyWeekly,
				Interval:  1,
				Count:     6,
				ByDay:     []Weekday{Monday, Wednesday, Friday},
			},
			want: "FREQ=WEEKLY;INTERVAL=1;COUNT=6;BYDAY=MO,WE,FR",
		},
		{
			name: "daily interval only",
			rule: RecurrenceRule{Frequency: FrequencyDaily, Interval: 2},
			want: "FREQ=DAILY;INTERVAL=2",
		},
		{
			name: "monthly with until",
			rule: RecurrenceRule{
				Frequency: FrequencyMonthly,
				Interval:  1,
				Until:     time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC),
			},
			want: "FREQ=MONTHLY;INTERVAL=1;UNTIL=20251231T230000Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeRRule(&tt.rule)
			if got != tt.want {
				t.Fatalf("EncodeRRule = %q, want %q", got, tt.want)
			}
			back, err := DecodeRRule(got)
			if err != nil {
				t.Fatalf("DecodeRRule failed: %v", err)
			}
			if !reflect.DeepEqual(back, &tt.rule) {
				t.Errorf("round trip = %+v, want %+v", back, tt.rule)
			}
		})
	}
}

func TestEncodeCanonicalByDayOrder(t *testing.T) {
	rule := RecurrenceRule{
		Frequency: FrequencyWeekly,
		Interval:  1,
		ByDay:     []Weekday{Friday, Monday, Wednesday},
	}
	got := EncodeRRule(&rule)
	want := "FREQ=WEEKLY;INTERVAL=1;BYDAY=MO,WE,FR"
	if got != want {
		t.Errorf("EncodeRRule = %q, want %q", got, want)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
		token string
	}{
		{"empty", "", ""},
		{"unknown key", "FREQ=WEEKLY;BOGUS=1", "BOGUS=1"},
		{"unknown frequency", "FREQ=HOURLY", "FREQ=HOURLY"},
		{"missing freq", "INTERVAL=2", "FREQ"},
		{"bad interval", "FREQ=DAILY;INTERVAL=zero", "INTERVAL=zero"},
		{"bad weekday", "FREQ=WEEKLY;BYDAY=MO,XX", "BYDAY=MO,XX"},
		{"bad until", "FREQ=DAILY;UNTIL=tomorrow", "UNTIL=tomorrow"},
		{"empty value", "FREQ=", "FREQ="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRRule(tt.input)
			var malformed *MalformedRecurrenceRuleError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected MalformedRecurrenceRuleError, got %v", err)
			}
			if malformed.Token != tt.token {
				t.Errorf("Token = %q, want %q", malformed.Token, tt.token)
			}
		})
	}
}

func TestDecodeDefaultInterval(t *testing.T) {
	rule, err := DecodeRRule("FREQ=DAILY")
	if err != nil {
		t.Fatalf("DecodeRRule failed: %v", err)
	}
	if rule.Interval != 1 {
		t.Errorf("Interval = %d, want 1", rule.Interval)
	}
}

func TestValidateCountUntilExclusive(t *testing.T) {
	rule := RecurrenceRule{
		Frequency: FrequencyDaily,
		Interval:  1,
		Count:     3,
		Until:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := rule.Validate(); err == nil {
		t.Error("Validate should reject count and until together")
	}
}

func TestExpandOccurrencesWeekly(t *testing.T) {
	base := &Event{
		ID:         "standup",
		CalendarID: "work",
		Title:      "Standup",
		Start:      time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC), // a Monday
		End:        time.Date(2025, 3, 3, 9, 30, 0, 0, time.UTC),
		Recurrence: &RecurrenceRule{
			Frequency: FrequencyWeekly,
			Interval:  1,
			Count:     6,
			ByDay:     []Weekday{Monday, Wednesday, Friday},
		},
	}
	w := Window{
		Start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
	}

	instances, err := ExpandOccurrences(base, w)
	if err != nil {
		t.Fatalf("ExpandOccurrences failed: %v", err)
	}
	if len(instances) != 6 {
		t.Fatalf("got %d instances, want 6", len(instances))
	}

	wantDays := []int{3, 5, 7, 10, 12, 14}
	for i, inst := range instances {
		if inst.Start.Day() != wantDays[i] {
			t.Errorf("instance %d starts on day %d, want %d", i, inst.Start.Day(), wantDays[i])
		}
		if got := inst.Duration(); got != 30*time.Minute {
			t.Errorf("instance %d duration = %v, want 30m", i, got)
		}
		if inst.Title != "Standup" {
			t.Errorf("instance %d title = %q", i, inst.Title)
		}
	}
}

func TestExpandOccurrencesWindowClipping(t *testing.T) {
	base := &Event{
		ID:         "daily",
		CalendarID: "cal",
		Title:      "Daily",
		Start:      time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		End:        time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Recurrence: &RecurrenceRule{Frequency: FrequencyDaily, Interval: 1},
	}
	w := Window{
		Start: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC),
	}

	instances, err := ExpandOccurrences(base, w)
	if err != nil {
		t.Fatalf("ExpandOccurrences failed: %v", err)
	}
	if len(instances) != 3 {
		t.Fatalf("got %d instances, want 3", len(instances))
	}
	for _, inst := range instances {
		if !inst.Overlaps(w.Start, w.End) {
			t.Errorf("instance at %v falls outside the window", inst.Start)
		}
	}
}

func TestExpandOccurrencesNonRecurring(t *testing.T) {
	base := &Event{
		ID:         "once",
		CalendarID: "cal",
		Title:      "Once",
		Start:      time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC),
		End:        time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC),
	}

	inside := Window{
		Start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
	}
	instances, err := ExpandOccurrences(base, inside)
	if err != nil || len(instances) != 1 {
		t.Fatalf("got %d instances (err %v), want 1", len(instances), err)
	}

	outside := Window{
		Start: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC),
	}
	instances, err = ExpandOccurrences(base, outside)
	if err != nil || len(instances) != 0 {
		t.Fatalf("got %d instances (err %v), want 0", len(instances), err)
	}
}
