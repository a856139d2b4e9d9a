package calendar

import (
	"testing"
	"time"
)

func TestWindowForMonth(t *testing.T) {
	anchor := time.Date(2025, 3, 15, 14, 30, 0, 0, time.UTC)
	w := WindowFor(anchor, ViewMonth, time.Sunday)

	wantStart := time.Date(2025, 2, 22, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2025, 4, 8, 0, 0, 0, 0, time.UTC)

	if !w.Start.Equal(wantStart) {
		t.Errorf("Start = %v, want %v", w.Start, wantStart)
	}
	if !w.End.Equal(wantEnd) {
		t.Errorf("End = %v, want %v", w.End, wantEnd)
	}
}

func TestWindowForWeek(t *testing.T) {
	tests := []struct {
		name      string
		anchor    time.Time
		weekStart time.Weekday
		wantStart time.Time
	}{
		{
			name:      "wednesday anchored to sunday",
			anchor:    time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC),
			weekStart: time.Sunday,
			wantStart: time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "wednesday anchored to monday",
			anchor:    time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC),
			weekStart: time.Monday,
			wantStart: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "anchor already on week start",
			anchor:    time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
			weekStart: time.Sunday,
			wantStart: time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "sunday anchor with monday week start wraps back",
			anchor:    time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC),
			weekStart: time.Monday,
			wantStart: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := WindowFor(tt.anchor, ViewWeek, tt.weekStart)
			if !w.Start.Equal(tt.wantStart) {
				t.Errorf("Start = %v, want %v", w.Start, tt.wantStart)
			}
			if want := tt.wantStart.AddDate(0, 0, 7); !w.End.Equal(want) {
				t.Errorf("End = %v, want %v", w.End, want)
			}
		})
	}
}

func TestWindowForDay(t *testing.T) {
	anchor := time.Date(2025, 3, 15, 23, 59, 0, 0, time.UTC)
	w := WindowFor(anchor, ViewDay, time.Sunday)

	wantStart := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	if !w.Start.Equal(wantStart) {
		t.Errorf("Start = %v, want %v", w.Start, wantStart)
	}
	if want := wantStart.AddDate(0, 0, 1); !w.End.Equal(want) {
		t.Errorf("End = %v, want %v", w.End, want)
	}
}

func TestWindowContainsHalfOpen(t *testing.T) {
	w := Window{
		Start: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC),
	}
	if !w.Contains(w.Start) {
		t.Error("window should contain its start")
	}
	if w.Contains(w.End) {
		t.Error("window should not contain its end")
	}
}

func TestParseView(t *testing.T) {
	for _, s := range []string{"month", "week", "day"} {
		if _, err := ParseView(s); err != nil {
			t.Errorf("ParseView(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseView("fortnight"); err == nil {
		t.Error("ParseView should reject unknown views")
	}
}
