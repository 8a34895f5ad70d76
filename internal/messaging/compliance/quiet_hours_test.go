package compliance

import (
	"testing"
	"time"
)

func TestQuietHoursOvernightWindow(t *testing.T) {
	q, err := ParseQuietHours("21:00", "08:00", time.UTC)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tests := []struct {
		ts   string
		want bool
	}{
		{"2026-03-02T22:00:00Z", true},
		{"2026-03-02T07:59:00Z", true},
		{"2026-03-02T08:00:00Z", false},
		{"2026-03-02T12:00:00Z", false},
	}
	for _, tc := range tests {
		ts, _ := time.Parse(time.RFC3339, tc.ts)
		if got := q.Active(ts); got != tc.want {
			t.Fatalf("Active(%s)=%v want %v", tc.ts, got, tc.want)
		}
	}
}

func TestQuietHoursSameDayWindowInZone(t *testing.T) {
	loc := time.FixedZone("EST", -5*60*60)
	q, err := ParseQuietHours("12:00", "13:00", loc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// 17:30 UTC is 12:30 EST.
	if !q.Active(time.Date(2026, 3, 2, 17, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected lunch window to be active")
	}
	if q.Active(time.Date(2026, 3, 2, 12, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected 07:30 EST to be outside the window")
	}
}

func TestQuietHoursDisabled(t *testing.T) {
	q, err := ParseQuietHours("", "", nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Active(time.Now()) {
		t.Fatalf("empty window must never be active")
	}
	var zero QuietHours
	if zero.Active(time.Now()) {
		t.Fatalf("zero value must never be active")
	}
	if _, err := ParseQuietHours("9pm", "08:00", nil); err == nil {
		t.Fatalf("expected parse error")
	}
}
