package compliance

import (
	"fmt"
	"time"
)

// QuietHours is a daily local-time window during which automated outreach
// is held back. The zero value never suppresses.
type QuietHours struct {
	startMin int
	endMin   int
	loc      *time.Location
	enabled  bool
}

// ParseQuietHours builds a window from "HH:MM" bounds. Empty bounds disable it.
func ParseQuietHours(start, end string, loc *time.Location) (QuietHours, error) {
	if start == "" && end == "" {
		return QuietHours{}, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	s, err := minutesOfDay(start)
	if err != nil {
		return QuietHours{}, fmt.Errorf("compliance: quiet hours start: %w", err)
	}
	e, err := minutesOfDay(end)
	if err != nil {
		return QuietHours{}, fmt.Errorf("compliance: quiet hours end: %w", err)
	}
	return QuietHours{startMin: s, endMin: e, loc: loc, enabled: s != e}, nil
}

// Active reports whether t falls inside the window.
func (q QuietHours) Active(t time.Time) bool {
	if !q.enabled {
		return false
	}
	local := t.In(q.loc)
	m := local.Hour()*60 + local.Minute()
	if q.startMin < q.endMin {
		return m >= q.startMin && m < q.endMin
	}
	return m >= q.startMin || m < q.endMin
}

func minutesOfDay(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
