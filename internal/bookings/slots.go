package bookings

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	timeWithMeridiemRE = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(a\.m\.?|p\.m\.?|am|pm)\b`)
	oclockRE           = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*o'?\s?clock\b`)
	bareHourRE         = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\b`)
	slotLabelRE        = regexp.MustCompile(`(?i)^\s*(\d{1,2})(?::(\d{2}))?\s*(am|pm)\s*$`)
)

var weekdays = []struct {
	name string
	day  time.Weekday
}{
	{"sunday", time.Sunday},
	{"monday", time.Monday},
	{"tuesday", time.Tuesday},
	{"wednesday", time.Wednesday},
	{"thursday", time.Thursday},
	{"friday", time.Friday},
	{"saturday", time.Saturday},
}

// Slot is a resolved visit time: the day (midnight, practice time zone) and its label.
type Slot struct {
	Date  time.Time
	Label string
}

type clock struct {
	hour   int // 0-23
	minute int
}

func (c clock) label() string {
	h := c.hour % 12
	if h == 0 {
		h = 12
	}
	meridiem := "AM"
	if c.hour >= 12 {
		meridiem = "PM"
	}
	return fmt.Sprintf("%d:%02d %s", h, c.minute, meridiem)
}

// parseSlotLabel reads labels such as "3:00 PM" or "10am".
func parseSlotLabel(label string) (clock, bool) {
	m := slotLabelRE.FindStringSubmatch(label)
	if m == nil {
		return clock{}, false
	}
	return toClock(m[1], m[2], m[3])
}

func toClock(hourStr, minuteStr, meridiem string) (clock, bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour < 1 || hour > 12 {
		return clock{}, false
	}
	minute := 0
	if minuteStr != "" {
		if minute, err = strconv.Atoi(minuteStr); err != nil || minute > 59 {
			return clock{}, false
		}
	}
	meridiem = strings.ReplaceAll(strings.ToLower(meridiem), ".", "")
	switch meridiem {
	case "p", "pm":
		if hour != 12 {
			hour += 12
		}
	case "a", "am":
		if hour == 12 {
			hour = 0
		}
	}
	return clock{hour: hour, minute: minute}, true
}

// ResolveSlot picks the visit time and day a reply refers to.
//
// Time: only offered candidates are ever booked. An explicit "3pm" or
// "3:00 p.m." selects the candidate at that time; otherwise its hour, a
// "3 o'clock" or a bare "3" selects the single candidate with that hour;
// otherwise the first candidate, then fallbackLabel. Day: "today",
// "tomorrow" or the weekday named earliest in the message (next occurrence
// after today); otherwise tomorrow.
func ResolveSlot(hint string, candidates []string, receivedAt time.Time, loc *time.Location, fallbackLabel string) Slot {
	if loc == nil {
		loc = time.UTC
	}
	msg := strings.ToLower(strings.TrimSpace(hint))
	return Slot{
		Date:  resolveDay(msg, receivedAt.In(loc)),
		Label: resolveTime(msg, candidates, fallbackLabel),
	}
}

func resolveTime(msg string, candidates []string, fallbackLabel string) string {
	parsed := make([]clock, 0, len(candidates))
	for _, c := range candidates {
		if ck, ok := parseSlotLabel(c); ok {
			parsed = append(parsed, ck)
		}
	}

	// hour/minute pairs mentioned in the message, most specific first
	var mentions [][2]string
	if m := timeWithMeridiemRE.FindStringSubmatch(msg); m != nil {
		if want, ok := toClock(m[1], m[2], m[3]); ok {
			for _, ck := range parsed {
				if ck == want {
					return ck.label()
				}
			}
		}
		mentions = append(mentions, [2]string{m[1], m[2]})
	}
	for _, re := range []*regexp.Regexp{oclockRE, bareHourRE} {
		if m := re.FindStringSubmatch(msg); m != nil {
			mentions = append(mentions, [2]string{m[1], m[2]})
		}
	}

	for _, mention := range mentions {
		if label, ok := uniqueHourMatch(parsed, mention[0], mention[1]); ok {
			return label
		}
	}

	if len(parsed) > 0 {
		return parsed[0].label()
	}
	if ck, ok := parseSlotLabel(fallbackLabel); ok {
		return ck.label()
	}
	return fallbackLabel
}

// uniqueHourMatch returns the only candidate whose 12-hour clock reads hourStr:minuteStr.
func uniqueHourMatch(parsed []clock, hourStr, minuteStr string) (string, bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil {
		return "", false
	}
	minute := 0
	if minuteStr != "" {
		minute, _ = strconv.Atoi(minuteStr)
	}
	var hits []clock
	for _, ck := range parsed {
		h12 := ck.hour % 12
		if h12 == 0 {
			h12 = 12
		}
		if h12 == hour && ck.minute == minute {
			hits = append(hits, ck)
		}
	}
	if len(hits) != 1 {
		return "", false
	}
	return hits[0].label(), true
}

func resolveDay(msg string, now time.Time) time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch {
	case strings.Contains(msg, "tomorrow"):
		return today.AddDate(0, 0, 1)
	case strings.Contains(msg, "today"), strings.Contains(msg, "tonight"):
		return today
	}
	first := -1
	var day time.Weekday
	for _, wd := range weekdays {
		if i := strings.Index(msg, wd.name); i >= 0 && (first < 0 || i < first) {
			first, day = i, wd.day
		}
	}
	if first >= 0 {
		delta := (int(day) - int(today.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return today.AddDate(0, 0, delta)
	}
	return today.AddDate(0, 0, 1)
}
