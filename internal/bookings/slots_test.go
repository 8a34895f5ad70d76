package bookings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var offered = []string{"2:00 PM", "3:00 PM", "4:00 PM"}

// Monday, March 2 2026, 10:15 local.
var monday = time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)

func TestResolveSlotTime(t *testing.T) {
	tests := []struct {
		name       string
		hint       string
		candidates []string
		want       string
	}{
		{"explicit pm", "Tomorrow at 3pm works", offered, "3:00 PM"},
		{"explicit with minutes and dots", "how about 4:00 p.m.?", offered, "4:00 PM"},
		{"explicit time outside candidates", "can I come at 11am", offered, "2:00 PM"},
		{"late evening not offered", "Tomorrow at 11pm works", offered, "2:00 PM"},
		{"wrong meridiem uses offered hour", "book me for 3am", offered, "3:00 PM"},
		{"lone letter is not a meridiem", "i can do 2 a week from now", offered, "2:00 PM"},
		{"digit inside a word", "room b4 works", offered, "2:00 PM"},
		{"morning slot", "10:30 a.m. please", []string{"10:30 AM", "2:00 PM"}, "10:30 AM"},
		{"oclock", "3 o'clock please", offered, "3:00 PM"},
		{"bare hour", "tomorrow at 2", offered, "2:00 PM"},
		{"bare hour not offered", "tomorrow at 9", offered, "2:00 PM"},
		{"no time picks first candidate", "sure, tomorrow works", offered, "2:00 PM"},
		{"no candidates uses default", "book me", nil, "3:00 PM"},
		{"no candidates ignores explicit time", "11pm", nil, "3:00 PM"},
		{"noon", "12pm", []string{"12:00 AM", "12:00 PM"}, "12:00 PM"},
		{"midnight edge", "12am", []string{"12:00 PM", "12:00 AM"}, "12:00 AM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveSlot(tt.hint, tt.candidates, monday, time.UTC, "3:00 PM")
			assert.Equal(t, tt.want, got.Label)
		})
	}
}

func TestResolveSlotDay(t *testing.T) {
	tests := []struct {
		name string
		hint string
		want time.Time
	}{
		{"tomorrow", "Tomorrow at 3pm works", time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)},
		{"today", "today at 4pm", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		{"weekday later this week", "Thursday at 2pm", time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"same weekday means next week", "monday 3pm", time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},
		{"default tomorrow", "3pm", time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)},
		{"earliest weekday named wins", "monday or friday at 3pm", time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},
		{"earliest weekday named wins reversed", "friday or monday at 3pm", time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveSlot(tt.hint, offered, monday, time.UTC, "")
			assert.True(t, tt.want.Equal(got.Date), "got %s want %s", got.Date, tt.want)
		})
	}
}

func TestResolveSlotIsDeterministic(t *testing.T) {
	want := ResolveSlot("wednesday or saturday, 4 works", offered, monday, time.UTC, "")
	for i := 0; i < 100; i++ {
		got := ResolveSlot("wednesday or saturday, 4 works", offered, monday, time.UTC, "")
		assert.True(t, want.Date.Equal(got.Date))
		assert.Equal(t, want.Label, got.Label)
	}
	assert.Equal(t, time.Wednesday, want.Date.Weekday())
	assert.Equal(t, "4:00 PM", want.Label)
}

func TestResolveSlotUsesPracticeTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	// 02:00 UTC on March 3 is still March 2 in Los Angeles.
	received := time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC)
	got := ResolveSlot("tomorrow 3pm", offered, received, loc, "")
	assert.Equal(t, 3, got.Date.Day())
	assert.Equal(t, loc, got.Date.Location())
}

func TestParseSlotLabel(t *testing.T) {
	ck, ok := parseSlotLabel("10am")
	assert.True(t, ok)
	assert.Equal(t, "10:00 AM", ck.label())

	_, ok = parseSlotLabel("whenever")
	assert.False(t, ok)
	_, ok = parseSlotLabel("13:00 PM")
	assert.False(t, ok)
}
