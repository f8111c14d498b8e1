package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doughall/cmdsched/internal/cmdspec"
)

func entry(line int, c cmdspec.Command) cmdspec.Entry {
	return cmdspec.Entry{Line: line, Command: c}
}

func TestPlan_Scenario(t *testing.T) {
	now := time.Date(2026, time.October, 16, 12, 0, 0, 0, time.Local)
	entries := []cmdspec.Entry{
		entry(1, cmdspec.RecurringCommand{Interval: 1, Text: "echo hi"}),
		entry(3, cmdspec.OneTimeCommand{Minute: 30, Hour: 17, Day: 30, Month: 12, Year: 2099, Text: "echo future"}),
		entry(4, cmdspec.OneTimeCommand{Minute: 30, Hour: 17, Day: 30, Month: 12, Year: 1999, Text: "echo past"}),
	}

	s := Plan(now, entries)

	require.Len(t, s.Periodics, 1)
	assert.Equal(t, time.Minute, s.Periodics[0].InitialDelay)
	assert.Equal(t, time.Minute, s.Periodics[0].Period)
	assert.Equal(t, "echo hi", s.Periodics[0].Command.Text)

	require.Len(t, s.OneShots, 1)
	want := time.Date(2099, time.December, 30, 17, 30, 0, 0, time.Local)
	assert.True(t, s.OneShots[0].At.Equal(want))
	assert.GreaterOrEqual(t, s.OneShots[0].Delay, want.Sub(now))
	assert.Zero(t, s.OneShots[0].Delay%time.Second)
	assert.Equal(t, 3, s.OneShots[0].Entry.Line)

	require.Len(t, s.Skipped, 1)
	assert.Equal(t, PastOneTime, s.Skipped[0].Reason)
	assert.Nil(t, s.Skipped[0].Err)
	assert.Equal(t, 4, s.Skipped[0].Entry.Line)

	assert.Equal(t, Summary{OneShots: 1, Periodics: 1, Past: 1}, s.Summary())
}

func TestPlan_RecurringIntervals(t *testing.T) {
	now := time.Now()
	for _, n := range cmdspec.AllowedIntervals {
		s := Plan(now, []cmdspec.Entry{entry(1, cmdspec.RecurringCommand{Interval: n, Text: "x"})})
		require.Len(t, s.Periodics, 1)
		assert.Equal(t, time.Duration(n)*time.Minute, s.Periodics[0].InitialDelay)
		assert.Equal(t, s.Periodics[0].InitialDelay, s.Periodics[0].Period)
	}
}

func TestPlan_ExactlyNowIsSkipped(t *testing.T) {
	now := time.Date(2030, time.March, 1, 10, 15, 0, 0, time.Local)
	c := cmdspec.OneTimeCommand{Minute: 15, Hour: 10, Day: 1, Month: 3, Year: 2030, Text: "x"}

	s := Plan(now, []cmdspec.Entry{entry(1, c)})
	assert.Empty(t, s.OneShots)
	require.Len(t, s.Skipped, 1)
	assert.Equal(t, PastOneTime, s.Skipped[0].Reason)
}

func TestPlan_DelayRoundedUpToSeconds(t *testing.T) {
	c := cmdspec.OneTimeCommand{Minute: 15, Hour: 10, Day: 1, Month: 3, Year: 2030, Text: "x"}
	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{"fractional second", time.Date(2030, time.March, 1, 10, 14, 0, 250*int(time.Millisecond), time.Local), 60 * time.Second},
		{"whole seconds", time.Date(2030, time.March, 1, 10, 14, 1, 0, time.Local), 59 * time.Second},
		{"under a second left", time.Date(2030, time.March, 1, 10, 14, 59, 900*int(time.Millisecond), time.Local), time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Plan(tt.now, []cmdspec.Entry{entry(1, c)})
			require.Len(t, s.OneShots, 1)
			assert.Equal(t, tt.want, s.OneShots[0].Delay)
			// Firing after Delay can never land before the timestamp.
			assert.False(t, tt.now.Add(s.OneShots[0].Delay).Before(s.OneShots[0].At))
		})
	}
}

func TestPlan_InvalidCalendarDate(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.Local)
	tests := []struct {
		name       string
		day, month int
		year       int
		valid      bool
	}{
		{"april 31", 31, 4, 2030, false},
		{"feb 30", 30, 2, 2030, false},
		{"feb 29 non-leap", 29, 2, 2030, false},
		{"feb 29 leap", 29, 2, 2028, true},
		{"feb 29 2100 not leap", 29, 2, 2100, false},
		{"dec 31", 31, 12, 2030, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cmdspec.OneTimeCommand{Minute: 0, Hour: 12, Day: tt.day, Month: tt.month, Year: tt.year, Text: "x"}
			s := Plan(now, []cmdspec.Entry{entry(7, c)})
			if tt.valid {
				assert.Len(t, s.OneShots, 1)
				assert.Empty(t, s.Skipped)
				return
			}
			assert.Empty(t, s.OneShots)
			require.Len(t, s.Skipped, 1)
			assert.Equal(t, InvalidCalendarDate, s.Skipped[0].Reason)
			require.NotNil(t, s.Skipped[0].Err)
			assert.ErrorIs(t, s.Skipped[0].Err, cmdspec.ErrInvalidCalendarDate)
			assert.Equal(t, 1, s.Summary().Invalid)
		})
	}
}

func TestTimestamp_UsesLocation(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	ts, ok := Timestamp(cmdspec.OneTimeCommand{Minute: 5, Hour: 6, Day: 7, Month: 8, Year: 2031}, loc)
	require.True(t, ok)
	assert.Equal(t, loc, ts.Location())
	assert.Equal(t, 6, ts.Hour())
}
