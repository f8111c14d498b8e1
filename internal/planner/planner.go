// Package planner turns parsed commands into concrete fire-times.
//
// One-time commands become one-shot timers if their timestamp lies in the
// future and are skipped otherwise. Recurring commands become fixed-rate
// timers whose first fire is one full interval after scheduling begins.
package planner

import (
	"time"

	"github.com/doughall/cmdsched/internal/cmdspec"
)

// SkipReason says why a one-time command will not run.
type SkipReason string

const (
	// PastOneTime: the timestamp is at or before now. Intended behaviour, not an error.
	PastOneTime SkipReason = "past_one_time"
	// InvalidCalendarDate: the fields do not form a real date (e.g. Feb 30). A rejection.
	InvalidCalendarDate SkipReason = "invalid_calendar_date"
)

// OneShot is a one-time command due after Delay.
type OneShot struct {
	Entry   cmdspec.Entry
	Command cmdspec.OneTimeCommand
	At      time.Time
	Delay   time.Duration
}

// Periodic is a recurring command on a fixed-rate schedule.
type Periodic struct {
	Entry        cmdspec.Entry
	Command      cmdspec.RecurringCommand
	InitialDelay time.Duration
	Period       time.Duration
}

// Skipped is a one-time command that will not be dispatched.
type Skipped struct {
	Entry  cmdspec.Entry
	Reason SkipReason
	// At is the resolved timestamp; zero for InvalidCalendarDate.
	At time.Time
	// Err is set for rejections (InvalidCalendarDate).
	Err *cmdspec.ParseError
}

// Schedule is the plan for one load of the commands file.
type Schedule struct {
	Now       time.Time
	OneShots  []OneShot
	Periodics []Periodic
	Skipped   []Skipped
}

// Summary holds counts for logging.
type Summary struct {
	OneShots  int
	Periodics int
	Past      int
	Invalid   int
}

// Summary returns counts per outcome.
func (s *Schedule) Summary() Summary {
	sum := Summary{OneShots: len(s.OneShots), Periodics: len(s.Periodics)}
	for _, sk := range s.Skipped {
		switch sk.Reason {
		case PastOneTime:
			sum.Past++
		case InvalidCalendarDate:
			sum.Invalid++
		}
	}
	return sum
}

// Plan computes fire-times for entries relative to now, in now's location.
func Plan(now time.Time, entries []cmdspec.Entry) *Schedule {
	s := &Schedule{Now: now}
	for _, e := range entries {
		switch c := e.Command.(type) {
		case cmdspec.OneTimeCommand:
			s.planOneTime(e, c)
		case cmdspec.RecurringCommand:
			period := time.Duration(c.Interval) * time.Minute
			s.Periodics = append(s.Periodics, Periodic{
				Entry:        e,
				Command:      c,
				InitialDelay: period,
				Period:       period,
			})
		}
	}
	return s
}

func (s *Schedule) planOneTime(e cmdspec.Entry, c cmdspec.OneTimeCommand) {
	at, ok := Timestamp(c, s.Now.Location())
	if !ok {
		s.Skipped = append(s.Skipped, Skipped{
			Entry:  e,
			Reason: InvalidCalendarDate,
			Err: &cmdspec.ParseError{
				Kind:  cmdspec.ErrInvalidCalendarDate,
				Line:  c.String(),
				Field: "day",
			},
		})
		return
	}

	if !at.After(s.Now) {
		s.Skipped = append(s.Skipped, Skipped{Entry: e, Reason: PastOneTime, At: at})
		return
	}

	s.OneShots = append(s.OneShots, OneShot{
		Entry:   e,
		Command: c,
		At:      at,
		Delay:   ceilSecond(at.Sub(s.Now)),
	})
}

// ceilSecond rounds d up to a whole second so a one-shot never fires before
// its timestamp.
func ceilSecond(d time.Duration) time.Duration {
	if r := d % time.Second; r != 0 {
		d += time.Second - r
	}
	return d
}

// Timestamp builds the local timestamp for c. It returns false when the
// calendar date does not exist (time.Date would silently normalize it).
func Timestamp(c cmdspec.OneTimeCommand, loc *time.Location) (time.Time, bool) {
	t := time.Date(c.Year, time.Month(c.Month), c.Day, c.Hour, c.Minute, 0, 0, loc)
	y, m, d := t.Date()
	if y != c.Year || int(m) != c.Month || d != c.Day {
		return time.Time{}, false
	}
	return t, true
}
