// Package cmdspec parses command specification lines into validated descriptors.
//
// Two line forms are accepted:
//
//	*/<interval> <command>                      recurring, every <interval> minutes
//	<min> <hour> <day> <month> <year> <command> one-time, at a local timestamp
//
// The command text is opaque and handed verbatim to a shell.
package cmdspec

import (
	"fmt"
	"slices"
)

// AllowedIntervals lists the recurring intervals, in minutes, that divide an hour evenly.
var AllowedIntervals = []int{1, 2, 3, 4, 5, 6, 10, 12, 15, 20, 30, 60}

// Field bounds for one-time commands.
const (
	MinYear = 1900
	MaxYear = 2100
)

// Command is a parsed descriptor: either OneTimeCommand or RecurringCommand.
// Use a type switch to handle each kind.
type Command interface {
	// CommandText returns the shell text to run.
	CommandText() string
	// Kind returns "one-time" or "recurring".
	Kind() string
	String() string

	command()
}

// OneTimeCommand runs once at a local calendar timestamp.
type OneTimeCommand struct {
	Minute int
	Hour   int
	Day    int
	Month  int
	Year   int
	Text   string
}

// RecurringCommand runs every Interval minutes.
type RecurringCommand struct {
	Interval int
	Text     string
}

func (OneTimeCommand) command()   {}
func (RecurringCommand) command() {}

func (c OneTimeCommand) CommandText() string   { return c.Text }
func (c RecurringCommand) CommandText() string { return c.Text }

func (OneTimeCommand) Kind() string   { return "one-time" }
func (RecurringCommand) Kind() string { return "recurring" }

// String renders the command in its input line form.
func (c OneTimeCommand) String() string {
	return fmt.Sprintf("%d %d %d %d %d %s", c.Minute, c.Hour, c.Day, c.Month, c.Year, c.Text)
}

// String renders the command in its input line form.
func (c RecurringCommand) String() string {
	return fmt.Sprintf("*/%d %s", c.Interval, c.Text)
}

// IsAllowedInterval reports whether n is one of AllowedIntervals.
func IsAllowedInterval(n int) bool {
	return slices.Contains(AllowedIntervals, n)
}
