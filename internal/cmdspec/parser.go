package cmdspec

import (
	"strconv"
	"strings"
	"unicode"
)

const recurringPrefix = "*/"

// oneTimeFields is the number of whitespace-separated fields in a one-time line;
// the last one is the command text.
const oneTimeFields = 6

// ParseLine parses one raw line. A blank line yields (nil, nil).
// Rejections are returned as *ParseError.
func ParseLine(raw string) (Command, error) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return nil, nil
	}
	if strings.HasPrefix(line, recurringPrefix) {
		return parseRecurring(line)
	}
	return parseOneTime(line)
}

func parseRecurring(line string) (Command, error) {
	rest := line[len(recurringPrefix):]
	sp := strings.IndexFunc(rest, unicode.IsSpace)
	if sp == -1 {
		return nil, &ParseError{Kind: ErrMalformedRecurring, Line: line}
	}

	interval, err := strconv.Atoi(rest[:sp])
	if err != nil {
		return nil, &ParseError{Kind: ErrInvalidIntervalFormat, Line: line, Field: "interval", Err: err}
	}
	if !IsAllowedInterval(interval) {
		return nil, &ParseError{Kind: ErrIntervalNotAllowed, Line: line, Field: "interval"}
	}

	return RecurringCommand{
		Interval: interval,
		Text:     strings.TrimSpace(rest[sp:]),
	}, nil
}

// bound is an inclusive range check for one numeric field.
type bound struct {
	name     string
	min, max int
}

var oneTimeBounds = [oneTimeFields - 1]bound{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
	{"year", MinYear, MaxYear},
}

func parseOneTime(line string) (Command, error) {
	parts := splitFields(line, oneTimeFields)
	if len(parts) < oneTimeFields {
		return nil, &ParseError{Kind: ErrMalformedOneTime, Line: line}
	}

	var vals [oneTimeFields - 1]int
	for i, b := range oneTimeBounds {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return nil, &ParseError{Kind: ErrInvalidNumberFormat, Line: line, Field: b.name, Err: err}
		}
		vals[i] = n
	}
	for i, b := range oneTimeBounds {
		if vals[i] < b.min || vals[i] > b.max {
			return nil, &ParseError{Kind: ErrOutOfRangeField, Line: line, Field: b.name}
		}
	}

	return OneTimeCommand{
		Minute: vals[0],
		Hour:   vals[1],
		Day:    vals[2],
		Month:  vals[3],
		Year:   vals[4],
		Text:   parts[5],
	}, nil
}

// splitFields splits s on runs of whitespace into at most n fields. The last
// field keeps the remainder of s verbatim, including inner whitespace.
// s must already be trimmed.
func splitFields(s string, n int) []string {
	var out []string
	for len(out) < n-1 {
		end := strings.IndexFunc(s, unicode.IsSpace)
		if end == -1 {
			break
		}
		out = append(out, s[:end])
		s = strings.TrimLeftFunc(s[end:], unicode.IsSpace)
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
