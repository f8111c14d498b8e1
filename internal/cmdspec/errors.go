package cmdspec

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per rejection kind. A *ParseError matches its kind via errors.Is.
var (
	ErrMalformedRecurring    = errors.New("malformed recurring command")
	ErrInvalidIntervalFormat = errors.New("invalid interval format")
	ErrIntervalNotAllowed    = errors.New("interval not allowed")
	ErrMalformedOneTime      = errors.New("malformed one-time command")
	ErrInvalidNumberFormat   = errors.New("invalid number format")
	ErrOutOfRangeField       = errors.New("field out of range")
	ErrInvalidCalendarDate   = errors.New("invalid calendar date")
)

// ParseError describes why a line was rejected.
type ParseError struct {
	// Kind is one of the Err* sentinels above.
	Kind error
	// Line is the trimmed input line.
	Line string
	// Field names the offending field, if any (e.g. "hour", "interval").
	Field string
	// Err is the underlying cause, e.g. a strconv error.
	Err error
}

func (e *ParseError) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s: %q", msg, e.Line)
}

// Is matches the error's kind sentinel.
func (e *ParseError) Is(target error) bool {
	return e.Kind == target
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Reason returns a short machine-friendly reason for logs.
func (e *ParseError) Reason() string {
	switch e.Kind {
	case ErrMalformedRecurring:
		return "malformed_recurring"
	case ErrInvalidIntervalFormat:
		return "invalid_interval_format"
	case ErrIntervalNotAllowed:
		return "interval_not_allowed"
	case ErrMalformedOneTime:
		return "malformed_one_time"
	case ErrInvalidNumberFormat:
		return "invalid_number_format"
	case ErrOutOfRangeField:
		return "out_of_range_field"
	case ErrInvalidCalendarDate:
		return "invalid_calendar_date"
	default:
		return "unknown"
	}
}
