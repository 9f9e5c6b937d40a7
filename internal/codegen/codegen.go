// Package codegen builds date-based correlative codes of the form
// YYMMDD-NN from ISO dates (YYYY-MM-DD) and per-date sequence numbers.
//
// All functions in this package are pure: they have no side effects and
// return the same output for the same input. The Counter type is the only
// stateful piece and is meant to live for a single batch run.
//
// Example:
//
//	key, _ := codegen.FormatDate("2025-01-15")        // "250115"
//	code, _ := codegen.Generate("2025-01-15", 3, 2)   // "250115-03"
//	code, _ = codegen.Generate("2025-01-15", 123, 2)  // "250115-123" (never truncated)
package codegen

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// dateSeparator splits the year, month and day segments of an ISO date.
const dateSeparator = "-"

var (
	// ErrInvalidSequence is returned when a sequence number is < 1.
	ErrInvalidSequence = errors.New("sequence number must be >= 1")

	// ErrInvalidWidth is returned when the zero-pad width is < 1.
	ErrInvalidWidth = errors.New("digit width must be >= 1")
)

// MalformedDateError reports a date value that cannot be reduced to the
// compact YYMMDD key: fewer than three dash-separated segments, or a year
// segment shorter than two characters.
type MalformedDateError struct {
	Value  string
	Reason string
}

func (e *MalformedDateError) Error() string {
	return fmt.Sprintf("malformed date %q: %s", e.Value, e.Reason)
}

// FormatDate converts "YYYY-MM-DD" into the 6-character key "YYMMDD".
//
// Month and day are copied verbatim and no calendar validation is done, so
// "2024-02-30" yields "240230". Only the last two characters of the year
// segment are kept.
func FormatDate(date string) (string, error) {
	parts := strings.Split(date, dateSeparator)
	if len(parts) < 3 {
		return "", &MalformedDateError{Value: date, Reason: "expected YYYY-MM-DD"}
	}
	year, month, day := parts[0], parts[1], parts[2]
	if len(year) < 2 {
		return "", &MalformedDateError{Value: date, Reason: "year segment too short"}
	}
	return year[len(year)-2:] + month + day, nil
}

// Generate returns "<FormatDate(date)>-<seq zero-padded to width>".
//
// When seq has more decimal digits than width the number is kept whole;
// padding only ever adds zeros.
func Generate(date string, seq, width int) (string, error) {
	if seq < 1 {
		return "", ErrInvalidSequence
	}
	if width < 1 {
		return "", ErrInvalidWidth
	}
	key, err := FormatDate(date)
	if err != nil {
		return "", err
	}
	return key + "-" + padLeft(strconv.Itoa(seq), width), nil
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// Counter tracks the highest confirmed sequence number per date key during
// one batch run. The zero value is not usable; call NewCounter.
//
// Next only peeks; the counter advances solely through Commit, so a value
// handed out for a write that later fails is handed out again.
type Counter struct {
	last map[string]int
}

// NewCounter returns an empty Counter.
func NewCounter() *Counter {
	return &Counter{last: make(map[string]int)}
}

// Next returns the sequence number the next record with key would receive.
func (c *Counter) Next(key string) int {
	return c.last[key] + 1
}

// Commit records n as the last confirmed sequence number for key.
func (c *Counter) Commit(key string, n int) {
	if n > c.last[key] {
		c.last[key] = n
	}
}

// Last returns the last confirmed sequence number for key (0 if none).
func (c *Counter) Last(key string) int {
	return c.last[key]
}
