// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import (
	"strconv"
	"strings"
	"unicode"
)

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
//
// Example:
//
//	n := utils.AtoiDefault("42", 0) // returns 42
//	n = utils.AtoiDefault("", 10)   // returns 10
//	n = utils.AtoiDefault("x", 5)   // returns 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// LeadingInt parses the integer prefix of s after leading whitespace,
// with an optional sign. Anything after the digits is ignored, so "3abc"
// and "2.5" read as 3 and 2. ok is false when no digit is found or the
// value overflows an int.
func LeadingInt(s string) (n int, ok bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	return n, err == nil
}

// PositiveIntDefault reads the leading integer of s for parameters that
// must be >= 1: empty, non-numeric, zero and negative inputs all yield def.
//
// Example:
//
//	n := utils.PositiveIntDefault("3", 2)    // returns 3
//	n = utils.PositiveIntDefault("3abc", 2)  // returns 3
//	n = utils.PositiveIntDefault("2.5", 9)   // returns 2
//	n = utils.PositiveIntDefault("0", 2)     // returns 2
//	n = utils.PositiveIntDefault("abc", 2)   // returns 2
func PositiveIntDefault(s string, def int) int {
	if n, ok := LeadingInt(s); ok && n >= 1 {
		return n
	}
	return def
}
