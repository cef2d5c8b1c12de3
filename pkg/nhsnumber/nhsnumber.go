// Package nhsnumber validates and formats NHS numbers.
package nhsnumber

import (
	"errors"
	"strings"
)

var (
	ErrLength   = errors.New("nhs number must be 10 digits")
	ErrNotDigit = errors.New("nhs number must be numeric")
	ErrChecksum = errors.New("nhs number check digit mismatch")
)

// Validate checks the length, character set and modulus 11 check digit of
// an NHS number.
// Repeated-digit numbers such as 4444444444 pass; they are only excluded
// when numbers are issued, not when they are validated.
func Validate(nnn string) error {
	if len(nnn) != 10 {
		return ErrLength
	}
	sum := 0
	for i := 0; i < 10; i++ {
		c := nnn[i]
		if c < '0' || c > '9' {
			return ErrNotDigit
		}
		if i < 9 {
			sum += int(c-'0') * (10 - i)
		}
	}
	cd := 11 - (sum % 11)
	if cd == 11 {
		cd = 0
	}
	if cd == 10 || cd != int(nnn[9]-'0') {
		return ErrChecksum
	}
	return nil
}

// IsValid reports whether nnn is a valid NHS number.
func IsValid(nnn string) bool {
	return Validate(nnn) == nil
}

// Normalize strips the spaces and dashes commonly used when NHS numbers
// are displayed.
func Normalize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

// Format returns a formatted NHS number with spaces
// e.g. 0123456789 -> 012 345 6789
func Format(nnn string) string {
	if len(nnn) != 10 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(nnn[0:3])
	sb.WriteString(" ")
	sb.WriteString(nnn[3:6])
	sb.WriteString(" ")
	sb.WriteString(nnn[6:])
	return sb.String()
}
