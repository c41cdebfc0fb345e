// Package recurrence computes continuations of RFC 5545 recurrence rules.
//
// Rules are evaluated in the owner's local zone with DTSTART set to the
// anchor, so wall-clock time survives daylight-saving changes and INTERVAL
// counts from the anchor rather than from the calendar.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

var (
	// ErrParse reports a rule that cannot be parsed.
	ErrParse = errors.New("recurrence: malformed rule")
	// ErrNotFound reports a rule that yields nothing after the anchor.
	ErrNotFound = errors.New("recurrence: no further occurrences")
)

// Next returns the first occurrence of rule strictly after anchor, evaluated
// in loc. The result is in UTC.
func Next(anchor time.Time, rule string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := anchor.In(loc)
	r, err := build(rule, local)
	if err != nil {
		return time.Time{}, err
	}

	next := r.After(local, false)
	if next.IsZero() {
		return time.Time{}, ErrNotFound
	}
	return next.UTC(), nil
}

// Validate checks that rule parses and yields at least one occurrence.
func Validate(rule string) error {
	start := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)
	r, err := build(rule, start)
	if err != nil {
		return err
	}
	if r.After(start, true).IsZero() {
		return fmt.Errorf("%w: %q yields no occurrences", ErrParse, rule)
	}
	return nil
}

// Location resolves an IANA zone name, falling back to UTC.
func Location(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Normalize trims an optional RRULE: prefix and upper-cases the rule body.
func Normalize(rule string) string {
	rule = strings.ToUpper(strings.TrimSpace(rule))
	rule = strings.TrimPrefix(rule, "RRULE:")
	return strings.TrimSuffix(rule, ";")
}

func build(rule string, dtstart time.Time) (*rrule.RRule, error) {
	body := Normalize(rule)
	if body == "" {
		return nil, fmt.Errorf("%w: empty rule", ErrParse)
	}
	if strings.Contains(body, "DTSTART") {
		return nil, fmt.Errorf("%w: DTSTART is derived from the anchor", ErrParse)
	}

	opt, err := rrule.StrToROptionInLocation(body, dtstart.Location())
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrParse, rule, err)
	}
	opt.Dtstart = dtstart

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrParse, rule, err)
	}
	return r, nil
}
