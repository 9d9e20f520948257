package ics

import (
	"fmt"
	"time"
)

// ParseError reports a malformed document, template or recurrence rule.
type ParseError struct {
	UID      string
	Summary  string
	Property string
	Err      error
}

func (e *ParseError) Error() string {
	if e.UID == "" && e.Summary == "" && e.Property == "" {
		return "ics: " + e.Err.Error()
	}
	name := e.UID
	if name == "" {
		name = e.Summary
	}
	if e.Property == "" {
		return fmt.Sprintf("ics: template %q: %v", name, e.Err)
	}
	return fmt.Sprintf("ics: template %q: %s: %v", name, e.Property, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// OverrideKeyError reports an override whose RECURRENCE-ID does not match
// any instance of its series. It is a warning: the override is skipped.
type OverrideKeyError struct {
	UID          string
	RecurrenceID time.Time
}

func (e *OverrideKeyError) Error() string {
	return fmt.Sprintf("ics: override for %q at %s matches no occurrence",
		e.UID, e.RecurrenceID.UTC().Format(time.RFC3339))
}
