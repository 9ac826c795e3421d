// Package optional distinguishes absent, null and present fields in partial
// JSON updates.
package optional

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Value is a JSON field that remembers whether it was sent. A field sent as
// null has Set and Null both true.
type Value[T any] struct {
	Set  bool
	Null bool
	V    T
}

// Of returns a set, non-null value.
func Of[T any](v T) Value[T] { return Value[T]{Set: true, V: v} }

func (o *Value[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Null = true
		return nil
	}
	return json.Unmarshal(b, &o.V)
}

// Time is an optional timestamp. Besides RFC 3339 it accepts a bare date or
// a local date-time, both read as UTC; an empty string means null.
type Time struct {
	Set  bool
	Null bool
	V    time.Time
}

// TimeOf returns a set, non-null time.
func TimeOf(t time.Time) Time { return Time{Set: true, V: t} }

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func (o *Time) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Null = true
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		o.Null = true
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			o.V = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid datetime %q", s)
}

// Ptr returns nil for a null time and a pointer to the value otherwise.
func (o Time) Ptr() *time.Time {
	if o.Null {
		return nil
	}
	t := o.V
	return &t
}
