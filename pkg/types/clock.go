package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedTime is returned when a time-of-day value cannot be parsed.
var ErrMalformedTime = errors.New("malformed time of day")

// DefaultCaseTime is the time assigned to newly created cases.
const DefaultCaseTime ClockTime = "09:00"

// ClockTime is a persisted time-of-day value kept in its raw form.
//
// Accepted forms are an RFC 3339 timestamp (the clock is read in the
// timestamp's own offset), "15:04" and "15:04:05". Only hour and minute
// take part in comparisons.
type ClockTime string

var clockLayouts = []string{"15:04", "15:04:05"}

// Clock parses the value and returns its hour and minute.
func (t ClockTime) Clock() (hour, minute int, err error) {
	raw := strings.TrimSpace(string(t))
	if raw == "" {
		return 0, 0, fmt.Errorf("%w: empty value", ErrMalformedTime)
	}

	if ts, parseErr := time.Parse(time.RFC3339Nano, raw); parseErr == nil {
		return ts.Hour(), ts.Minute(), nil
	}
	for _, layout := range clockLayouts {
		if ts, parseErr := time.Parse(layout, raw); parseErr == nil {
			return ts.Hour(), ts.Minute(), nil
		}
	}

	return 0, 0, fmt.Errorf("%w: %q", ErrMalformedTime, raw)
}

// Minutes returns the minute of the day (hour*60 + minute).
func (t ClockTime) Minutes() (int, error) {
	hour, minute, err := t.Clock()
	if err != nil {
		return 0, err
	}
	return hour*60 + minute, nil
}

// Valid reports whether the value parses.
func (t ClockTime) Valid() bool {
	_, _, err := t.Clock()
	return err == nil
}

// ClockOf formats the hour and minute of ts as a ClockTime.
func ClockOf(ts time.Time) ClockTime {
	return ClockTime(ts.Format("15:04"))
}
