package ipc

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// isoLayouts are the ISO 8601 shapes accepted for task creation times.
// Fractional seconds are accepted after any seconds field.
var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05Z07",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04Z0700",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"20060102T150405Z0700",
	"20060102T150405Z07",
	"20060102T150405",
	"2006-01-02",
	"20060102",
}

// Timestamp is a task creation time as written by the producer. Raw keeps the
// original text so a task is never rejected for its date format; Time is set
// only when Raw parses.
type Timestamp struct {
	Raw  string
	Time time.Time
}

// NewTimestamp returns a Timestamp for t in UTC.
func NewTimestamp(t time.Time) Timestamp {
	t = t.UTC()
	return Timestamp{Raw: t.Format(time.RFC3339Nano), Time: t}
}

// ParseTimestamp keeps raw and parses it when it looks like ISO 8601.
func ParseTimestamp(raw string) Timestamp {
	ts := Timestamp{Raw: raw}
	trimmed := strings.TrimSpace(raw)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			ts.Time = t
			return ts
		}
	}
	return ts
}

// Valid reports whether the raw value parsed.
func (ts Timestamp) Valid() bool {
	return !ts.Time.IsZero()
}

// String returns the raw value.
func (ts Timestamp) String() string {
	return ts.Raw
}

// Before orders parsed times chronologically and unparsed ones after every
// parsed time.
func (ts Timestamp) Before(other Timestamp) bool {
	switch {
	case ts.Valid() && other.Valid():
		return ts.Time.Before(other.Time)
	default:
		return ts.Valid() && !other.Valid()
	}
}

// Equal reports whether two timestamps sort as equal.
func (ts Timestamp) Equal(other Timestamp) bool {
	if ts.Valid() != other.Valid() {
		return false
	}
	return !ts.Valid() || ts.Time.Equal(other.Time)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.Raw == "" && ts.Valid() {
		return json.Marshal(ts.Time.UTC().Format(time.RFC3339Nano))
	}
	return json.Marshal(ts.Raw)
}

// UnmarshalJSON accepts any string, a number of unix milliseconds, or null.
// Other JSON values are kept verbatim as Raw.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*ts = Timestamp{}
	case data[0] == '"':
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*ts = ParseTimestamp(raw)
	default:
		*ts = Timestamp{Raw: string(data)}
		if ms, err := strconv.ParseInt(string(data), 10, 64); err == nil {
			ts.Time = time.UnixMilli(ms).UTC()
		}
	}
	return nil
}
