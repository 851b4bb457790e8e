// Package laptime converts between human lap-time text ("1:01.573") and
// integer milliseconds.
package laptime

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var lapPattern = regexp.MustCompile(`^(?:(\d+):)?(\d{1,2})\.(\d{2,3})$`)

// ParseMs parses "M:SS.mmm" or "SS.mmm" into milliseconds. Fractions with two
// digits are right-padded ("24.18" is 24180). Any other shape reports false,
// which callers treat as "no update" rather than zero.
func ParseMs(text string) (int, bool) {
	m := lapPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, false
	}

	minutes := 0
	if m[1] != "" {
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		minutes = v
	}

	seconds, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}
	if m[1] != "" && seconds >= 60 {
		return 0, false
	}

	frac := m[3]
	for len(frac) < 3 {
		frac += "0"
	}
	millis, err := strconv.Atoi(frac)
	if err != nil {
		return 0, false
	}

	return minutes*60_000 + seconds*1000 + millis, true
}

// FormatMs renders milliseconds as lap-time text, omitting the minutes
// component when it is zero. Negative input yields an empty string.
func FormatMs(ms int) string {
	if ms < 0 {
		return ""
	}
	minutes := ms / 60_000
	seconds := (ms % 60_000) / 1000
	millis := ms % 1000
	if minutes == 0 {
		return fmt.Sprintf("%d.%03d", seconds, millis)
	}
	return fmt.Sprintf("%d:%02d.%03d", minutes, seconds, millis)
}

// Millis is an optional millisecond value. The zero value is unknown.
type Millis struct {
	Value int
	Valid bool
}

// Of wraps a known millisecond value.
func Of(ms int) Millis {
	return Millis{Value: ms, Valid: true}
}

// FromText parses lap-time text, returning an unknown value on failure.
func FromText(text string) Millis {
	ms, ok := ParseMs(text)
	if !ok {
		return Millis{}
	}
	return Of(ms)
}

// Text formats the value, or returns "" when unknown.
func (m Millis) Text() string {
	if !m.Valid {
		return ""
	}
	return FormatMs(m.Value)
}

// Less reports whether m is a known value strictly smaller than other, or
// m is known and other is not.
func (m Millis) Less(other Millis) bool {
	if !m.Valid {
		return false
	}
	if !other.Valid {
		return true
	}
	return m.Value < other.Value
}

// MarshalJSON encodes unknown values as null.
func (m Millis) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

// UnmarshalJSON accepts null or an integer.
func (m *Millis) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Millis{}
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Of(v)
	return nil
}
