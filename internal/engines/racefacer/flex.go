package racefacer

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// The live-data feed is inconsistent about scalar types: numbers arrive as
// strings, booleans as 0/1 and missing values as null or "". The Flex types
// decode any of those without ever failing.

// FlexString decodes strings, numbers and booleans as text
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*f = ""
			return nil
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	if data[0] == '{' || data[0] == '[' {
		*f = ""
		return nil
	}
	*f = FlexString(string(data))
	return nil
}

// FlexFloat decodes numbers and numeric strings; anything else is 0
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	*f = FlexFloat(parseNumber(data))
	return nil
}

// FlexInt decodes numbers and numeric strings, rounding fractions
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	*f = FlexInt(math.Round(parseNumber(data)))
	return nil
}

// FlexBool decodes true/false, 0/1 and common string spellings
type FlexBool bool

func (f *FlexBool) UnmarshalJSON(data []byte) error {
	var s FlexString
	_ = s.UnmarshalJSON(data)
	switch strings.ToLower(string(s)) {
	case "true", "1", "yes", "y", "on", "in", "open":
		*f = true
	default:
		*f = false
	}
	return nil
}

func parseNumber(data []byte) float64 {
	var s FlexString
	_ = s.UnmarshalJSON(data)
	text := strings.TrimPrefix(strings.TrimSpace(string(s)), "+")
	if text == "" {
		return 0
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
