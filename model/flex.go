package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FlexString is a string field that the backend may store either as a JSON string or as
// a number. Grade 7 and grade "7" decode to the same value.
type FlexString string

// UnmarshalJSON accepts strings, numbers and null
func (f *FlexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	if err := decoder.Decode(&n); err != nil {
		return fmt.Errorf("unsupported flex string value %s", trimmed)
	}
	*f = FlexString(normalizeNumber(n.String()))
	return nil
}

// Scan implements the sql.Scanner interface for reading from database
func (f *FlexString) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*f = ""
	case string:
		*f = FlexString(strings.TrimSpace(v))
	case []byte:
		*f = FlexString(strings.TrimSpace(string(v)))
	case int64:
		*f = FlexString(strconv.FormatInt(v, 10))
	case float64:
		*f = FlexString(normalizeNumber(strconv.FormatFloat(v, 'f', -1, 64)))
	default:
		return fmt.Errorf("unsupported flex string source %T", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for writing to database
func (f FlexString) Value() (driver.Value, error) {
	return string(f), nil
}

// Normalized returns the comparison form: trimmed, lower-cased, numbers without a
// trailing fraction.
func (f FlexString) Normalized() string {
	s := strings.TrimSpace(string(f))
	if s == "" {
		return ""
	}
	return strings.ToLower(normalizeNumber(s))
}

// Equal compares two values in normalized form
func (f FlexString) Equal(other FlexString) bool {
	return f.Normalized() == other.Normalized()
}

func normalizeNumber(s string) string {
	parsed, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(parsed, 0) || math.IsNaN(parsed) {
		return s
	}
	if parsed == math.Trunc(parsed) && math.Abs(parsed) < 1e15 {
		return strconv.FormatInt(int64(parsed), 10)
	}
	return strconv.FormatFloat(parsed, 'f', -1, 64)
}
