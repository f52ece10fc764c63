package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Image is a snapshot of an entity's attributes at one side of a change.
// Values are whatever the decoder produced: strings, Go numbers, numeric
// strings (DynamoDB "N" attributes), bools, nested maps or slices.
type Image map[string]interface{}

// Has reports whether key is present with a non-nil value.
func (img Image) Has(key string) bool {
	v, ok := img[key]
	return ok && v != nil
}

// String returns the value of key as a string.
func (img Image) String(key string) (string, bool) {
	switch v := img[key].(type) {
	case string:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	default:
		return "", false
	}
}

// StringOr returns the string value of key, or def when absent.
func (img Image) StringOr(key, def string) string {
	if s, ok := img.String(key); ok {
		return s
	}
	return def
}

// Int returns the value of key as an integer. Numeric strings and integral
// floats are accepted.
func (img Image) Int(key string) (int64, bool) {
	v, ok := img[key]
	if !ok || v == nil {
		return 0, false
	}
	return toInt64(v)
}

func toInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint32:
		return int64(v), true
	case float32:
		return floatToInt64(float64(v))
	case float64:
		return floatToInt64(v)
	case json.Number:
		return parseIntString(v.String())
	case string:
		return parseIntString(v)
	default:
		return 0, false
	}
}

func parseIntString(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return floatToInt64(f)
}

func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}
