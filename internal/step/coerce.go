package step

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Int reads key as an integer. Absent keys and values that cannot be
// converted are 0. Floats truncate toward zero, numeric strings are parsed
// after trimming whitespace and booleans count as 1 or 0.
func (m Map) Int(key string) int {
	v, ok := m[key]
	if !ok {
		return 0
	}
	return toInt(v)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return clampInt64(n)
	case uint:
		return clampUint64(uint64(n))
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return clampUint64(uint64(n))
	case uint64:
		return clampUint64(n)
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case bool:
		if n {
			return 1
		}
		return 0
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return clampInt64(i)
		}
		if f, err := n.Float64(); err == nil {
			return floatToInt(f)
		}
		return 0
	case string:
		return stringToInt(n)
	default:
		return 0
	}
}

func stringToInt(s string) int {
	i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return clampInt64(i)
}

func floatToInt(f float64) int {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Trunc(f)
	if f >= math.MaxInt {
		return math.MaxInt
	}
	if f <= math.MinInt {
		return math.MinInt
	}
	return int(f)
}

func clampInt64(i int64) int {
	if i > math.MaxInt {
		return math.MaxInt
	}
	if i < math.MinInt {
		return math.MinInt
	}
	return int(i)
}

func clampUint64(u uint64) int {
	if u > math.MaxInt {
		return math.MaxInt
	}
	return int(u)
}
