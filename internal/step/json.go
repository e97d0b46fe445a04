package step

import (
	"bytes"
	"encoding/json"
)

// UnmarshalJSON decodes numbers without going through float64 first.
// Integers come back as int (int64 if they do not fit), other numbers as
// float64, and numbers out of float64 range stay json.Number so they
// re-encode unchanged. Nested objects and arrays are normalised the same way.
func (m *Map) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		*m = nil
		return nil
	}
	for k, v := range raw {
		raw[k] = normalizeJSON(v)
	}
	*m = Map(raw)
	return nil
}

func normalizeJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		return normalizeNumber(x)
	case map[string]any:
		for k, e := range x {
			x[k] = normalizeJSON(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalizeJSON(e)
		}
		return x
	default:
		return v
	}
}

func normalizeNumber(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		if int64(int(i)) == i {
			return int(i)
		}
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n
}
