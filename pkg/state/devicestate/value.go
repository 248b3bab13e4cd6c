package devicestate

import (
	"fmt"
	"math"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Target is the declared value for one node.
type Target struct {
	Value     any     `mapstructure:"value"`
	Tolerance float64 `mapstructure:"tolerance"`
}

// Decode reads a namespace value. Each node path maps either to a bare value
// or to a {value, tolerance} table.
func Decode(raw any) (map[string]Target, error) {
	var nodes map[string]any
	if err := mapstructure.Decode(raw, &nodes); err != nil {
		return nil, fmt.Errorf("devices state must map node paths to values: %w", err)
	}

	out := make(map[string]Target, len(nodes))
	for path, v := range nodes {
		var t Target
		if m, ok := v.(map[string]any); ok {
			dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
				Result:           &t,
				WeaklyTypedInput: true,
				ErrorUnused:      true,
			})
			if err != nil {
				return nil, err
			}
			if err := dec.Decode(m); err != nil {
				return nil, fmt.Errorf("node %s: %w", path, err)
			}
		} else {
			t.Value = v
		}
		out[path] = t
	}
	return out, nil
}

// Matches reports whether got satisfies the target. Numbers compare by value
// within the tolerance regardless of their Go type.
func (t Target) Matches(got any) bool {
	a, aok := toFloat(t.Value)
	b, bok := toFloat(got)
	if aok && bok {
		return math.Abs(a-b) <= t.Tolerance
	}
	return reflect.DeepEqual(t.Value, got)
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
