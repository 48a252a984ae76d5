package command

import (
	"fmt"
	"math"
	"sort"
)

// Envelope is a parsed command. Fields are read through typed accessors
// that fall back to defaults when a key is absent or null.
type Envelope struct {
	Type   string
	fields map[string]interface{}
}

// NewEnvelope builds an envelope from decoded fields.
func NewEnvelope(fields map[string]interface{}) (*Envelope, error) {
	raw, ok := fields["type"]
	if !ok || raw == nil {
		return nil, fmt.Errorf("%w: envelope has no type", ErrMissingType)
	}
	typ, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: envelope type must be a string, got %T", ErrMissingType, raw)
	}
	if typ == "" {
		return nil, fmt.Errorf("%w: envelope has no type", ErrMissingType)
	}
	return &Envelope{Type: typ, fields: fields}, nil
}

// Has reports whether key is present and non-null.
func (e *Envelope) Has(key string) bool {
	v, ok := e.fields[key]
	return ok && v != nil
}

// Params returns the envelope fields other than type, for auditing.
func (e *Envelope) Params() map[string]interface{} {
	params := make(map[string]interface{}, len(e.fields))
	for k, v := range e.fields {
		if k != "type" {
			params[k] = v
		}
	}
	return params
}

// Keys returns the field names, sorted.
func (e *Envelope) Keys() []string {
	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns a string field.
func (e *Envelope) String(key, def string) (string, error) {
	if !e.Has(key) {
		return def, nil
	}
	s, ok := e.fields[key].(string)
	if !ok {
		return "", invalidParam(key, "expected string, got %T", e.fields[key])
	}
	return s, nil
}

// Strings returns a list of strings. A single string is a one-element list.
func (e *Envelope) Strings(key string, def []string) ([]string, error) {
	if !e.Has(key) {
		return def, nil
	}
	switch v := e.fields[key].(type) {
	case string:
		return []string{v}, nil
	case []interface{}:
		out := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, invalidParam(key, "element %d: expected string, got %T", i, item)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, invalidParam(key, "expected string list, got %T", v)
	}
}

// Number returns a numeric field.
func (e *Envelope) Number(key string, def float64) (float64, error) {
	if !e.Has(key) {
		return def, nil
	}
	f, ok := toFloat(e.fields[key])
	if !ok {
		return 0, invalidParam(key, "expected number, got %T", e.fields[key])
	}
	return f, nil
}

// Numbers returns a list of numbers. A single number is a one-element
// list; an absent key returns nil so the synchronizer applies defaults.
func (e *Envelope) Numbers(key string) ([]float64, error) {
	if !e.Has(key) {
		return nil, nil
	}
	raw := e.fields[key]
	if f, ok := toFloat(raw); ok {
		return []float64{f}, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, invalidParam(key, "expected number or number list, got %T", raw)
	}
	out := make([]float64, len(list))
	for i, item := range list {
		f, ok := toFloat(item)
		if !ok {
			return nil, invalidParam(key, "element %d: expected number, got %T", i, item)
		}
		out[i] = f
	}
	return out, nil
}

// Direction returns a +1/-1 direction field.
func (e *Envelope) Direction(key string, def int) (int, error) {
	if !e.Has(key) {
		return def, nil
	}
	f, ok := toFloat(e.fields[key])
	if !ok {
		return 0, invalidParam(key, "expected 1 or -1, got %T", e.fields[key])
	}
	return toDirection(key, f)
}

// Directions returns a list of +1/-1 values, nil when absent.
func (e *Envelope) Directions(key string) ([]int, error) {
	nums, err := e.Numbers(key)
	if err != nil || nums == nil {
		return nil, err
	}
	out := make([]int, len(nums))
	for i, f := range nums {
		d, err := toDirection(key, f)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func toDirection(key string, f float64) (int, error) {
	switch f {
	case 1:
		return 1, nil
	case -1:
		return -1, nil
	}
	return 0, invalidParam(key, "direction must be 1 or -1, got %v", f)
}

// toFloat accepts the numeric types produced by the JSON and CBOR decoders.
func toFloat(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		f = float64(n)
	case int32:
		f = float64(n)
	case uint32:
		f = float64(n)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
