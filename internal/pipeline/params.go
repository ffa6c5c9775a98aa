package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Params reads a step's configured parameters with get-with-default accessors.
// Unknown keys are ignored. A present but mistyped value yields the default
// and is remembered so the caller can warn about it.
type Params struct {
	values  map[string]any
	invalid map[string]struct{}
}

// ParseParams decodes a config's params object. Empty or null input yields
// empty params; anything other than a JSON object is an error.
func ParseParams(raw json.RawMessage) (*Params, error) {
	p := &Params{values: map[string]any{}, invalid: map[string]struct{}{}}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return p, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&p.values); err != nil {
		return &Params{values: map[string]any{}, invalid: map[string]struct{}{}}, fmt.Errorf("params must be a JSON object: %w", err)
	}
	return p, nil
}

// NewParams builds params from an in-memory map.
func NewParams(values map[string]any) *Params {
	if values == nil {
		values = map[string]any{}
	}
	return &Params{values: values, invalid: map[string]struct{}{}}
}

func (p *Params) String(key, def string) string {
	v, ok := p.values[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	p.markInvalid(key)
	return def
}

func (p *Params) Bool(key string, def bool) bool {
	v, ok := p.values[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b
		}
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f != 0
		}
	}
	p.markInvalid(key)
	return def
}

func (p *Params) Float(key string, def float64) float64 {
	v, ok := p.values[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	}
	p.markInvalid(key)
	return def
}

func (p *Params) Int(key string, def int) int {
	v, ok := p.values[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
		if f, err := t.Float64(); err == nil {
			if i, ok := wholeNumber(f); ok {
				return i
			}
		}
	case int:
		return t
	case float64:
		if i, ok := wholeNumber(t); ok {
			return i
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return i
		}
	}
	p.markInvalid(key)
	return def
}

func wholeNumber(f float64) (int, bool) {
	if f != math.Trunc(f) || f < math.MinInt || f >= math.MaxInt {
		return 0, false
	}
	return int(f), true
}

// Invalid lists keys whose values could not be read as the requested type.
func (p *Params) Invalid() []string {
	keys := make([]string, 0, len(p.invalid))
	for k := range p.invalid {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p *Params) markInvalid(key string) {
	p.invalid[key] = struct{}{}
}
