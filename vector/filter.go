package vector

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Filter restricts a search by payload fields. Keys are payload paths
// such as "document_id" or "metadata.level".
//
//	{
//	  "metadata.level":     {"must": true,  "values": ["SENIOR"]},
//	  "metadata.languages": {"must": false, "values": ["english", "german"]}
//	}
//
// A must condition requires every value to match; the non-must conditions
// form a should clause where at least one has to match.
type Filter map[string]Condition

type Condition struct {
	Must   bool  `json:"must"`
	Values []any `json:"values"`
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw struct {
		Must   *bool           `json:"must"`
		Values json.RawMessage `json:"values"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Must = true
	if raw.Must != nil {
		c.Must = *raw.Must
	}

	c.Values = nil
	if len(raw.Values) == 0 || string(raw.Values) == "null" {
		return nil
	}

	var values []any
	if err := json.Unmarshal(raw.Values, &values); err == nil {
		c.Values = values
		return nil
	}

	var scalar any
	if err := json.Unmarshal(raw.Values, &scalar); err != nil {
		return err
	}

	c.Values = []any{scalar}
	return nil
}

func Must(values ...any) Condition {
	return Condition{Must: true, Values: values}
}

func Should(values ...any) Condition {
	return Condition{Must: false, Values: values}
}

func (f Filter) keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	return keys
}

func (f Filter) Validate() error {
	for _, key := range f.keys() {
		if strings.TrimSpace(key) == "" {
			return Fatal("filter", fmt.Errorf("%w: empty field", ErrMalformedQuery))
		}

		cond := f[key]
		if len(cond.Values) == 0 {
			return Fatal("filter", fmt.Errorf("%w: no values for field %q", ErrMalformedQuery, key))
		}

		for _, v := range cond.Values {
			if _, ok := scalar(v); !ok {
				return Fatal("filter", fmt.Errorf("%w: field %q has non-scalar value %T", ErrUnsupportedFilter, key, v))
			}
		}
	}

	return nil
}

// Qdrant translates the filter to the Qdrant REST filter object. A nil
// result means no filtering.
func (f Filter) Qdrant() map[string]any {
	var must, should []any

	for _, key := range f.keys() {
		cond := f[key]
		if cond.Must {
			for _, v := range cond.Values {
				must = append(must, map[string]any{
					"key":   key,
					"match": map[string]any{"value": v},
				})
			}

			continue
		}

		should = append(should, map[string]any{
			"key":   key,
			"match": map[string]any{"any": cond.Values},
		})
	}

	out := make(map[string]any)
	if len(must) > 0 {
		out["must"] = must
	}

	if len(should) > 0 {
		out["should"] = should
	}

	if len(out) == 0 {
		return nil
	}

	return out
}

// Match evaluates the filter against a payload with the same semantics
// the remote store applies.
func (f Filter) Match(payload map[string]any) bool {
	hasShould := false
	shouldHit := false

	for key, cond := range f {
		field, ok := lookup(payload, key)

		if cond.Must {
			if !ok {
				return false
			}

			for _, v := range cond.Values {
				if !contains(field, v) {
					return false
				}
			}

			continue
		}

		hasShould = true
		if !ok || shouldHit {
			continue
		}

		for _, v := range cond.Values {
			if contains(field, v) {
				shouldHit = true
				break
			}
		}
	}

	return !hasShould || shouldHit
}

func lookup(payload map[string]any, path string) (any, bool) {
	var current any = payload

	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func contains(field any, value any) bool {
	want, ok := scalar(value)
	if !ok {
		return false
	}

	switch typed := field.(type) {
	case []any:
		for _, item := range typed {
			if got, ok := scalar(item); ok && got == want {
				return true
			}
		}

		return false

	case []string:
		for _, item := range typed {
			if item == want {
				return true
			}
		}

		return false
	}

	got, ok := scalar(field)
	return ok && got == want
}

func scalar(v any) (any, bool) {
	switch typed := v.(type) {
	case string, bool:
		return typed, true
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint:
		return float64(typed), true
	case uint32:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case float32:
		return float64(typed), true
	case float64:
		return typed, true
	case json.Number:
		f, err := typed.Float64()
		if err != nil {
			return nil, false
		}

		return f, true
	default:
		return nil, false
	}
}
