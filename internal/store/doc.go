package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// ToDoc converts any JSON-marshalable value into a detached Doc.
func ToDoc(v any) (Doc, error) {
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}
	m, ok := norm.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("store: document must be a JSON object, got %T", v)
	}
	return Doc(m), nil
}

func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func cloneDoc(d Doc) Doc {
	if d == nil {
		return nil
	}
	return Doc(cloneValue(map[string]any(d)).(map[string]any))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case Doc:
		return cloneValue(map[string]any(t))
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

func applyPatches(d Doc, patches []Patch) error {
	for _, p := range patches {
		if err := applyPatch(d, p); err != nil {
			return err
		}
	}
	return nil
}

func applyPatch(d Doc, p Patch) error {
	if err := p.Path.validate(); err != nil {
		return err
	}
	cur := map[string]any(d)
	for _, seg := range p.Path[:len(p.Path)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			if p.Delete {
				return nil
			}
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	leaf := p.Path[len(p.Path)-1]
	if p.Delete {
		delete(cur, leaf)
		return nil
	}
	v, err := normalize(p.Value)
	if err != nil {
		return fmt.Errorf("store: patch %s: %w", p.Path, err)
	}
	cur[leaf] = v
	return nil
}

func lookup(d Doc, p Path) (any, bool) {
	var cur any = map[string]any(d)
	for _, seg := range p {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func matches(d Doc, filters []Filter) (bool, error) {
	for _, f := range filters {
		want, err := normalize(f.Value)
		if err != nil {
			return false, err
		}
		got, ok := lookup(d, f.Path)
		if !ok {
			return false, nil
		}
		if f.Op == OpEq {
			if !reflect.DeepEqual(got, want) {
				return false, nil
			}
			continue
		}
		c, comparable := compare(got, want)
		if !comparable {
			return false, nil
		}
		switch f.Op {
		case OpLt:
			if c >= 0 {
				return false, nil
			}
		case OpLte:
			if c > 0 {
				return false, nil
			}
		case OpGt:
			if c <= 0 {
				return false, nil
			}
		case OpGte:
			if c < 0 {
				return false, nil
			}
		}
	}
	return true, nil
}

// compare orders two normalized scalars of the same kind.
func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// rank gives mixed-kind values a stable sort position.
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	}
	return 4
}

func less(a, b any) bool {
	if c, ok := compare(a, b); ok {
		return c < 0
	}
	return rank(a) < rank(b)
}
