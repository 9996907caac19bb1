package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/devrev/pairdb/localsync/internal/model"
)

// Match reports whether a row satisfies the predicate
func Match(row model.Entity, where Predicate) bool {
	for field, want := range where {
		got, ok := row[field]
		if !ok {
			if want == nil {
				continue
			}
			return false
		}

		if options, isList := want.([]interface{}); isList {
			if !containsValue(options, got) {
				return false
			}
			continue
		}
		if options, isList := want.([]string); isList {
			found := false
			for _, o := range options {
				if valuesEqual(o, got) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}

		if !valuesEqual(want, got) {
			return false
		}
	}
	return true
}

// Project returns a copy of the row restricted to the selection.
// An empty selection keeps every field.
func Project(row model.Entity, fields []FieldSelection) model.Entity {
	if len(fields) == 0 {
		return row.Clone()
	}

	out := make(model.Entity, len(fields))
	for _, f := range fields {
		v, ok := row[f.Name]
		if !ok {
			continue
		}
		if len(f.Nested) == 0 {
			out[f.Name] = cloneField(v)
			continue
		}
		out[f.Name] = projectNested(v, f.Nested)
	}
	return out
}

func projectNested(v interface{}, nested []FieldSelection) interface{} {
	switch val := v.(type) {
	case model.Entity:
		return Project(val, nested)
	case map[string]interface{}:
		return Project(model.Entity(val), nested)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = projectNested(item, nested)
		}
		return out
	default:
		return v
	}
}

func cloneField(v interface{}) interface{} {
	wrapped := model.Entity{"v": v}.Clone()
	return wrapped["v"]
}

// Apply filters, orders, pages and projects rows, in that order
func Apply(rows []model.Entity, query Query) []model.Entity {
	matched := make([]model.Entity, 0, len(rows))
	for _, r := range rows {
		if Match(r, query.Where) {
			matched = append(matched, r)
		}
	}

	if len(query.OrderBy) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, o := range query.OrderBy {
				c := compareValues(matched[i][o.Field], matched[j][o.Field])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if query.Skip > 0 {
		if query.Skip >= len(matched) {
			matched = matched[:0]
		} else {
			matched = matched[query.Skip:]
		}
	}
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}

	out := make([]model.Entity, len(matched))
	for i, r := range matched {
		out[i] = Project(r, query.Fields)
	}
	return out
}

func containsValue(options []interface{}, got interface{}) bool {
	for _, o := range options {
		if valuesEqual(o, got) {
			return true
		}
	}
	return false
}

func valuesEqual(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// compareValues orders nil first, then numbers, then strings, then anything else by its text form
func compareValues(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}

	sa, sb := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}
