package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Entity represents a single row: a decoded JSON object
type Entity map[string]interface{}

// Clone returns a deep copy of the entity
func (e Entity) Clone() Entity {
	if e == nil {
		return nil
	}
	out := make(Entity, len(e))
	for k, v := range e {
		out[k] = cloneValue(v)
	}
	return out
}

// Missing reports whether any of the given fields is absent
func (e Entity) Missing(fields []string) bool {
	for _, f := range fields {
		if _, ok := e[f]; !ok {
			return true
		}
	}
	return false
}

// Merge copies every field of other into e, overwriting existing values
func (e Entity) Merge(other Entity) {
	for k, v := range other {
		e[k] = cloneValue(v)
	}
}

// ID returns the string form of the primary key value
func (e Entity) ID(primaryKey string) (string, bool) {
	v, ok := e[primaryKey]
	if !ok || v == nil {
		return "", false
	}
	switch id := v.(type) {
	case string:
		return id, id != ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case json.Number:
		return id.String(), true
	default:
		return fmt.Sprintf("%v", id), true
	}
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case Entity:
		return val.Clone()
	case map[string]interface{}:
		return Entity(val).Clone()
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []Entity:
		out := make([]Entity, len(val))
		for i, item := range val {
			out[i] = item.Clone()
		}
		return out
	default:
		return val
	}
}

// CloneAll deep-copies a slice of entities
func CloneAll(rows []Entity) []Entity {
	out := make([]Entity, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}
