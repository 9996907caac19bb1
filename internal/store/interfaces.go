package store

import (
	"context"
	"errors"

	"github.com/devrev/pairdb/localsync/internal/model"
)

// ErrClosed is returned when a closed store or selector is used
var ErrClosed = errors.New("store closed")

// Store is the local table store the sync layer writes into and reads from.
// Query planning and the on-disk format belong to the implementation.
type Store interface {
	// Get returns a live selector over the rows matching the query
	Get(ctx context.Context, table string, query Query) (*Selector, error)

	// Upsert inserts or merges rows by primary key and returns the stored rows
	Upsert(ctx context.Context, table string, rows ...model.Entity) ([]model.Entity, error)

	// Delete removes the rows matching the predicate and returns how many were removed
	Delete(ctx context.Context, table string, where Predicate) (int, error)
}

// Predicate is an equality filter: every key must match the row's value.
// A slice value matches when the row's value is one of its elements.
type Predicate map[string]interface{}

// Order is one ordering term
type Order struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// FieldSelection selects one field, optionally with a nested selection for associated objects
type FieldSelection struct {
	Name   string           `json:"name"`
	Nested []FieldSelection `json:"nested,omitempty"`
}

// Query is the read description handed to a store
type Query struct {
	Where   Predicate        `json:"where,omitempty"`
	Fields  []FieldSelection `json:"fields,omitempty"`
	OrderBy []Order          `json:"order_by,omitempty"`
	Limit   int              `json:"limit,omitempty"`
	Skip    int              `json:"skip,omitempty"`
}

// Fields builds a flat selection from field names
func Fields(names ...string) []FieldSelection {
	out := make([]FieldSelection, 0, len(names))
	for _, n := range names {
		out = append(out, FieldSelection{Name: n})
	}
	return out
}
