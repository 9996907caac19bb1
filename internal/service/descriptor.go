package service

import (
	"context"

	"github.com/devrev/pairdb/localsync/internal/model"
	"github.com/devrev/pairdb/localsync/internal/store"
)

// Strategy selects how a query uses the network
type Strategy int

const (
	// RequestOnce fetches the first time a query is seen, then reads the store only
	RequestOnce Strategy = iota
	// AlwaysNetwork fetches on every call
	AlwaysNetwork
)

func (s Strategy) String() string {
	switch s {
	case RequestOnce:
		return "request_once"
	case AlwaysNetwork:
		return "always_network"
	default:
		return "unknown"
	}
}

// ParseStrategy parses the String form of a strategy
func ParseStrategy(v string) (Strategy, bool) {
	switch v {
	case "", "request_once", "request":
		return RequestOnce, true
	case "always_network", "cache":
		return AlwaysNetwork, true
	default:
		return RequestOnce, false
	}
}

// FetchFunc is the network request behind a query
type FetchFunc func(ctx context.Context) (model.Payload, error)

// PaddingFunc fetches the full entity for id. A nil entity with a nil error means no result.
type PaddingFunc func(ctx context.Context, id string) (model.Entity, error)

// QueryDescriptor describes one read
type QueryDescriptor struct {
	Table    string
	Query    store.Query // Fields is derived from the schema, Assoc and Excluded
	Strategy Strategy
	Fetch    FetchFunc

	// Required fields trigger Padding for rows missing any of them
	Required []string
	Padding  PaddingFunc

	Excluded []string
	Assoc    []store.FieldSelection
}

// MutationMethod is the kind of write a mutation performs
type MutationMethod string

const (
	MutationCreate MutationMethod = "create"
	MutationUpdate MutationMethod = "update"
	MutationDelete MutationMethod = "delete"
)

// MutationDescriptor describes one write: a network request whose result is
// then applied to the store
type MutationDescriptor struct {
	Table   string
	Method  MutationMethod
	Request func(ctx context.Context) (model.Entity, error)
	// Clause selects the rows to delete, or identifies the row an update patches
	Clause store.Predicate
}
