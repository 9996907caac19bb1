// Package cache holds the request cache: which canonical queries have already
// been answered by the network.
package cache

import (
	"context"
)

// Entry is the per-query record of the request cache
type Entry struct {
	Issued          bool `json:"issued"`
	LastResultCount int  `json:"last_result_count"`
}

// RequestCache records issued network requests keyed by canonical query
type RequestCache interface {
	// Get returns the entry for key and whether it exists
	Get(ctx context.Context, key string) (Entry, bool, error)

	// MarkIssued records that key was answered by the network. A negative
	// resultCount keeps the previously recorded count.
	MarkIssued(ctx context.Context, key string, resultCount int) error

	// Invalidate forgets key so the next RequestOnce call goes to the network
	Invalidate(ctx context.Context, key string) error

	// Reset forgets every key
	Reset(ctx context.Context) error

	// Size returns the number of recorded keys
	Size(ctx context.Context) (int, error)
}
