package store

import (
	"context"
	"sync"

	"github.com/devrev/pairdb/localsync/internal/model"
)

// RunFunc evaluates a query against the current contents of a table
type RunFunc func(ctx context.Context, query Query) ([]model.Entity, error)

// Selector is a live query handle. Values re-runs the query; Changes fires
// (coalesced) whenever the table is written after the selector was opened.
type Selector struct {
	table   string
	query   Query
	run     RunFunc
	changes chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	onClose   func()
}

// NewSelector creates a selector that never reports changes. Stores with a Hub
// use Hub.Selector instead.
func NewSelector(table string, query Query, run RunFunc) *Selector {
	return &Selector{
		table:   table,
		query:   query,
		run:     run,
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Table returns the table the selector reads
func (s *Selector) Table() string {
	return s.table
}

// Query returns the query the selector evaluates
func (s *Selector) Query() Query {
	return s.query
}

// Values evaluates the query now
func (s *Selector) Values(ctx context.Context) ([]model.Entity, error) {
	select {
	case <-s.done:
		return nil, ErrClosed
	default:
	}
	return s.run(ctx, s.query)
}

// Changes signals that the table changed since the last receive
func (s *Selector) Changes() <-chan struct{} {
	return s.changes
}

// Done is closed once the selector is closed
func (s *Selector) Done() <-chan struct{} {
	return s.done
}

// Close releases the selector; safe to call more than once
func (s *Selector) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

func (s *Selector) signal() {
	select {
	case s.changes <- struct{}{}:
	default:
		// a change is already pending
	}
}

// Hub tracks open selectors per table and wakes them on writes
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*Selector]struct{}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Selector]struct{})}
}

// Selector opens a selector registered for change notifications on table
func (h *Hub) Selector(table string, query Query, run RunFunc) *Selector {
	sel := NewSelector(table, query, run)
	sel.onClose = func() { h.remove(sel) }

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[table] == nil {
		h.subs[table] = make(map[*Selector]struct{})
	}
	h.subs[table][sel] = struct{}{}
	return sel
}

// Notify wakes every selector open on table
func (h *Hub) Notify(table string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sel := range h.subs[table] {
		sel.signal()
	}
}

// Count returns the number of open selectors
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, s := range h.subs {
		n += len(s)
	}
	return n
}

// CloseAll closes every open selector
func (h *Hub) CloseAll() {
	h.mu.Lock()
	var all []*Selector
	for _, s := range h.subs {
		for sel := range s {
			all = append(all, sel)
		}
	}
	h.mu.Unlock()

	for _, sel := range all {
		sel.Close()
	}
}

func (h *Hub) remove(sel *Selector) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.subs[sel.table]; ok {
		delete(s, sel)
		if len(s) == 0 {
			delete(h.subs, sel.table)
		}
	}
}
