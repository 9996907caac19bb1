package store

import (
	"context"
	"reflect"
	"sync"

	syncerrors "github.com/devrev/pairdb/localsync/internal/errors"
	"github.com/devrev/pairdb/localsync/internal/model"
	"github.com/devrev/pairdb/localsync/internal/schema"
	"go.uber.org/zap"
)

// MemoryStore implements Store with in-process maps
type MemoryStore struct {
	index  *schema.Index
	hub    *Hub
	logger *zap.Logger

	mu     sync.RWMutex
	tables map[string]*memoryTable
	closed bool
}

type memoryTable struct {
	rows  map[string]model.Entity
	order []string
}

// NewMemoryStore creates an empty in-memory store for the tables of index
func NewMemoryStore(index *schema.Index, logger *zap.Logger) *MemoryStore {
	s := &MemoryStore{
		index:  index,
		hub:    NewHub(),
		logger: logger,
		tables: make(map[string]*memoryTable),
	}
	for _, name := range index.Tables() {
		s.tables[name] = &memoryTable{rows: make(map[string]model.Entity)}
	}
	return s
}

// Get opens a live selector over table
func (s *MemoryStore) Get(ctx context.Context, table string, query Query) (*Selector, error) {
	if !s.index.Has(table) {
		return nil, syncerrors.UnknownTable(table)
	}
	return s.hub.Selector(table, query, func(ctx context.Context, q Query) ([]model.Entity, error) {
		return s.run(table, q)
	}), nil
}

func (s *MemoryStore) run(table string, query Query) ([]model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	t := s.tables[table]
	rows := make([]model.Entity, 0, len(t.order))
	for _, id := range t.order {
		rows = append(rows, t.rows[id])
	}
	return Apply(rows, query), nil
}

// Upsert merges rows into table by primary key
func (s *MemoryStore) Upsert(ctx context.Context, table string, rows ...model.Entity) ([]model.Entity, error) {
	pk, ok := s.index.PrimaryKey(table)
	if !ok {
		return nil, syncerrors.UnknownTable(table)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}

	t := s.tables[table]
	stored := make([]model.Entity, 0, len(rows))
	changed := false
	for _, row := range rows {
		id, ok := row.ID(pk)
		if !ok {
			s.mu.Unlock()
			return nil, syncerrors.InvalidArgument("row has no primary key value", nil).
				WithDetail("table", table).
				WithDetail("primary_key", pk)
		}

		existing, exists := t.rows[id]
		merged := model.Entity{}
		if exists {
			merged = existing.Clone()
		}
		merged.Merge(row)

		if !exists {
			t.order = append(t.order, id)
			changed = true
		} else if !reflect.DeepEqual(existing, merged) {
			changed = true
		}
		t.rows[id] = merged
		stored = append(stored, merged.Clone())
	}
	s.mu.Unlock()

	if changed {
		s.hub.Notify(table)
	}
	return stored, nil
}

// Delete removes the rows of table matching where
func (s *MemoryStore) Delete(ctx context.Context, table string, where Predicate) (int, error) {
	if !s.index.Has(table) {
		return 0, syncerrors.UnknownTable(table)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}

	t := s.tables[table]
	kept := t.order[:0]
	removed := 0
	for _, id := range t.order {
		if Match(t.rows[id], where) {
			delete(t.rows, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("Deleted rows",
			zap.String("table", table),
			zap.Int("count", removed))
		s.hub.Notify(table)
	}
	return removed, nil
}

// Size returns the number of rows in table
func (s *MemoryStore) Size(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.tables[table]; ok {
		return len(t.rows)
	}
	return 0
}

// Close closes every open selector and rejects further use
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.hub.CloseAll()
	return nil
}
