package service

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/devrev/pairdb/localsync/internal/cache"
	syncerrors "github.com/devrev/pairdb/localsync/internal/errors"
	"github.com/devrev/pairdb/localsync/internal/metrics"
	"github.com/devrev/pairdb/localsync/internal/model"
	"github.com/devrev/pairdb/localsync/internal/schema"
	"github.com/devrev/pairdb/localsync/internal/socket"
	"github.com/devrev/pairdb/localsync/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SyncService keeps the local store in sync with the REST API and the push
// stream. Until a store is attached every store operation is buffered.
type SyncService struct {
	index        *schema.Index
	requests     cache.RequestCache
	router       *socket.Router
	interceptors *socket.Sequence
	buffer       *writeBuffer
	flights      singleflight.Group
	flightMu     sync.Mutex
	inflight     map[string]*flight
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewSyncService creates a new sync service with no store attached
func NewSyncService(
	index *schema.Index,
	requests cache.RequestCache,
	router *socket.Router,
	m *metrics.Metrics,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		index:        index,
		requests:     requests,
		router:       router,
		interceptors: socket.NewSequence(m, logger),
		buffer:       newWriteBuffer(),
		inflight:     make(map[string]*flight),
		metrics:      m,
		logger:       logger,
	}
}

// Interceptors returns the push interceptor chain for registration
func (s *SyncService) Interceptors() *socket.Sequence {
	return s.interceptors
}

// Index returns the schema index
func (s *SyncService) Index() *schema.Index {
	return s.index
}

// ResetRequestCache forgets every issued request
func (s *SyncService) ResetRequestCache(ctx context.Context) error {
	return s.requests.Reset(ctx)
}

// Invalidate forgets the issued request of one query so the next RequestOnce
// call goes to the network again
func (s *SyncService) Invalidate(ctx context.Context, desc QueryDescriptor) error {
	if !s.index.Has(desc.Table) {
		return syncerrors.UnknownTable(desc.Table)
	}
	desc.Query.Fields = s.selectFields(desc)
	key, err := canonicalKey(desc.Table, desc.Query)
	if err != nil {
		return err
	}
	return s.requests.Invalidate(ctx, key)
}

// Resolve starts a query and returns its token right away. An unknown table
// fails before any network call.
func (s *SyncService) Resolve(ctx context.Context, desc QueryDescriptor) (*Token, error) {
	if !s.index.Has(desc.Table) {
		s.metrics.RecordError("resolve", "configuration")
		return nil, syncerrors.UnknownTable(desc.Table)
	}
	if desc.Fetch == nil {
		return nil, syncerrors.InvalidArgument("query has no network request", nil).
			WithDetail("table", desc.Table)
	}

	desc.Query.Fields = s.selectFields(desc)
	key, err := canonicalKey(desc.Table, desc.Query)
	if err != nil {
		return nil, err
	}

	token := newToken(ctx)
	op := &deferredSubscription{desc: desc, key: key, token: token}

	st, drained, size, ok := s.buffer.storeOrEnqueue(op)
	if !ok {
		s.metrics.UpdateBufferedOperations(size)
		s.logger.Debug("Store not attached, query buffered",
			zap.String("table", desc.Table),
			zap.Int("pending", size))
		return token, nil
	}

	go func() {
		select {
		case <-drained:
		case <-token.ctx.Done():
			return
		}

		sel, err := s.prepare(token.ctx, st, desc, key)
		if err != nil {
			token.fail(err)
			return
		}
		s.forward(token, st, sel, desc)
	}()

	return token, nil
}

// forward re-reads the selector on every change, enriches the rows and
// publishes them to the token until either side closes
func (s *SyncService) forward(token *Token, st store.Store, sel *store.Selector, desc QueryDescriptor) {
	defer sel.Close()
	defer token.finish()

	var last []model.Entity
	emitted := false

	emit := func() bool {
		rows, err := sel.Values(token.ctx)
		if err != nil {
			if !errors.Is(err, store.ErrClosed) && token.ctx.Err() == nil {
				token.fail(err)
			}
			return false
		}

		rows, err = s.enrich(token.ctx, st, desc, rows)
		if err != nil {
			token.fail(err)
			return false
		}

		if emitted && reflect.DeepEqual(rows, last) {
			return true
		}
		last, emitted = rows, true
		token.publish(model.CloneAll(rows))
		return true
	}

	if !emit() {
		return
	}

	for {
		select {
		case <-token.ctx.Done():
			return
		case <-sel.Done():
			return
		case <-sel.Changes():
			if !emit() {
				return
			}
		}
	}
}

// Mutate issues the network request of a write and applies its result to the
// store: create and update upsert the returned entity, delete removes the
// rows matching the clause. Without a store the write is buffered and the
// network result is returned immediately.
func (s *SyncService) Mutate(ctx context.Context, desc MutationDescriptor) (model.Entity, error) {
	pk, ok := s.index.PrimaryKey(desc.Table)
	if !ok {
		s.metrics.RecordError("mutate", "configuration")
		return nil, syncerrors.UnknownTable(desc.Table)
	}
	if desc.Request == nil {
		return nil, syncerrors.InvalidArgument("mutation has no network request", nil).
			WithDetail("table", desc.Table)
	}

	result, err := desc.Request(ctx)
	if err != nil {
		s.metrics.RecordError("mutate", errorType(err))
		return nil, err
	}

	op, err := s.directWriteFor(desc, pk, result)
	if err != nil {
		return nil, err
	}

	st, err := s.acquireStore(ctx, op)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return result, nil
	}

	if err := op.apply(ctx, st); err != nil {
		s.metrics.RecordError("mutate", errorType(err))
		return nil, err
	}
	return result, nil
}

func (s *SyncService) directWriteFor(desc MutationDescriptor, pk string, result model.Entity) (*directWrite, error) {
	switch desc.Method {
	case MutationCreate, MutationUpdate:
		row := result.Clone()
		if row == nil {
			row = model.Entity{}
		}
		if _, ok := row.ID(pk); !ok {
			if id, found := desc.Clause[pk]; found {
				row[pk] = id
			}
		}
		if _, ok := row.ID(pk); !ok {
			return nil, syncerrors.InvalidArgument("mutation result has no primary key value", nil).
				WithDetail("table", desc.Table).
				WithDetail("primary_key", pk)
		}
		return &directWrite{table: desc.Table, method: writeUpsert, rows: []model.Entity{row}}, nil

	case MutationDelete:
		clause := desc.Clause
		if len(clause) == 0 {
			id, ok := result.ID(pk)
			if !ok {
				return nil, syncerrors.InvalidArgument("delete has no clause", nil).
					WithDetail("table", desc.Table)
			}
			clause = store.Predicate{pk: id}
		}
		return &directWrite{table: desc.Table, method: writeDelete, clause: clause}, nil

	default:
		return nil, syncerrors.InvalidArgument("unknown mutation method", nil).
			WithDetail("method", string(desc.Method))
	}
}

// HandlePush runs a push message through the interceptor chain and applies
// it to the store, buffering the write when no store is attached. Messages
// with nothing to apply return ErrIgnoredMessage.
func (s *SyncService) HandlePush(ctx context.Context, msg *socket.Message) error {
	processed, suppress := s.interceptors.Process(msg)
	if suppress {
		s.logger.Debug("Default store operation suppressed by interceptor",
			zap.String("event", processed.Event))
		return nil
	}
	if !processed.Actionable() {
		return syncerrors.ErrIgnoredMessage
	}

	route, err := s.router.Route(processed)
	if errors.Is(err, socket.ErrNonExistentTable) {
		return nil
	}
	if err != nil {
		return err
	}

	st, err := s.acquireStore(ctx, &pushWrite{route: route, msg: processed})
	if err != nil {
		return err
	}
	if st == nil {
		return nil
	}
	return s.router.Apply(ctx, st, route, processed)
}
