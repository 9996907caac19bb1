package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	syncerrors "github.com/devrev/pairdb/localsync/internal/errors"
	"github.com/devrev/pairdb/localsync/internal/model"
	"github.com/devrev/pairdb/localsync/internal/socket"
	"github.com/devrev/pairdb/localsync/internal/store"
	"go.uber.org/zap"
)

// BufferedOperation is an operation parked until a store attaches. The set of
// implementations is closed: directWrite, pushWrite and deferredSubscription.
type BufferedOperation interface {
	Kind() string
	replay(ctx context.Context, s *SyncService, st store.Store) error
}

type writeMethod int

const (
	writeUpsert writeMethod = iota
	writeDelete
)

// directWrite is the store half of a Mutate call
type directWrite struct {
	table  string
	method writeMethod
	rows   []model.Entity
	clause store.Predicate
}

func (w *directWrite) Kind() string { return "direct_write" }

func (w *directWrite) replay(ctx context.Context, s *SyncService, st store.Store) error {
	return w.apply(ctx, st)
}

func (w *directWrite) apply(ctx context.Context, st store.Store) error {
	switch w.method {
	case writeDelete:
		_, err := st.Delete(ctx, w.table, w.clause)
		return err
	default:
		_, err := st.Upsert(ctx, w.table, w.rows...)
		return err
	}
}

// pushWrite is the store half of a push message
type pushWrite struct {
	route socket.Route
	msg   *socket.Message
}

func (w *pushWrite) Kind() string { return "push_write" }

func (w *pushWrite) replay(ctx context.Context, s *SyncService, st store.Store) error {
	err := s.router.Apply(ctx, st, w.route, w.msg)
	if errors.Is(err, syncerrors.ErrIgnoredMessage) {
		return nil
	}
	return err
}

// deferredSubscription is a Resolve call whose token was handed out before
// any store existed
type deferredSubscription struct {
	desc  QueryDescriptor
	key   string
	token *Token
}

func (d *deferredSubscription) Kind() string { return "deferred_subscription" }

func (d *deferredSubscription) replay(ctx context.Context, s *SyncService, st store.Store) error {
	// the caller may have dropped the token while it was parked
	if d.token.ctx.Err() != nil {
		return nil
	}

	sel, err := s.prepare(d.token.ctx, st, d.desc, d.key)
	if err != nil {
		d.token.fail(err)
		return err
	}
	go s.forward(d.token, st, sel, d.desc)
	return nil
}

// ReplayStats summarizes a buffer drain
type ReplayStats struct {
	Total  int
	Failed int
}

// writeBuffer is either unattached (operations queue up) or attached (the
// store is known and drained is closed once the queue has been replayed)
type writeBuffer struct {
	mu      sync.Mutex
	queue   []BufferedOperation
	st      store.Store
	drained chan struct{}
}

func newWriteBuffer() *writeBuffer {
	return &writeBuffer{drained: make(chan struct{})}
}

// storeOrEnqueue returns the attached store, or parks op and returns ok=false
func (b *writeBuffer) storeOrEnqueue(op BufferedOperation) (store.Store, <-chan struct{}, int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st != nil {
		return b.st, b.drained, len(b.queue), true
	}
	b.queue = append(b.queue, op)
	return nil, nil, len(b.queue), false
}

// attach switches to the attached state and hands back the queue to drain.
// ok is false when a store was already attached.
func (b *writeBuffer) attach(st store.Store) ([]BufferedOperation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st != nil {
		return nil, false
	}
	b.st = st
	queue := b.queue
	b.queue = nil
	return queue, true
}

func (b *writeBuffer) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *writeBuffer) current() store.Store {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st
}

// Attach connects the store and replays every parked operation in order.
// Failures are logged and counted; replay always continues. Calling Attach
// again is a no-op.
func (s *SyncService) Attach(ctx context.Context, st store.Store) ReplayStats {
	queue, ok := s.buffer.attach(st)
	if !ok {
		s.logger.Warn("Store already attached, ignoring")
		return ReplayStats{}
	}

	stats := ReplayStats{Total: len(queue)}
	s.logger.Info("Store attached, replaying buffered operations",
		zap.Int("pending", len(queue)))

	for i, op := range queue {
		if err := op.replay(ctx, s, st); err != nil {
			stats.Failed++
			replayErr := syncerrors.ReplayFailed(op.Kind(), i, err)
			s.metrics.RecordReplay(op.Kind(), "failed")
			s.logger.Warn("Failed to replay buffered operation",
				zap.String("kind", op.Kind()),
				zap.Int("position", i),
				zap.Error(replayErr))
			continue
		}
		s.metrics.RecordReplay(op.Kind(), "success")
	}

	close(s.buffer.drained)
	s.metrics.UpdateBufferedOperations(0)

	s.logger.Info("Buffered operations replayed",
		zap.Int("total", stats.Total),
		zap.Int("failed", stats.Failed))
	return stats
}

// Attached reports whether a store is attached
func (s *SyncService) Attached() bool {
	return s.buffer.current() != nil
}

// Pending returns the number of operations waiting for a store
func (s *SyncService) Pending() int {
	return s.buffer.pending()
}

// acquireStore returns the store to use for op, waiting for the drain when
// attached, or parks op and returns nil
func (s *SyncService) acquireStore(ctx context.Context, op BufferedOperation) (store.Store, error) {
	st, drained, size, ok := s.buffer.storeOrEnqueue(op)
	if !ok {
		s.metrics.UpdateBufferedOperations(size)
		s.logger.Debug("Store not attached, operation buffered",
			zap.String("kind", op.Kind()),
			zap.Int("pending", size))
		return nil, nil
	}

	select {
	case <-drained:
		return st, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for buffered operations: %w", ctx.Err())
	}
}
