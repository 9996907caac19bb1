package service

import (
	"context"
	"sync"

	"github.com/devrev/pairdb/localsync/internal/model"
)

// Token is the handle returned by Resolve. It is usable immediately, even when
// the query is parked until a store attaches, and carries every result the
// live query produces.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once

	mu      sync.Mutex
	latest  []model.Entity
	emitted bool
	err     error
	subs    []chan []model.Entity
}

func newToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	t := &Token{
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go func() {
		<-ctx.Done()
		t.finish()
	}()
	return t
}

// Values waits for the first result and returns the latest one
func (t *Token) Values(ctx context.Context) ([]model.Entity, error) {
	select {
	case <-t.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return nil, t.err
	}
	if !t.emitted {
		return nil, context.Canceled
	}
	return model.CloneAll(t.latest), nil
}

// Subscribe returns a channel carrying the current result, if any, and every
// later one. A slow reader only sees the most recent result. The channel is
// closed when the token ends.
func (t *Token) Subscribe() <-chan []model.Entity {
	ch := make(chan []model.Entity, 1)

	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.done:
		close(ch)
		return ch
	default:
	}

	if t.emitted {
		ch <- model.CloneAll(t.latest)
	}
	t.subs = append(t.subs, ch)
	return ch
}

// Err returns the failure that ended the token, if any
func (t *Token) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done is closed when the token ends
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Close stops the query. A network result that has not reached the store yet
// is dropped; a write already started is not undone.
func (t *Token) Close() {
	t.cancel()
}

func (t *Token) publish(rows []model.Entity) {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.done:
		return
	default:
	}

	t.latest = rows
	t.emitted = true
	t.readyOnce.Do(func() { close(t.ready) })

	for _, ch := range t.subs {
		// keep only the newest result in a full channel
		select {
		case <-ch:
		default:
		}
		ch <- model.CloneAll(rows)
	}
}

func (t *Token) fail(err error) {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()

	t.cancel()
	t.finish()
}

func (t *Token) finish() {
	t.doneOnce.Do(func() {
		t.cancel()

		t.mu.Lock()
		defer t.mu.Unlock()

		close(t.done)
		t.readyOnce.Do(func() { close(t.ready) })
		for _, ch := range t.subs {
			close(ch)
		}
		t.subs = nil
	})
}
