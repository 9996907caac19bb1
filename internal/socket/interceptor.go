package socket

import (
	"fmt"
	"sync"

	syncerrors "github.com/devrev/pairdb/localsync/internal/errors"
	"github.com/devrev/pairdb/localsync/internal/metrics"
	"go.uber.org/zap"
)

// ControlFlow is what an interceptor returns to steer the chain
type ControlFlow struct {
	giveUpShortCircuit bool
}

var (
	// Continue keeps the flags the interceptor was registered with
	Continue = ControlFlow{}
	// GiveUpShortCircuit waives the interceptor's short-circuit for this message only
	GiveUpShortCircuit = ControlFlow{giveUpShortCircuit: true}
)

// InterceptorFunc observes, and with MutateMessage modifies, a push message
type InterceptorFunc func(msg *Message) ControlFlow

// InterceptorOptions are the static flags of an interceptor
type InterceptorOptions struct {
	// MutateMessage lets the handler's changes reach later handlers and the store
	MutateMessage bool
	// ShortCircuit stops the chain after this handler
	ShortCircuit bool
	// IgnoreDefaultStoreOp skips the store write for messages this handler sees
	IgnoreDefaultStoreOp bool
	// ShortCircuitAndIgnoreDefaultStoreOp sets both ShortCircuit and IgnoreDefaultStoreOp
	ShortCircuitAndIgnoreDefaultStoreOp bool
}

// InterceptorEntry is one registered handler with its flags
type InterceptorEntry struct {
	fn                   InterceptorFunc
	MutateMessage        bool
	ShortCircuit         bool
	IgnoreDefaultStoreOp bool
}

// Sequence is the ordered interceptor chain
type Sequence struct {
	mu      sync.RWMutex
	entries []InterceptorEntry
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewSequence creates an empty chain
func NewSequence(m *metrics.Metrics, logger *zap.Logger) *Sequence {
	return &Sequence{
		metrics: m,
		logger:  logger,
	}
}

// Append registers fn at the end of the chain
func (s *Sequence) Append(fn InterceptorFunc, opts InterceptorOptions) {
	entry := InterceptorEntry{
		fn:                   fn,
		MutateMessage:        opts.MutateMessage,
		ShortCircuit:         opts.ShortCircuit || opts.ShortCircuitAndIgnoreDefaultStoreOp,
		IgnoreDefaultStoreOp: opts.IgnoreDefaultStoreOp || opts.ShortCircuitAndIgnoreDefaultStoreOp,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

// Len returns the number of registered interceptors
func (s *Sequence) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Process runs msg through the chain and returns the resulting message and
// whether the default store operation must be skipped. msg itself is never modified.
func (s *Sequence) Process(msg *Message) (*Message, bool) {
	s.mu.RLock()
	entries := make([]InterceptorEntry, len(s.entries))
	copy(entries, s.entries)
	s.mu.RUnlock()

	current := msg.Clone()
	suppress := false

	for i, entry := range entries {
		// handlers without mutation rights work on a throwaway copy
		target := current.Clone()

		flow, err := s.invoke(i, entry.fn, target)
		if err != nil {
			continue
		}

		if entry.MutateMessage {
			current = target
		}

		shortCircuit := entry.ShortCircuit && flow != GiveUpShortCircuit

		if entry.IgnoreDefaultStoreOp {
			suppress = true
		}
		if shortCircuit {
			break
		}
	}

	return current, suppress
}

func (s *Sequence) invoke(index int, fn InterceptorFunc, msg *Message) (flow ControlFlow, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = syncerrors.InterceptorFailed(index, fmt.Errorf("panic: %v", r))
			s.metrics.RecordInterceptorFailure()
			s.logger.Error("Interceptor failed",
				zap.Int("index", index),
				zap.String("event", msg.Event),
				zap.Error(err))
		}
	}()
	return fn(msg), nil
}
