package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	syncerrors "github.com/devrev/pairdb/localsync/internal/errors"
	"github.com/devrev/pairdb/localsync/internal/store"
	"go.uber.org/zap"
)

type canonicalQuery struct {
	Table   string                 `json:"table"`
	Where   store.Predicate        `json:"where,omitempty"`
	Fields  []store.FieldSelection `json:"fields"`
	OrderBy []store.Order          `json:"order_by,omitempty"`
	Limit   int                    `json:"limit,omitempty"`
	Skip    int                    `json:"skip,omitempty"`
}

// selectFields returns the association selections followed by the persisted
// fields of the table, minus the excluded ones
func (s *SyncService) selectFields(desc QueryDescriptor) []store.FieldSelection {
	persisted, _ := s.index.PersistedFields(desc.Table)

	excluded := make(map[string]bool, len(desc.Excluded))
	for _, f := range desc.Excluded {
		excluded[f] = true
	}

	fields := make([]store.FieldSelection, 0, len(desc.Assoc)+len(persisted))
	seen := make(map[string]bool, cap(fields))
	for _, a := range desc.Assoc {
		if excluded[a.Name] || seen[a.Name] {
			continue
		}
		seen[a.Name] = true
		fields = append(fields, a)
	}
	for _, f := range persisted {
		if excluded[f] || seen[f] {
			continue
		}
		seen[f] = true
		fields = append(fields, store.FieldSelection{Name: f})
	}
	return fields
}

// canonicalKey is the dedup key of a query: deterministic JSON of its parts
func canonicalKey(table string, q store.Query) (string, error) {
	data, err := json.Marshal(canonicalQuery{
		Table:   table,
		Where:   q.Where,
		Fields:  q.Fields,
		OrderBy: q.OrderBy,
		Limit:   q.Limit,
		Skip:    q.Skip,
	})
	if err != nil {
		return "", syncerrors.InvalidArgument("query is not JSON encodable", err).WithDetail("table", table)
	}
	return string(data), nil
}

// prepare runs the network half of a query according to its strategy and
// opens the store subscription
func (s *SyncService) prepare(ctx context.Context, st store.Store, desc QueryDescriptor, key string) (*store.Selector, error) {
	switch desc.Strategy {
	case AlwaysNetwork:
		s.metrics.RecordCacheMiss(desc.Table)
		if err := s.fetchAndStore(ctx, st, desc, key, false); err != nil {
			return nil, err
		}

	default:
		entry, found, err := s.requests.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if found && entry.Issued {
			s.metrics.RecordCacheHit(desc.Table)
			break
		}

		if err := s.requestOnce(ctx, st, desc, key); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return st.Get(ctx, desc.Table, desc.Query)
}

// flight is the context a shared first request runs on. It is cancelled
// only when every caller waiting on it has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (s *SyncService) joinFlight(ctx context.Context, key string) *flight {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()

	f, ok := s.inflight[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		s.inflight[key] = f
	}
	f.waiters++
	return f
}

func (s *SyncService) leaveFlight(key string, f *flight) {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if s.inflight[key] == f {
		delete(s.inflight, key)
	}
}

// requestOnce makes sure the query of key was answered by the network once.
// Concurrent first calls share one request; a caller leaving early only
// fails its own query.
func (s *SyncService) requestOnce(ctx context.Context, st store.Store, desc QueryDescriptor, key string) error {
	for attempt := 0; ; attempt++ {
		f := s.joinFlight(ctx, key)
		ch := s.flights.DoChan(key, func() (interface{}, error) {
			entry, found, err := s.requests.Get(f.ctx, key)
			if err != nil {
				return nil, err
			}
			if found && entry.Issued {
				s.metrics.RecordCacheHit(desc.Table)
				return nil, nil
			}
			s.metrics.RecordCacheMiss(desc.Table)
			return nil, s.fetchAndStore(f.ctx, st, desc, key, true)
		})

		select {
		case <-ctx.Done():
			s.leaveFlight(key, f)
			return ctx.Err()
		case res := <-ch:
			s.leaveFlight(key, f)
			// joined a flight abandoned by all of its earlier callers
			if attempt == 0 && errors.Is(res.Err, context.Canceled) && ctx.Err() == nil {
				continue
			}
			if res.Shared {
				s.logger.Debug("Joined in-flight request", zap.String("table", desc.Table))
			}
			return res.Err
		}
	}
}

// fetchAndStore issues the network request and upserts its result. With
// record set, the key is marked issued once the write completes.
func (s *SyncService) fetchAndStore(ctx context.Context, st store.Store, desc QueryDescriptor, key string, record bool) error {
	start := time.Now()
	payload, err := desc.Fetch(ctx)
	if err != nil {
		s.metrics.RecordError("resolve", errorType(err))
		s.logger.Warn("Query request failed",
			zap.String("table", desc.Table),
			zap.String("strategy", desc.Strategy.String()),
			zap.Error(err))
		return err
	}

	// discarded before the write started
	if err := ctx.Err(); err != nil {
		return err
	}

	rows := payload.Rows()
	if len(rows) > 0 {
		if _, err := st.Upsert(context.WithoutCancel(ctx), desc.Table, rows...); err != nil {
			s.metrics.RecordError("resolve", errorType(err))
			return fmt.Errorf("failed to store %s result: %w", desc.Table, err)
		}
	}
	s.metrics.RecordNetworkRequest(desc.Table, desc.Strategy.String(), time.Since(start).Seconds())

	if !record {
		return nil
	}

	count := -1
	if payload.IsArray {
		count = len(rows)
	}
	if err := s.requests.MarkIssued(context.WithoutCancel(ctx), key, count); err != nil {
		return fmt.Errorf("failed to record request: %w", err)
	}
	return nil
}

func errorType(err error) string {
	switch syncerrors.GetCode(err) {
	case syncerrors.ErrCodeTransport:
		return "transport"
	case syncerrors.ErrCodeStore:
		return "store"
	case syncerrors.ErrCodeInvalidArgument:
		return "invalid_argument"
	case syncerrors.ErrCodeConfiguration:
		return "configuration"
	default:
		return "internal"
	}
}
