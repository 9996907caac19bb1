package service

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devrev/pairdb/localsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedFetch blocks every call until release is closed
type gatedFetch struct {
	calls     int32
	started   chan struct{}
	cancelled chan struct{}
	release   chan struct{}
}

func newGatedFetch() *gatedFetch {
	return &gatedFetch{
		started:   make(chan struct{}, 8),
		cancelled: make(chan struct{}, 8),
		release:   make(chan struct{}),
	}
}

func (g *gatedFetch) fetch(ctx context.Context) (model.Payload, error) {
	atomic.AddInt32(&g.calls, 1)
	g.started <- struct{}{}
	select {
	case <-g.release:
		return model.ArrayPayload([]model.Entity{{"_id": "1", "title": "a"}}), nil
	case <-ctx.Done():
		g.cancelled <- struct{}{}
		return model.Payload{}, ctx.Err()
	}
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testTimeout):
		t.Fatal("timed out")
	}
}

func flightWaiters(svc *SyncService) int {
	svc.flightMu.Lock()
	defer svc.flightMu.Unlock()
	n := 0
	for _, f := range svc.inflight {
		n += f.waiters
	}
	return n
}

func TestResolve_ConcurrentFirstCallsShareOneRequest(t *testing.T) {
	svc, _ := attachedService(t)
	gate := newGatedFetch()
	desc := QueryDescriptor{Table: "Post", Strategy: RequestOnce, Fetch: gate.fetch}

	first, err := svc.Resolve(context.Background(), desc)
	require.NoError(t, err)
	defer first.Close()
	second, err := svc.Resolve(context.Background(), desc)
	require.NoError(t, err)
	defer second.Close()

	waitFor(t, gate.started)
	require.Eventually(t, func() bool { return flightWaiters(svc) == 2 }, testTimeout, 5*time.Millisecond)
	close(gate.release)

	assert.Len(t, values(t, first), 1)
	assert.Len(t, values(t, second), 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gate.calls))
}

func TestResolve_ClosingOneCallerKeepsSharedRequest(t *testing.T) {
	svc, _ := attachedService(t)
	gate := newGatedFetch()
	desc := QueryDescriptor{Table: "Post", Strategy: RequestOnce, Fetch: gate.fetch}

	first, err := svc.Resolve(context.Background(), desc)
	require.NoError(t, err)
	second, err := svc.Resolve(context.Background(), desc)
	require.NoError(t, err)
	defer second.Close()

	waitFor(t, gate.started)
	require.Eventually(t, func() bool { return flightWaiters(svc) == 2 }, testTimeout, 5*time.Millisecond)

	first.Close()
	require.Eventually(t, func() bool { return flightWaiters(svc) == 1 }, testTimeout, 5*time.Millisecond)
	close(gate.release)

	rows := values(t, second)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0]["title"])

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	_, err = first.Values(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// the shared answer was recorded
	third, err := svc.Resolve(context.Background(), desc)
	require.NoError(t, err)
	defer third.Close()
	assert.Len(t, values(t, third), 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gate.calls))
}

func TestResolve_ClosingLastCallerCancelsRequest(t *testing.T) {
	svc, st := attachedService(t)
	gate := newGatedFetch()
	desc := QueryDescriptor{Table: "Post", Strategy: RequestOnce, Fetch: gate.fetch}

	token, err := svc.Resolve(context.Background(), desc)
	require.NoError(t, err)
	waitFor(t, gate.started)

	token.Close()
	waitFor(t, gate.cancelled)
	require.Eventually(t, func() bool { return flightWaiters(svc) == 0 }, testTimeout, 5*time.Millisecond)
	assert.Equal(t, 0, st.Size("Post"))

	// nothing was recorded, so the next call goes to the network again
	close(gate.release)
	again, err := svc.Resolve(context.Background(), desc)
	require.NoError(t, err)
	defer again.Close()
	assert.Len(t, values(t, again), 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&gate.calls))
}

func TestToken_FinishedTokensReleaseGoroutines(t *testing.T) {
	svc, st := attachedService(t)
	var calls int32
	desc := QueryDescriptor{
		Table:    "Post",
		Strategy: AlwaysNetwork,
		Fetch:    countingFetch(&calls, model.ArrayPayload([]model.Entity{{"_id": "1"}})),
	}

	before := runtime.NumGoroutine()
	tokens := make([]*Token, 0, 50)
	for i := 0; i < 50; i++ {
		token, err := svc.Resolve(context.Background(), desc)
		require.NoError(t, err)
		values(t, token)
		tokens = append(tokens, token)
	}

	require.NoError(t, st.Close())
	for _, token := range tokens {
		waitFor(t, token.Done())
	}

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+5
	}, testTimeout, 10*time.Millisecond)
}
