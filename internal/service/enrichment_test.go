package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/devrev/pairdb/localsync/internal/model"
	"github.com/devrev/pairdb/localsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paddingRecorder struct {
	mu    sync.Mutex
	ids   []string
	reply map[string]model.Entity
	err   error
}

func (p *paddingRecorder) fetch(ctx context.Context, id string) (model.Entity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
	if p.err != nil {
		return nil, p.err
	}
	if e, ok := p.reply[id]; ok {
		return e.Clone(), nil
	}
	return nil, nil
}

func (p *paddingRecorder) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ids...)
}

func TestEnrichment_PadsMissingFields(t *testing.T) {
	svc, st := attachedService(t)
	var calls int32
	padding := &paddingRecorder{reply: map[string]model.Entity{
		"2": {"_id": "2", "title": "padded", "content": "body"},
	}}

	token, err := svc.Resolve(context.Background(), QueryDescriptor{
		Table: "Post",
		Fetch: countingFetch(&calls, model.ArrayPayload([]model.Entity{
			{"_id": "1", "title": "complete"},
			{"_id": "2"},
		})),
		Required: []string{"title"},
		Padding:  padding.fetch,
	})
	require.NoError(t, err)
	defer token.Close()

	rows := values(t, token)
	require.Len(t, rows, 2)
	assert.Equal(t, "complete", rows[0]["title"])
	assert.Equal(t, "padded", rows[1]["title"])
	assert.Equal(t, []string{"2"}, padding.calls())

	stored := storedRows(t, st, "Post", store.Predicate{"_id": "2"})
	require.Len(t, stored, 1)
	assert.Equal(t, "padded", stored[0]["title"])
	assert.Equal(t, "body", stored[0]["content"])
}

func TestEnrichment_EmptyResultLeavesRow(t *testing.T) {
	svc, _ := attachedService(t)
	var calls int32
	padding := &paddingRecorder{}

	token, err := svc.Resolve(context.Background(), QueryDescriptor{
		Table:    "Post",
		Fetch:    countingFetch(&calls, model.ArrayPayload([]model.Entity{{"_id": "1"}})),
		Required: []string{"title"},
		Padding:  padding.fetch,
	})
	require.NoError(t, err)
	defer token.Close()

	rows := values(t, token)
	require.Len(t, rows, 1)
	_, hasTitle := rows[0]["title"]
	assert.False(t, hasTitle)
}

func TestEnrichment_FailureReachesToken(t *testing.T) {
	svc, _ := attachedService(t)
	var calls int32
	padding := &paddingRecorder{err: errors.New("padding unavailable")}

	token, err := svc.Resolve(context.Background(), QueryDescriptor{
		Table:    "Post",
		Fetch:    countingFetch(&calls, model.ArrayPayload([]model.Entity{{"_id": "1"}})),
		Required: []string{"title"},
		Padding:  padding.fetch,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	_, err = token.Values(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "padding unavailable")
}

func TestEnrichment_SkippedWithoutRequiredFields(t *testing.T) {
	svc, _ := attachedService(t)
	var calls int32
	padding := &paddingRecorder{}

	token, err := svc.Resolve(context.Background(), QueryDescriptor{
		Table:   "Post",
		Fetch:   countingFetch(&calls, model.ArrayPayload([]model.Entity{{"_id": "1"}})),
		Padding: padding.fetch,
	})
	require.NoError(t, err)
	defer token.Close()

	values(t, token)
	assert.Empty(t, padding.calls())
}
