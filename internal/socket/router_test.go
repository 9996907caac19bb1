package socket

import (
	"context"
	"testing"

	syncerrors "github.com/devrev/pairdb/localsync/internal/errors"
	"github.com/devrev/pairdb/localsync/internal/model"
	"github.com/devrev/pairdb/localsync/internal/schema"
	"github.com/devrev/pairdb/localsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testIndex(t *testing.T) *schema.Index {
	t.Helper()
	pk := schema.Field{Name: "_id", PrimaryKey: true}
	idx, err := schema.NewIndex([]schema.TableSchema{
		{Name: "Post", Fields: []schema.Field{pk, {Name: "_projectId"}, {Name: "title"}}},
		{Name: "Stage", Fields: []schema.Field{pk, {Name: "_tasklistId"}}, PushTypes: []string{"stages"}},
		{Name: "Activity", Fields: []schema.Field{pk, {Name: "action"}}},
		{Name: "Event", Fields: []schema.Field{pk, {Name: "title"}}},
	})
	require.NoError(t, err)
	return idx
}

func rows(t *testing.T, st store.Store, table string, where store.Predicate) []model.Entity {
	t.Helper()
	sel, err := st.Get(context.Background(), table, store.Query{Where: where})
	require.NoError(t, err)
	defer sel.Close()
	out, err := sel.Values(context.Background())
	require.NoError(t, err)
	return out
}

func mustParse(t *testing.T, method, pushType, pathID string, d interface{}) *Message {
	t.Helper()
	frame, err := EncodeFrame("1", EncodeEvent(method, pushType, pathID), d)
	require.NoError(t, err)
	messages, err := ParseFrame(frame)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	return messages[0]
}

func TestRouter_Destroy(t *testing.T) {
	idx := testIndex(t)
	st := store.NewMemoryStore(idx, zap.NewNop())
	router := NewRouter(idx, zap.NewNop())
	ctx := context.Background()

	modelID := "587ee5510f399a3a37e0e182"
	_, err := st.Upsert(ctx, "Post", model.Entity{"_id": modelID, "_projectId": "56988fb705ead4ae7bb8dcfe"})
	require.NoError(t, err)

	require.NoError(t, router.Handle(ctx, st, mustParse(t, MethodDestroy, "post", modelID, "")))
	assert.Empty(t, rows(t, st, "Post", store.Predicate{"_id": modelID}))
}

func TestRouter_RemoveFromCollection(t *testing.T) {
	idx := testIndex(t)
	st := store.NewMemoryStore(idx, zap.NewNop())
	router := NewRouter(idx, zap.NewNop())
	ctx := context.Background()

	collectionID := "597fdea5528664cd3c81ebfa"
	modelID := "597fdea5528664cd3c81ebfd"
	_, err := st.Upsert(ctx, "Stage", model.Entity{"_id": modelID, "_tasklistId": collectionID})
	require.NoError(t, err)

	require.NoError(t, router.Handle(ctx, st, mustParse(t, MethodRemove, "stages", collectionID, modelID)))
	assert.Empty(t, rows(t, st, "Stage", store.Predicate{"_id": modelID}))
}

func TestRouter_Remove(t *testing.T) {
	idx := testIndex(t)
	st := store.NewMemoryStore(idx, zap.NewNop())
	router := NewRouter(idx, zap.NewNop())
	ctx := context.Background()

	modelID := "59a3aea25e25ef050c28ce4f"
	_, err := st.Upsert(ctx, "Activity", model.Entity{"_id": modelID, "action": "activity.comment"})
	require.NoError(t, err)

	require.NoError(t, router.Handle(ctx, st, mustParse(t, MethodRemove, "activities", "", modelID)))
	assert.Empty(t, rows(t, st, "Activity", store.Predicate{"_id": modelID}))
}

func TestRouter_NewAndChange(t *testing.T) {
	idx := testIndex(t)
	st := store.NewMemoryStore(idx, zap.NewNop())
	router := NewRouter(idx, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, router.Handle(ctx, st,
		mustParse(t, MethodNew, "event", "", map[string]interface{}{"_id": "e1", "title": "hello"})))
	require.NoError(t, router.Handle(ctx, st,
		mustParse(t, MethodChange, "event", "e1", map[string]interface{}{})))

	got := rows(t, st, "Event", store.Predicate{"_id": "e1"})
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0]["title"])

	require.NoError(t, router.Handle(ctx, st,
		mustParse(t, MethodChange, "event", "e1", map[string]interface{}{"title": "hello world"})))
	got = rows(t, st, "Event", store.Predicate{"_id": "e1"})
	assert.Equal(t, "hello world", got[0]["title"])
}

func TestRouter_NonExistentTableWarns(t *testing.T) {
	idx := testIndex(t)
	st := store.NewMemoryStore(idx, zap.NewNop())
	core, logs := observer.New(zap.WarnLevel)
	router := NewRouter(idx, zap.New(core))

	msg := &Message{Method: MethodNew, Type: "Non-existent-table", Data: model.Entity{"_id": "1"}}
	assert.NoError(t, router.Handle(context.Background(), st, msg))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Non-existent table: Non-existent-table", logs.All()[0].Message)

	_, err := router.Route(msg)
	assert.ErrorIs(t, err, ErrNonExistentTable)
}

func TestRouter_IgnoredAndInvalid(t *testing.T) {
	idx := testIndex(t)
	st := store.NewMemoryStore(idx, zap.NewNop())
	router := NewRouter(idx, zap.NewNop())
	ctx := context.Background()

	err := router.Handle(ctx, st, &Message{Method: MethodRefresh, Type: "post"})
	assert.ErrorIs(t, err, syncerrors.ErrIgnoredMessage)

	err = router.Handle(ctx, st, &Message{Method: MethodRemove, Type: "activities"})
	assert.ErrorIs(t, err, syncerrors.ErrIgnoredMessage)

	err = router.Handle(ctx, st, &Message{Method: MethodNew, Type: "post", Data: model.Entity{"title": "x"}})
	assert.True(t, syncerrors.IsCode(err, syncerrors.ErrCodeInvalidArgument))
}
