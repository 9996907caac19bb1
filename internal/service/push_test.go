package service

import (
	"context"
	"testing"

	syncerrors "github.com/devrev/pairdb/localsync/internal/errors"
	"github.com/devrev/pairdb/localsync/internal/model"
	"github.com/devrev/pairdb/localsync/internal/socket"
	"github.com/devrev/pairdb/localsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func push(t *testing.T, svc *SyncService, method, pushType, pathID string, d interface{}) error {
	t.Helper()
	frame, err := socket.EncodeFrame("1", socket.EncodeEvent(method, pushType, pathID), d)
	require.NoError(t, err)
	messages, err := socket.ParseFrame(frame)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	return svc.HandlePush(context.Background(), messages[0])
}

func TestHandlePush_InterceptorMutatesMessage(t *testing.T) {
	svc, st := attachedService(t)
	modelID := "59a3aea25e25ef050c28ce4f"

	svc.Interceptors().Append(func(msg *socket.Message) socket.ControlFlow {
		if msg.Data["title"] == nil {
			msg.Data["title"] = "hello"
		} else if msg.Data["title"] == "hello world" {
			delete(msg.Data, "title")
		}
		return socket.Continue
	}, socket.InterceptorOptions{MutateMessage: true})

	require.NoError(t, push(t, svc, socket.MethodNew, "event", "",
		map[string]interface{}{"_id": modelID, "action": "activity.comment"}))
	rows := storedRows(t, st, "Event", store.Predicate{"_id": modelID})
	require.Len(t, rows, 1)
	assert.Equal(t, "hello", rows[0]["title"])

	require.NoError(t, push(t, svc, socket.MethodChange, "event", modelID,
		map[string]interface{}{"title": "hello world"}))
	rows = storedRows(t, st, "Event", store.Predicate{"_id": modelID})
	assert.Equal(t, "hello", rows[0]["title"])
}

func TestHandlePush_IgnoreDefaultStoreOp(t *testing.T) {
	svc, st := attachedService(t)
	modelID := "59a3aea25e25ef050c28ce4f"
	_, err := st.Upsert(context.Background(), "Activity", model.Entity{"_id": modelID, "action": "activity.comment"})
	require.NoError(t, err)

	svc.Interceptors().Append(func(msg *socket.Message) socket.ControlFlow {
		return socket.Continue
	}, socket.InterceptorOptions{ShortCircuitAndIgnoreDefaultStoreOp: true})

	require.NoError(t, push(t, svc, socket.MethodRemove, "activities", "", modelID))
	assert.Len(t, storedRows(t, st, "Activity", store.Predicate{"_id": modelID}), 1)
}

func TestHandlePush_WithoutMutateFlag(t *testing.T) {
	svc, st := attachedService(t)
	modelID := "59a3aea25e25ef050c28ce4f"

	svc.Interceptors().Append(func(msg *socket.Message) socket.ControlFlow {
		msg.Data["title"] = "hello"
		return socket.Continue
	}, socket.InterceptorOptions{})

	require.NoError(t, push(t, svc, socket.MethodNew, "event", "", map[string]interface{}{"_id": modelID}))
	rows := storedRows(t, st, "Event", store.Predicate{"_id": modelID})
	require.Len(t, rows, 1)
	_, hasTitle := rows[0]["title"]
	assert.False(t, hasTitle)
}

func TestHandlePush_BufferedUntilAttach(t *testing.T) {
	svc, idx := newTestService(t)

	require.NoError(t, push(t, svc, socket.MethodNew, "event", "", map[string]interface{}{"_id": "e1", "title": "v1"}))
	require.NoError(t, push(t, svc, socket.MethodChange, "event", "e1", map[string]interface{}{"title": "v2"}))
	require.NoError(t, push(t, svc, socket.MethodNew, "event", "", map[string]interface{}{"_id": "e2"}))
	require.NoError(t, push(t, svc, socket.MethodDestroy, "event", "e2", ""))
	assert.Equal(t, 4, svc.Pending())

	st := store.NewMemoryStore(idx, zap.NewNop())
	stats := svc.Attach(context.Background(), st)
	assert.Equal(t, ReplayStats{Total: 4}, stats)

	rows := storedRows(t, st, "Event", nil)
	require.Len(t, rows, 1)
	assert.Equal(t, "v2", rows[0]["title"])
}

func TestHandlePush_UnknownTableAndIgnored(t *testing.T) {
	svc, _ := newTestService(t)

	assert.NoError(t, push(t, svc, socket.MethodNew, "Non-existent-table", "", map[string]interface{}{"_id": "1"}))
	assert.Equal(t, 0, svc.Pending())

	err := push(t, svc, socket.MethodRefresh, "event", "", "")
	assert.ErrorIs(t, err, syncerrors.ErrIgnoredMessage)
	assert.Equal(t, 0, svc.Pending())
}
