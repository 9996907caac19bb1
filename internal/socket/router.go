package socket

import (
	"context"
	"errors"
	"fmt"

	syncerrors "github.com/devrev/pairdb/localsync/internal/errors"
	"github.com/devrev/pairdb/localsync/internal/model"
	"github.com/devrev/pairdb/localsync/internal/schema"
	"github.com/devrev/pairdb/localsync/internal/store"
	"go.uber.org/zap"
)

// ErrNonExistentTable is returned by Route when no table matches the message type
var ErrNonExistentTable = errors.New("non-existent table")

// Route is the store target of a push message
type Route struct {
	Table      string
	PrimaryKey string
}

// Router translates push messages into store operations
type Router struct {
	index  *schema.Index
	logger *zap.Logger
}

// NewRouter creates a router over the tables of index
func NewRouter(index *schema.Index, logger *zap.Logger) *Router {
	return &Router{
		index:  index,
		logger: logger,
	}
}

// Route resolves the table a message targets
func (r *Router) Route(msg *Message) (Route, error) {
	table, ok := r.index.TableForPushType(msg.Type)
	if !ok {
		r.logger.Warn(fmt.Sprintf("Non-existent table: %s", msg.Type),
			zap.String("event", msg.Event))
		return Route{}, ErrNonExistentTable
	}
	pk, _ := r.index.PrimaryKey(table)
	return Route{Table: table, PrimaryKey: pk}, nil
}

// Handle routes msg and applies it to st. Unknown tables are a logged no-op.
func (r *Router) Handle(ctx context.Context, st store.Store, msg *Message) error {
	route, err := r.Route(msg)
	if errors.Is(err, ErrNonExistentTable) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.Apply(ctx, st, route, msg)
}

// Apply issues the store operation for msg: new/change upsert, destroy/remove
// delete by primary key. Messages with nothing to apply return ErrIgnoredMessage.
func (r *Router) Apply(ctx context.Context, st store.Store, route Route, msg *Message) error {
	if !msg.Actionable() {
		return syncerrors.ErrIgnoredMessage
	}

	switch msg.Method {
	case MethodNew, MethodChange:
		row := msg.Data.Clone()
		if row == nil {
			row = model.Entity{}
		}
		if msg.ID != "" {
			row[route.PrimaryKey] = msg.ID
		}
		if _, ok := row.ID(route.PrimaryKey); !ok {
			return syncerrors.InvalidArgument("push message has no model id", nil).
				WithDetail("event", msg.Event)
		}
		if _, err := st.Upsert(ctx, route.Table, row); err != nil {
			return fmt.Errorf("failed to apply %s to %s: %w", msg.Method, route.Table, err)
		}
		return nil

	case MethodDestroy, MethodRemove:
		n, err := st.Delete(ctx, route.Table, store.Predicate{route.PrimaryKey: msg.ID})
		if err != nil {
			return fmt.Errorf("failed to apply %s to %s: %w", msg.Method, route.Table, err)
		}
		r.logger.Debug("Push delete applied",
			zap.String("table", route.Table),
			zap.String("id", msg.ID),
			zap.Int("deleted", n))
		return nil

	default:
		return syncerrors.ErrIgnoredMessage
	}
}
