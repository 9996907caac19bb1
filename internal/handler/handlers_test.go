package handler

import (
	"net/url"
	"testing"

	"github.com/devrev/pairdb/localsync/internal/cache"
	syncerrors "github.com/devrev/pairdb/localsync/internal/errors"
	"github.com/devrev/pairdb/localsync/internal/metrics"
	"github.com/devrev/pairdb/localsync/internal/schema"
	"github.com/devrev/pairdb/localsync/internal/service"
	"github.com/devrev/pairdb/localsync/internal/socket"
	"github.com/devrev/pairdb/localsync/internal/store"
	"github.com/devrev/pairdb/localsync/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	logger := zap.NewNop()
	idx, err := schema.NewIndex([]schema.TableSchema{{
		Name:   "Post",
		Fields: []schema.Field{{Name: "_id", PrimaryKey: true}, {Name: "title"}},
	}})
	require.NoError(t, err)

	svc := service.NewSyncService(idx, cache.NewInMemoryRequestCache(logger),
		socket.NewRouter(idx, logger), metrics.NewMetrics(prometheus.NewRegistry()), logger)
	client := transport.NewClient(transport.Config{BaseURL: "http://localhost:1"}, logger)
	return NewHandlers(svc, client, syncerrors.NewHandler(logger), logger)
}

func TestQueryDescriptor(t *testing.T) {
	h := newTestHandlers(t)
	params := url.Values{
		"strategy": {"always_network"},
		"limit":    {"10"},
		"skip":     {"5"},
		"order_by": {"title"},
		"desc":     {"true"},
		"require":  {"title,content"},
		"status":   {"open"},
	}

	desc, err := h.queryDescriptor("Post", "/post", params)
	require.NoError(t, err)

	assert.Equal(t, service.AlwaysNetwork, desc.Strategy)
	assert.Equal(t, 10, desc.Query.Limit)
	assert.Equal(t, 5, desc.Query.Skip)
	assert.Equal(t, []store.Order{{Field: "title", Desc: true}}, desc.Query.OrderBy)
	assert.Equal(t, store.Predicate{"status": "open"}, desc.Query.Where)
	assert.Equal(t, []string{"title", "content"}, desc.Required)
	assert.NotNil(t, desc.Padding)
	assert.NotNil(t, desc.Fetch)
}

func TestQueryDescriptor_Defaults(t *testing.T) {
	h := newTestHandlers(t)

	desc, err := h.queryDescriptor("Post", "/post", url.Values{})
	require.NoError(t, err)
	assert.Equal(t, service.RequestOnce, desc.Strategy)
	assert.Nil(t, desc.Query.Where)
	assert.Nil(t, desc.Padding)
}

func TestQueryDescriptor_Invalid(t *testing.T) {
	h := newTestHandlers(t)

	for _, params := range []url.Values{
		{"strategy": {"never"}},
		{"limit": {"x"}},
		{"skip": {"-2"}},
	} {
		_, err := h.queryDescriptor("Post", "/post", params)
		assert.Error(t, err, params.Encode())
	}
}

func TestRowPath(t *testing.T) {
	assert.Equal(t, "/post/a%2Fb", rowPath("/post/", "a/b"))
}
