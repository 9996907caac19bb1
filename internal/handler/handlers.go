// Package handler provides the HTTP handlers of the debug API: rows are read
// through the sync service so the request cache and the local store apply.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	syncerrors "github.com/devrev/pairdb/localsync/internal/errors"
	"github.com/devrev/pairdb/localsync/internal/middleware"
	"github.com/devrev/pairdb/localsync/internal/model"
	"github.com/devrev/pairdb/localsync/internal/schema"
	"github.com/devrev/pairdb/localsync/internal/service"
	"github.com/devrev/pairdb/localsync/internal/store"
	"github.com/devrev/pairdb/localsync/internal/transport"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// reserved query parameters; every other parameter is a filter
var reserved = map[string]bool{
	"strategy": true,
	"limit":    true,
	"skip":     true,
	"order_by": true,
	"desc":     true,
	"require":  true,
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	svc          *service.SyncService
	client       *transport.Client
	index        *schema.Index
	errorHandler *syncerrors.Handler
	logger       *zap.Logger
}

// RowsResponse is the body of a rows listing.
type RowsResponse struct {
	Table    string         `json:"table"`
	Strategy string         `json:"strategy"`
	Count    int            `json:"count"`
	Rows     []model.Entity `json:"rows"`
}

// StatusResponse reports the sync state.
type StatusResponse struct {
	Attached bool     `json:"attached"`
	Pending  int      `json:"pending"`
	Tables   []string `json:"tables"`
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	svc *service.SyncService,
	client *transport.Client,
	errorHandler *syncerrors.Handler,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		svc:          svc,
		client:       client,
		index:        svc.Index(),
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// ListTables handles GET /v1/tables requests.
func (h *Handlers) ListTables(w http.ResponseWriter, r *http.Request) {
	tables := make([]schema.TableSchema, 0)
	for _, name := range h.index.Tables() {
		t, _ := h.index.Table(name)
		tables = append(tables, t)
	}
	h.writeJSONResponse(w, http.StatusOK, tables)
}

// ListRows handles GET /v1/tables/{table}/rows requests.
func (h *Handlers) ListRows(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	table := mux.Vars(r)["table"]

	path, ok := h.index.RemotePath(table)
	if !ok {
		h.errorHandler.HandleError(w, r, syncerrors.UnknownTable(table))
		return
	}

	desc, err := h.queryDescriptor(table, path, r.URL.Query())
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	ctx := r.Context()
	token, err := h.svc.Resolve(ctx, desc)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	defer token.Close()

	rows, err := token.Values(ctx)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, RowsResponse{
		Table:    table,
		Strategy: desc.Strategy.String(),
		Count:    len(rows),
		Rows:     rows,
	})
}

func (h *Handlers) queryDescriptor(table, path string, params url.Values) (service.QueryDescriptor, error) {
	desc := service.QueryDescriptor{Table: table}

	strategy, ok := service.ParseStrategy(params.Get("strategy"))
	if !ok {
		return desc, fmt.Errorf("invalid strategy: %s", params.Get("strategy"))
	}
	desc.Strategy = strategy

	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return desc, fmt.Errorf("invalid limit: %s", v)
		}
		desc.Query.Limit = n
	}
	if v := params.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return desc, fmt.Errorf("invalid skip: %s", v)
		}
		desc.Query.Skip = n
	}
	if v := params.Get("order_by"); v != "" {
		desc.Query.OrderBy = []store.Order{{Field: v, Desc: params.Get("desc") == "true"}}
	}
	if v := params.Get("require"); v != "" {
		desc.Required = strings.Split(v, ",")
		desc.Padding = h.client.FetchOne(path)
	}

	remote := url.Values{}
	for key, values := range params {
		if reserved[key] || len(values) == 0 {
			continue
		}
		if desc.Query.Where == nil {
			desc.Query.Where = store.Predicate{}
		}
		desc.Query.Where[key] = values[0]
		remote.Set(key, values[0])
	}
	desc.Fetch = h.client.Fetch(path, remote)

	return desc, nil
}

// CreateRow handles POST /v1/tables/{table}/rows requests.
func (h *Handlers) CreateRow(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	path, ok := h.index.RemotePath(table)
	if !ok {
		h.errorHandler.HandleError(w, r, syncerrors.UnknownTable(table))
		return
	}

	body, ok := h.decodeEntity(w, r)
	if !ok {
		return
	}

	h.mutate(w, r, service.MutationDescriptor{
		Table:  table,
		Method: service.MutationCreate,
		Request: func(ctx context.Context) (model.Entity, error) {
			resp, err := h.client.Post(ctx, path, body)
			if err != nil {
				return nil, err
			}
			return firstRow(resp.Payload), nil
		},
	}, http.StatusCreated)
}

// UpdateRow handles PUT /v1/tables/{table}/rows/{id} requests.
func (h *Handlers) UpdateRow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	table, id := vars["table"], vars["id"]
	path, ok := h.index.RemotePath(table)
	if !ok {
		h.errorHandler.HandleError(w, r, syncerrors.UnknownTable(table))
		return
	}
	pk, _ := h.index.PrimaryKey(table)

	body, ok := h.decodeEntity(w, r)
	if !ok {
		return
	}

	h.mutate(w, r, service.MutationDescriptor{
		Table:  table,
		Method: service.MutationUpdate,
		Clause: store.Predicate{pk: id},
		Request: func(ctx context.Context) (model.Entity, error) {
			resp, err := h.client.Put(ctx, rowPath(path, id), body)
			if err != nil {
				return nil, err
			}
			return firstRow(resp.Payload), nil
		},
	}, http.StatusOK)
}

// DeleteRow handles DELETE /v1/tables/{table}/rows/{id} requests.
func (h *Handlers) DeleteRow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	table, id := vars["table"], vars["id"]
	path, ok := h.index.RemotePath(table)
	if !ok {
		h.errorHandler.HandleError(w, r, syncerrors.UnknownTable(table))
		return
	}
	pk, _ := h.index.PrimaryKey(table)

	h.mutate(w, r, service.MutationDescriptor{
		Table:  table,
		Method: service.MutationDelete,
		Clause: store.Predicate{pk: id},
		Request: func(ctx context.Context) (model.Entity, error) {
			_, err := h.client.Delete(ctx, rowPath(path, id), nil)
			return nil, err
		},
	}, http.StatusOK)
}

func (h *Handlers) mutate(w http.ResponseWriter, r *http.Request, desc service.MutationDescriptor, status int) {
	result, err := h.svc.Mutate(r.Context(), desc)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if result == nil {
		result = model.Entity{}
	}
	h.writeJSONResponse(w, status, result)
}

// Status handles GET /v1/status requests.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, StatusResponse{
		Attached: h.svc.Attached(),
		Pending:  h.svc.Pending(),
		Tables:   h.index.Tables(),
	})
}

// ResetCache handles POST /v1/cache/reset requests.
func (h *Handlers) ResetCache(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResetRequestCache(r.Context()); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	middleware.LoggerFrom(r.Context(), h.logger).Info("Request cache reset")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) decodeEntity(w http.ResponseWriter, r *http.Request) (model.Entity, bool) {
	var body model.Entity
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body == nil {
		h.errorHandler.WriteValidationError(w, "request body must be a JSON object", middleware.GetRequestID(r.Context()))
		return nil, false
	}
	return body, true
}

// writeJSONResponse writes a JSON response.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func firstRow(p model.Payload) model.Entity {
	rows := p.Rows()
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}

func rowPath(base, id string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(id)
}
