// Package transport issues the REST calls of the sync layer: resource fetches,
// mutations and push-room subscription.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	syncerrors "github.com/devrev/pairdb/localsync/internal/errors"
	"github.com/devrev/pairdb/localsync/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultConnectTimeout = 5 * time.Second
	defaultTLSTimeout     = 5 * time.Second
	maxErrorBody          = 4096
)

// Config configures the client
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64 // 0 disables rate limiting
	Burst             int
	Headers           map[string]string
}

// Response is a decoded response
type Response struct {
	Status  int
	Payload model.Payload
	Headers http.Header
}

// Client is the HTTP transport
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	headers    map[string]string
	logger     *zap.Logger
}

// NewClient creates a new transport client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	dialer := &net.Dialer{Timeout: defaultConnectTimeout}
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: defaultTLSTimeout,
		},
		Timeout: timeout,
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    limiter,
		headers:    headers,
		logger:     logger,
	}
}

// BaseURL returns the configured API root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends a request with an optional JSON body and decodes the JSON response
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body interface{}) (*Response, error) {
	target := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, syncerrors.InvalidArgument("failed to encode request body", err)
		}
		reader = bytes.NewReader(data)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, syncerrors.TransportFailed(method, target, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, syncerrors.TransportFailed(method, target, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.New().String())
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Request failed",
			zap.String("method", method),
			zap.String("url", target),
			zap.Error(err))
		return nil, syncerrors.TransportFailed(method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, syncerrors.TransportFailed(method, target, err)
	}

	c.logger.Debug("Request completed",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return nil, syncerrors.TransportStatus(method, target, resp.StatusCode, string(data))
	}

	payload, err := model.DecodePayload(data)
	if err != nil {
		return nil, syncerrors.TransportFailed(method, target, err)
	}

	return &Response{
		Status:  resp.StatusCode,
		Payload: payload,
		Headers: resp.Header,
	}, nil
}

// Get fetches a resource
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, query, nil)
}

// Post creates a resource
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, nil, body)
}

// Put updates a resource
func (c *Client) Put(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, nil, body)
}

// Delete removes a resource
func (c *Client) Delete(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, body)
}

// Fetch returns a deferred GET suitable as a query descriptor's network request
func (c *Client) Fetch(path string, query url.Values) func(ctx context.Context) (model.Payload, error) {
	return func(ctx context.Context) (model.Payload, error) {
		resp, err := c.Get(ctx, path, query)
		if err != nil {
			return model.Payload{}, err
		}
		return resp.Payload, nil
	}
}

// FetchOne returns a deferred GET of path/{id}, used to pad partial rows
func (c *Client) FetchOne(path string) func(ctx context.Context, id string) (model.Entity, error) {
	return func(ctx context.Context, id string) (model.Entity, error) {
		resp, err := c.Get(ctx, fmt.Sprintf("%s/%s", strings.TrimRight(path, "/"), url.PathEscape(id)), nil)
		if err != nil {
			return nil, err
		}
		if resp.Payload.IsArray {
			rows := resp.Payload.Rows()
			if len(rows) == 0 {
				return nil, nil
			}
			return rows[0], nil
		}
		return resp.Payload.Single, nil
	}
}

type roomRequest struct {
	ConsumerID string `json:"consumerId"`
}

// JoinRoom subscribes consumerID to the push room
func (c *Client) JoinRoom(ctx context.Context, room, consumerID string) error {
	_, err := c.Post(ctx, roomPath(room), roomRequest{ConsumerID: consumerID})
	if err != nil {
		return fmt.Errorf("failed to join room %s: %w", room, err)
	}
	return nil
}

// LeaveRoom unsubscribes consumerID from the push room
func (c *Client) LeaveRoom(ctx context.Context, room, consumerID string) error {
	_, err := c.Delete(ctx, roomPath(room), roomRequest{ConsumerID: consumerID})
	if err != nil {
		return fmt.Errorf("failed to leave room %s: %w", room, err)
	}
	return nil
}

func roomPath(room string) string {
	return "/" + strings.Trim(room, "/") + "/subscribe"
}
