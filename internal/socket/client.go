package socket

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	syncerrors "github.com/devrev/pairdb/localsync/internal/errors"
	"github.com/devrev/pairdb/localsync/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultReconnectInterval = 5 * time.Second
	defaultHandshakeTimeout  = 10 * time.Second
	roomRequestTimeout       = 10 * time.Second
)

// MessageHandler receives decoded push messages, one at a time, in arrival order
type MessageHandler interface {
	HandlePush(ctx context.Context, msg *Message) error
}

// RoomSubscriber subscribes a consumer to push rooms
type RoomSubscriber interface {
	JoinRoom(ctx context.Context, room, consumerID string) error
	LeaveRoom(ctx context.Context, room, consumerID string) error
}

// ClientConfig configures the push stream client
type ClientConfig struct {
	URL               string
	ConsumerID        string
	Rooms             []string
	ReconnectInterval time.Duration
	HandshakeTimeout  time.Duration
}

// Client reads publish frames from the push websocket and hands every
// decoded message to a MessageHandler. It reconnects until its context ends.
type Client struct {
	cfg       ClientConfig
	handler   MessageHandler
	rooms     RoomSubscriber
	dialer    *websocket.Dialer
	metrics   *metrics.Metrics
	logger    *zap.Logger
	connected atomic.Bool
}

// NewClient creates a push client. rooms may be nil when no room subscription is needed.
func NewClient(cfg ClientConfig, handler MessageHandler, rooms RoomSubscriber, m *metrics.Metrics, logger *zap.Logger) *Client {
	if cfg.ConsumerID == "" {
		cfg.ConsumerID = uuid.New().String()
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}

	return &Client{
		cfg:     cfg,
		handler: handler,
		rooms:   rooms,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		metrics: m,
		logger:  logger,
	}
}

// ConsumerID returns the id used for room subscriptions
func (c *Client) ConsumerID() string {
	return c.cfg.ConsumerID
}

// Connected reports whether the websocket is currently open
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run connects and consumes frames until ctx is cancelled. Rooms are joined
// again on every new connection and left once Run returns.
func (c *Client) Run(ctx context.Context) error {
	joined := make(map[string]bool)
	defer c.leaveRooms(joined)

	for {
		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			c.logger.Warn("Push stream connect failed",
				zap.String("url", c.cfg.URL),
				zap.Error(err))
		} else {
			c.joinRooms(ctx, joined)
			c.consume(ctx, conn)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

func (c *Client) consume(ctx context.Context, conn *websocket.Conn) {
	c.setConnected(true)
	c.logger.Info("Push stream connected", zap.String("url", c.cfg.URL))

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-readCtx.Done()
		_ = conn.Close()
	}()

	defer func() {
		c.setConnected(false)
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if readCtx.Err() == nil {
				c.logger.Warn("Push stream read failed", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			_ = c.HandleFrame(readCtx, data)
		}
	}
}

// HandleFrame decodes one frame and delivers its messages in order. A frame
// with nothing to apply returns ErrIgnoredMessage.
func (c *Client) HandleFrame(ctx context.Context, data []byte) error {
	messages, err := ParseFrame(data)
	if errors.Is(err, syncerrors.ErrIgnoredMessage) {
		c.metrics.RecordPushMessage("", "ignored")
		return err
	}
	if err != nil {
		c.metrics.RecordPushMessage("", "malformed")
		c.logger.Warn("Dropping malformed push frame", zap.Error(err))
		return err
	}

	var errs []error
	ignored := 0
	for _, msg := range messages {
		err := c.handler.HandlePush(ctx, msg)
		switch {
		case err == nil:
			c.metrics.RecordPushMessage(msg.Method, "applied")
		case errors.Is(err, syncerrors.ErrIgnoredMessage):
			c.metrics.RecordPushMessage(msg.Method, "ignored")
			ignored++
		default:
			c.metrics.RecordPushMessage(msg.Method, "failed")
			c.logger.Warn("Push message failed",
				zap.String("event", msg.Event),
				zap.Error(err))
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if ignored == len(messages) {
		return syncerrors.ErrIgnoredMessage
	}
	return nil
}

// joinRooms records every room joined successfully in joined.
func (c *Client) joinRooms(ctx context.Context, joined map[string]bool) {
	if c.rooms == nil || len(c.cfg.Rooms) == 0 {
		return
	}

	joinCtx, cancel := context.WithTimeout(ctx, roomRequestTimeout)
	defer cancel()

	for _, room := range c.cfg.Rooms {
		if err := c.rooms.JoinRoom(joinCtx, room, c.cfg.ConsumerID); err != nil {
			c.logger.Warn("Failed to join room",
				zap.String("room", room),
				zap.Error(err))
			continue
		}
		joined[room] = true
		c.logger.Info("Joined room",
			zap.String("room", room),
			zap.String("consumer_id", c.cfg.ConsumerID))
	}
}

func (c *Client) leaveRooms(joined map[string]bool) {
	if len(joined) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), roomRequestTimeout)
	defer cancel()

	for _, room := range c.cfg.Rooms {
		if !joined[room] {
			continue
		}
		if err := c.rooms.LeaveRoom(ctx, room, c.cfg.ConsumerID); err != nil {
			c.logger.Warn("Failed to leave room",
				zap.String("room", room),
				zap.Error(err))
		}
	}
}

func (c *Client) setConnected(connected bool) {
	c.connected.Store(connected)
	c.metrics.SetSocketConnected(connected)
}
