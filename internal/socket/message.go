// Package socket consumes the push-event stream: it decodes publish frames,
// runs them through the interceptor chain and applies them to the local store.
package socket

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	syncerrors "github.com/devrev/pairdb/localsync/internal/errors"
	"github.com/devrev/pairdb/localsync/internal/model"
)

// Event methods carried by push messages
const (
	MethodNew     = "new"
	MethodChange  = "change"
	MethodDestroy = "destroy"
	MethodRemove  = "remove"
	MethodRefresh = "refresh"
)

// Message is one decoded push event.
//
//	:new:{type}                  Data is the entity
//	:change:{type}/{id}          Data is the patch
//	:destroy:{type}/{id}
//	:remove:{type}/{collection}  the model id is the event payload
//	:remove:{type}               the model id is the event payload
type Message struct {
	Method       string       `json:"method"`
	Type         string       `json:"type"`
	ID           string       `json:"id,omitempty"`
	CollectionID string       `json:"collection_id,omitempty"`
	Data         model.Entity `json:"data,omitempty"`
	Event        string       `json:"event"`
}

// Clone returns a deep copy of the message
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Data = m.Data.Clone()
	return &c
}

// Actionable reports whether the message maps to a store operation
func (m *Message) Actionable() bool {
	switch m.Method {
	case MethodNew, MethodChange:
		return true
	case MethodDestroy, MethodRemove:
		return m.ID != ""
	default:
		return false
	}
}

type rpcFrame struct {
	ID      string          `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  []publishParams `json:"params"`
}

type publishParams struct {
	AppID       string `json:"appid"`
	CollapseKey string `json:"collapsekey"`
	Data        string `json:"data"`
}

type eventBody struct {
	E string          `json:"e"`
	D json.RawMessage `json:"d"`
}

// ParseFrame decodes a JSON-RPC publish frame into messages. A frame carrying
// nothing actionable returns ErrIgnoredMessage.
func ParseFrame(data []byte) ([]*Message, error) {
	var frame rpcFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, syncerrors.InvalidArgument("malformed push frame", err)
	}
	if frame.Method != "publish" {
		return nil, syncerrors.ErrIgnoredMessage
	}

	var out []*Message
	for _, p := range frame.Params {
		msg, err := ParseEvent([]byte(p.Data))
		if err != nil {
			if errors.Is(err, syncerrors.ErrIgnoredMessage) {
				continue
			}
			return nil, err
		}
		out = append(out, msg)
	}

	if len(out) == 0 {
		return nil, syncerrors.ErrIgnoredMessage
	}
	return out, nil
}

// ParseEvent decodes one {"e": ..., "d": ...} event body
func ParseEvent(data []byte) (*Message, error) {
	var body eventBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, syncerrors.InvalidArgument("malformed push event", err)
	}

	method, target, ok := splitEvent(body.E)
	if !ok {
		return nil, syncerrors.ErrIgnoredMessage
	}

	msg := &Message{Method: method, Event: body.E}
	if i := strings.Index(target, "/"); i >= 0 {
		msg.Type, msg.ID = target[:i], target[i+1:]
	} else {
		msg.Type = target
	}
	if msg.Type == "" {
		return nil, syncerrors.ErrIgnoredMessage
	}

	switch method {
	case MethodNew, MethodChange:
		entity, err := decodeEntity(body.D)
		if err != nil {
			return nil, err
		}
		msg.Data = entity
	case MethodRemove:
		// the path segment is the collection, the payload is the model id
		msg.CollectionID = msg.ID
		msg.ID = decodeString(body.D)
	case MethodDestroy, MethodRefresh:
		if msg.ID == "" {
			msg.ID = decodeString(body.D)
		}
	default:
		return nil, syncerrors.ErrIgnoredMessage
	}

	return msg, nil
}

// splitEvent splits ":method:target" into its parts
func splitEvent(e string) (string, string, bool) {
	if !strings.HasPrefix(e, ":") {
		return "", "", false
	}
	parts := strings.SplitN(e[1:], ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func decodeEntity(raw json.RawMessage) (model.Entity, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte(`""`)) {
		return model.Entity{}, nil
	}
	var e model.Entity
	if err := json.Unmarshal(trimmed, &e); err != nil {
		return nil, syncerrors.InvalidArgument("push event payload is not an object", err)
	}
	return e, nil
}

func decodeString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// EncodeEvent builds the "e" field for a message
func EncodeEvent(method, pushType, id string) string {
	if id == "" {
		return fmt.Sprintf(":%s:%s", method, pushType)
	}
	return fmt.Sprintf(":%s:%s/%s", method, pushType, id)
}

// EncodeFrame builds a publish frame carrying one event, as the push server sends it
func EncodeFrame(frameID, event string, d interface{}) ([]byte, error) {
	body, err := json.Marshal(map[string]interface{}{"e": event, "d": d})
	if err != nil {
		return nil, err
	}
	return json.Marshal(rpcFrame{
		ID:      frameID,
		JSONRPC: "2.0",
		Method:  "publish",
		Params:  []publishParams{{Data: string(body)}},
	})
}
