package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload is the body of a network result: either one entity or an array of them
type Payload struct {
	Single  Entity
	Many    []Entity
	IsArray bool
}

// SinglePayload wraps one entity
func SinglePayload(e Entity) Payload {
	return Payload{Single: e}
}

// ArrayPayload wraps a list of entities
func ArrayPayload(rows []Entity) Payload {
	if rows == nil {
		rows = []Entity{}
	}
	return Payload{Many: rows, IsArray: true}
}

// Rows returns the payload as a list, whatever its shape
func (p Payload) Rows() []Entity {
	if p.IsArray {
		return p.Many
	}
	if p.Single == nil {
		return []Entity{}
	}
	return []Entity{p.Single}
}

// Len returns the number of entities in the payload
func (p Payload) Len() int {
	return len(p.Rows())
}

// DecodePayload decodes a JSON object or array body
func DecodePayload(body []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Payload{}, nil
	}

	if trimmed[0] == '[' {
		var rows []Entity
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return Payload{}, fmt.Errorf("failed to decode array payload: %w", err)
		}
		return ArrayPayload(rows), nil
	}

	var single Entity
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return Payload{}, fmt.Errorf("failed to decode object payload: %w", err)
	}
	return SinglePayload(single), nil
}
