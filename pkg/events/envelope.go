package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the JSON form of an Event, shared by clients and producers.
type Envelope struct {
	Event     Kind            `json:"event"`
	BranchID  string          `json:"branchId"`
	EntityID  string          `json:"entityId,omitempty"`
	Sequence  uint64          `json:"sequence,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// ToEnvelope converts e to its wire form.
func ToEnvelope(e Event) (Envelope, error) {
	if e.Payload == nil {
		return Envelope{}, fmt.Errorf("%w: missing payload", ErrInvalidEvent)
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: encode %s payload: %w", e.Kind(), err)
	}
	return Envelope{
		Event:     e.Kind(),
		BranchID:  e.BranchID,
		EntityID:  e.EntityID,
		Sequence:  e.Sequence,
		Timestamp: e.EmittedAt,
		Data:      data,
	}, nil
}

// Encode returns the JSON frame delivered to clients for e.
func Encode(e Event) ([]byte, error) {
	env, err := ToEnvelope(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// FromEnvelope decodes env into an Event. EntityID is derived from the
// payload when the envelope does not carry one.
func FromEnvelope(env Envelope) (Event, error) {
	p, err := DecodePayload(env.Event, env.Data)
	if err != nil {
		return Event{}, err
	}
	e := Event{
		BranchID:  env.BranchID,
		EntityID:  env.EntityID,
		Sequence:  env.Sequence,
		EmittedAt: env.Timestamp,
		Payload:   p,
	}
	if e.EntityID == "" {
		e.EntityID = EntityOf(p)
	}
	return e, nil
}

// Decode parses a JSON envelope into an Event.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("%w: parse envelope: %v", ErrInvalidEvent, err)
	}
	return FromEnvelope(env)
}

// DecodePayload parses data as the payload type of kind.
func DecodePayload(kind Kind, data json.RawMessage) (Payload, error) {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	switch kind {
	case KindOrderUpdated:
		return decodeAs[OrderUpdated](kind, data)
	case KindKitchenUpdated:
		return decodeAs[KitchenUpdated](kind, data)
	case KindInventoryAlert:
		return decodeAs[InventoryAlert](kind, data)
	case KindInventoryUpdated:
		return decodeAs[InventoryUpdated](kind, data)
	case KindSystemAlert:
		return decodeAs[SystemAlert](kind, data)
	case KindFlashOffer:
		return decodeAs[FlashOffer](kind, data)
	case KindStaffNotification:
		return decodeAs[StaffNotification](kind, data)
	case KindBranchMetrics:
		return decodeAs[BranchMetrics](kind, data)
	case KindUrgentOrder:
		return decodeAs[UrgentOrder](kind, data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func decodeAs[T Payload](kind Kind, data json.RawMessage) (Payload, error) {
	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %s: parse data: %v", ErrInvalidEvent, kind, err)
	}
	return p, nil
}
