package events

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownKind is returned when decoding an event name that is not in Kinds.
	ErrUnknownKind = errors.New("unknown event kind")

	// ErrInvalidEvent is returned by Validate for structurally invalid events.
	ErrInvalidEvent = errors.New("invalid event")
)

// Event is one domain event on its way through the bus.
//
// BranchID is the routing key. EntityID is the ordering key: events with the
// same (BranchID, EntityID) are sequenced together. Sequence and EmittedAt are
// stamped by the router; producers leave them zero.
type Event struct {
	BranchID  string
	EntityID  string
	Sequence  uint64
	EmittedAt time.Time
	Payload   Payload
}

// New builds an event for branchID, deriving EntityID from the payload.
func New(branchID string, p Payload) Event {
	return Event{
		BranchID: branchID,
		EntityID: EntityOf(p),
		Payload:  p,
	}
}

// Kind returns the payload's kind, or "" for an event without payload.
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// Validate checks that the event can be routed.
func (e Event) Validate() error {
	if e.Payload == nil {
		return fmt.Errorf("%w: missing payload", ErrInvalidEvent)
	}
	if e.BranchID == "" {
		return fmt.Errorf("%w: %s: branchId is required", ErrInvalidEvent, e.Kind())
	}
	if err := e.Payload.validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidEvent, e.Kind(), err)
	}
	return nil
}

// Target returns the channel the event is routed to.
func Target(e Event) Channel {
	return e.Payload.scope(e.BranchID)
}

// EntityOf returns the natural ordering key of a payload: the order for order
// events, the item for inventory events, the offer for flash offers. Payloads
// without an entity return "" and are sequenced per branch.
func EntityOf(p Payload) string {
	switch v := p.(type) {
	case OrderUpdated:
		return v.OrderID
	case UrgentOrder:
		return v.OrderID
	case InventoryAlert:
		return v.ItemID
	case InventoryUpdated:
		return v.ItemID
	case FlashOffer:
		return v.OfferID
	}
	return ""
}
