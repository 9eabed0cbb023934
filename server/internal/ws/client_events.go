package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tillu/branchbus/pkg/events"
	"github.com/tillu/branchbus/server/internal/registry"
)

var (
	errForbidden    = errors.New("role may not send this event")
	errUnknownEvent = errors.New("unknown event")
)

// clientEvent is an event a client may send on its own behalf. The branch is
// always taken from the sender's identity, never from the frame.
type clientEvent struct {
	roles []events.Role
	build func(from registry.Identity, data json.RawMessage) (events.Payload, error)
}

func (ce clientEvent) allows(r events.Role) bool {
	for _, allowed := range ce.roles {
		if r == allowed {
			return true
		}
	}
	return false
}

var clientEvents = map[string]clientEvent{
	"order-status-update": {
		roles: []events.Role{events.RoleCashier, events.RoleManager},
		build: orderStatus,
	},
	"kitchen-order-update": {
		roles: []events.Role{events.RoleKitchen},
		build: orderStatus,
	},
	"kitchen-queue-update": {
		roles: []events.Role{events.RoleCashier, events.RoleKitchen},
		build: kitchenQueue,
	},
	"inventory-alert": {
		roles: []events.Role{events.RoleCashier, events.RoleManager},
		build: inventoryAlert,
	},
	"staff-message": {
		roles: []events.Role{events.RoleCashier, events.RoleKitchen, events.RoleManager},
		build: staffMessage,
	},
	"request-chef-assignment": {
		roles: []events.Role{events.RoleKitchen},
		build: chefAssignment,
	},
	"kitchen-alert": {
		roles: []events.Role{events.RoleKitchen},
		build: kitchenAlert,
	},
}

// translate turns a client frame into a domain event for the sender's branch.
func translate(from registry.Identity, name string, data json.RawMessage) (events.Event, error) {
	ce, ok := clientEvents[name]
	if !ok {
		return events.Event{}, fmt.Errorf("%w: %q", errUnknownEvent, name)
	}
	if !ce.allows(from.Role) {
		return events.Event{}, fmt.Errorf("%s: %w", name, errForbidden)
	}
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	p, err := ce.build(from, data)
	if err != nil {
		return events.Event{}, fmt.Errorf("%w: %s: %v", events.ErrInvalidEvent, name, err)
	}
	return events.New(from.BranchID, p), nil
}

func orderStatus(_ registry.Identity, data json.RawMessage) (events.Payload, error) {
	var in struct {
		OrderID     string `json:"orderId"`
		OrderNumber string `json:"orderNumber"`
		Status      string `json:"status"`
		CustomerID  string `json:"customerId"`
		ChefID      string `json:"chefId"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	return events.OrderUpdated{
		OrderID:     in.OrderID,
		OrderNumber: in.OrderNumber,
		Status:      in.Status,
		CustomerID:  in.CustomerID,
		ChefID:      in.ChefID,
	}, nil
}

// kitchenQueue accepts the queue figures either flat or nested under queueData.
func kitchenQueue(_ registry.Identity, data json.RawMessage) (events.Payload, error) {
	var in struct {
		events.KitchenUpdated
		QueueData *events.KitchenUpdated `json:"queueData"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	if in.QueueData != nil {
		return *in.QueueData, nil
	}
	return in.KitchenUpdated, nil
}

func inventoryAlert(_ registry.Identity, data json.RawMessage) (events.Payload, error) {
	var in struct {
		ItemID       string  `json:"itemId"`
		ItemName     string  `json:"itemName"`
		CurrentStock float64 `json:"currentStock"`
		MinimumStock float64 `json:"minimumStock"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	alert, low := events.StockAlert(in.ItemID, in.ItemName, in.CurrentStock, in.MinimumStock)
	if !low {
		alert = events.InventoryAlert{
			ItemID:       in.ItemID,
			ItemName:     in.ItemName,
			CurrentStock: in.CurrentStock,
			MinimumStock: in.MinimumStock,
			Severity:     events.SeverityInfo,
		}
	}
	return alert, nil
}

func staffMessage(from registry.Identity, data json.RawMessage) (events.Payload, error) {
	var in struct {
		Message      string          `json:"message"`
		TargetRole   events.Role     `json:"targetRole"`
		TargetUserID string          `json:"targetUserId"`
		Severity     events.Severity `json:"severity"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	return events.StaffNotification{
		Message:      in.Message,
		TargetRole:   in.TargetRole,
		TargetUserID: in.TargetUserID,
		Severity:     in.Severity,
		FromRole:     from.Role,
		FromUserID:   from.UserID,
	}, nil
}

func chefAssignment(from registry.Identity, data json.RawMessage) (events.Payload, error) {
	var in struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	if in.OrderID == "" {
		return nil, errors.New("orderId is required")
	}
	return events.StaffNotification{
		Message:    "Chef assignment requested for order " + in.OrderID,
		TargetRole: events.RoleManager,
		FromRole:   from.Role,
		FromUserID: from.UserID,
		OrderID:    in.OrderID,
	}, nil
}

func kitchenAlert(from registry.Identity, data json.RawMessage) (events.Payload, error) {
	var in struct {
		Message  string          `json:"message"`
		Severity events.Severity `json:"severity"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	if in.Severity == "" {
		in.Severity = events.SeverityInfo
	}
	return events.StaffNotification{
		Message:    in.Message,
		TargetRole: events.RoleManager,
		Severity:   in.Severity,
		FromRole:   from.Role,
		FromUserID: from.UserID,
	}, nil
}
