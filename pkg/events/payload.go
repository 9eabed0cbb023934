package events

import (
	"errors"
	"fmt"
	"time"
)

// Payload is the typed body of an event. The set of implementations is closed:
// each one names its Kind, the channel it is routed to and its own validation.
type Payload interface {
	Kind() Kind
	scope(branchID string) Channel
	validate() error
}

// OrderUpdated reports a status change of one order.
type OrderUpdated struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber,omitempty"`
	Status      string `json:"status"`
	CustomerID  string `json:"customerId,omitempty"`
	ChefID      string `json:"chefId,omitempty"`
}

func (OrderUpdated) Kind() Kind                    { return KindOrderUpdated }
func (OrderUpdated) scope(branchID string) Channel { return BranchChannel(branchID) }

func (p OrderUpdated) validate() error {
	if p.OrderID == "" {
		return errors.New("orderId is required")
	}
	if p.Status == "" {
		return errors.New("status is required")
	}
	return nil
}

// KitchenUpdated carries the current kitchen queue state.
// AverageWaitTime is in seconds.
type KitchenUpdated struct {
	QueueLength     int     `json:"queueLength"`
	AverageWaitTime float64 `json:"averageWaitTime"`
	Load            string  `json:"load,omitempty"`
}

func (KitchenUpdated) Kind() Kind { return KindKitchenUpdated }
func (KitchenUpdated) scope(branchID string) Channel {
	return RoleChannel(branchID, RoleKitchen)
}

func (p KitchenUpdated) validate() error {
	if p.QueueLength < 0 {
		return errors.New("queueLength must not be negative")
	}
	if p.AverageWaitTime < 0 {
		return errors.New("averageWaitTime must not be negative")
	}
	return nil
}

// InventoryAlert warns that an item is at or below its minimum stock.
type InventoryAlert struct {
	ItemID       string   `json:"itemId"`
	ItemName     string   `json:"itemName,omitempty"`
	CurrentStock float64  `json:"currentStock"`
	MinimumStock float64  `json:"minimumStock"`
	Severity     Severity `json:"severity"`
	Message      string   `json:"message,omitempty"`
}

func (InventoryAlert) Kind() Kind                    { return KindInventoryAlert }
func (InventoryAlert) scope(branchID string) Channel { return BranchChannel(branchID) }

func (p InventoryAlert) validate() error {
	if p.ItemID == "" {
		return errors.New("itemId is required")
	}
	if !p.Severity.Valid() {
		return fmt.Errorf("severity %q unknown: want info|warning|critical", p.Severity)
	}
	return nil
}

// InventoryUpdated reports a stock change of one item. Managers only.
type InventoryUpdated struct {
	ItemID       string  `json:"itemId"`
	CurrentStock float64 `json:"currentStock"`
	MinimumStock float64 `json:"minimumStock"`
	Operation    string  `json:"operation,omitempty"`
}

func (InventoryUpdated) Kind() Kind { return KindInventoryUpdated }
func (InventoryUpdated) scope(branchID string) Channel {
	return RoleChannel(branchID, RoleManager)
}

func (p InventoryUpdated) validate() error {
	if p.ItemID == "" {
		return errors.New("itemId is required")
	}
	if p.CurrentStock < 0 {
		return errors.New("currentStock must not be negative")
	}
	return nil
}

// SystemAlert is an operator-facing message for the whole branch.
type SystemAlert struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity,omitempty"`
	Type     string   `json:"type,omitempty"`
}

func (SystemAlert) Kind() Kind                    { return KindSystemAlert }
func (SystemAlert) scope(branchID string) Channel { return BranchChannel(branchID) }

func (p SystemAlert) validate() error {
	if p.Title == "" || p.Message == "" {
		return errors.New("title and message are required")
	}
	if p.Severity != "" && !p.Severity.Valid() {
		return fmt.Errorf("severity %q unknown: want info|warning|critical", p.Severity)
	}
	return nil
}

// FlashOffer is a time-limited marketing offer.
type FlashOffer struct {
	OfferID     string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Discount    float64   `json:"discount"`
	ValidUntil  time.Time `json:"validUntil"`
	ItemIDs     []string  `json:"itemIds,omitempty"`
}

func (FlashOffer) Kind() Kind                    { return KindFlashOffer }
func (FlashOffer) scope(branchID string) Channel { return BranchChannel(branchID) }

func (p FlashOffer) validate() error {
	if p.Title == "" {
		return errors.New("title is required")
	}
	if p.Discount <= 0 || p.Discount > 100 {
		return fmt.Errorf("discount %.2f is out of range (0, 100]", p.Discount)
	}
	if p.ValidUntil.IsZero() {
		return errors.New("validUntil is required")
	}
	return nil
}

// StaffNotification is a message for staff, optionally limited to one role
// or addressed to one user.
type StaffNotification struct {
	Message      string   `json:"message"`
	TargetRole   Role     `json:"targetRole,omitempty"`
	TargetUserID string   `json:"targetUserId,omitempty"`
	FromRole     Role     `json:"fromRole,omitempty"`
	FromUserID   string   `json:"fromUserId,omitempty"`
	Severity     Severity `json:"severity,omitempty"`
	OrderID      string   `json:"orderId,omitempty"`
}

func (StaffNotification) Kind() Kind { return KindStaffNotification }

func (p StaffNotification) scope(branchID string) Channel {
	if p.TargetUserID != "" {
		return UserChannel(p.TargetUserID)
	}
	if p.TargetRole == "" {
		return BranchChannel(branchID)
	}
	return RoleChannel(branchID, p.TargetRole)
}

func (p StaffNotification) validate() error {
	if p.Message == "" {
		return errors.New("message is required")
	}
	if p.TargetRole != "" && !p.TargetRole.Valid() {
		return fmt.Errorf("targetRole %q unknown", p.TargetRole)
	}
	if p.TargetRole != "" && p.TargetUserID != "" {
		return errors.New("targetRole and targetUserId are mutually exclusive")
	}
	if p.Severity != "" && !p.Severity.Valid() {
		return fmt.Errorf("severity %q unknown: want info|warning|critical", p.Severity)
	}
	return nil
}

// BranchMetrics carries live presence counts for a branch.
type BranchMetrics struct {
	ActiveUsers   int          `json:"activeUsers"`
	PerRoleCounts map[Role]int `json:"perRoleCounts"`
}

func (BranchMetrics) Kind() Kind                    { return KindBranchMetrics }
func (BranchMetrics) scope(branchID string) Channel { return BranchChannel(branchID) }

func (p BranchMetrics) validate() error {
	if p.ActiveUsers < 0 {
		return errors.New("activeUsers must not be negative")
	}
	return nil
}

// UrgentOrder flags an order that has been waiting too long.
type UrgentOrder struct {
	OrderID        string  `json:"orderId"`
	OrderNumber    string  `json:"orderNumber,omitempty"`
	WaitingSeconds float64 `json:"waitingSeconds"`
}

func (UrgentOrder) Kind() Kind { return KindUrgentOrder }
func (UrgentOrder) scope(branchID string) Channel {
	return RoleChannel(branchID, RoleKitchen)
}

func (p UrgentOrder) validate() error {
	if p.OrderID == "" {
		return errors.New("orderId is required")
	}
	return nil
}
