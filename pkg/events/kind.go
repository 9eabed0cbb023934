package events

import (
	"fmt"
	"strings"
)

// Kind names an event variant. The string value is the event name on the wire.
type Kind string

const (
	KindOrderUpdated      Kind = "order-updated"
	KindKitchenUpdated    Kind = "kitchen-updated"
	KindInventoryAlert    Kind = "inventory-alert"
	KindInventoryUpdated  Kind = "inventory-updated"
	KindSystemAlert       Kind = "system-alert"
	KindFlashOffer        Kind = "flash-offer"
	KindStaffNotification Kind = "staff-notification"
	KindBranchMetrics     Kind = "branch-metrics"
	KindUrgentOrder       Kind = "urgent-order"
)

// Kinds lists every known event kind in a stable order.
var Kinds = []Kind{
	KindOrderUpdated,
	KindKitchenUpdated,
	KindInventoryAlert,
	KindInventoryUpdated,
	KindSystemAlert,
	KindFlashOffer,
	KindStaffNotification,
	KindBranchMetrics,
	KindUrgentOrder,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Role is the kind of client behind a connection.
type Role string

const (
	RoleCashier  Role = "cashier"
	RoleKitchen  Role = "kitchen"
	RoleManager  Role = "manager"
	RoleCustomer Role = "customer"
	RoleSystem   Role = "system"
)

// Roles lists every client role in a stable order.
var Roles = []Role{RoleCashier, RoleKitchen, RoleManager, RoleCustomer, RoleSystem}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole converts s (case-insensitive) to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidEvent, s)
	}
	return r, nil
}

// Severity grades alerts and notifications.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities: info < warning < critical. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

// Channel is a routing scope. Channels are derived from connection identity
// and are never stored on their own.
type Channel string

// BranchChannel is the branch-wide channel every connection of a branch joins.
func BranchChannel(branchID string) Channel {
	return Channel("branch:" + branchID)
}

// RoleChannel is the channel shared by connections of one role in a branch.
func RoleChannel(branchID string, role Role) Channel {
	return Channel(fmt.Sprintf("branch:%s:role:%s", branchID, role))
}

// UserChannel is the per-user channel, independent of branch.
func UserChannel(userID string) Channel {
	return Channel("user:" + userID)
}

func (c Channel) String() string { return string(c) }
