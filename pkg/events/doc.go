// Package events defines the event schema shared by the bus server and its
// producers: event kinds, client roles, routing channels, the typed payload
// variants and the JSON envelope clients receive.
//
// Every payload type declares its own routing scope, so Target is exhaustive
// over the set of kinds by construction:
//
//	order-updated       branch:{branchId}
//	kitchen-updated     branch:{branchId}:role:kitchen
//	inventory-alert     branch:{branchId}
//	inventory-updated   branch:{branchId}:role:manager
//	system-alert        branch:{branchId}
//	flash-offer         branch:{branchId}
//	staff-notification  branch:{branchId}:role:{targetRole} (branch-wide without a role,
//	                    user:{targetUserId} when addressed to one user)
//	branch-metrics      branch:{branchId}
//	urgent-order        branch:{branchId}:role:kitchen
//
// Wire format of a delivered event:
//
//	{
//	  "event":     "order-updated",
//	  "branchId":  "store-1",
//	  "entityId":  "o1",
//	  "sequence":  3,
//	  "timestamp": "2026-01-01T12:00:00Z",
//	  "data":      { "orderId": "o1", "status": "confirmed" }
//	}
package events
