package events

import "fmt"

// StockAlert builds the alert for an item whose stock is at or below its
// minimum: critical when it is out, warning otherwise. ok is false when the
// stock is healthy.
func StockAlert(itemID, itemName string, current, minimum float64) (alert InventoryAlert, ok bool) {
	if current > minimum {
		return InventoryAlert{}, false
	}
	name := itemName
	if name == "" {
		name = "Item"
	}
	alert = InventoryAlert{
		ItemID:       itemID,
		ItemName:     itemName,
		CurrentStock: current,
		MinimumStock: minimum,
		Severity:     SeverityWarning,
		Message:      fmt.Sprintf("%s is running low (%g left)", name, current),
	}
	if current <= 0 {
		alert.Severity = SeverityCritical
		alert.Message = name + " is out of stock!"
	}
	return alert, true
}
