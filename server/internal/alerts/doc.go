// Package alerts turns stock level reports into inventory events and
// webhook notifications.
//
// Every report publishes inventory-updated to the branch managers. A level at
// or below the item's minimum also publishes inventory-alert to the whole
// branch (critical when out of stock, warning otherwise). Repeats for the same
// item are suppressed for the configured cooldown unless the severity rises;
// a restock above the minimum resolves the alert. Firing and resolved alerts
// are delivered to the configured Slack, Teams or generic HTTP webhooks whose
// min_severity they meet.
package alerts
