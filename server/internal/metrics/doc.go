// Package metrics exposes bus counters in the Prometheus text format.
//
// Families are built from a bus.Stats snapshot on every scrape, so there is
// no registry to keep in sync:
//
//	branchbus_connections{branch,role}     gauge
//	branchbus_attached_transports          gauge
//	branchbus_channels                     gauge (includes empty, uncompacted channels)
//	branchbus_events_published_total{kind} counter
//	branchbus_deliveries_total             counter
//	branchbus_delivery_failures_total      counter
//	branchbus_events_dropped_total         counter (events with no recipients)
//	branchbus_stale_suppressed_total       counter
//	branchbus_reconnects_total             counter
package metrics
