// Package store keeps recent connection departures in memory so the registry
// can tell a reconnect from a first connection. Entries expire after a
// configurable window and are evicted by a background loop.
package store
