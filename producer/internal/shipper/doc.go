// Package shipper publishes events to branchbus-server via gRPC
// (tillu.bus.v1.EventBus/Publish, JSON codec).
//
// Shipper.Ship() is non-blocking: events are placed in an in-memory channel
// (default capacity 1000). When the buffer is full the oldest entry is
// evicted so the newest state always gets through.
//
// Shipper.Run() drains the buffer in a loop, reconnecting with truncated
// exponential backoff (1s to 60s, 25% jitter) on connection or send errors.
// Permanent gRPC errors (Unauthenticated, PermissionDenied, InvalidArgument)
// discard the event instead of retrying.
//
// Auth: mTLS via credentials.NewTLS(), API key via gRPC metadata, or
// insecure (plaintext) for local development.
//
// The dialFn field is injectable for testing.
package shipper
