// Package receiver implements busrpc.EventBusServer, the gRPC endpoint
// producers publish domain events on.
//
// Publish decodes the envelope (codes.InvalidArgument for unknown kinds or
// malformed payloads), hands the event to the bus and reports the routing
// outcome. An event with no subscribers is accepted with outcome
// "no_targets". Authentication is enforced upstream by the gRPC server
// interceptor (see package auth).
package receiver
