// Package busrpc defines the gRPC service producers use to publish events into
// the bus. Messages are plain Go structs carried with a JSON codec registered
// under the "json" content subtype, so no generated code is needed on either
// side.
package busrpc
