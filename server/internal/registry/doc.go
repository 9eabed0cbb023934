// Package registry tracks live connections and the identity each one has
// declared. It is the source of truth for presence.
//
// Registry is not safe for concurrent use; the bus serializes access.
package registry
