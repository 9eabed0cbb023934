// Package bus composes the registry, the room multiplexer, the router and the
// presence aggregator into one service with an explicit lifecycle.
//
// Bus is safe for concurrent use. Every operation runs under a single mutex,
// so membership changes, sequence assignment and enqueueing to transports are
// totally ordered; transports must therefore never block.
package bus
