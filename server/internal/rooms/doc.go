// Package rooms maps connections to the channels they receive events on.
//
// ChannelsFor is the only place that decides membership; Multiplexer keeps the
// resulting bidirectional index. Multiplexer is not safe for concurrent use.
package rooms
