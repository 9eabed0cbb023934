// Package router delivers events to the connections subscribed to their
// target channel.
//
// Publish stamps each event with a sequence number per (branch, entity) key,
// encodes it once and hands the frame to every recipient's transport. A
// transport must not block: a failed send is counted and reported in the
// Result, never retried, and never holds up the other recipients. Per
// recipient the router remembers the last sequence sent for each key and
// refuses to send an older one.
//
// Router is not safe for concurrent use; the bus serializes access.
package router
