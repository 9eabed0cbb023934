// Package presence derives live connection counts per branch and role from
// the registry and broadcasts them as branch-metrics events when they change.
//
// The registry is the source of truth; the aggregator only remembers the last
// snapshot it broadcast so it can skip unchanged ones. Aggregator is not safe
// for concurrent use; debounced flushes run through the executor installed
// with SetExecutor, which the bus uses to take its lock.
package presence
