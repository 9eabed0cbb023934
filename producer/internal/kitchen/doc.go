// Package kitchen derives kitchen metrics from the order stream.
//
// score.go provides the pure Compute(Input) function that rates kitchen load
// from queue length and average wait:
// queue pressure (60%) + wait pressure (40%), each capped at 1.
//
// engine.go provides the stateful Engine that tracks open orders per branch
// from order-updated statuses. Process emits kitchen-updated whenever a
// branch's queue changes; Sweep re-emits it for every tracked branch and emits
// urgent-order once for every order waiting longer than UrgentAfter. Both take
// an injectable time.Time so tests are deterministic.
//
// Load states: idle (empty queue), normal <50, busy 50-84, overloaded >=85.
package kitchen
