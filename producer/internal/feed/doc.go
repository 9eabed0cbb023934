// Package feed reads domain events for the producer.
//
// The input is NDJSON: one event envelope per line, in the same shape the
// server writes to clients. Blank lines and lines starting with '#' are
// skipped. A line that does not decode is logged and counted, and reading
// continues.
package feed
