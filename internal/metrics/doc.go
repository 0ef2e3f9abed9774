// Package metrics exports sensor and file service counters in the
// Prometheus text format.
//
// A Collector built with an empty listen address is disabled: every
// recording method is a no-op and Start does not bind a socket. Methods are
// also safe on a nil *Collector so callers never need to guard them.
package metrics
