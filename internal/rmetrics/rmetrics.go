// Package rmetrics defines the resolver's metrics sink interface (§6):
// callers outside the core own the actual metrics backend; the core only
// needs somewhere to report a handful of counters.
//
// Grounded in the teacher's internal/cli progress-reporting seam
// (internal/cli.Reporter): a small interface with a no-op default, injected
// rather than imported as a concrete package.
package rmetrics

import "sync/atomic"

// Sink receives counters from a running Resolver. Every method must be safe
// for concurrent use and must return quickly; a slow Sink slows down every
// resolver operation that reports to it.
type Sink interface {
	// DirectoryRead is called once per forward-store read attempt inside
	// Resolve or Read (and so MustResolve). Cache hits are not counted, and
	// Create's own existence check is not counted.
	DirectoryRead()

	// ResolverStateRead is called once per fresh transactional load of the
	// state record; a reading served from the refresher's cache is not
	// counted.
	ResolverStateRead()

	// Commit is called once per Resolver transaction (one Store.Run call,
	// after its internal retries), reporting whether it ultimately
	// succeeded.
	Commit(ok bool)

	// WaitDirectoryResolve is called with the wall-clock duration, in
	// nanoseconds, a successful Resolve call spent on its transaction.
	// Cache hits do not call it.
	WaitDirectoryResolve(nanos int64)
}

// NoOp is a [Sink] that discards everything. It is the default for a
// Resolver constructed without an explicit metrics option.
var NoOp Sink = noOpSink{}

type noOpSink struct{}

func (noOpSink) DirectoryRead()             {}
func (noOpSink) ResolverStateRead()         {}
func (noOpSink) Commit(bool)                {}
func (noOpSink) WaitDirectoryResolve(int64) {}

// Counting is a minimal in-memory [Sink], used by cmd/resolverctl to surface
// basic counters without pulling in a full metrics library.
type Counting struct {
	DirectoryReads      int64
	ResolverStateReads  int64
	CommitsOK           int64
	CommitsFailed       int64
	TotalWaitNanos      int64
}

func (c *Counting) DirectoryRead()     { atomic.AddInt64(&c.DirectoryReads, 1) }
func (c *Counting) ResolverStateRead() { atomic.AddInt64(&c.ResolverStateReads, 1) }

func (c *Counting) Commit(ok bool) {
	if ok {
		atomic.AddInt64(&c.CommitsOK, 1)
	} else {
		atomic.AddInt64(&c.CommitsFailed, 1)
	}
}

func (c *Counting) WaitDirectoryResolve(nanos int64) {
	atomic.AddInt64(&c.TotalWaitNanos, nanos)
}
