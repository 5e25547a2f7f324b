package resolver

import (
	"time"

	"github.com/kvresolve/resolver/internal/rmetrics"
)

// Option configures a Resolver at construction time.
type Option func(*config)

type config struct {
	defaultWindowHigh uint64
	refreshPeriod     time.Duration
	preWriteCheck     PreWriteCheck
	metadataHook      MetadataHook
	metrics           rmetrics.Sink
	cacheSize         int
}

func newConfig() *config {
	return &config{
		refreshPeriod: 0, // resolved against refresh.DefaultPeriod by the caller
		preWriteCheck: defaultPreWriteCheck,
		metadataHook:  defaultMetadataHook,
		metrics:       rmetrics.NoOp,
	}
}

// WithDefaultWindow sets the window floor assumed before any state record
// has ever been written for the scope.
func WithDefaultWindow(w uint64) Option {
	return func(c *config) { c.defaultWindowHigh = w }
}

// WithRefreshPeriod sets the staleness bound for the state refresher
// (default 30s; tests typically pass something much shorter).
func WithRefreshPeriod(d time.Duration) Option {
	return func(c *config) { c.refreshPeriod = d }
}

// WithPreWriteCheck overrides the default (always-allow) pre-write check.
func WithPreWriteCheck(fn PreWriteCheck) Option {
	return func(c *config) {
		if fn != nil {
			c.preWriteCheck = fn
		}
	}
}

// WithMetadataHook overrides the default (nil-metadata) create hook.
func WithMetadataHook(fn MetadataHook) Option {
	return func(c *config) {
		if fn != nil {
			c.metadataHook = fn
		}
	}
}

// WithMetrics wires a metrics sink; nil is equivalent to not calling this
// option (the no-op sink remains in effect).
func WithMetrics(sink rmetrics.Sink) Option {
	return func(c *config) {
		if sink != nil {
			c.metrics = sink
		}
	}
}

// WithCacheSize overrides the default LRU cache capacity (100) process-wide,
// for every scope whose caches are created from then on; a scope whose
// caches already exist keeps its capacity. See internal/rcache.
func WithCacheSize(n int) Option {
	return func(c *config) { c.cacheSize = n }
}
