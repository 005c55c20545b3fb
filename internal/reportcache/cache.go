// Package reportcache caches compliance reports with a TTL and synchronous
// per-rack invalidation.
package reportcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/efebarandurmaz/rackscan/internal/compliance"
	"github.com/efebarandurmaz/rackscan/internal/observability"
)

const (
	DefaultTTL  = time.Hour
	PlatformKey = "platform_compliance_report"
)

// RackKey is the cache key of a rack's compliance report.
func RackKey(rackID string) string {
	return "rack_compliance_" + rackID
}

type entry struct {
	value   any
	expires time.Time
}

// Cache is a TTL cache whose fills are deduplicated per key.
//
// Each key carries a generation that Invalidate bumps. A fill started before
// an invalidation does not store its result, so a reader can never repopulate
// the cache with data computed from the previous analysis.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	gens    map[string]uint64
	epoch   uint64
	group   singleflight.Group

	now     func() time.Time
	metrics *observability.Metrics
	logger  *slog.Logger
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a cache. A non-positive ttl selects DefaultTTL.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:     ttl,
		entries: make(map[string]entry),
		gens:    make(map[string]uint64),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "reportcache")
	return c
}

// stamp identifies the cache state a fill started from.
type stamp struct {
	epoch, gen uint64
}

func (c *Cache) lookup(key string) (any, stamp, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	gen := stamp{epoch: c.epoch, gen: c.gens[key]}
	e, ok := c.entries[key]
	if !ok {
		return nil, gen, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		if c.metrics != nil {
			c.metrics.CacheRequests.WithLabelValues("expired").Inc()
		}
		return nil, gen, false
	}
	return e.value, gen, true
}

func (c *Cache) store(key string, gen stamp, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != gen.epoch || c.gens[key] != gen.gen {
		return
	}
	c.entries[key] = entry{value: v, expires: c.now().Add(c.ttl)}
}

// GetOrCompute returns the cached value for key or fills it with fn.
// Concurrent misses on one key share a single fn call.
func (c *Cache) GetOrCompute(key string, fn func() (any, error)) (v any, hit bool, err error) {
	if v, _, ok := c.lookup(key); ok {
		c.record(true)
		return v, true, nil
	}
	c.record(false)

	v, err, _ = c.group.Do(key, func() (any, error) {
		// Another caller may have filled the key while we waited.
		cached, gen, ok := c.lookup(key)
		if ok {
			return cached, nil
		}
		v, err := fn()
		if err != nil {
			return nil, err
		}
		c.store(key, gen, v)
		return v, nil
	})
	return v, false, err
}

// Get is a typed GetOrCompute.
func Get[T any](c *Cache, key string, fn func() (T, error)) (T, bool, error) {
	v, hit, err := c.GetOrCompute(key, func() (any, error) { return fn() })
	if err != nil {
		var zero T
		return zero, false, err
	}
	return v.(T), hit, nil
}

// Invalidate drops the rack's report and the platform report. It returns
// once both are gone.
func (c *Cache) Invalidate(rackID string) []string {
	keys := []string{RackKey(rackID), PlatformKey}

	c.mu.Lock()
	for _, k := range keys {
		delete(c.entries, k)
		c.gens[k]++
	}
	c.mu.Unlock()

	for _, k := range keys {
		c.group.Forget(k)
	}
	if c.metrics != nil {
		c.metrics.Invalidations.Inc()
	}
	c.logger.Debug("compliance cache invalidated", "rack_id", rackID)
	return keys
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.entries = make(map[string]entry)
	c.epoch++
	c.mu.Unlock()

	for _, k := range keys {
		c.group.Forget(k)
	}
}

// Len returns the number of live and expired-but-unswept entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) record(hit bool) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(hit)
	}
}

// Validator caches an inner validator's reports per rack.
type Validator struct {
	cache *Cache
	inner compliance.RackValidator
}

func NewValidator(c *Cache, inner compliance.RackValidator) *Validator {
	return &Validator{cache: c, inner: inner}
}

func (v *Validator) Validate(ctx context.Context, rackID string) (*compliance.Report, error) {
	r, _, err := Get(v.cache, RackKey(rackID), func() (*compliance.Report, error) {
		return v.inner.Validate(ctx, rackID)
	})
	return r, err
}

// PlatformReport returns the cached platform report, generating it on a miss.
func (c *Cache) PlatformReport(ctx context.Context, rp *compliance.Reporter) (*compliance.PlatformReport, bool, error) {
	return Get(c, PlatformKey, func() (*compliance.PlatformReport, error) {
		return rp.GenerateReport(ctx)
	})
}

var _ compliance.RackValidator = (*Validator)(nil)
