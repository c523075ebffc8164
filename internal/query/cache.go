// Package query is the console's query cache. Entries are keyed by
// collection and parameters, expire after a TTL, and are refetched by a
// background poller while they stay live. Concurrent fetches of the same key
// share one backend call, and mutations invalidate whole collections by key
// prefix.
package query

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/sentinel/internal/config"
	"github.com/pitabwire/sentinel/internal/observability"
	"github.com/pitabwire/sentinel/model"
)

// defaultLoadTimeout bounds a shared fetch once it no longer follows any
// caller's context.
const defaultLoadTimeout = 30 * time.Second

// Fetcher loads the current value of one cache key.
type Fetcher func(ctx context.Context) (any, error)

// Cache holds query results.
type Cache struct {
	entries *expirable.LRU[string, any]
	group   singleflight.Group
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *observability.Metrics
	timeout time.Duration

	mu       sync.Mutex
	fetchers map[string]Fetcher
	// epoch is bumped by every invalidation; results fetched under an older
	// epoch are returned to their caller but not stored.
	epoch uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the poller's clock.
func WithClock(c clockwork.Clock) Option {
	return func(q *Cache) { q.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *Cache) { q.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *observability.Metrics) Option {
	return func(q *Cache) { q.metrics = m }
}

// WithLoadTimeout bounds each shared fetch.
func WithLoadTimeout(d time.Duration) Option {
	return func(q *Cache) { q.timeout = d }
}

// New creates a cache holding at most maxEntries entries for ttl each. A
// zero maxEntries is unbounded.
func New(maxEntries int, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		entries:  expirable.NewLRU[string, any](maxEntries, nil, ttl),
		clock:    clockwork.NewRealClock(),
		logger:   zap.NewNop(),
		timeout:  defaultLoadTimeout,
		fetchers: make(map[string]Fetcher),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig creates a cache from configuration.
func NewFromConfig(cfg config.CacheConfig, opts ...Option) *Cache {
	return New(cfg.MaxEntries, cfg.TTL, opts...)
}

// Key builds a cache key from a collection name and its parameters. Empty
// parameter values are dropped so that "no filter" has one key.
func Key(collection string, params url.Values) string {
	clean := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			if v != "" {
				clean.Add(k, v)
			}
		}
	}
	if len(clean) == 0 {
		return collection
	}
	return collection + "?" + clean.Encode()
}

// Get returns the cached value for key, fetching it on a miss. Concurrent
// misses for one key share a single fetch.
func Get[T any](ctx context.Context, c *Cache, key string, fetch func(ctx context.Context) (T, error)) (T, error) {
	f := func(ctx context.Context) (any, error) { return fetch(ctx) }
	v, err := c.get(ctx, key, f)
	if err != nil {
		var zero T
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("query: %s: cached %T, want %T", key, v, zero)
	}
	return out, nil
}

func (c *Cache) get(ctx context.Context, key string, fetch Fetcher) (any, error) {
	collection := collectionOf(key)
	if v, ok := c.entries.Get(key); ok {
		c.metrics.RecordQueryCacheHit(collection)
		return v, nil
	}
	c.metrics.RecordQueryCacheMiss(collection)

	c.mu.Lock()
	c.fetchers[key] = fetch
	c.mu.Unlock()

	// The fetch is shared with every caller that joins it, so it runs
	// detached from this caller's cancellation. A caller that gives up
	// returns early and leaves the fetch to the others.
	ch := c.group.DoChan(key, func() (any, error) {
		return c.loadDetached(ctx, key, fetch)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, model.NewBackendTimeoutError()
		}
		return nil, ctx.Err()
	}
}

func (c *Cache) loadDetached(ctx context.Context, key string, fetch Fetcher) (any, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	return c.load(ctx, key, fetch, false)
}

// load fetches key and stores the result unless an invalidation ran while
// the fetch was in flight.
func (c *Cache) load(ctx context.Context, key string, fetch Fetcher, refresh bool) (any, error) {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	ctx, span := observability.StartQuerySpan(ctx, collectionOf(key), refresh)
	v, err := fetch(ctx)
	observability.EndSpanWithError(span, err)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	current := c.epoch == epoch
	c.mu.Unlock()
	if current {
		c.entries.Add(key, v)
		c.metrics.SetQueryCacheEntries(c.entries.Len())
	}
	return v, nil
}

// Invalidate removes every entry of the given collections. A collection
// matches its bare key and any key that extends it with "?" or "/". Fetches
// of those keys still in flight are forgotten, so later reads start afresh
// instead of joining them.
func (c *Cache) Invalidate(collections ...string) int {
	c.mu.Lock()
	c.epoch++
	for key := range c.fetchers {
		for _, col := range collections {
			if matches(key, col) {
				c.group.Forget(key)
				break
			}
		}
	}
	c.mu.Unlock()

	removed := 0
	for _, key := range c.entries.Keys() {
		for _, col := range collections {
			if matches(key, col) {
				if c.entries.Remove(key) {
					removed++
					c.metrics.RecordQueryCacheInvalidation(col, 1)
				}
				c.group.Forget(key)
				break
			}
		}
	}
	c.metrics.SetQueryCacheEntries(c.entries.Len())
	if removed > 0 {
		c.logger.Debug("query cache invalidated",
			zap.Strings("collections", collections),
			zap.Int("entries", removed),
		)
	}
	return removed
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.epoch++
	c.fetchers = make(map[string]Fetcher)
	c.mu.Unlock()
	c.entries.Purge()
	c.metrics.SetQueryCacheEntries(0)
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Keys returns the live keys in sorted order.
func (c *Cache) Keys() []string {
	keys := c.entries.Keys()
	sort.Strings(keys)
	return keys
}

// RefreshAll refetches every live entry. Failures keep the previous value
// and are logged; the first one is returned.
func (c *Cache) RefreshAll(ctx context.Context) error {
	live := c.entries.Keys()
	isLive := make(map[string]bool, len(live))
	for _, k := range live {
		isLive[k] = true
	}

	c.mu.Lock()
	todo := make(map[string]Fetcher, len(live))
	for k, f := range c.fetchers {
		if isLive[k] {
			todo[k] = f
		} else {
			delete(c.fetchers, k)
		}
	}
	c.mu.Unlock()

	var first error
	for key, fetch := range todo {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err, _ := c.group.Do(key, func() (any, error) {
			return c.load(ctx, key, fetch, true)
		})
		if err != nil {
			c.logger.Warn("query refresh failed", zap.String("key", key), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Run refreshes live entries every interval until ctx is done. A
// non-positive interval disables polling and Run returns immediately.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			_ = c.RefreshAll(ctx)
		}
	}
}

func collectionOf(key string) string {
	if i := strings.IndexAny(key, "?/"); i >= 0 {
		return key[:i]
	}
	return key
}

func matches(key, collection string) bool {
	if !strings.HasPrefix(key, collection) {
		return false
	}
	rest := key[len(collection):]
	return rest == "" || rest[0] == '?' || rest[0] == '/'
}
