package dedup

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/blockrun/proxy/internal/types"
)

// Mirror is an optional fleet-wide backing store consulted on miss and
// populated on completion, so requests landing on different proxy
// instances within the TTL window still see a dedup hit. It is
// deliberately TTL-scoped rather than a persistent store — this is not
// a load balancer, just a wider window for the same in-process cache.
type Mirror interface {
	Get(ctx context.Context, key string) (types.CachedResponse, bool)
	Set(ctx context.Context, key string, resp types.CachedResponse, ttl time.Duration)
}

// inflightEntry tracks waiters for a request currently in flight
// upstream. Exactly one of complete/removeInflight resolves it, and it
// resolves every waiter exactly once.
type inflightEntry struct {
	mu      sync.Mutex
	done    bool
	result  types.CachedResponse
	waiters []chan types.CachedResponse
}

// Cache is the dedup cache: an expirable.LRU of completed responses
// plus a map of in-flight requests, with an optional Mirror for
// cross-instance visibility.
type Cache struct {
	ttl    time.Duration
	mirror Mirror

	completed *expirable.LRU[string, types.CachedResponse]

	mu       sync.Mutex
	inflight map[string]*inflightEntry
}

// errOriginFailedBody is the synthetic body returned to every waiter of a
// request whose origin attempt ultimately failed.
var errOriginFailedBody = mustMarshal(map[string]any{
	"error": map[string]any{
		"message": "Original request failed, please retry",
		"type":    "dedup_origin_failed",
	},
})

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// New creates a Cache with the given TTL and cache capacity. mirror may
// be nil.
func New(ttl time.Duration, capacity int, mirror Mirror) *Cache {
	return &Cache{
		ttl:       ttl,
		mirror:    mirror,
		completed: expirable.NewLRU[string, types.CachedResponse](capacity, nil, ttl),
		inflight:  make(map[string]*inflightEntry),
	}
}

// GetCached returns a completed entry for key if one exists and has not
// expired. The underlying LRU lazily evicts on its own TTL, so a stale
// hit cannot be returned.
func (c *Cache) GetCached(ctx context.Context, key string) (types.CachedResponse, bool) {
	if resp, ok := c.completed.Get(key); ok {
		return resp, true
	}
	if c.mirror != nil {
		if resp, ok := c.mirror.Get(ctx, key); ok {
			c.completed.Add(key, resp)
			return resp, true
		}
	}
	return types.CachedResponse{}, false
}

// GetInflight returns a channel that resolves with the eventual
// response for key if a request for it is already in flight, plus true.
// Returns false if no such request exists.
func (c *Cache) GetInflight(key string) (<-chan types.CachedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.inflight[key]
	if !ok {
		return nil, false
	}
	ch := make(chan types.CachedResponse, 1)
	entry.mu.Lock()
	if entry.done {
		ch <- entry.result
		close(ch)
	} else {
		entry.waiters = append(entry.waiters, ch)
	}
	entry.mu.Unlock()
	return ch, true
}

// MarkInflight registers key as in flight. The caller must eventually
// call Complete or RemoveInflight. Returns false if key is already
// marked (caller should use GetInflight instead).
func (c *Cache) MarkInflight(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inflight[key]; ok {
		return false
	}
	c.inflight[key] = &inflightEntry{}
	return true
}

// Complete resolves key's inflight entry with resp, caching it if its
// body is within types.MaxBodySize, and wakes every waiter exactly once.
func (c *Cache) Complete(ctx context.Context, key string, resp types.CachedResponse) {
	c.mu.Lock()
	entry, ok := c.inflight[key]
	delete(c.inflight, key)
	c.mu.Unlock()

	if len(resp.Body) <= types.MaxBodySize {
		resp.CompletedAt = nowFunc()
		c.completed.Add(key, resp)
		if c.mirror != nil {
			c.mirror.Set(ctx, key, resp, c.ttl)
		}
	}

	if !ok {
		return
	}
	entry.mu.Lock()
	entry.done = true
	entry.result = resp
	waiters := entry.waiters
	entry.waiters = nil
	entry.mu.Unlock()

	for _, w := range waiters {
		w <- resp
		close(w)
	}
}

// RemoveInflight wakes every waiter with a synthetic dedup_origin_failed
// response and discards the inflight entry without caching anything.
func (c *Cache) RemoveInflight(key string) {
	c.mu.Lock()
	entry, ok := c.inflight[key]
	delete(c.inflight, key)
	c.mu.Unlock()
	if !ok {
		return
	}

	failure := types.CachedResponse{
		Status:  503,
		Headers: map[string][]string{"Content-Type": {"application/json"}},
		Body:    errOriginFailedBody,
	}

	entry.mu.Lock()
	entry.done = true
	entry.result = failure
	waiters := entry.waiters
	entry.waiters = nil
	entry.mu.Unlock()

	for _, w := range waiters {
		w <- failure
		close(w)
	}
}

// nowFunc is a seam for tests; production code calls time.Now.
var nowFunc = time.Now
