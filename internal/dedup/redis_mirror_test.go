package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/blockrun/proxy/internal/types"
)

// nilMirror simulates an unreachable Redis without requiring a live
// server: every call behaves as a miss, matching the fail-open contract.
type nilMirror struct{}

func (nilMirror) Get(ctx context.Context, key string) (types.CachedResponse, bool) {
	return types.CachedResponse{}, false
}
func (nilMirror) Set(ctx context.Context, key string, resp types.CachedResponse, ttl time.Duration) {
}

func TestCache_WithMirror_FailsOpenOnMirrorMiss(t *testing.T) {
	c := New(30*time.Second, 100, nilMirror{})
	if _, ok := c.GetCached(context.Background(), "k1"); ok {
		t.Error("expected a miss when both local cache and mirror miss")
	}
}
