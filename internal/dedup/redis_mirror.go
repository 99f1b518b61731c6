package dedup

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blockrun/proxy/internal/types"
)

// RedisMirror mirrors completed dedup entries into Redis with a SETEX
// so a fleet of proxy instances shares dedup visibility within the TTL
// window. It fails open: any Redis error is treated as a miss on read
// and silently dropped on write.
type RedisMirror struct {
	client *redis.Client
	prefix string
}

// NewRedisMirror wraps an existing redis client. prefix namespaces keys
// (e.g. "blockrun:dedup:").
func NewRedisMirror(client *redis.Client, prefix string) *RedisMirror {
	return &RedisMirror{client: client, prefix: prefix}
}

type wireResponse struct {
	Status      int                 `json:"status"`
	Headers     map[string][]string `json:"headers"`
	Body        []byte              `json:"body"`
	CompletedAt time.Time           `json:"completed_at"`
}

func (m *RedisMirror) Get(ctx context.Context, key string) (types.CachedResponse, bool) {
	raw, err := m.client.Get(ctx, m.prefix+key).Bytes()
	if err != nil {
		return types.CachedResponse{}, false
	}
	var w wireResponse
	if err := json.Unmarshal(raw, &w); err != nil {
		return types.CachedResponse{}, false
	}
	return types.CachedResponse{Status: w.Status, Headers: w.Headers, Body: w.Body, CompletedAt: w.CompletedAt}, true
}

func (m *RedisMirror) Set(ctx context.Context, key string, resp types.CachedResponse, ttl time.Duration) {
	payload, err := json.Marshal(wireResponse{
		Status:      resp.Status,
		Headers:     resp.Headers,
		Body:        resp.Body,
		CompletedAt: resp.CompletedAt,
	})
	if err != nil {
		return
	}
	_ = m.client.SetEx(ctx, m.prefix+key, payload, ttl).Err()
}
