package types

import "time"

// CachedResponse is a captured upstream response, kept for TTL seconds
// after completion so retried requests can be served without a second
// upstream dispatch.
type CachedResponse struct {
	Status      int
	Headers     map[string][]string
	Body        []byte
	CompletedAt time.Time
}

// MaxBodySize is the largest response body that will be cached; larger
// responses are still streamed to the client but never cached.
const MaxBodySize = 1 << 20 // 1 MiB

// DedupKey is the first 16 hex characters of SHA-256 over the
// canonicalized, timestamp-stripped request body.
type DedupKey string
