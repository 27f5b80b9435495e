// Package collaborators defines the external I/O surfaces a symbol
// callback reaches through instead of making network calls directly
// (spec.md §6): DNS resolution, HTTP requests, and a Redis-shaped
// key/value store, each wrapped for resilience the way the teacher wraps
// its own database access (migadu-sora/pkg/resilient).
package collaborators

import (
	"context"
	"time"
)

// Resolver is the DNS collaborator surface a symbol callback uses for
// RBL/DNSBL lookups and similar (spec.md §6).
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupMX(ctx context.Context, name string) ([]string, error)
}

// HTTPResponse is the trimmed shape an HTTP collaborator call returns: a
// status code and a body capped at the collaborator's configured MaxBody
// (spec.md §6).
type HTTPResponse struct {
	StatusCode int
	Body       []byte
	Header     map[string][]string
}

// HTTPClient is the HTTP collaborator surface (spec.md §6), e.g. for
// reputation-service lookups or webhook-style enrichment calls.
type HTTPClient interface {
	Get(ctx context.Context, url string) (HTTPResponse, error)
	Post(ctx context.Context, url, contentType string, body []byte) (HTTPResponse, error)
}

// KVStore is the Redis-shaped collaborator surface (spec.md §6): the
// narrow GET/SET/INCR operations a rate-limiting or reputation-tracking
// symbol needs, not a general Redis client.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
}
