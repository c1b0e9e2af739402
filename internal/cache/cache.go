package cache

import (
	"context"
	"log"
	"time"
)

// KV is the minimal key-value contract the pipeline consumes. Get reports a
// miss via ok=false; expired entries are misses.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Service is the cache-aside layer in front of the expensive pipeline stages.
// Backend failures never propagate: a failing read degrades to a miss and a
// failing write is dropped, both logged.
type Service struct {
	kv     KV
	logger *log.Logger
}

// NewService wraps a KV backend. A nil logger gets a prefixed default.
func NewService(kv KV, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[CACHE] ", log.LstdFlags)
	}
	return &Service{kv: kv, logger: logger}
}

// Get returns the cached value for key, or ok=false on miss or backend failure.
func (s *Service) Get(ctx context.Context, key string) (string, bool) {
	if s == nil || s.kv == nil {
		return "", false
	}
	value, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Printf("get %s failed, treating as miss: %v", key, err)
		return "", false
	}
	return value, ok
}

// Set stores value under key with the supplied TTL. Failures are logged and
// swallowed; the caller's request must never fail because of the cache.
func (s *Service) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if s == nil || s.kv == nil {
		return
	}
	if err := s.kv.Set(ctx, key, value, ttl); err != nil {
		s.logger.Printf("set %s failed, dropping write: %v", key, err)
	}
}
