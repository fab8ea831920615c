package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"
)

// Cache stores resolved direct URLs. The redis client satisfies it.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

const (
	DefaultCacheTTL = 5 * time.Minute
	cacheKeyPrefix  = "extract:url:"
)

// Extractor resolves page URLs into a single fetchable media URL.
type Extractor struct {
	resolver Resolver
	cache    Cache
	ttl      time.Duration
}

// New builds an Extractor. cache may be nil.
func New(resolver Resolver, cache Cache, ttl time.Duration) *Extractor {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Extractor{resolver: resolver, cache: cache, ttl: ttl}
}

// Extract returns the direct media URL for pageURL, or "" when it cannot be resolved.
// Resolver failures are logged and never returned.
func (e *Extractor) Extract(ctx context.Context, pageURL string) string {
	pageURL = strings.TrimSpace(pageURL)
	if !isHTTPURL(pageURL) {
		return ""
	}

	key := cacheKey(pageURL)
	if e.cache != nil {
		if cached, err := e.cache.Get(ctx, key); err == nil && cached != "" {
			return cached
		}
	}

	info, err := e.resolver.Resolve(ctx, pageURL)
	if err != nil {
		log.Printf("extractor error for %s: %v", pageURL, err)
		return ""
	}
	direct := SelectURL(info)
	if direct == "" {
		return ""
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, key, direct, e.ttl); err != nil {
			log.Printf("extractor cache set failed: %v", err)
		}
	}
	return direct
}

// Forget drops a cached resolution, e.g. after its direct URL stopped working.
func (e *Extractor) Forget(ctx context.Context, pageURL string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Del(ctx, cacheKey(strings.TrimSpace(pageURL))); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("extractor cache delete failed: %v", err)
	}
}

// SelectURL prefers the top-level url, then the first mp4 format that has a url.
func SelectURL(info *Info) string {
	if info == nil {
		return ""
	}
	if info.URL != "" {
		return info.URL
	}
	for _, f := range info.Formats {
		if strings.TrimPrefix(strings.ToLower(f.Ext), ".") == "mp4" && f.URL != "" {
			return f.URL
		}
	}
	return ""
}

func cacheKey(pageURL string) string {
	sum := sha256.Sum256([]byte(pageURL))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
