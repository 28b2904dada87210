package mapping

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/epiwatch-io/platform/pkg/common/logger"
	"github.com/redis/go-redis/v9"
)

// CachedMapping is the cache payload for one exact-lookup hit. The mapping ID
// travels with it so usage counters can still be bumped on cache hits.
type CachedMapping struct {
	MappingID  string  `json:"mapping_id"`
	DiseaseID  string  `json:"disease_id"`
	Confidence float64 `json:"confidence"`
}

// Cache is a per-country lookaside cache over exact mapping lookups. Each
// country has a generation counter; structural changes bump the counter,
// which orphans every cached entry for that country at once.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, countryCode, localName string) (*CachedMapping, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	key, err := c.entryKey(ctx, countryCode, localName)
	if err != nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var cached CachedMapping
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, false
	}
	return &cached, true
}

func (c *Cache) Set(ctx context.Context, countryCode, localName string, cached CachedMapping) {
	if c == nil || c.client == nil {
		return
	}
	key, err := c.entryKey(ctx, countryCode, localName)
	if err != nil {
		return
	}
	raw, err := json.Marshal(cached)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		logger.Log.WithError(err).Debug("mapping cache set failed")
	}
}

// InvalidateCountry bumps the country's generation so stale entries stop
// resolving. Called on promotion, correction and bulk load.
func (c *Cache) InvalidateCountry(ctx context.Context, countryCode string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Incr(ctx, generationKey(countryCode)).Err(); err != nil {
		logger.Log.WithError(err).WithField("country_code", countryCode).
			Warn("mapping cache invalidation failed")
	}
}

func (c *Cache) entryKey(ctx context.Context, countryCode, localName string) (string, error) {
	gen, err := c.client.Get(ctx, generationKey(countryCode)).Int64()
	if err != nil && err != redis.Nil {
		return "", err
	}
	sum := sha1.Sum([]byte(localName))
	return fmt.Sprintf("mapping:%s:%d:%s", countryCode, gen, hex.EncodeToString(sum[:])), nil
}

func generationKey(countryCode string) string {
	return "mapping:gen:" + countryCode
}
