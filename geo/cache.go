package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/researchaccelerator-hub/media-atlas/metrics"
	"github.com/researchaccelerator-hub/media-atlas/state"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPositiveTTL = 7 * 24 * time.Hour
	DefaultNegativeTTL = time.Hour

	geocodeKeyPrefix = "geocode:"
)

// CacheEntry is the stored outcome of one geocoding lookup.
type CacheEntry struct {
	Country  string    `json:"country,omitempty"`
	Miss     bool      `json:"miss"`
	CachedAt time.Time `json:"cached_at"`
}

// GeocodeCache keeps provider results in the shared store. Hits live for
// PositiveTTL, misses for NegativeTTL.
type GeocodeCache struct {
	store       state.Store
	positiveTTL time.Duration
	negativeTTL time.Duration
	now         func() time.Time
}

func NewGeocodeCache(store state.Store, positiveTTL, negativeTTL time.Duration) *GeocodeCache {
	if positiveTTL <= 0 {
		positiveTTL = DefaultPositiveTTL
	}
	if negativeTTL <= 0 {
		negativeTTL = DefaultNegativeTTL
	}
	return &GeocodeCache{
		store:       store,
		positiveTTL: positiveTTL,
		negativeTTL: negativeTTL,
		now:         time.Now,
	}
}

// CacheKey normalizes an entity so "Lyon", "LYON" and "Lyón" share one entry.
func CacheKey(entity string) string {
	return geocodeKeyPrefix + normalizeName(entity)
}

// Get returns the cached entry for entity. A store failure is logged and
// reported as a miss so resolution can continue.
func (c *GeocodeCache) Get(ctx context.Context, entity string) (CacheEntry, bool) {
	item, err := c.store.Get(ctx, CacheKey(entity))
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			log.Warn().Err(err).Str("entity", entity).Msg("Geocode cache read failed")
			metrics.GeocodeCacheTotal.WithLabelValues("error").Inc()
		} else {
			metrics.GeocodeCacheTotal.WithLabelValues("miss").Inc()
		}
		return CacheEntry{}, false
	}

	var entry CacheEntry
	if err := json.Unmarshal(item.Value, &entry); err != nil {
		log.Warn().Err(err).Str("entity", entity).Msg("Discarding malformed geocode cache entry")
		metrics.GeocodeCacheTotal.WithLabelValues("error").Inc()
		return CacheEntry{}, false
	}

	if entry.Miss {
		metrics.GeocodeCacheTotal.WithLabelValues("negative_hit").Inc()
	} else {
		metrics.GeocodeCacheTotal.WithLabelValues("hit").Inc()
	}
	return entry, true
}

// PutHit stores a successful geocode.
func (c *GeocodeCache) PutHit(ctx context.Context, entity, country string) error {
	return c.put(ctx, entity, CacheEntry{Country: country, CachedAt: c.now()}, c.positiveTTL)
}

// PutMiss stores a failed or empty geocode.
func (c *GeocodeCache) PutMiss(ctx context.Context, entity string) error {
	return c.put(ctx, entity, CacheEntry{Miss: true, CachedAt: c.now()}, c.negativeTTL)
}

func (c *GeocodeCache) put(ctx context.Context, entity string, entry CacheEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal geocode cache entry: %w", err)
	}
	if err := c.store.Set(ctx, CacheKey(entity), data, ttl); err != nil {
		return fmt.Errorf("failed to write geocode cache entry for %q: %w", entity, err)
	}
	return nil
}
