package geo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/researchaccelerator-hub/media-atlas/common"
	"github.com/researchaccelerator-hub/media-atlas/metrics"
	"github.com/researchaccelerator-hub/media-atlas/model"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ErrMissingCredential is returned by Config.Validate when geocoding is
// enabled without an API key.
var ErrMissingCredential = errors.New("geocoder api key is required when geocoding is enabled")

// Config holds resolver policy and the external geocoder settings.
type Config struct {
	GeocodingEnabled  bool    `yaml:"geocoding_enabled" json:"geocoding_enabled" mapstructure:"geocoding_enabled"`
	GeocoderURL       string  `yaml:"geocoder_url" json:"geocoder_url" mapstructure:"geocoder_url"`
	APIKey            string  `yaml:"api_key" json:"-" mapstructure:"api_key"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" mapstructure:"requests_per_second"`

	// MinEntityLength: entities must be longer than this many runes to be geocoded.
	MinEntityLength int `yaml:"min_entity_length" json:"min_entity_length" mapstructure:"min_entity_length"`
	// MaxGeocodeEntities caps external lookups per article.
	MaxGeocodeEntities int `yaml:"max_geocode_entities" json:"max_geocode_entities" mapstructure:"max_geocode_entities"`

	PositiveTTL   time.Duration `yaml:"positive_ttl" json:"positive_ttl" mapstructure:"positive_ttl"`
	NegativeTTL   time.Duration `yaml:"negative_ttl" json:"negative_ttl" mapstructure:"negative_ttl"`
	CallTimeout   time.Duration `yaml:"call_timeout" json:"call_timeout" mapstructure:"call_timeout"`
	RetryAttempts int           `yaml:"retry_attempts" json:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay" json:"retry_delay" mapstructure:"retry_delay"`
}

func DefaultConfig() Config {
	return Config{
		GeocodingEnabled:   true,
		GeocoderURL:        "https://us1.locationiq.com/v1",
		RequestsPerSecond:  2,
		MinEntityLength:    3,
		MaxGeocodeEntities: 5,
		PositiveTTL:        DefaultPositiveTTL,
		NegativeTTL:        DefaultNegativeTTL,
		CallTimeout:        10 * time.Second,
		RetryAttempts:      3,
		RetryDelay:         500 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	if c.GeocodingEnabled {
		if c.APIKey == "" {
			return ErrMissingCredential
		}
		if c.GeocoderURL == "" {
			return fmt.Errorf("geo.geocoder_url is required when geocoding is enabled")
		}
	}
	if c.MinEntityLength < 0 {
		return fmt.Errorf("geo.min_entity_length must not be negative")
	}
	if c.PositiveTTL < 0 || c.NegativeTTL < 0 {
		return fmt.Errorf("geo cache ttls must not be negative")
	}
	return nil
}

// Request is the input of one resolution.
type Request struct {
	Text         string
	SourceDomain string
	// GDELTCountry is the publisher's declared country: FIPS 10-4 as GDELT
	// ships it, ISO alpha-3, or a country name.
	GDELTCountry string
	// DomainTLD overrides the suffix derived from SourceDomain.
	DomainTLD string
}

// Resolver runs the precedence cascade: gazetteer, country names, external
// geocoding, publisher country, TLD. Build it once and share it between workers.
type Resolver struct {
	gazetteer *Gazetteer
	countries *CountryTable
	geocoder  Geocoder
	cache     *GeocodeCache
	retry     common.RetryPolicy

	callTimeout        time.Duration
	minEntityLength    int
	maxGeocodeEntities int

	group singleflight.Group
	now   func() time.Time
}

// NewResolver builds a resolver. geocoder may be nil to disable step 4;
// cache may be nil to always ask the provider.
func NewResolver(cfg Config, geocoder Geocoder, cache *GeocodeCache) *Resolver {
	defaults := DefaultConfig()
	if cfg.MinEntityLength <= 0 {
		cfg.MinEntityLength = defaults.MinEntityLength
	}
	if cfg.MaxGeocodeEntities <= 0 {
		cfg.MaxGeocodeEntities = defaults.MaxGeocodeEntities
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaults.CallTimeout
	}

	retry := common.DefaultRetryPolicy()
	if cfg.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.RetryAttempts
	}
	if cfg.RetryDelay > 0 {
		retry.InitialDelay = cfg.RetryDelay
	}

	return &Resolver{
		gazetteer:          NewGazetteer(),
		countries:          NewCountryTable(),
		geocoder:           geocoder,
		cache:              cache,
		retry:              retry,
		callTimeout:        cfg.CallTimeout,
		minEntityLength:    cfg.MinEntityLength,
		maxGeocodeEntities: cfg.MaxGeocodeEntities,
		now:                time.Now,
	}
}

// WithRetryPolicy replaces the provider retry policy.
func (r *Resolver) WithRetryPolicy(p common.RetryPolicy) *Resolver {
	r.retry = p
	return r
}

// Countries exposes the country table used by the resolver.
func (r *Resolver) Countries() *CountryTable {
	return r.countries
}

// Resolve always returns a resolution; provider failures degrade to the
// next layer.
func (r *Resolver) Resolve(ctx context.Context, req Request) model.GeoResolution {
	res := r.resolve(ctx, req)
	res.ResolvedAt = r.now().UTC()

	metrics.ResolutionsTotal.WithLabelValues(res.Method.Label(), string(res.Confidence)).Inc()
	log.Debug().
		Str("source", req.SourceDomain).
		Str("country", res.Country()).
		Str("confidence", string(res.Confidence)).
		Str("method", res.Method.Label()).
		Str("entity", res.Entity).
		Msg("Resolved article origin")
	return res
}

func (r *Resolver) resolve(ctx context.Context, req Request) model.GeoResolution {
	entities := ExtractEntities(req.Text)

	if len(entities) > 0 {
		for _, e := range entities {
			if code, ok := r.gazetteer.Lookup(e); ok {
				return nerResolution(code, e)
			}
		}

		for _, e := range entities {
			if code, ok := r.countries.Lookup(e); ok {
				return nerResolution(code, e)
			}
		}

		if r.geocoder != nil {
			calls := 0
			for _, e := range entities {
				if !e.IsImportant(r.minEntityLength) {
					continue
				}
				if calls >= r.maxGeocodeEntities {
					break
				}
				calls++
				if code, ok := r.geocode(ctx, e); ok {
					return nerResolution(code, e)
				}
			}
		}
	}

	if code, ok := r.publisherCountry(req.GDELTCountry); ok {
		return model.GeoResolution{
			CountryCode: code,
			Confidence:  model.ConfidenceMedium,
			Method:      model.MethodGDELTFallback,
		}
	}

	tld := req.DomainTLD
	if tld == "" && req.SourceDomain != "" {
		tld = common.DomainTLD(req.SourceDomain)
	}
	if code, ok := r.countries.CountryForTLD(tld); ok {
		return model.GeoResolution{
			CountryCode: code,
			Confidence:  model.ConfidenceLow,
			Method:      model.MethodTLDFallback,
		}
	}

	return model.GeoResolution{Confidence: model.ConfidenceLow, Method: model.MethodNone}
}

func nerResolution(code string, e Entity) model.GeoResolution {
	return model.GeoResolution{
		CountryCode: code,
		Confidence:  model.ConfidenceHigh,
		Method:      model.MethodNERGazetteer,
		Entity:      e.Text,
	}
}

// publisherCountry accepts FIPS 10-4 (GDELT's native code), alpha-3 or a name.
func (r *Resolver) publisherCountry(s string) (string, bool) {
	s = strings.TrimSpace(s)
	switch len(s) {
	case 0:
		return "", false
	case 2:
		if code, ok := r.countries.FromFIPS(s); ok {
			return code, true
		}
		return r.countries.FromAlpha2(s)
	case 3:
		if code, ok := r.countries.Alpha3(s); ok {
			return code, true
		}
	}
	return r.countries.LookupName(s)
}

type geocodeOutcome struct {
	country string
	found   bool
}

// geocode consults the cache, then the provider. Concurrent lookups for the
// same entity share one provider call.
func (r *Resolver) geocode(ctx context.Context, e Entity) (string, bool) {
	if r.cache != nil {
		if entry, hit := r.cache.Get(ctx, e.Text); hit {
			return entry.Country, !entry.Miss
		}
	}

	if ctx.Err() != nil {
		return "", false
	}

	// The shared lookup outlives any one caller so a cancelled caller does
	// not empty the result for the others waiting on it.
	ch := r.group.DoChan(CacheKey(e.Text), func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.lookupBudget())
		defer cancel()
		return r.lookup(lookupCtx, e.Text), nil
	})
	select {
	case res := <-ch:
		out := res.Val.(geocodeOutcome)
		return out.country, out.found
	case <-ctx.Done():
		return "", false
	}
}

// lookupBudget bounds one shared lookup: every attempt plus the backoff between them.
func (r *Resolver) lookupBudget() time.Duration {
	attempts := max(r.retry.MaxAttempts, 1)
	return time.Duration(attempts)*r.callTimeout + time.Duration(attempts-1)*r.retry.Backoff(attempts)
}

func (r *Resolver) lookup(ctx context.Context, entity string) geocodeOutcome {
	var out geocodeOutcome
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()

		country, found, err := r.geocoder.Geocode(callCtx, entity)
		if err != nil {
			return err
		}
		out = geocodeOutcome{country: country, found: found}
		return nil
	})

	if err != nil {
		if ctx.Err() != nil {
			// abandoned by the caller; leave the cache alone
			metrics.GeocodeCallsTotal.WithLabelValues("cancelled").Inc()
			return geocodeOutcome{}
		}
		log.Warn().Err(err).Str("entity", entity).Msg("Geocoding failed, treating as miss")
		metrics.GeocodeCallsTotal.WithLabelValues("error").Inc()
		r.storeMiss(ctx, entity)
		return geocodeOutcome{}
	}

	if !out.found {
		metrics.GeocodeCallsTotal.WithLabelValues("no_match").Inc()
		r.storeMiss(ctx, entity)
		return out
	}

	metrics.GeocodeCallsTotal.WithLabelValues("match").Inc()
	if r.cache != nil {
		if err := r.cache.PutHit(ctx, entity, out.country); err != nil {
			log.Warn().Err(err).Msg("Failed to cache geocode result")
		}
	}
	return out
}

func (r *Resolver) storeMiss(ctx context.Context, entity string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.PutMiss(ctx, entity); err != nil {
		log.Warn().Err(err).Msg("Failed to cache geocode miss")
	}
}
