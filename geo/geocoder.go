package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/researchaccelerator-hub/media-atlas/common"
	"golang.org/x/time/rate"
)

// Geocoder resolves a place name to an ISO alpha-3 country. found is false
// when the provider has no match; err is reserved for call failures.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (alpha3 string, found bool, err error)
}

// HTTPGeocoderConfig configures a Nominatim-compatible search endpoint
// (Nominatim, LocationIQ).
type HTTPGeocoderConfig struct {
	BaseURL   string
	APIKey    string
	UserAgent string
	// RequestsPerSecond bounds outbound calls across all workers of the process.
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// HTTPGeocoder calls GET {BaseURL}/search?q=...&format=json&addressdetails=1&limit=1.
type HTTPGeocoder struct {
	cfg       HTTPGeocoderConfig
	client    *http.Client
	limiter   *rate.Limiter
	countries *CountryTable
}

func NewHTTPGeocoder(cfg HTTPGeocoderConfig, countries *CountryTable) *HTTPGeocoder {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if countries == nil {
		countries = NewCountryTable()
	}
	return &HTTPGeocoder{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		countries: countries,
	}
}

type searchResult struct {
	Address struct {
		CountryCode string `json:"country_code"`
	} `json:"address"`
}

func (g *HTTPGeocoder) Geocode(ctx context.Context, query string) (string, bool, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", false, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("addressdetails", "1")
	params.Set("limit", "1")
	if g.cfg.APIKey != "" {
		params.Set("key", g.cfg.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to build geocode request: %w", err)
	}
	if g.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", g.cfg.UserAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// LocationIQ answers 404 for "Unable to geocode"
		return "", false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", false, fmt.Errorf("%w: geocoder returned status %d", common.ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", false, fmt.Errorf("geocoder returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", false, fmt.Errorf("failed to read geocode response: %w", err)
	}

	var results []searchResult
	if err := json.Unmarshal(body, &results); err != nil {
		return "", false, fmt.Errorf("failed to decode geocode response: %w", err)
	}
	if len(results) == 0 || results[0].Address.CountryCode == "" {
		return "", false, nil
	}

	alpha3, ok := g.countries.FromAlpha2(results[0].Address.CountryCode)
	if !ok {
		return "", false, nil
	}
	return alpha3, true, nil
}
