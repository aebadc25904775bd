package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/researchaccelerator-hub/media-atlas/common"
	"github.com/researchaccelerator-hub/media-atlas/distributed"
	"github.com/researchaccelerator-hub/media-atlas/metrics"
	"github.com/rs/zerolog/log"
)

var (
	ErrDisallowed = errors.New("fetch: disallowed by robots.txt")
	ErrNotHTML    = errors.New("fetch: response is not an html document")
)

// FetchConfig configures the outbound HTTP fetch layer.
type FetchConfig struct {
	UserAgent     string        `yaml:"user_agent" json:"user_agent" mapstructure:"user_agent"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" json:"max_body_bytes" mapstructure:"max_body_bytes"`
	RespectRobots bool          `yaml:"respect_robots" json:"respect_robots" mapstructure:"respect_robots"`
	RobotsTTL     time.Duration `yaml:"robots_ttl" json:"robots_ttl" mapstructure:"robots_ttl"`
}

func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		UserAgent:     "media-atlas/1.0 (+https://github.com/researchaccelerator-hub/media-atlas)",
		Timeout:       30 * time.Second,
		MaxBodyBytes:  10 * 1024 * 1024,
		RespectRobots: true,
		RobotsTTL:     24 * time.Hour,
	}
}

func (c FetchConfig) Validate() error {
	if c.UserAgent == "" {
		return fmt.Errorf("fetch user agent cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch max body bytes must be positive")
	}
	return nil
}

// Page is a fetched HTML document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	FetchedAt  time.Time
}

// Fetcher retrieves pages. Reset drops pooled connections and cached state.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
	Reset()
}

// HTTPFetcher fetches pages over HTTP. Politeness is enforced by the
// coordinator, not here.
type HTTPFetcher struct {
	cfg    FetchConfig
	client *http.Client
	robots *RobotsChecker
}

func NewHTTPFetcher(cfg FetchConfig) *HTTPFetcher {
	client := &http.Client{Timeout: cfg.Timeout}
	f := &HTTPFetcher{cfg: cfg, client: client}
	if cfg.RespectRobots {
		f.robots = NewRobotsChecker(client, cfg.UserAgent, cfg.RobotsTTL)
	}
	return f
}

// Fetch downloads rawURL. Transport failures, timeouts, 429 and 5xx are
// returned wrapping common.ErrTransient. Cancellation of ctx is returned
// as-is.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	start := time.Now()
	page, err := f.fetch(ctx, rawURL)

	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	metrics.FetchesTotal.WithLabelValues(Classify(err)).Inc()
	return page, err
}

func (f *HTTPFetcher) fetch(ctx context.Context, rawURL string) (*Page, error) {
	if f.robots != nil {
		allowed, err := f.robots.Allowed(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: fetch %s: %v", common.ErrTransient, rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: fetch %s: status %d", common.ErrTransient, rawURL, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	if !isHTML(resp.Header.Get("Content-Type")) {
		return nil, fmt.Errorf("%w: %s", ErrNotHTML, resp.Header.Get("Content-Type"))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: read %s: %v", common.ErrTransient, rawURL, err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	log.Debug().
		Str("url", rawURL).
		Str("final_url", finalURL).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Msg("Fetched page")

	return &Page{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: resp.StatusCode,
		Body:       body,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

// Reset closes idle connections and forgets cached robots rules.
func (f *HTTPFetcher) Reset() {
	f.client.CloseIdleConnections()
	if f.robots != nil {
		f.robots.Reset()
	}
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// Classify maps a fetch error to a work result status.
func Classify(err error) string {
	switch {
	case err == nil:
		return distributed.StatusSuccess
	case errors.Is(err, ErrNotHTML):
		return distributed.StatusSkipped
	case common.IsTransient(err):
		return distributed.StatusRetry
	}
	return distributed.StatusError
}
