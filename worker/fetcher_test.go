package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/researchaccelerator-hub/media-atlas/common"
	"github.com/researchaccelerator-hub/media-atlas/distributed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFetchConfig() FetchConfig {
	cfg := DefaultFetchConfig()
	cfg.UserAgent = "media-atlas-test"
	cfg.Timeout = 5 * time.Second
	return cfg
}

func TestHTTPFetcher_Fetch(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantStatus  string
		wantBody    string
	}{
		{name: "html page", status: http.StatusOK, contentType: "text/html; charset=utf-8", body: "<html><body><p>Lyon</p></body></html>", wantStatus: distributed.StatusSuccess, wantBody: "<html><body><p>Lyon</p></body></html>"},
		{name: "xhtml page", status: http.StatusOK, contentType: "application/xhtml+xml", body: "<html/>", wantStatus: distributed.StatusSuccess, wantBody: "<html/>"},
		{name: "pdf is skipped", status: http.StatusOK, contentType: "application/pdf", body: "%PDF", wantStatus: distributed.StatusSkipped},
		{name: "rate limited", status: http.StatusTooManyRequests, contentType: "text/html", wantStatus: distributed.StatusRetry},
		{name: "server error", status: http.StatusBadGateway, contentType: "text/html", wantStatus: distributed.StatusRetry},
		{name: "not found", status: http.StatusNotFound, contentType: "text/html", wantStatus: distributed.StatusError},
		{name: "forbidden", status: http.StatusForbidden, contentType: "text/html", wantStatus: distributed.StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/robots.txt" {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				assert.Equal(t, "media-atlas-test", r.Header.Get("User-Agent"))
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			fetcher := NewHTTPFetcher(testFetchConfig())
			page, err := fetcher.Fetch(context.Background(), server.URL+"/article")

			assert.Equal(t, tt.wantStatus, Classify(err))
			if tt.wantStatus != distributed.StatusSuccess {
				require.Error(t, err)
				assert.Nil(t, page)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBody, string(page.Body))
			assert.Equal(t, http.StatusOK, page.StatusCode)
			assert.Equal(t, server.URL+"/article", page.FinalURL)
		})
	}
}

func TestHTTPFetcher_RobotsDisallowed(t *testing.T) {
	fetched := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /\n"))
			return
		}
		fetched = true
	}))
	defer server.Close()

	_, err := NewHTTPFetcher(testFetchConfig()).Fetch(context.Background(), server.URL+"/news")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDisallowed)
	assert.Equal(t, distributed.StatusError, Classify(err))
	assert.False(t, fetched)
}

func TestHTTPFetcher_IgnoresRobotsWhenDisabled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /\n"))
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	cfg := testFetchConfig()
	cfg.RespectRobots = false
	_, err := NewHTTPFetcher(cfg).Fetch(context.Background(), server.URL+"/news")
	assert.NoError(t, err)
}

func TestHTTPFetcher_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, "/new", http.StatusMovedPermanently) })
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	page, err := NewHTTPFetcher(testFetchConfig()).Fetch(context.Background(), server.URL+"/old")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/old", page.URL)
	assert.Equal(t, server.URL+"/new", page.FinalURL)
}

func TestHTTPFetcher_TruncatesLargeBodies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer server.Close()

	cfg := testFetchConfig()
	cfg.MaxBodyBytes = 4
	page, err := NewHTTPFetcher(cfg).Fetch(context.Background(), server.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "0123", string(page.Body))
}

func TestHTTPFetcher_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	cfg := testFetchConfig()
	cfg.RespectRobots = false
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTPFetcher(cfg).Fetch(ctx, server.URL+"/")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, distributed.StatusSuccess},
		{"not html", fmt.Errorf("%w: image/png", ErrNotHTML), distributed.StatusSkipped},
		{"transient", fmt.Errorf("%w: status 503", common.ErrTransient), distributed.StatusRetry},
		{"deadline", context.DeadlineExceeded, distributed.StatusRetry},
		{"disallowed", ErrDisallowed, distributed.StatusError},
		{"permanent", errors.New("fetch: status 410"), distributed.StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestFetchConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultFetchConfig().Validate())

	cfg := DefaultFetchConfig()
	cfg.UserAgent = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultFetchConfig()
	cfg.Timeout = 0
	assert.Error(t, cfg.Validate())
}
