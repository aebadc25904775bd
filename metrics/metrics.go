package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// Event sink metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_events_total",
			Help: "Total number of events published, by kind and status",
		},
		[]string{"kind", "status"},
	)

	// Geo resolution metrics
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_resolutions_total",
			Help: "Total number of article geo resolutions",
		},
		[]string{"method", "confidence"},
	)

	GeocodeCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_geocode_cache_total",
			Help: "Geocode cache lookups by result (hit, negative_hit, miss, error)",
		},
		[]string{"result"},
	)

	GeocodeCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_geocode_calls_total",
			Help: "External geocoding calls by outcome",
		},
		[]string{"outcome"},
	)

	// Crawl metrics
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_fetches_total",
			Help: "Total number of page fetches by status",
		},
		[]string{"status"},
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "atlas_fetch_duration_seconds",
			Help:    "Page fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FrontierPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "atlas_frontier_pending",
			Help: "Number of URLs waiting in the crawl frontier",
		},
	)

	// Discovery metrics
	PromotionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atlas_sources_promoted_total",
			Help: "Total number of candidate domains promoted to monitored",
		},
	)

	SuspensionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_sources_suspended_total",
			Help: "Total number of suspended sources by reason",
		},
		[]string{"reason"},
	)

	// Health metrics
	RestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_subsystem_restarts_total",
			Help: "Total number of subsystem restarts triggered by the health supervisor",
		},
		[]string{"subsystem", "status"},
	)
)

// Serve exposes /metrics on addr until ctx is cancelled. An empty addr disables it.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
