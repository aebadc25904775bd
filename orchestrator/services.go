package orchestrator

import (
	"errors"
	"fmt"
	"os"

	daprc "github.com/dapr/go-sdk/client"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/researchaccelerator-hub/media-atlas/config"
	"github.com/researchaccelerator-hub/media-atlas/crawl"
	"github.com/researchaccelerator-hub/media-atlas/discovery"
	"github.com/researchaccelerator-hub/media-atlas/distributed"
	"github.com/researchaccelerator-hub/media-atlas/fingerprint"
	"github.com/researchaccelerator-hub/media-atlas/geo"
	"github.com/researchaccelerator-hub/media-atlas/health"
	"github.com/researchaccelerator-hub/media-atlas/state"
	"github.com/researchaccelerator-hub/media-atlas/storage"
	"github.com/researchaccelerator-hub/media-atlas/worker"
	"github.com/rs/zerolog/log"
)

// Services are the long-lived handles built once per process. Components get
// them injected instead of reaching for globals.
type Services struct {
	cfg *config.AtlasConfig

	Dapr         daprc.Client
	Store        state.Store
	Events       distributed.Sink
	Repository   storage.Repository
	Fingerprints *fingerprint.Service
	Resolver     *geo.Resolver
	Publishers   *geo.PublisherDirectory

	nc *nats.Conn
}

// BuildServices connects every configured backend. On error, handles built so
// far are closed.
func BuildServices(cfg *config.AtlasConfig) (_ *Services, err error) {
	s := &Services{cfg: cfg}
	defer func() {
		if err != nil {
			if cerr := s.Close(); cerr != nil {
				log.Warn().Err(cerr).Msg("Failed to close services after startup error")
			}
		}
	}()

	if cfg.NeedsDapr() {
		s.Dapr, err = state.NewDaprClient(*cfg.DaprClientConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Dapr sidecar: %w", err)
		}
	}

	if cfg.StoreBackend == state.BackendDapr {
		s.Store = state.NewDaprStoreWithClient(s.Dapr, cfg.Distributed.DaprConfig.StateStore, cfg.KeyPrefix)
	} else {
		s.Store, err = state.NewStoreFactory().Create(cfg.StateConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create state store: %w", err)
		}
	}

	switch cfg.EventBackend {
	case config.EventBackendDapr:
		s.Events = distributed.NewDaprSink(s.Dapr, cfg.Distributed.DaprConfig.PubSubComponent, cfg.Distributed.DaprConfig.EventsTopic)
	case config.EventBackendNATS:
		s.nc, err = distributed.ConnectNATS(cfg.NATS.URL, "media-atlas")
		if err != nil {
			return nil, err
		}
		s.Events = distributed.NewNATSSink(s.nc, cfg.NATS.SubjectRoot)
	default:
		s.Events = distributed.LogSink{}
	}

	var invoker storage.BindingInvoker
	if s.Dapr != nil {
		invoker = s.Dapr
	}
	s.Repository, err = storage.NewRepository(cfg.Storage, invoker)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}

	s.Publishers, err = geo.LoadPublisherDirectory(cfg.PublishersFile)
	if err != nil {
		return nil, err
	}

	s.Fingerprints = fingerprint.NewService(cfg.Fingerprint)
	s.Resolver = s.newResolver()

	log.Info().
		Str("store_backend", cfg.StoreBackend).
		Str("event_backend", cfg.EventBackend).
		Str("storage_backend", cfg.Storage.Backend).
		Bool("geocoding", cfg.Geo.GeocodingEnabled).
		Msg("Services initialized")
	return s, nil
}

func (s *Services) newResolver() *geo.Resolver {
	var geocoder geo.Geocoder
	if s.cfg.Geo.GeocodingEnabled {
		geocoder = geo.NewHTTPGeocoder(geo.HTTPGeocoderConfig{
			BaseURL:           s.cfg.Geo.GeocoderURL,
			APIKey:            s.cfg.Geo.APIKey,
			UserAgent:         s.cfg.Worker.Fetch.UserAgent,
			RequestsPerSecond: s.cfg.Geo.RequestsPerSecond,
			Timeout:           s.cfg.Geo.CallTimeout,
		}, nil)
	}
	cache := geo.NewGeocodeCache(s.Store, s.cfg.Geo.PositiveTTL, s.cfg.Geo.NegativeTTL)
	return geo.NewResolver(s.cfg.Geo, geocoder, cache)
}

// Close releases every connection. The Dapr client is shared, so it is
// closed once, through the store when the store owns it.
func (s *Services) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.Repository != nil {
		errs = append(errs, s.Repository.Close())
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("failed to drain NATS connection: %w", err))
		}
	}
	_, daprStore := s.Store.(*state.DaprStore)
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	if s.Dapr != nil && !daprStore {
		s.Dapr.Close()
	}
	return errors.Join(errs...)
}

// InstanceID returns the configured instance id or a fresh one.
func InstanceID(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "atlas"
	}
	return host + "-" + uuid.New().String()[:8]
}

// ConfigFrom extracts the orchestrator loop settings.
func ConfigFrom(cfg *config.AtlasConfig) Config {
	d := cfg.Distributed
	return Config{
		WorkDistributionInterval: d.WorkDistributionInterval,
		DispatchBatch:            d.DispatchBatch,
		HealthCheckInterval:      d.HealthCheckInterval,
		WorkerTimeout:            d.WorkerTimeout,
		LeaseSweepInterval:       d.LeaseSweepInterval,
		TickInterval:             cfg.Discovery.TickInterval,
		CheckpointInterval:       cfg.Crawl.CheckpointInterval,
		MetricsAddr:              cfg.MetricsAddr,
	}
}

// NewSupervisor builds a health supervisor reporting as instanceID.
func (s *Services) NewSupervisor(instanceID string) (*health.Supervisor, error) {
	hc := s.cfg.Health
	hc.InstanceID = instanceID
	return health.NewSupervisor(hc, s.Store, s.Events)
}

// NewWorker builds a fetch worker. transport is nil for in-process use.
func (s *Services) NewWorker(workerID string, transport worker.Transport, reporter worker.HealthReporter) (*worker.Worker, error) {
	processor := worker.NewProcessor(s.Fingerprints, s.Resolver, s.Publishers, s.Events, s.cfg.Worker.MaxHomepageLinks)
	return worker.NewWorker(workerID, s.cfg.Worker, worker.NewHTTPFetcher(s.cfg.Worker.Fetch), processor, transport, reporter)
}

// NewOrchestrator builds the coordinator, the graph and the supervisor for
// the configured crawl. A nil transport runs the fetch workers in process.
func (s *Services) NewOrchestrator(transport Transport) (*Orchestrator, error) {
	if err := s.cfg.ValidateCrawl(); err != nil {
		return nil, err
	}
	instanceID := InstanceID(s.cfg.Crawl.InstanceID)
	s.cfg.Crawl.InstanceID = instanceID

	coordinator, err := crawl.NewCoordinator(s.cfg.Crawl, s.Store, s.Events)
	if err != nil {
		return nil, err
	}

	graph := discovery.NewGraph(s.cfg.Discovery, discovery.Deps{
		Fingerprints: s.Fingerprints,
		Seeder:       coordinator,
		Prober:       coordinator,
		Sources:      s.Repository,
		Events:       s.Events,
	})

	supervisor, err := s.NewSupervisor(instanceID)
	if err != nil {
		return nil, err
	}

	deps := Deps{
		Coordinator: coordinator,
		Graph:       graph,
		Repository:  s.Repository,
		Supervisor:  supervisor,
		Events:      s.Events,
		Transport:   transport,
	}
	if transport == nil {
		deps.Worker, err = s.NewWorker(instanceID, nil, supervisor)
		if err != nil {
			return nil, err
		}
	}
	return NewOrchestrator(ConfigFrom(s.cfg), deps)
}
