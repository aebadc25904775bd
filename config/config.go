package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/researchaccelerator-hub/media-atlas/crawl"
	"github.com/researchaccelerator-hub/media-atlas/discovery"
	"github.com/researchaccelerator-hub/media-atlas/fingerprint"
	"github.com/researchaccelerator-hub/media-atlas/geo"
	"github.com/researchaccelerator-hub/media-atlas/health"
	"github.com/researchaccelerator-hub/media-atlas/state"
	"github.com/researchaccelerator-hub/media-atlas/storage"
	"github.com/researchaccelerator-hub/media-atlas/worker"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// ATLAS_GEO_API_KEY for geo.api_key.
const EnvPrefix = "ATLAS"

// Event backends
const (
	EventBackendDapr = "dapr"
	EventBackendNATS = "nats"
	EventBackendLog  = "log"
)

// ErrMissingCredential is returned when geocoding is enabled without an API key.
var ErrMissingCredential = geo.ErrMissingCredential

// RedisConfig holds the redis connection used by the redis store backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr" mapstructure:"addr"`
	Password string `yaml:"password" json:"-" mapstructure:"password"`
	DB       int    `yaml:"db" json:"db" mapstructure:"db"`
}

// NATSConfig holds the NATS connection used by the nats event backend.
type NATSConfig struct {
	URL         string `yaml:"url" json:"url" mapstructure:"url"`
	SubjectRoot string `yaml:"subject_root" json:"subject_root" mapstructure:"subject_root"`
}

// AtlasConfig is the full process configuration.
type AtlasConfig struct {
	LogLevel  string `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format" mapstructure:"log_format"` // "json" or "console"

	MetricsAddr    string `yaml:"metrics_addr" json:"metrics_addr" mapstructure:"metrics_addr"`
	PublishersFile string `yaml:"publishers_file" json:"publishers_file" mapstructure:"publishers_file"`

	// StoreBackend selects the key-value store: dapr, redis or memory.
	StoreBackend string `yaml:"store_backend" json:"store_backend" mapstructure:"store_backend"`
	KeyPrefix    string `yaml:"key_prefix" json:"key_prefix" mapstructure:"key_prefix"`
	// EventBackend selects the event sink: dapr, nats or log.
	EventBackend string `yaml:"event_backend" json:"event_backend" mapstructure:"event_backend"`

	Distributed DistributedConfig  `yaml:"distributed" json:"distributed" mapstructure:"distributed"`
	Crawl       crawl.Config       `yaml:"crawl" json:"crawl" mapstructure:"crawl"`
	Worker      worker.Config      `yaml:"worker" json:"worker" mapstructure:"worker"`
	Geo         geo.Config         `yaml:"geo" json:"geo" mapstructure:"geo"`
	Discovery   discovery.Config   `yaml:"discovery" json:"discovery" mapstructure:"discovery"`
	Fingerprint fingerprint.Config `yaml:"fingerprint" json:"fingerprint" mapstructure:"fingerprint"`
	Health      health.Config      `yaml:"health" json:"health" mapstructure:"health"`
	Storage     storage.Config     `yaml:"storage" json:"storage" mapstructure:"storage"`
	Redis       RedisConfig        `yaml:"redis" json:"redis" mapstructure:"redis"`
	NATS        NATSConfig         `yaml:"nats" json:"nats" mapstructure:"nats"`
}

// DefaultAtlasConfig returns a configuration with sensible defaults. Geocoding
// is enabled, so an API key must still be supplied.
func DefaultAtlasConfig() *AtlasConfig {
	return &AtlasConfig{
		LogLevel:     "info",
		LogFormat:    "json",
		StoreBackend: state.BackendDapr,
		KeyPrefix:    "atlas/",
		EventBackend: EventBackendDapr,
		Distributed:  DefaultDistributedConfig(),
		Crawl:        crawl.DefaultConfig(),
		Worker:       worker.DefaultConfig(),
		Geo:          geo.DefaultConfig(),
		Discovery:    discovery.DefaultConfig(),
		Fingerprint:  fingerprint.DefaultConfig(),
		Health:       health.DefaultConfig(),
		Storage:      storage.DefaultConfig(),
		Redis:        RedisConfig{Addr: "localhost:6379"},
		NATS:         NATSConfig{URL: "nats://localhost:4222", SubjectRoot: "atlas.events"},
	}
}

// Validate checks every section. The crawl section is validated once the
// crawl and instance ids are known, see ValidateCrawl.
func (c *AtlasConfig) Validate() error {
	switch c.StoreBackend {
	case state.BackendDapr, state.BackendRedis, state.BackendMemory:
	default:
		return fmt.Errorf("invalid store_backend '%s', must be one of: dapr, redis, memory", c.StoreBackend)
	}
	if c.StoreBackend == state.BackendRedis && c.Redis.Addr == "" {
		return fmt.Errorf("redis store backend requires redis.addr")
	}

	switch c.EventBackend {
	case EventBackendDapr, EventBackendNATS, EventBackendLog:
	default:
		return fmt.Errorf("invalid event_backend '%s', must be one of: dapr, nats, log", c.EventBackend)
	}
	if c.EventBackend == EventBackendNATS && c.NATS.URL == "" {
		return fmt.Errorf("nats event backend requires nats.url")
	}

	if err := c.Distributed.Validate(); err != nil {
		return err
	}
	if err := c.Worker.Validate(); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	if err := c.Geo.Validate(); err != nil {
		if errors.Is(err, geo.ErrMissingCredential) {
			return err
		}
		return fmt.Errorf("geo: %w", err)
	}
	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	if err := c.Fingerprint.Validate(); err != nil {
		return fmt.Errorf("fingerprint: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}

// ValidateCrawl checks the sections that depend on the crawl id.
func (c *AtlasConfig) ValidateCrawl() error {
	if err := c.Crawl.Validate(); err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	if err := c.Health.Validate(); err != nil {
		return fmt.Errorf("health: %w", err)
	}
	return nil
}

// StateConfig converts the store settings to a state.Config.
func (c *AtlasConfig) StateConfig() state.Config {
	cfg := state.Config{
		Backend:   c.StoreBackend,
		KeyPrefix: c.KeyPrefix,
	}
	switch c.StoreBackend {
	case state.BackendDapr:
		cfg.DaprConfig = c.DaprClientConfig()
	case state.BackendRedis:
		cfg.RedisConfig = &state.RedisConfig{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		}
	}
	return cfg
}

// DaprClientConfig holds the sidecar settings shared by every Dapr consumer.
func (c *AtlasConfig) DaprClientConfig() *state.DaprConfig {
	return &state.DaprConfig{
		StateStoreName:   c.Distributed.DaprConfig.StateStore,
		GRPCPort:         c.Distributed.DaprConfig.GRPCPort,
		MaxMessageSizeMB: c.Distributed.DaprConfig.MaxMessageSizeMB,
	}
}

// NeedsDapr reports whether any configured backend talks to the sidecar.
func (c *AtlasConfig) NeedsDapr() bool {
	return c.StoreBackend == state.BackendDapr ||
		c.EventBackend == EventBackendDapr ||
		c.Storage.Backend == storage.BackendBinding ||
		c.Distributed.IsDistributedMode()
}

// setDefaults registers every key a deployment commonly overrides, so that
// AutomaticEnv can see it.
func setDefaults(v *viper.Viper, d *AtlasConfig) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("publishers_file", d.PublishersFile)
	v.SetDefault("store_backend", d.StoreBackend)
	v.SetDefault("key_prefix", d.KeyPrefix)
	v.SetDefault("event_backend", d.EventBackend)

	v.SetDefault("distributed.mode", d.Distributed.Mode)
	v.SetDefault("distributed.worker_id", d.Distributed.WorkerID)
	v.SetDefault("distributed.dispatch_batch", d.Distributed.DispatchBatch)
	v.SetDefault("distributed.worker_timeout", d.Distributed.WorkerTimeout)
	v.SetDefault("distributed.dapr.pubsub_component", d.Distributed.DaprConfig.PubSubComponent)
	v.SetDefault("distributed.dapr.events_topic", d.Distributed.DaprConfig.EventsTopic)
	v.SetDefault("distributed.dapr.app_port", d.Distributed.DaprConfig.AppPort)
	v.SetDefault("distributed.dapr.grpc_port", d.Distributed.DaprConfig.GRPCPort)
	v.SetDefault("distributed.dapr.state_store", d.Distributed.DaprConfig.StateStore)
	v.SetDefault("distributed.dapr.job_names", d.Distributed.DaprConfig.JobNames)

	v.SetDefault("crawl.crawl_id", d.Crawl.CrawlID)
	v.SetDefault("crawl.instance_id", d.Crawl.InstanceID)
	v.SetDefault("crawl.politeness_interval", d.Crawl.PolitenessInterval)
	v.SetDefault("crawl.revisit_interval", d.Crawl.RevisitInterval)
	v.SetDefault("crawl.lease_timeout", d.Crawl.LeaseTimeout)
	v.SetDefault("crawl.max_attempts", d.Crawl.MaxAttempts)

	v.SetDefault("worker.concurrency", d.Worker.Concurrency)
	v.SetDefault("worker.fetch.user_agent", d.Worker.Fetch.UserAgent)
	v.SetDefault("worker.fetch.timeout", d.Worker.Fetch.Timeout)
	v.SetDefault("worker.fetch.respect_robots", d.Worker.Fetch.RespectRobots)

	v.SetDefault("geo.geocoding_enabled", d.Geo.GeocodingEnabled)
	v.SetDefault("geo.geocoder_url", d.Geo.GeocoderURL)
	v.SetDefault("geo.api_key", d.Geo.APIKey)
	v.SetDefault("geo.requests_per_second", d.Geo.RequestsPerSecond)

	v.SetDefault("discovery.promotion_threshold", d.Discovery.PromotionThreshold)
	v.SetDefault("discovery.candidate_ttl", d.Discovery.CandidateTTL)
	v.SetDefault("discovery.tick_interval", d.Discovery.TickInterval)

	v.SetDefault("fingerprint.drift_fraction", d.Fingerprint.DriftFraction)

	v.SetDefault("health.heartbeat_interval", d.Health.HeartbeatInterval)
	v.SetDefault("health.failure_threshold", d.Health.FailureThreshold)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.host", d.Storage.Host)
	v.SetDefault("storage.port", d.Storage.Port)
	v.SetDefault("storage.user", d.Storage.User)
	v.SetDefault("storage.password", d.Storage.Password)
	v.SetDefault("storage.dbname", d.Storage.DBName)
	v.SetDefault("storage.sslmode", d.Storage.SSLMode)
	v.SetDefault("storage.binding_name", d.Storage.BindingName)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.subject_root", d.NATS.SubjectRoot)
}

// NewViper returns a viper instance reading ATLAS_* environment variables
// with every default registered.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultAtlasConfig())
	return v
}

// Load reads the optional YAML file at path, applies environment overrides
// and validates the result. Flags must already be bound to v.
func Load(v *viper.Viper, path string) (*AtlasConfig, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := DefaultAtlasConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
