package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/researchaccelerator-hub/media-atlas/model"
	"github.com/researchaccelerator-hub/media-atlas/state"
	"github.com/researchaccelerator-hub/media-atlas/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log_level: debug
store_backend: redis
event_backend: nats
redis:
  addr: redis:6379
crawl:
  politeness_interval: 10s
  max_attempts: 5
worker:
  concurrency: 8
geo:
  api_key: from-file
discovery:
  promotion_threshold: 3
  promoted_tier: 1
storage:
  backend: postgres
  host: db
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "atlas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsRequireGeocoderKey(t *testing.T) {
	_, err := Load(NewViper(), "")
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestLoad_FromFile(t *testing.T) {
	cfg, err := Load(NewViper(), writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, state.BackendRedis, cfg.StoreBackend)
	assert.Equal(t, EventBackendNATS, cfg.EventBackend)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 10*time.Second, cfg.Crawl.PolitenessInterval)
	assert.Equal(t, 5, cfg.Crawl.MaxAttempts)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, "from-file", cfg.Geo.APIKey)
	assert.Equal(t, 3, cfg.Discovery.PromotionThreshold)
	assert.Equal(t, model.TierNational, cfg.Discovery.PromotedTier)
	assert.Equal(t, storage.BackendPostgres, cfg.Storage.Backend)
	assert.Equal(t, "db", cfg.Storage.Host)

	// untouched sections keep their defaults
	assert.Equal(t, 0.10, cfg.Fingerprint.DriftFraction)
	assert.Equal(t, 15*time.Minute, cfg.Crawl.RevisitInterval)
	assert.True(t, cfg.Worker.Fetch.RespectRobots)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	t.Setenv("ATLAS_GEO_API_KEY", "from-env")
	t.Setenv("ATLAS_WORKER_CONCURRENCY", "2")

	cfg, err := Load(NewViper(), writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Geo.APIKey)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestAtlasConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AtlasConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *AtlasConfig) {}},
		{name: "geocoding disabled needs no key", mutate: func(c *AtlasConfig) { c.Geo.APIKey = ""; c.Geo.GeocodingEnabled = false }},
		{name: "unknown store backend", mutate: func(c *AtlasConfig) { c.StoreBackend = "etcd" }, wantErr: true},
		{name: "unknown event backend", mutate: func(c *AtlasConfig) { c.EventBackend = "kafka" }, wantErr: true},
		{name: "redis without address", mutate: func(c *AtlasConfig) { c.StoreBackend = state.BackendRedis; c.Redis.Addr = "" }, wantErr: true},
		{name: "nats without url", mutate: func(c *AtlasConfig) { c.EventBackend = EventBackendNATS; c.NATS.URL = "" }, wantErr: true},
		{name: "worker mode without id", mutate: func(c *AtlasConfig) { c.Distributed.Mode = ModeWorker }, wantErr: true},
		{name: "bad drift fraction", mutate: func(c *AtlasConfig) { c.Fingerprint.DriftFraction = 0.9 }, wantErr: true},
		{name: "bad promotion threshold", mutate: func(c *AtlasConfig) { c.Discovery.PromotionThreshold = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAtlasConfig()
			cfg.Geo.APIKey = "key"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAtlasConfig_ValidateCrawl(t *testing.T) {
	cfg := DefaultAtlasConfig()
	assert.Error(t, cfg.ValidateCrawl(), "crawl id is required")

	cfg.Crawl.CrawlID = "20240501120000"
	cfg.Health.InstanceID = "atlas-1"
	assert.NoError(t, cfg.ValidateCrawl())
}

func TestDistributedConfig_Modes(t *testing.T) {
	cfg := DefaultDistributedConfig()
	assert.False(t, cfg.IsDistributedMode())

	cfg.Mode = ModeCoordinator
	assert.True(t, cfg.IsDistributedMode())
	assert.True(t, cfg.IsCoordinatorMode())

	cfg.Mode = ModeWorker
	assert.True(t, cfg.IsWorkerMode())
	assert.Error(t, cfg.Validate())
	cfg.WorkerID = "worker-1"
	assert.NoError(t, cfg.Validate())

	cfg.Mode = "orchestrator"
	assert.Error(t, cfg.Validate())
}

func TestAtlasConfig_StateConfig(t *testing.T) {
	cfg := DefaultAtlasConfig()

	sc := cfg.StateConfig()
	assert.Equal(t, state.BackendDapr, sc.Backend)
	require.NotNil(t, sc.DaprConfig)
	assert.Equal(t, "statestore", sc.DaprConfig.StateStoreName)
	assert.Nil(t, sc.RedisConfig)

	cfg.StoreBackend = state.BackendRedis
	cfg.Redis.Addr = "cache:6379"
	sc = cfg.StateConfig()
	require.NotNil(t, sc.RedisConfig)
	assert.Equal(t, "cache:6379", sc.RedisConfig.Addr)
	assert.Equal(t, "atlas/", sc.KeyPrefix)
}

func TestAtlasConfig_NeedsDapr(t *testing.T) {
	cfg := DefaultAtlasConfig()
	assert.True(t, cfg.NeedsDapr())

	cfg.StoreBackend = state.BackendMemory
	cfg.EventBackend = EventBackendLog
	assert.False(t, cfg.NeedsDapr())

	cfg.Storage.Backend = storage.BackendBinding
	assert.True(t, cfg.NeedsDapr())
}
