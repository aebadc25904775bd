package orchestrator

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/researchaccelerator-hub/media-atlas/config"
	"github.com/researchaccelerator-hub/media-atlas/distributed"
	"github.com/researchaccelerator-hub/media-atlas/state"
	"github.com/researchaccelerator-hub/media-atlas/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localConfig() *config.AtlasConfig {
	cfg := config.DefaultAtlasConfig()
	cfg.StoreBackend = state.BackendMemory
	cfg.EventBackend = config.EventBackendLog
	cfg.Storage.Backend = storage.BackendMemory
	cfg.Geo.GeocodingEnabled = false
	cfg.Crawl.CrawlID = "20240501120000"
	return cfg
}

func TestBuildServices_Local(t *testing.T) {
	cfg := localConfig()
	require.False(t, cfg.NeedsDapr())

	s, err := BuildServices(cfg)
	require.NoError(t, err)
	defer s.Close()

	assert.Nil(t, s.Dapr)
	assert.IsType(t, &state.MemoryStore{}, s.Store)
	assert.IsType(t, distributed.LogSink{}, s.Events)
	assert.IsType(t, &storage.MemoryRepository{}, s.Repository)
	assert.NotNil(t, s.Fingerprints)
	assert.NotNil(t, s.Resolver)
	assert.NotNil(t, s.Publishers)
}

func TestBuildServices_BackendFailuresReturnErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.AtlasConfig)
	}{
		{name: "publisher file", mutate: func(c *config.AtlasConfig) { c.PublishersFile = "/nonexistent/publishers.csv" }},
		{name: "nats unreachable", mutate: func(c *config.AtlasConfig) {
			c.EventBackend = config.EventBackendNATS
			c.NATS.URL = "nats://127.0.0.1:1"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := localConfig()
			tt.mutate(cfg)

			var s *Services
			var err error
			require.NotPanics(t, func() { s, err = BuildServices(cfg) })
			assert.Error(t, err)
			assert.Nil(t, s)
		})
	}
}

func TestServices_CloseNil(t *testing.T) {
	var s *Services
	assert.NoError(t, s.Close())
	assert.NoError(t, (&Services{}).Close())
}

func TestServices_NewOrchestrator(t *testing.T) {
	cfg := localConfig()
	s, err := BuildServices(cfg)
	require.NoError(t, err)
	defer s.Close()

	o, err := s.NewOrchestrator(nil)
	require.NoError(t, err)
	require.NotNil(t, o)

	status := o.GetStatus()
	assert.Equal(t, "20240501120000", status["crawl_id"])
	assert.Equal(t, false, status["distributed"])
	assert.Contains(t, status, "health")
	assert.NotEmpty(t, cfg.Crawl.InstanceID, "instance id is generated once")
}

func TestServices_NewOrchestratorRequiresCrawlID(t *testing.T) {
	cfg := localConfig()
	cfg.Crawl.CrawlID = ""
	s, err := BuildServices(cfg)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.NewOrchestrator(nil)
	assert.Error(t, err)
}

func TestInstanceID(t *testing.T) {
	assert.Equal(t, "coordinator-a", InstanceID("coordinator-a"))

	generated := InstanceID("")
	host, err := os.Hostname()
	if err == nil && host != "" {
		assert.True(t, strings.HasPrefix(generated, host+"-"))
	}
	assert.NotEqual(t, generated, InstanceID(""))
}

func TestConfigFrom(t *testing.T) {
	cfg := config.DefaultAtlasConfig()
	cfg.Distributed.DispatchBatch = 7
	cfg.Distributed.WorkerTimeout = 2 * time.Minute
	cfg.Discovery.TickInterval = 3 * time.Minute
	cfg.Crawl.CheckpointInterval = 10 * time.Second
	cfg.MetricsAddr = ":9100"

	c := ConfigFrom(cfg)
	assert.Equal(t, 7, c.DispatchBatch)
	assert.Equal(t, 2*time.Minute, c.WorkerTimeout)
	assert.Equal(t, 3*time.Minute, c.TickInterval)
	assert.Equal(t, 10*time.Second, c.CheckpointInterval)
	assert.Equal(t, ":9100", c.MetricsAddr)
	assert.Equal(t, cfg.Distributed.WorkDistributionInterval, c.WorkDistributionInterval)
}
