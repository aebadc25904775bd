// Package config provides configuration structures for the atlas processes
package config

import (
	"fmt"
	"time"
)

// Execution modes
const (
	ModeStandalone  = "standalone"
	ModeCoordinator = "coordinator"
	ModeWorker      = "worker"
)

// DistributedConfig holds configuration for splitting the crawl across a
// coordinator and worker processes
type DistributedConfig struct {
	// Execution mode configuration
	Mode     string `yaml:"mode" json:"mode" mapstructure:"mode"`                                    // "standalone", "coordinator", "worker"
	WorkerID string `yaml:"worker_id" json:"worker_id,omitempty" mapstructure:"worker_id"` // Required for worker mode

	// Coordinator configuration
	WorkDistributionInterval time.Duration `yaml:"work_distribution_interval" json:"work_distribution_interval" mapstructure:"work_distribution_interval"` // How often to lease new work
	DispatchBatch            int           `yaml:"dispatch_batch" json:"dispatch_batch" mapstructure:"dispatch_batch"`                                     // Max leases published per distribution round
	HealthCheckInterval      time.Duration `yaml:"health_check_interval" json:"health_check_interval" mapstructure:"health_check_interval"`                 // How often to check worker health
	WorkerTimeout            time.Duration `yaml:"worker_timeout" json:"worker_timeout" mapstructure:"worker_timeout"`                                     // Time to consider worker as failed
	LeaseSweepInterval       time.Duration `yaml:"lease_sweep_interval" json:"lease_sweep_interval" mapstructure:"lease_sweep_interval"`                   // How often expired leases are re-queued

	// Dapr configuration
	DaprConfig DaprDistributedConfig `yaml:"dapr" json:"dapr" mapstructure:"dapr"`
}

// DaprDistributedConfig holds Dapr-specific configuration
type DaprDistributedConfig struct {
	PubSubComponent string `yaml:"pubsub_component" json:"pubsub_component" mapstructure:"pubsub_component"` // Name of Dapr pubsub component
	EventsTopic     string `yaml:"events_topic" json:"events_topic" mapstructure:"events_topic"`             // Topic for dashboard events
	AppPort         string `yaml:"app_port" json:"app_port" mapstructure:"app_port"`                         // Address the subscription server listens on

	// Sidecar connection
	GRPCPort         string `yaml:"grpc_port" json:"grpc_port" mapstructure:"grpc_port"`
	MaxMessageSizeMB int    `yaml:"max_message_size_mb" json:"max_message_size_mb" mapstructure:"max_message_size_mb"`

	// State store configuration
	StateStore string `yaml:"state_store" json:"state_store" mapstructure:"state_store"` // Name of Dapr state store component

	// Jobs the coordinator answers for scheduled seeding
	JobNames []string `yaml:"job_names" json:"job_names" mapstructure:"job_names"`
}

// DefaultDistributedConfig returns a configuration with sensible defaults
func DefaultDistributedConfig() DistributedConfig {
	return DistributedConfig{
		Mode:                     ModeStandalone,
		WorkDistributionInterval: 5 * time.Second,
		DispatchBatch:            20,
		HealthCheckInterval:      30 * time.Second,
		WorkerTimeout:            5 * time.Minute,
		LeaseSweepInterval:       30 * time.Second,
		DaprConfig: DaprDistributedConfig{
			PubSubComponent:  "pubsub",
			EventsTopic:      "atlas-events",
			AppPort:          ":6001",
			MaxMessageSizeMB: 64,
			StateStore:       "statestore",
			JobNames:         []string{"atlas-seed"},
		},
	}
}

// Validate checks if the configuration is valid
func (c DistributedConfig) Validate() error {
	validModes := map[string]bool{
		ModeStandalone:  true,
		ModeCoordinator: true,
		ModeWorker:      true,
	}

	if !validModes[c.Mode] {
		return fmt.Errorf("invalid mode '%s', must be one of: standalone, coordinator, worker", c.Mode)
	}

	if c.Mode == ModeWorker && c.WorkerID == "" {
		return fmt.Errorf("worker mode requires worker_id to be specified")
	}

	if c.DispatchBatch < 1 {
		return fmt.Errorf("dispatch_batch must be at least 1")
	}

	if c.WorkDistributionInterval <= 0 {
		return fmt.Errorf("work_distribution_interval must be positive")
	}

	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("health_check_interval must be positive")
	}

	if c.WorkerTimeout <= 0 {
		return fmt.Errorf("worker_timeout must be positive")
	}

	if c.LeaseSweepInterval <= 0 {
		return fmt.Errorf("lease_sweep_interval must be positive")
	}

	if c.IsDistributedMode() && c.DaprConfig.PubSubComponent == "" {
		return fmt.Errorf("dapr.pubsub_component cannot be empty")
	}

	return nil
}

// IsDistributedMode returns true if this is a distributed mode (coordinator or worker)
func (c DistributedConfig) IsDistributedMode() bool {
	return c.Mode == ModeCoordinator || c.Mode == ModeWorker
}

// IsCoordinatorMode returns true if this process owns the crawl frontier
func (c DistributedConfig) IsCoordinatorMode() bool {
	return c.Mode == ModeCoordinator
}

// IsWorkerMode returns true if this is worker mode
func (c DistributedConfig) IsWorkerMode() bool {
	return c.Mode == ModeWorker
}
