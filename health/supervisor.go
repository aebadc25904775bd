// Package health publishes the liveness beacon and restarts watched
// subsystems that keep failing.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/researchaccelerator-hub/media-atlas/common"
	"github.com/researchaccelerator-hub/media-atlas/distributed"
	"github.com/researchaccelerator-hub/media-atlas/metrics"
	"github.com/researchaccelerator-hub/media-atlas/state"
	"github.com/rs/zerolog/log"
)

const (
	StatusHealthy    = "healthy"
	StatusDegraded   = "degraded"
	StatusRestarting = "restarting"
)

// RestartFunc restarts one subsystem. It is provided by the owner of the
// subsystem; the supervisor only decides when to call it.
type RestartFunc func(ctx context.Context) error

// Config holds the heartbeat and auto-heal policy.
type Config struct {
	InstanceID        string        `yaml:"instance_id" json:"instance_id" mapstructure:"instance_id"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	// BeaconTTLMultiplier sets the beacon expiry as a multiple of the interval.
	BeaconTTLMultiplier int           `yaml:"beacon_ttl_multiplier" json:"beacon_ttl_multiplier" mapstructure:"beacon_ttl_multiplier"`
	FailureThreshold    int           `yaml:"failure_threshold" json:"failure_threshold" mapstructure:"failure_threshold"`
	RestartInitialDelay time.Duration `yaml:"restart_initial_delay" json:"restart_initial_delay" mapstructure:"restart_initial_delay"`
	RestartMaxDelay     time.Duration `yaml:"restart_max_delay" json:"restart_max_delay" mapstructure:"restart_max_delay"`
}

func DefaultConfig() Config {
	backoff := common.RestartBackoffPolicy()
	return Config{
		HeartbeatInterval:   30 * time.Second,
		BeaconTTLMultiplier: 3,
		FailureThreshold:    3,
		RestartInitialDelay: backoff.InitialDelay,
		RestartMaxDelay:     backoff.MaxDelay,
	}
}

func (c Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.BeaconTTLMultiplier < 1 {
		return fmt.Errorf("beacon TTL multiplier must be at least 1")
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1")
	}
	if c.RestartInitialDelay <= 0 || c.RestartMaxDelay < c.RestartInitialDelay {
		return fmt.Errorf("restart backoff must satisfy 0 < initial <= max")
	}
	return nil
}

// BeaconTTL is how long a beacon stays visible without a refresh.
func (c Config) BeaconTTL() time.Duration {
	return time.Duration(c.BeaconTTLMultiplier) * c.HeartbeatInterval
}

// BeaconKey is the store key an external monitor polls for instance.
func BeaconKey(instance string) string {
	return "health/" + instance
}

// SubsystemStatus is the beacon view of one watched subsystem.
type SubsystemStatus struct {
	ConsecutiveFailures int        `json:"consecutive_failures"`
	RestartAttempts     int        `json:"restart_attempts"`
	Restarts            int        `json:"restarts"`
	Restarting          bool       `json:"restarting"`
	LastError           string     `json:"last_error,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
}

// Beacon is the value written on every heartbeat.
type Beacon struct {
	Instance   string                     `json:"instance"`
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     float64                    `json:"uptime_seconds"`
	Subsystems map[string]SubsystemStatus `json:"subsystems"`
}

type subsystem struct {
	restart RestartFunc

	failures      int
	attempts      int // restart attempts since the last success; drives backoff
	restarts      int
	restarting    bool
	lastErr       string
	lastFailureAt time.Time
}

// Supervisor holds references to the subsystems it watches. Failures are
// reported by the subsystems; crossing the threshold schedules a restart
// after an exponential backoff. At most one restart per subsystem runs at a
// time.
type Supervisor struct {
	mu         sync.Mutex
	cfg        Config
	store      state.Store
	sink       distributed.Sink
	backoff    common.RetryPolicy
	subsystems map[string]*subsystem
	startedAt  time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool // set under mu before wg.Wait; no restart is added after it

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewSupervisor creates a supervisor. store receives the beacon; sink may be nil.
func NewSupervisor(cfg Config, store state.Store, sink distributed.Sink) (*Supervisor, error) {
	if cfg.InstanceID == "" {
		return nil, fmt.Errorf("health supervisor requires an instance ID")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid health configuration: %w", err)
	}
	if sink == nil {
		sink = distributed.LogSink{}
	}

	backoff := common.RestartBackoffPolicy()
	backoff.InitialDelay = cfg.RestartInitialDelay
	backoff.MaxDelay = cfg.RestartMaxDelay

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:        cfg,
		store:      store,
		sink:       sink,
		backoff:    backoff,
		subsystems: make(map[string]*subsystem),
		startedAt:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
		sleep:      sleepContext,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Watch registers a subsystem. Watching an existing name replaces its
// restart function and keeps its counters.
func (s *Supervisor) Watch(name string, restart RestartFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subsystems[name]; ok {
		sub.restart = restart
		return
	}
	s.subsystems[name] = &subsystem{restart: restart}
	log.Debug().Str("subsystem", name).Msg("Watching subsystem")
}

// ReportSuccess resets the failure and backoff counters of a subsystem.
func (s *Supervisor) ReportSuccess(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subsystems[name]
	if !ok {
		return
	}
	sub.failures = 0
	if !sub.restarting {
		sub.attempts = 0
	}
}

// ReportFailure counts one consecutive failure. It reports whether a
// restart was scheduled by this call.
func (s *Supervisor) ReportFailure(name string, err error) bool {
	s.mu.Lock()
	sub, ok := s.subsystems[name]
	if !ok {
		s.mu.Unlock()
		log.Warn().Err(err).Str("subsystem", name).Msg("Failure reported for unwatched subsystem")
		return false
	}

	sub.failures++
	sub.lastFailureAt = s.now()
	if err != nil {
		sub.lastErr = err.Error()
	}
	failures := sub.failures

	if failures < s.cfg.FailureThreshold || sub.restarting || sub.restart == nil || s.stopped {
		s.mu.Unlock()
		log.Debug().Err(err).Str("subsystem", name).Int("consecutive_failures", failures).Msg("Subsystem failure")
		return false
	}

	sub.restarting = true
	sub.failures = 0
	sub.attempts++
	attempt := sub.attempts
	restart := sub.restart
	s.wg.Add(1)
	s.mu.Unlock()

	log.Warn().
		Err(err).
		Str("subsystem", name).
		Int("consecutive_failures", failures).
		Int("attempt", attempt).
		Msg("Failure threshold reached, scheduling restart")

	go s.restartLoop(name, restart, attempt, err)
	return true
}

// restartLoop waits out the backoff and restarts, retrying failed restarts
// with a growing delay until one succeeds or the supervisor stops.
func (s *Supervisor) restartLoop(name string, restart RestartFunc, attempt int, cause error) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if sub, ok := s.subsystems[name]; ok {
			sub.restarting = false
		}
		s.mu.Unlock()
	}()

	for {
		delay := s.backoff.Backoff(attempt)
		log.Info().Str("subsystem", name).Int("attempt", attempt).Dur("delay", delay).Msg("Restarting subsystem after backoff")
		if err := s.sleep(s.ctx, delay); err != nil {
			log.Info().Str("subsystem", name).Msg("Restart abandoned due to shutdown")
			return
		}

		err := restart(s.ctx)

		s.mu.Lock()
		sub := s.subsystems[name]
		if err == nil {
			sub.restarts++
		} else {
			sub.attempts++
			sub.lastErr = err.Error()
		}
		next := sub.attempts
		s.mu.Unlock()

		attrs := map[string]interface{}{
			"subsystem":     name,
			"attempt":       attempt,
			"delay_seconds": delay.Seconds(),
		}
		if cause != nil {
			attrs["cause"] = cause.Error()
		}

		if err == nil {
			metrics.RestartsTotal.WithLabelValues(name, "success").Inc()
			log.Info().Str("subsystem", name).Int("attempt", attempt).Msg("Subsystem restarted")
			s.sink.Emit(s.ctx, distributed.NewEvent(distributed.EventSubsystemRestarted, "", attrs))
			return
		}

		metrics.RestartsTotal.WithLabelValues(name, "error").Inc()
		log.Error().Err(err).Str("subsystem", name).Int("attempt", attempt).Msg("Subsystem restart failed")
		if s.ctx.Err() != nil {
			return
		}
		attempt = next
		cause = err
	}
}

// Beat writes the liveness beacon once.
func (s *Supervisor) Beat(ctx context.Context) error {
	beacon := s.snapshot()
	data, err := json.Marshal(beacon)
	if err != nil {
		return fmt.Errorf("failed to marshal beacon: %w", err)
	}
	if err := s.store.Set(ctx, BeaconKey(s.cfg.InstanceID), data, s.cfg.BeaconTTL()); err != nil {
		return fmt.Errorf("failed to write beacon: %w", err)
	}
	log.Debug().Str("instance", s.cfg.InstanceID).Str("status", beacon.Status).Msg("Heartbeat written")
	return nil
}

// Run writes the beacon every HeartbeatInterval until ctx is done, then
// stops pending restarts.
func (s *Supervisor) Run(ctx context.Context) error {
	log.Info().
		Str("instance", s.cfg.InstanceID).
		Dur("interval", s.cfg.HeartbeatInterval).
		Dur("ttl", s.cfg.BeaconTTL()).
		Msg("Starting health supervisor")
	defer s.Stop()

	if err := s.Beat(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial heartbeat failed")
	}

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("instance", s.cfg.InstanceID).Msg("Health supervisor stopping due to context cancellation")
			return nil
		case <-ticker.C:
			if err := s.Beat(ctx); err != nil {
				log.Warn().Err(err).Msg("Heartbeat failed")
			}
		}
	}
}

// Stop cancels pending restarts and waits for running ones to return.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Supervisor) snapshot() Beacon {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	beacon := Beacon{
		Instance:   s.cfg.InstanceID,
		Status:     StatusHealthy,
		Timestamp:  now.UTC(),
		Uptime:     now.Sub(s.startedAt).Seconds(),
		Subsystems: make(map[string]SubsystemStatus, len(s.subsystems)),
	}
	for name, sub := range s.subsystems {
		st := SubsystemStatus{
			ConsecutiveFailures: sub.failures,
			RestartAttempts:     sub.attempts,
			Restarts:            sub.restarts,
			Restarting:          sub.restarting,
			LastError:           sub.lastErr,
		}
		if !sub.lastFailureAt.IsZero() {
			at := sub.lastFailureAt.UTC()
			st.LastFailureAt = &at
		}
		beacon.Subsystems[name] = st

		switch {
		case sub.restarting:
			beacon.Status = StatusRestarting
		case sub.failures > 0 && beacon.Status == StatusHealthy:
			beacon.Status = StatusDegraded
		}
	}
	return beacon
}

// Status returns the supervisor state for status output.
func (s *Supervisor) Status() map[string]interface{} {
	beacon := s.snapshot()
	names := make([]string, 0, len(beacon.Subsystems))
	for name := range beacon.Subsystems {
		names = append(names, name)
	}
	sort.Strings(names)

	return map[string]interface{}{
		"instance":   beacon.Instance,
		"status":     beacon.Status,
		"watched":    names,
		"subsystems": beacon.Subsystems,
		"uptime":     beacon.Uptime,
	}
}

// ReadBeacon reads the beacon of instance. It returns state.ErrNotFound once
// the beacon has expired.
func ReadBeacon(ctx context.Context, store state.Store, instance string) (Beacon, error) {
	item, err := store.Get(ctx, BeaconKey(instance))
	if err != nil {
		return Beacon{}, err
	}
	var beacon Beacon
	if err := json.Unmarshal(item.Value, &beacon); err != nil {
		return Beacon{}, fmt.Errorf("failed to decode beacon: %w", err)
	}
	return beacon, nil
}
