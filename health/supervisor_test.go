package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/researchaccelerator-hub/media-atlas/distributed"
	"github.com/researchaccelerator-hub/media-atlas/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type supervisorHarness struct {
	sup   *Supervisor
	store *state.MemoryStore
	sink  *distributed.RecordingSink

	mu     sync.Mutex
	now    time.Time
	delays []time.Duration
}

func newSupervisorHarness(t *testing.T) *supervisorHarness {
	t.Helper()
	h := &supervisorHarness{
		store: state.NewMemoryStore(""),
		sink:  &distributed.RecordingSink{},
		now:   time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	h.store.SetClock(h.clock)

	cfg := DefaultConfig()
	cfg.InstanceID = "coordinator-1"
	sup, err := NewSupervisor(cfg, h.store, h.sink)
	require.NoError(t, err)
	sup.now = h.clock
	sup.sleep = func(_ context.Context, d time.Duration) error {
		h.mu.Lock()
		h.delays = append(h.delays, d)
		h.mu.Unlock()
		return nil
	}
	h.sup = sup
	t.Cleanup(sup.Stop)
	return h
}

func (h *supervisorHarness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *supervisorHarness) advance(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()
}

func (h *supervisorHarness) recordedDelays() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.delays...)
}

func countingRestart(calls *int, mu *sync.Mutex, failFirst int) RestartFunc {
	return func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		*calls++
		if *calls <= failFirst {
			return errors.New("pool did not come back")
		}
		return nil
	}
}

func TestReportFailure_RestartsAtThreshold(t *testing.T) {
	h := newSupervisorHarness(t)
	var mu sync.Mutex
	calls := 0
	h.sup.Watch("fetcher", countingRestart(&calls, &mu, 0))

	cause := errors.New("status 503")
	assert.False(t, h.sup.ReportFailure("fetcher", cause))
	assert.False(t, h.sup.ReportFailure("fetcher", cause))
	assert.True(t, h.sup.ReportFailure("fetcher", cause))
	h.sup.wg.Wait()

	assert.Equal(t, 1, calls)
	assert.Equal(t, []time.Duration{5 * time.Second}, h.recordedDelays())

	events := h.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, distributed.EventSubsystemRestarted, events[0].Kind)
	assert.Equal(t, "fetcher", events[0].Attributes["subsystem"])
	assert.Equal(t, "status 503", events[0].Attributes["cause"])

	status := h.sup.snapshot().Subsystems["fetcher"]
	assert.Equal(t, 1, status.Restarts)
	assert.Equal(t, 0, status.ConsecutiveFailures)
	assert.False(t, status.Restarting)
}

func TestRestart_FailedRestartsBackOff(t *testing.T) {
	h := newSupervisorHarness(t)
	var mu sync.Mutex
	calls := 0
	h.sup.Watch("pool", countingRestart(&calls, &mu, 4))

	for i := 0; i < 3; i++ {
		h.sup.ReportFailure("pool", errors.New("timeout"))
	}
	h.sup.wg.Wait()

	assert.Equal(t, 5, calls)
	assert.Equal(t, []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		60 * time.Second,
	}, h.recordedDelays())
}

func TestRestart_BackoffGrowsUntilSuccessReported(t *testing.T) {
	h := newSupervisorHarness(t)
	var mu sync.Mutex
	calls := 0
	h.sup.Watch("pool", countingRestart(&calls, &mu, 0))

	crossThreshold := func() {
		for i := 0; i < 3; i++ {
			h.sup.ReportFailure("pool", errors.New("timeout"))
		}
		h.sup.wg.Wait()
	}

	crossThreshold()
	crossThreshold()
	h.sup.ReportSuccess("pool")
	crossThreshold()

	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 5 * time.Second}, h.recordedDelays())
}

func TestRestart_OneAtATime(t *testing.T) {
	h := newSupervisorHarness(t)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	h.sup.sleep = func(ctx context.Context, _ time.Duration) error {
		started <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var mu sync.Mutex
	calls := 0
	h.sup.Watch("pool", countingRestart(&calls, &mu, 0))

	for i := 0; i < 3; i++ {
		h.sup.ReportFailure("pool", nil)
	}
	<-started

	for i := 0; i < 6; i++ {
		assert.False(t, h.sup.ReportFailure("pool", nil))
	}
	assert.True(t, h.sup.snapshot().Subsystems["pool"].Restarting)

	close(release)
	h.sup.wg.Wait()
	assert.Equal(t, 1, calls)
}

func TestReportSuccess_ResetsConsecutiveFailures(t *testing.T) {
	h := newSupervisorHarness(t)
	var mu sync.Mutex
	calls := 0
	h.sup.Watch("geocoder", countingRestart(&calls, &mu, 0))

	h.sup.ReportFailure("geocoder", nil)
	h.sup.ReportFailure("geocoder", nil)
	h.sup.ReportSuccess("geocoder")
	assert.False(t, h.sup.ReportFailure("geocoder", nil))
	assert.False(t, h.sup.ReportFailure("geocoder", nil))
	h.sup.wg.Wait()

	assert.Equal(t, 0, calls)
	assert.Equal(t, 2, h.sup.snapshot().Subsystems["geocoder"].ConsecutiveFailures)
}

func TestReportFailure_UnwatchedSubsystem(t *testing.T) {
	h := newSupervisorHarness(t)
	assert.False(t, h.sup.ReportFailure("unknown", errors.New("boom")))
}

func TestStop_AbandonsPendingRestart(t *testing.T) {
	h := newSupervisorHarness(t)
	h.sup.sleep = sleepContext

	var mu sync.Mutex
	calls := 0
	h.sup.Watch("pool", countingRestart(&calls, &mu, 0))
	for i := 0; i < 3; i++ {
		h.sup.ReportFailure("pool", nil)
	}
	h.sup.Stop()

	assert.Equal(t, 0, calls)
	assert.False(t, h.sup.ReportFailure("pool", nil))
}

func TestStop_ConcurrentFailuresScheduleNothingAfterStop(t *testing.T) {
	h := newSupervisorHarness(t)

	var mu sync.Mutex
	stopped := false
	lateRestarts := 0
	restart := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			lateRestarts++
		}
		return nil
	}

	names := []string{"fetcher", "discovery", "dispatcher", "checkpoint", "pool", "resolver"}
	for _, name := range names {
		h.sup.Watch(name, restart)
	}

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			for i := 0; i < 30; i++ {
				h.sup.ReportFailure(name, errors.New("status 503"))
			}
		}(name)
	}
	h.sup.Stop()
	mu.Lock()
	stopped = true
	mu.Unlock()
	wg.Wait()

	assert.False(t, h.sup.ReportFailure("fetcher", nil))
	assert.False(t, h.sup.ReportFailure("fetcher", nil))
	assert.False(t, h.sup.ReportFailure("fetcher", nil))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, lateRestarts)
}

func TestBeat_WritesBeaconWithTTL(t *testing.T) {
	h := newSupervisorHarness(t)
	h.sup.Watch("pool", func(context.Context) error { return nil })
	h.sup.ReportFailure("pool", errors.New("connection reset"))

	ctx := context.Background()
	require.NoError(t, h.sup.Beat(ctx))

	beacon, err := ReadBeacon(ctx, h.store, "coordinator-1")
	require.NoError(t, err)
	assert.Equal(t, "coordinator-1", beacon.Instance)
	assert.Equal(t, StatusDegraded, beacon.Status)
	assert.Equal(t, 1, beacon.Subsystems["pool"].ConsecutiveFailures)
	assert.Equal(t, "connection reset", beacon.Subsystems["pool"].LastError)

	h.advance(89 * time.Second)
	_, err = ReadBeacon(ctx, h.store, "coordinator-1")
	require.NoError(t, err)

	h.advance(time.Second)
	_, err = ReadBeacon(ctx, h.store, "coordinator-1")
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestBeat_HealthyWithoutFailures(t *testing.T) {
	h := newSupervisorHarness(t)
	h.sup.Watch("pool", nil)
	require.NoError(t, h.sup.Beat(context.Background()))

	beacon, err := ReadBeacon(context.Background(), h.store, "coordinator-1")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, beacon.Status)
}

func TestRun_WritesBeaconAndStopsOnCancel(t *testing.T) {
	h := newSupervisorHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := ReadBeacon(context.Background(), h.store, "coordinator-1")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero interval", func(c *Config) { c.HeartbeatInterval = 0 }, true},
		{"zero multiplier", func(c *Config) { c.BeaconTTLMultiplier = 0 }, true},
		{"zero threshold", func(c *Config) { c.FailureThreshold = 0 }, true},
		{"max below initial", func(c *Config) { c.RestartMaxDelay = time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Equal(t, 90*time.Second, DefaultConfig().BeaconTTL())
}

func TestNewSupervisor_RequiresInstance(t *testing.T) {
	_, err := NewSupervisor(DefaultConfig(), state.NewMemoryStore(""), nil)
	assert.Error(t, err)
}
