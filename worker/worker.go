// Package worker provides the fetch workers: a distributed worker fed over
// pubsub and an in-process pool fed straight from the coordinator.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/researchaccelerator-hub/media-atlas/distributed"
	"github.com/rs/zerolog/log"
)

// FetcherSubsystem is the name the fetch layer reports health under.
const FetcherSubsystem = "fetcher"

// Config holds the worker settings.
type Config struct {
	Concurrency       int           `yaml:"concurrency" json:"concurrency" mapstructure:"concurrency"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	// IdleDelay is how long a pool goroutine sleeps when the frontier is empty.
	IdleDelay        time.Duration `yaml:"idle_delay" json:"idle_delay" mapstructure:"idle_delay"`
	MaxHomepageLinks int           `yaml:"max_homepage_links" json:"max_homepage_links" mapstructure:"max_homepage_links"`
	Fetch            FetchConfig   `yaml:"fetch" json:"fetch" mapstructure:"fetch"`
}

func DefaultConfig() Config {
	return Config{
		Concurrency:       4,
		HeartbeatInterval: 30 * time.Second,
		IdleDelay:         2 * time.Second,
		MaxHomepageLinks:  50,
		Fetch:             DefaultFetchConfig(),
	}
}

func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat interval must be positive")
	}
	if c.IdleDelay <= 0 {
		return fmt.Errorf("worker idle delay must be positive")
	}
	return c.Fetch.Validate()
}

// HealthReporter receives fetch layer health signals.
type HealthReporter interface {
	ReportSuccess(name string)
	ReportFailure(name string, err error) bool
}

type noopHealth struct{}

func (noopHealth) ReportSuccess(string)              {}
func (noopHealth) ReportFailure(string, error) bool { return false }

// Transport is the pubsub surface used in distributed mode.
type Transport interface {
	SubscribeToWorkQueue(handler func(context.Context, distributed.WorkItem) error)
	StartServer(ctx context.Context) error
	PublishResult(ctx context.Context, result distributed.WorkResult) error
	PublishStatus(ctx context.Context, status distributed.StatusMessage) error
	Close() error
}

// Worker executes work items. The same Execute path serves the pubsub
// worker and the in-process pool.
type Worker struct {
	ID        string
	cfg       Config
	fetcher   Fetcher
	processor *Processor
	transport Transport
	health    HealthReporter

	mu        sync.Mutex
	isRunning bool
	// Work tracking
	currentWork map[string]*distributed.WorkItem

	// Statistics
	tasksProcessed int
	tasksSuccess   int
	tasksError     int
	startTime      time.Time
}

// NewWorker creates a worker. transport may be nil for in-process use and
// health may be nil when no supervisor is running.
func NewWorker(workerID string, cfg Config, fetcher Fetcher, processor *Processor, transport Transport, health HealthReporter) (*Worker, error) {
	if workerID == "" {
		return nil, fmt.Errorf("worker ID cannot be empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}
	if fetcher == nil || processor == nil {
		return nil, fmt.Errorf("worker requires a fetcher and a processor")
	}
	if health == nil {
		health = noopHealth{}
	}

	log.Info().Str("worker_id", workerID).Int("concurrency", cfg.Concurrency).Msg("Worker instance created")
	return &Worker{
		ID:          workerID,
		cfg:         cfg,
		fetcher:     fetcher,
		processor:   processor,
		transport:   transport,
		health:      health,
		currentWork: make(map[string]*distributed.WorkItem),
		startTime:   time.Now(),
	}, nil
}

// Start subscribes to the work queue and serves until ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	if w.transport == nil {
		return fmt.Errorf("worker %s has no transport", w.ID)
	}

	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("worker is already running")
	}
	w.isRunning = true
	w.mu.Unlock()

	log.Info().Str("worker_id", w.ID).Msg("Starting worker")
	w.transport.SubscribeToWorkQueue(w.handleWorkItem)

	go w.heartbeatSender(ctx)
	w.sendStatusUpdate(distributed.MessageTypeWorkerStarted, distributed.WorkerStatusActive)

	if err := w.transport.StartServer(ctx); err != nil {
		return fmt.Errorf("failed to start PubSub server: %w", err)
	}
	return nil
}

// Stop announces shutdown and releases the transport.
func (w *Worker) Stop() error {
	log.Info().Str("worker_id", w.ID).Msg("Stopping worker")

	w.mu.Lock()
	w.isRunning = false
	w.mu.Unlock()

	if w.transport == nil {
		return nil
	}
	w.sendStatusUpdate(distributed.MessageTypeWorkerStopping, distributed.WorkerStatusOffline)
	if err := w.transport.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing PubSub client")
	}
	log.Info().Str("worker_id", w.ID).Msg("Worker stopped")
	return nil
}

// handleWorkItem executes one pubsub delivery and publishes its result.
// Returning an error makes the broker redeliver.
func (w *Worker) handleWorkItem(ctx context.Context, item distributed.WorkItem) error {
	if err := item.Validate(); err != nil {
		log.Error().Err(err).Str("work_item_id", item.ID).Msg("Dropping invalid work item")
		return nil
	}

	log.Info().
		Str("work_item_id", item.ID).
		Str("url", item.URL).
		Str("kind", item.Kind).
		Int("attempt", item.Attempt).
		Msg("Received work item")

	result, err := w.Execute(ctx, item)
	if err != nil {
		return err
	}

	if err := w.transport.PublishResult(ctx, result); err != nil {
		log.Error().Err(err).Str("work_item_id", item.ID).Msg("Failed to publish result")
		return err
	}

	log.Info().
		Str("work_item_id", item.ID).
		Str("status", result.Status).
		Dur("processing_time", result.ProcessingTime).
		Msg("Work item processed and result sent")
	return nil
}

// Execute fetches and processes one item. It only returns an error when ctx
// is cancelled mid-flight; the work is then abandoned without a result and
// is reissued once its lease expires.
func (w *Worker) Execute(ctx context.Context, item distributed.WorkItem) (distributed.WorkResult, error) {
	start := time.Now()
	w.begin(&item)
	defer w.end(item.ID)

	itemCtx := ctx
	if item.Deadline != nil {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithDeadline(ctx, *item.Deadline)
		defer cancel()
	}

	result := distributed.WorkResult{
		WorkItemID: item.ID,
		WorkerID:   w.ID,
		URL:        item.URL,
		Domain:     item.Domain,
		Kind:       item.Kind,
		TraceID:    item.TraceID,
	}

	page, err := w.fetcher.Fetch(itemCtx, item.URL)
	if ctxErr := ctx.Err(); ctxErr != nil {
		log.Info().Str("work_item_id", item.ID).Str("url", item.URL).Msg("Abandoning work item on shutdown")
		return distributed.WorkResult{}, ctxErr
	}

	if err != nil {
		result.Status = Classify(err)
		result.Error = err.Error()
		if result.Status == distributed.StatusRetry {
			w.health.ReportFailure(FetcherSubsystem, err)
		} else {
			w.health.ReportSuccess(FetcherSubsystem)
		}
		log.Warn().Err(err).Str("url", item.URL).Str("status", result.Status).Msg("Fetch failed")
	} else {
		w.health.ReportSuccess(FetcherSubsystem)
		pageResult, perr := w.processor.Process(itemCtx, item, page)
		if perr != nil {
			result.Status = distributed.StatusSkipped
			result.Error = perr.Error()
			log.Error().Err(perr).Str("url", item.URL).Msg("Skipping malformed page")
		} else {
			result.Status = distributed.StatusSuccess
			result.Page = pageResult
		}
	}

	result.ProcessingTime = time.Since(start)
	result.CompletedAt = time.Now().UTC()
	w.record(result.Status)
	return result, nil
}

func (w *Worker) begin(item *distributed.WorkItem) {
	w.mu.Lock()
	w.currentWork[item.ID] = item
	w.mu.Unlock()
}

func (w *Worker) end(id string) {
	w.mu.Lock()
	delete(w.currentWork, id)
	w.mu.Unlock()
}

func (w *Worker) record(status string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tasksProcessed++
	switch status {
	case distributed.StatusSuccess, distributed.StatusSkipped:
		w.tasksSuccess++
	default:
		w.tasksError++
	}
}

// RestartFetcher drops the fetch layer's pooled state. It is the restart
// hook registered with the health supervisor.
func (w *Worker) RestartFetcher(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.fetcher.Reset()
	log.Info().Str("worker_id", w.ID).Msg("Fetcher reset")
	return nil
}

// heartbeatSender sends periodic status updates to the coordinator
func (w *Worker) heartbeatSender(ctx context.Context) {
	log.Info().Str("worker_id", w.ID).Msg("Starting heartbeat sender")

	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("worker_id", w.ID).Msg("Heartbeat sender stopping due to context cancellation")
			return
		case <-ticker.C:
			if !w.running() {
				log.Info().Str("worker_id", w.ID).Msg("Heartbeat sender stopped")
				return
			}
			w.sendStatusUpdate(distributed.MessageTypeHeartbeat, w.determineStatus())
		}
	}
}

func (w *Worker) running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isRunning
}

// sendStatusUpdate sends a status message to the coordinator
func (w *Worker) sendStatusUpdate(messageType, status string) {
	w.mu.Lock()
	var currentWorkID *string
	for id := range w.currentWork {
		id := id
		currentWorkID = &id
		break
	}
	statusMsg := distributed.NewStatusMessage(
		w.ID,
		messageType,
		status,
		w.tasksProcessed,
		w.tasksSuccess,
		w.tasksError,
		time.Since(w.startTime),
	)
	w.mu.Unlock()
	statusMsg.CurrentWork = currentWorkID

	if err := w.transport.PublishStatus(context.Background(), statusMsg); err != nil {
		log.Error().
			Err(err).
			Str("message_type", messageType).
			Msg("Failed to send status update")
		return
	}
	log.Debug().
		Str("worker_id", w.ID).
		Str("message_type", messageType).
		Str("status", status).
		Int("tasks_processed", statusMsg.TasksProcessed).
		Msg("Status update sent")
}

// determineStatus determines the current worker status
func (w *Worker) determineStatus() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case !w.isRunning:
		return distributed.WorkerStatusOffline
	case len(w.currentWork) > 0:
		return distributed.WorkerStatusBusy
	}
	return distributed.WorkerStatusIdle
}

// GetStatus returns the current status of the worker
func (w *Worker) GetStatus() map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	return map[string]interface{}{
		"worker_id":       w.ID,
		"is_running":      w.isRunning,
		"in_flight":       len(w.currentWork),
		"tasks_processed": w.tasksProcessed,
		"tasks_success":   w.tasksSuccess,
		"tasks_error":     w.tasksError,
		"uptime_seconds":  time.Since(w.startTime).Seconds(),
		"start_time":      w.startTime,
	}
}

// IsAbandoned reports whether Execute gave up because of shutdown.
func IsAbandoned(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
