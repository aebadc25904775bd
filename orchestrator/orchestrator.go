// Package orchestrator runs a crawl: it owns the frontier and the citation
// graph, hands leases to workers and folds their results back in.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/researchaccelerator-hub/media-atlas/common"
	"github.com/researchaccelerator-hub/media-atlas/crawl"
	"github.com/researchaccelerator-hub/media-atlas/discovery"
	"github.com/researchaccelerator-hub/media-atlas/distributed"
	"github.com/researchaccelerator-hub/media-atlas/fingerprint"
	"github.com/researchaccelerator-hub/media-atlas/health"
	"github.com/researchaccelerator-hub/media-atlas/metrics"
	"github.com/researchaccelerator-hub/media-atlas/model"
	"github.com/researchaccelerator-hub/media-atlas/storage"
	"github.com/researchaccelerator-hub/media-atlas/worker"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Subsystem names watched by the health supervisor.
const (
	DiscoverySubsystem  = "discovery"
	DispatcherSubsystem = "dispatcher"
)

// Transport is the coordinator side of the pubsub channel.
type Transport interface {
	SubscribeToResults(handler func(context.Context, distributed.WorkResult) error)
	SubscribeToStatus(handler func(context.Context, distributed.StatusMessage) error)
	PublishWorkItem(ctx context.Context, item distributed.WorkItem) error
	StartServer(ctx context.Context) error
	Close() error
}

// Config holds loop intervals.
type Config struct {
	WorkDistributionInterval time.Duration
	DispatchBatch            int
	HealthCheckInterval      time.Duration
	WorkerTimeout            time.Duration
	LeaseSweepInterval       time.Duration
	TickInterval             time.Duration
	CheckpointInterval       time.Duration
	MetricsAddr              string
}

func DefaultConfig() Config {
	return Config{
		WorkDistributionInterval: 5 * time.Second,
		DispatchBatch:            20,
		HealthCheckInterval:      30 * time.Second,
		WorkerTimeout:            5 * time.Minute,
		LeaseSweepInterval:       30 * time.Second,
		TickInterval:             time.Minute,
		CheckpointInterval:       30 * time.Second,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.WorkDistributionInterval <= 0 {
		c.WorkDistributionInterval = d.WorkDistributionInterval
	}
	if c.DispatchBatch <= 0 {
		c.DispatchBatch = d.DispatchBatch
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.WorkerTimeout <= 0 {
		c.WorkerTimeout = d.WorkerTimeout
	}
	if c.LeaseSweepInterval <= 0 {
		c.LeaseSweepInterval = d.LeaseSweepInterval
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = d.CheckpointInterval
	}
	return c
}

// Deps are the service handles the orchestrator drives. Worker is used in
// standalone mode, Transport in coordinator mode; exactly one must be set.
type Deps struct {
	Coordinator *crawl.Coordinator
	Graph       *discovery.Graph
	Repository  storage.Repository
	Supervisor  *health.Supervisor
	Events      distributed.Sink
	Worker      *worker.Worker
	Transport   Transport
}

// WorkerInfo tracks information about remote workers
type WorkerInfo struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"` // active, idle, busy, offline
	LastSeen     time.Time `json:"last_seen"`
	CurrentWork  *string   `json:"current_work,omitempty"`
	TasksTotal   int       `json:"tasks_total"`
	TasksSuccess int       `json:"tasks_success"`
	TasksError   int       `json:"tasks_error"`
}

// Orchestrator manages the crawl workflow
type Orchestrator struct {
	cfg         Config
	crawlID     string
	coordinator *crawl.Coordinator
	graph       *discovery.Graph
	repo        storage.Repository
	supervisor  *health.Supervisor
	events      distributed.Sink
	worker      *worker.Worker
	transport   Transport

	// Internal state
	workers   map[string]*WorkerInfo
	isRunning bool
	mu        sync.RWMutex // Protects workers map and isRunning

	// Work tracking
	activeWork map[string]distributed.WorkItem // lease id -> dispatched item
	workMu     sync.RWMutex                    // Protects work tracking and statistics

	// Statistics
	dispatchedItems int
	completedItems  int
	retryItems      int
	errorItems      int
	skippedItems    int
	queuedLinks     int
	citations       int
	articles        int
	promoted        int
	startTime       time.Time

	fatal chan error
	now   func() time.Time
}

// NewOrchestrator wires the orchestrator. It does not start anything.
func NewOrchestrator(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("crawl coordinator is required")
	}
	if deps.Graph == nil {
		return nil, fmt.Errorf("discovery graph is required")
	}
	if deps.Repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if (deps.Worker == nil) == (deps.Transport == nil) {
		return nil, fmt.Errorf("exactly one of worker (standalone) or transport (distributed) is required")
	}
	if deps.Events == nil {
		deps.Events = distributed.LogSink{}
	}

	o := &Orchestrator{
		cfg:         cfg.normalized(),
		crawlID:     deps.Coordinator.CrawlID(),
		coordinator: deps.Coordinator,
		graph:       deps.Graph,
		repo:        deps.Repository,
		supervisor:  deps.Supervisor,
		events:      deps.Events,
		worker:      deps.Worker,
		transport:   deps.Transport,
		workers:     make(map[string]*WorkerInfo),
		activeWork:  make(map[string]distributed.WorkItem),
		fatal:       make(chan error, 1),
		now:         time.Now,
	}

	if o.supervisor != nil {
		o.supervisor.Watch(DiscoverySubsystem, o.restartDiscovery)
		if o.worker != nil {
			o.supervisor.Watch(worker.FetcherSubsystem, o.worker.RestartFetcher)
		} else {
			o.supervisor.Watch(DispatcherSubsystem, o.restartDispatcher)
		}
	}

	log.Info().Str("crawl_id", o.crawlID).Bool("distributed", o.transport != nil).Msg("Orchestrator instance created")
	return o, nil
}

// Run resumes or starts the crawl and blocks until ctx is cancelled or the
// coordinator fails for good. Seeds are added as monitored sources.
func (o *Orchestrator) Run(ctx context.Context, seeds []common.Seed) error {
	o.mu.Lock()
	if o.isRunning {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator is already running")
	}
	o.isRunning = true
	o.mu.Unlock()

	o.workMu.Lock()
	o.startTime = o.now()
	o.workMu.Unlock()

	defer func() {
		o.mu.Lock()
		o.isRunning = false
		o.mu.Unlock()
	}()

	log.Info().Str("crawl_id", o.crawlID).Int("seed_count", len(seeds)).Msg("Starting orchestrator")

	if err := o.prepare(ctx, seeds); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.discoveryLoop(gctx) })
	g.Go(func() error { return o.checkpointLoop(gctx) })
	g.Go(func() error { return o.leaseSweeper(gctx) })
	g.Go(func() error { return o.healthMonitor(gctx) })
	g.Go(func() error { return metrics.Serve(gctx, o.cfg.MetricsAddr) })
	if o.supervisor != nil {
		g.Go(func() error { return o.supervisor.Run(gctx) })
	}

	if o.transport != nil {
		o.transport.SubscribeToResults(o.handleResultMessage)
		o.transport.SubscribeToStatus(o.handleStatusMessage)
		g.Go(func() error { return o.workDistributor(gctx) })
		g.Go(func() error { return o.transport.StartServer(gctx) })
	} else {
		pool := worker.NewPool(o.worker, o.coordinator, o, o.crawlID)
		g.Go(func() error { return pool.Run(gctx) })
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-o.fatal:
			return err
		}
	})

	err := g.Wait()
	o.shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("crawl_id", o.crawlID).Msg("Orchestrator stopped with error")
		return err
	}
	log.Info().Str("crawl_id", o.crawlID).Msg("Orchestrator stopped")
	return nil
}

// prepare resumes the frontier and registers persisted and seed sources.
func (o *Orchestrator) prepare(ctx context.Context, seeds []common.Seed) error {
	resumed, err := o.coordinator.Resume(ctx)
	if err != nil {
		return fmt.Errorf("failed to resume crawl: %w", err)
	}
	if resumed {
		log.Info().Str("crawl_id", o.crawlID).Msg("Continuing crawl from checkpoint")
	}

	sources, err := o.repo.LoadSources(ctx)
	if err != nil {
		return fmt.Errorf("failed to load media sources: %w", err)
	}
	citations, err := o.repo.LoadCitations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load candidate citations: %w", err)
	}
	o.graph.Load(sources, citations)

	// Enqueue is idempotent per domain, so monitored homepages already in a
	// resumed frontier are not duplicated.
	for _, src := range sources {
		if src.Status != model.StatusMonitored {
			continue
		}
		if err := o.graph.AddMonitored(ctx, src); err != nil {
			if crawl.IsFatal(err) {
				return err
			}
			log.Warn().Err(err).Str("domain", src.Domain).Msg("Failed to restore monitored source")
		}
	}

	added, err := o.AddSeeds(ctx, seeds)
	if err != nil {
		return err
	}

	log.Info().
		Int("persisted_sources", len(sources)).
		Int("seeds", added).
		Bool("resumed", resumed).
		Msg("Crawl prepared")
	return nil
}

// AddSeeds registers seeds as monitored sources and returns how many were
// accepted. Invalid seeds are skipped; only a fatal coordinator error is
// returned.
func (o *Orchestrator) AddSeeds(ctx context.Context, seeds []common.Seed) (int, error) {
	added := 0
	for _, seed := range seeds {
		src := model.MediaSource{Domain: seed.URL, Tier: model.Tier(seed.Tier)}
		if err := o.graph.AddMonitored(ctx, src); err != nil {
			if crawl.IsFatal(err) {
				return added, err
			}
			log.Warn().Err(err).Str("seed", seed.URL).Msg("Skipping seed")
			continue
		}
		added++
	}
	return added, nil
}

// shutdown persists what is left. It runs after every loop has returned.
func (o *Orchestrator) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if o.supervisor != nil {
		o.supervisor.Stop()
	}

	o.graph.Flush(ctx)
	if err := o.coordinator.Checkpoint(ctx); err != nil {
		log.Error().Err(err).Str("crawl_id", o.crawlID).Msg("Final checkpoint failed")
	}

	if o.transport != nil {
		if err := o.transport.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing PubSub client")
		}
	}

	o.logCrawlProgress()
}

// Apply folds a work result into the graph and the repository and completes
// its lease. Only coordinator failures are returned.
func (o *Orchestrator) Apply(ctx context.Context, result distributed.WorkResult) error {
	if err := result.Validate(); err != nil {
		log.Error().Err(err).Str("work_item_id", result.WorkItemID).Msg("Dropping invalid work result")
		return nil
	}

	outcome := outcomeFor(result.Status)
	if result.Status == distributed.StatusSuccess && result.Page != nil {
		if err := o.applyPage(ctx, result); err != nil {
			if crawl.IsFatal(err) {
				return err
			}
			log.Error().Err(err).Str("url", result.URL).Msg("Failed to apply page result")
		}
	}

	o.workMu.Lock()
	delete(o.activeWork, result.WorkItemID)
	switch result.Status {
	case distributed.StatusSuccess:
		o.completedItems++
	case distributed.StatusSkipped:
		o.skippedItems++
	case distributed.StatusRetry:
		o.retryItems++
	default:
		o.errorItems++
	}
	o.workMu.Unlock()

	if err := o.coordinator.Complete(ctx, result.WorkItemID, outcome); err != nil {
		if errors.Is(err, crawl.ErrUnknownLease) {
			log.Warn().Str("work_item_id", result.WorkItemID).Str("url", result.URL).Msg("Received result for unknown or expired lease")
			return nil
		}
		return err
	}

	log.Debug().
		Str("work_item_id", result.WorkItemID).
		Str("worker_id", result.WorkerID).
		Str("status", result.Status).
		Str("outcome", outcome.String()).
		Dur("processing_time", result.ProcessingTime).
		Msg("Applied work result")
	return nil
}

func outcomeFor(status string) crawl.Outcome {
	switch status {
	case distributed.StatusSuccess, distributed.StatusSkipped:
		return crawl.Succeeded
	case distributed.StatusRetry:
		return crawl.Retry
	}
	return crawl.Failed
}

func (o *Orchestrator) applyPage(ctx context.Context, result distributed.WorkResult) error {
	page := result.Page

	if result.Kind == distributed.PageKindHomepage {
		if page.Fingerprint != nil {
			o.graph.ObserveFingerprint(ctx, result.Domain, fingerprint.Vector(*page.Fingerprint))
		}
		// Links are only followed for monitored sources; probed candidates
		// contribute nothing but their fingerprint.
		src, ok := o.graph.Source(result.Domain)
		if !ok || src.Status != model.StatusMonitored || len(page.Links) == 0 {
			return nil
		}
		added, err := o.coordinator.EnqueueURLs(ctx, page.Links, src.Tier)
		if err != nil {
			return fmt.Errorf("failed to enqueue article links: %w", err)
		}
		o.workMu.Lock()
		o.queuedLinks += added
		o.workMu.Unlock()
		return nil
	}

	credited := 0
	for _, cited := range page.Citations {
		if o.graph.RecordCitation(result.Domain, cited) {
			credited++
		}
	}

	if page.Article != nil {
		if err := o.repo.UpsertArticle(ctx, *page.Article); err != nil {
			log.Error().Err(err).Str("url", page.Article.URL).Msg("Failed to persist article resolution")
		} else {
			o.workMu.Lock()
			o.articles++
			o.workMu.Unlock()
		}
	}

	o.workMu.Lock()
	o.citations += credited
	o.workMu.Unlock()
	return nil
}

// discoveryLoop promotes candidates every TickInterval.
func (o *Orchestrator) discoveryLoop(ctx context.Context) error {
	log.Info().Dur("interval", o.cfg.TickInterval).Msg("Starting discovery loop")

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Discovery loop stopping due to context cancellation")
			return nil
		case <-ticker.C:
			if err := o.tick(ctx); err != nil {
				return err
			}
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context) error {
	promoted, err := o.graph.Tick(ctx)
	o.workMu.Lock()
	o.promoted += len(promoted)
	o.workMu.Unlock()

	if err != nil {
		if crawl.IsFatal(err) {
			return err
		}
		log.Warn().Err(err).Msg("Discovery tick incomplete")
		o.reportFailure(DiscoverySubsystem, err)
		return nil
	}
	o.reportSuccess(DiscoverySubsystem)
	return nil
}

func (o *Orchestrator) restartDiscovery(ctx context.Context) error {
	o.graph.Flush(ctx)
	return o.coordinator.Err()
}

// checkpointLoop refreshes the checkpoint and the active crawl marker.
func (o *Orchestrator) checkpointLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Checkpoint loop stopping due to context cancellation")
			return nil
		case <-ticker.C:
			if err := o.coordinator.Checkpoint(ctx); err != nil {
				if crawl.IsFatal(err) {
					return err
				}
				log.Warn().Err(err).Msg("Periodic checkpoint failed")
			}
		}
	}
}

// leaseSweeper returns leases held by dead workers to the frontier.
func (o *Orchestrator) leaseSweeper(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.LeaseSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Lease sweeper stopping due to context cancellation")
			return nil
		case <-ticker.C:
			expired, err := o.coordinator.ExpireLeases(ctx)
			if err != nil {
				return err
			}
			if expired > 0 {
				log.Info().Int("expired", expired).Msg("Re-queued expired leases")
			}
		}
	}
}

// workDistributor leases work and publishes it to the work queue
func (o *Orchestrator) workDistributor(ctx context.Context) error {
	log.Info().Dur("interval", o.cfg.WorkDistributionInterval).Msg("Starting work distributor")

	ticker := time.NewTicker(o.cfg.WorkDistributionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Work distributor stopping due to context cancellation")
			return nil
		case <-ticker.C:
			if _, err := o.distributeWork(ctx); err != nil {
				return err
			}
		}
	}
}

// distributeWork publishes up to DispatchBatch leases. A lease that cannot be
// published is handed back as a retry.
func (o *Orchestrator) distributeWork(ctx context.Context) (int, error) {
	published := 0
	for published < o.cfg.DispatchBatch {
		lease, err := o.coordinator.Dequeue(ctx)
		if err != nil {
			if crawl.IsFatal(err) {
				return published, err
			}
			if !errors.Is(err, crawl.ErrNoWork) && !errors.Is(err, crawl.ErrBlocked) {
				log.Error().Err(err).Msg("Error leasing work")
			}
			break
		}

		item := lease.WorkItem(o.crawlID)
		if err := o.transport.PublishWorkItem(ctx, item); err != nil {
			log.Error().Err(err).Str("work_item_id", item.ID).Str("url", item.URL).Msg("Failed to publish work item")
			o.reportFailure(DispatcherSubsystem, err)
			if cerr := o.coordinator.Complete(ctx, lease.ID, crawl.Retry); cerr != nil && crawl.IsFatal(cerr) {
				return published, cerr
			}
			break
		}

		o.workMu.Lock()
		o.activeWork[item.ID] = item
		o.dispatchedItems++
		o.workMu.Unlock()
		published++

		log.Debug().
			Str("work_item_id", item.ID).
			Str("url", item.URL).
			Str("kind", item.Kind).
			Int("tier", int(item.Tier)).
			Msg("Dispatched work item")
	}

	if published > 0 {
		o.reportSuccess(DispatcherSubsystem)
		log.Info().Int("published", published).Msg("Distributed work")
	}
	return published, nil
}

func (o *Orchestrator) restartDispatcher(ctx context.Context) error {
	if err := o.coordinator.Err(); err != nil {
		return err
	}
	_, err := o.distributeWork(ctx)
	return err
}

// handleResultMessage processes work results from workers
func (o *Orchestrator) handleResultMessage(ctx context.Context, result distributed.WorkResult) error {
	log.Info().
		Str("work_item_id", result.WorkItemID).
		Str("worker_id", result.WorkerID).
		Str("status", result.Status).
		Dur("processing_time", result.ProcessingTime).
		Msg("Received work result")

	o.touchWorker(result.WorkerID, result.CompletedAt)

	err := o.Apply(ctx, result)
	if err != nil && crawl.IsFatal(err) {
		select {
		case o.fatal <- err:
		default:
		}
	}
	return err
}

// handleStatusMessage processes worker status updates
func (o *Orchestrator) handleStatusMessage(ctx context.Context, message distributed.StatusMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	info, exists := o.workers[message.WorkerID]
	if !exists {
		info = &WorkerInfo{ID: message.WorkerID}
		o.workers[message.WorkerID] = info
		log.Info().Str("worker_id", message.WorkerID).Msg("New worker joined")
	}

	info.Status = message.Status
	info.LastSeen = message.Timestamp
	info.TasksTotal = message.TasksProcessed
	info.TasksSuccess = message.TasksSuccess
	info.TasksError = message.TasksError
	info.CurrentWork = message.CurrentWork

	log.Debug().
		Str("worker_id", message.WorkerID).
		Str("status", message.Status).
		Int("tasks_processed", message.TasksProcessed).
		Msg("Updated worker status")

	return nil
}

func (o *Orchestrator) touchWorker(workerID string, at time.Time) {
	if at.IsZero() {
		at = o.now()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if info, ok := o.workers[workerID]; ok && at.After(info.LastSeen) {
		info.LastSeen = at
	}
}

// healthMonitor tracks worker health and logs progress
func (o *Orchestrator) healthMonitor(ctx context.Context) error {
	log.Info().Msg("Starting health monitor")

	ticker := time.NewTicker(o.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Health monitor stopping due to context cancellation")
			return nil
		case <-ticker.C:
			if err := o.checkWorkerHealth(ctx); err != nil {
				return err
			}
			o.logCrawlProgress()
		}
	}
}

// checkWorkerHealth marks silent workers offline and hands their current
// lease back to the frontier. Other leases they held expire on their own.
func (o *Orchestrator) checkWorkerHealth(ctx context.Context) error {
	now := o.now()

	o.mu.Lock()
	var reclaim []string
	for workerID, info := range o.workers {
		if now.Sub(info.LastSeen) > o.cfg.WorkerTimeout && info.Status != distributed.WorkerStatusOffline {
			log.Warn().
				Str("worker_id", workerID).
				Time("last_seen", info.LastSeen).
				Msg("Worker appears to have failed")

			info.Status = distributed.WorkerStatusOffline
			if info.CurrentWork != nil {
				reclaim = append(reclaim, *info.CurrentWork)
				info.CurrentWork = nil
			}
		}
	}
	o.mu.Unlock()

	reassigned := 0
	for _, leaseID := range reclaim {
		o.workMu.Lock()
		_, active := o.activeWork[leaseID]
		delete(o.activeWork, leaseID)
		o.workMu.Unlock()
		if !active {
			continue
		}

		if err := o.coordinator.Complete(ctx, leaseID, crawl.Retry); err != nil {
			if crawl.IsFatal(err) {
				return err
			}
			log.Debug().Err(err).Str("work_item_id", leaseID).Msg("Lease already settled")
			continue
		}
		reassigned++
	}

	if reassigned > 0 {
		log.Info().Int("reassigned_count", reassigned).Msg("Re-queued work from failed workers")
	}
	return nil
}

func (o *Orchestrator) reportFailure(name string, err error) {
	if o.supervisor != nil {
		o.supervisor.ReportFailure(name, err)
	}
}

func (o *Orchestrator) reportSuccess(name string) {
	if o.supervisor != nil {
		o.supervisor.ReportSuccess(name)
	}
}

// logCrawlProgress logs current crawl progress
func (o *Orchestrator) logCrawlProgress() {
	o.workMu.RLock()
	activeCount := len(o.activeWork)
	completed := o.completedItems
	errored := o.errorItems
	retried := o.retryItems
	articles := o.articles
	startTime := o.startTime
	o.workMu.RUnlock()

	o.mu.RLock()
	workerCount := len(o.workers)
	activeWorkers := 0
	for _, info := range o.workers {
		if info.Status != distributed.WorkerStatusOffline {
			activeWorkers++
		}
	}
	o.mu.RUnlock()

	graph := o.graph.Stats()

	log.Info().
		Str("crawl_id", o.crawlID).
		Int("active_work", activeCount).
		Int("completed_work", completed).
		Int("retried_work", retried).
		Int("error_work", errored).
		Int("articles", articles).
		Int("monitored_sources", graph[string(model.StatusMonitored)]).
		Int("candidates", graph["candidates"]).
		Int("total_workers", workerCount).
		Int("active_workers", activeWorkers).
		Dur("uptime", time.Since(startTime)).
		Msg("Crawl progress status")
}

// GetStatus returns the current status of the orchestrator
func (o *Orchestrator) GetStatus() map[string]interface{} {
	o.mu.RLock()
	workers := make(map[string]WorkerInfo, len(o.workers))
	for k, v := range o.workers {
		workers[k] = *v
	}
	isRunning := o.isRunning
	o.mu.RUnlock()

	o.workMu.RLock()
	workStats := map[string]interface{}{
		"active_work":     len(o.activeWork),
		"dispatched_work": o.dispatchedItems,
		"completed_items": o.completedItems,
		"skipped_items":   o.skippedItems,
		"retry_items":     o.retryItems,
		"error_items":     o.errorItems,
		"queued_links":    o.queuedLinks,
		"citations":       o.citations,
		"articles":        o.articles,
		"promoted":        o.promoted,
	}
	startTime := o.startTime
	o.workMu.RUnlock()

	status := map[string]interface{}{
		"crawl_id":     o.crawlID,
		"is_running":   isRunning,
		"distributed":  o.transport != nil,
		"worker_count": len(workers),
		"workers":      workers,
		"work_stats":   workStats,
		"frontier":     o.coordinator.Stats(),
		"discovery":    o.graph.Stats(),
		"start_time":   startTime,
		"uptime":       time.Since(startTime),
	}
	if o.supervisor != nil {
		status["health"] = o.supervisor.Status()
	}
	return status
}
