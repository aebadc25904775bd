package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/researchaccelerator-hub/media-atlas/crawl"
	"github.com/researchaccelerator-hub/media-atlas/distributed"
	"github.com/rs/zerolog/log"
)

// Frontier hands out leases.
type Frontier interface {
	Dequeue(ctx context.Context) (crawl.Lease, error)
}

// ResultApplier folds a work result back into the crawl and completes its
// lease.
type ResultApplier interface {
	Apply(ctx context.Context, result distributed.WorkResult) error
}

// Pool runs Concurrency goroutines that pull straight from the frontier.
type Pool struct {
	worker   *Worker
	frontier Frontier
	applier  ResultApplier
	crawlID  string
	size     int
	idle     time.Duration
}

func NewPool(w *Worker, frontier Frontier, applier ResultApplier, crawlID string) *Pool {
	return &Pool{
		worker:   w,
		frontier: frontier,
		applier:  applier,
		crawlID:  crawlID,
		size:     w.cfg.Concurrency,
		idle:     w.cfg.IdleDelay,
	}
}

// Run blocks until ctx is cancelled or the frontier fails for good. The
// first fatal error cancels every goroutine and is returned.
func (p *Pool) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Info().Str("worker_id", p.worker.ID).Int("size", p.size).Msg("Starting worker pool")

	var (
		wg       sync.WaitGroup
		once     sync.Once
		fatalErr error
	)
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			if err := p.loop(ctx, slot); err != nil {
				once.Do(func() {
					fatalErr = err
					cancel()
				})
			}
		}(i)
	}
	wg.Wait()

	log.Info().Str("worker_id", p.worker.ID).Msg("Worker pool stopped")
	return fatalErr
}

func (p *Pool) loop(ctx context.Context, slot int) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		lease, err := p.frontier.Dequeue(ctx)
		if err != nil {
			if crawl.IsFatal(err) {
				log.Error().Err(err).Int("slot", slot).Msg("Frontier unavailable, stopping pool")
				return err
			}
			if !p.sleep(ctx, p.waitFor(err)) {
				return nil
			}
			continue
		}

		result, err := p.worker.Execute(ctx, lease.WorkItem(p.crawlID))
		if err != nil {
			return nil
		}
		if err := p.applier.Apply(ctx, result); err != nil {
			if crawl.IsFatal(err) {
				return err
			}
			log.Error().Err(err).Str("lease_id", lease.ID).Str("url", result.URL).Msg("Failed to apply work result")
		}
	}
}

func (p *Pool) waitFor(err error) time.Duration {
	var blocked *crawl.BlockedError
	if errors.As(err, &blocked) && blocked.RetryAfter > 0 && blocked.RetryAfter < p.idle {
		return blocked.RetryAfter
	}
	if !errors.Is(err, crawl.ErrNoWork) && !errors.Is(err, crawl.ErrBlocked) {
		log.Warn().Err(err).Msg("Dequeue failed")
	}
	return p.idle
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
