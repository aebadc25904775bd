package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/researchaccelerator-hub/media-atlas/crawl"
	"github.com/researchaccelerator-hub/media-atlas/distributed"
	"github.com/researchaccelerator-hub/media-atlas/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// scriptedFrontier hands out its leases once, then reports an empty frontier
// or the configured error.
type scriptedFrontier struct {
	mu     sync.Mutex
	leases []crawl.Lease
	after  error
	calls  int
}

func (f *scriptedFrontier) Dequeue(context.Context) (crawl.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.leases) == 0 {
		if f.after != nil {
			return crawl.Lease{}, f.after
		}
		return crawl.Lease{}, crawl.ErrNoWork
	}
	l := f.leases[0]
	f.leases = f.leases[1:]
	return l, nil
}

type collectingApplier struct {
	mu      sync.Mutex
	results []distributed.WorkResult
	err     error
	done    chan struct{}
	want    int
}

func (a *collectingApplier) Apply(_ context.Context, r distributed.WorkResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, r)
	if len(a.results) == a.want && a.done != nil {
		close(a.done)
	}
	return a.err
}

func testLease(id, rawURL, domain string) crawl.Lease {
	now := time.Now()
	return crawl.Lease{
		ID: id,
		Entry: crawl.Entry{
			URL:    rawURL,
			Domain: domain,
			Tier:   model.TierWire,
			Kind:   crawl.KindHomepage,
		},
		IssuedAt: now,
		Deadline: now.Add(time.Minute),
	}
}

func newPoolWorker(t *testing.T, fetcher Fetcher) *Worker {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Concurrency = 2
	cfg.IdleDelay = 10 * time.Millisecond
	w, err := NewWorker("pool-1", cfg, fetcher, NewProcessor(nil, &mockResolver{}, nil, nil, 10), nil, nil)
	require.NoError(t, err)
	return w
}

func TestPool_ProcessesLeasesUntilCancelled(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(nil, ErrNotHTML)

	frontier := &scriptedFrontier{leases: []crawl.Lease{
		testLease("lease-1", "https://apnews.com/", "apnews.com"),
		testLease("lease-2", "https://reuters.com/", "reuters.com"),
		testLease("lease-3", "https://afp.com/", "afp.com"),
	}}
	applier := &collectingApplier{done: make(chan struct{}), want: 3}

	pool := NewPool(newPoolWorker(t, fetcher), frontier, applier, "crawl-1")
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- pool.Run(ctx) }()

	select {
	case <-applier.done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not apply every lease")
	}
	cancel()
	require.NoError(t, <-errCh)

	ids := make(map[string]bool)
	for _, r := range applier.results {
		ids[r.WorkItemID] = true
		assert.Equal(t, distributed.StatusSkipped, r.Status)
		assert.Equal(t, "pool-1", r.WorkerID)
	}
	assert.Equal(t, map[string]bool{"lease-1": true, "lease-2": true, "lease-3": true}, ids)
}

func TestPool_StopsOnCheckpointFailure(t *testing.T) {
	frontier := &scriptedFrontier{after: errors.Join(crawl.ErrCheckpointUnavailable, errors.New("redis down"))}
	pool := NewPool(newPoolWorker(t, &mockFetcher{}), frontier, &collectingApplier{}, "crawl-1")

	done := make(chan error, 1)
	go func() { done <- pool.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, crawl.ErrCheckpointUnavailable)
	case <-time.After(5 * time.Second):
		t.Fatal("pool kept running after a fatal frontier error")
	}
}

func TestPool_StopsWhenApplyIsFenced(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(nil, ErrNotHTML)
	frontier := &scriptedFrontier{leases: []crawl.Lease{testLease("lease-1", "https://apnews.com/", "apnews.com")}}
	applier := &collectingApplier{err: crawl.ErrFenced}

	pool := NewPool(newPoolWorker(t, fetcher), frontier, applier, "crawl-1")
	err := pool.Run(context.Background())
	assert.ErrorIs(t, err, crawl.ErrFenced)
}

func TestPool_WaitFor(t *testing.T) {
	pool := &Pool{idle: time.Second}

	assert.Equal(t, time.Second, pool.waitFor(crawl.ErrNoWork))
	assert.Equal(t, 200*time.Millisecond, pool.waitFor(&crawl.BlockedError{RetryAfter: 200 * time.Millisecond}))
	assert.Equal(t, time.Second, pool.waitFor(&crawl.BlockedError{RetryAfter: time.Minute}))
	assert.Equal(t, time.Second, pool.waitFor(errors.New("boom")))
}

func TestLeaseWorkItem(t *testing.T) {
	lease := testLease("lease-9", "https://apnews.com/", "apnews.com")
	lease.Entry.Attempts = 1

	item := lease.WorkItem("crawl-1")
	assert.Equal(t, "lease-9", item.ID)
	assert.Equal(t, "crawl-1", item.CrawlID)
	assert.Equal(t, 2, item.Attempt)
	require.NotNil(t, item.Deadline)
	assert.True(t, lease.Deadline.Equal(*item.Deadline))
	assert.NoError(t, item.Validate())
}
