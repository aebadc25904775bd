package crawl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/researchaccelerator-hub/media-atlas/distributed"
	"github.com/researchaccelerator-hub/media-atlas/model"
	"github.com/researchaccelerator-hub/media-atlas/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCoordinator(t *testing.T, store state.Store, instance string, clock *testClock, sink distributed.Sink) *Coordinator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CrawlID = "20240501120000"
	cfg.InstanceID = instance
	c, err := NewCoordinator(cfg, store, sink)
	require.NoError(t, err)
	c.now = clock.Now
	c.checkpoints.now = clock.Now
	return c
}

func newClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func mustDequeue(t *testing.T, c *Coordinator) Lease {
	t.Helper()
	lease, err := c.Dequeue(context.Background())
	require.NoError(t, err)
	return lease
}

func TestDequeue_TierOrder(t *testing.T) {
	clock := newClock()
	c := newTestCoordinator(t, state.NewMemoryStore(""), "a", clock, nil)
	ctx := context.Background()

	require.NoError(t, c.Enqueue(ctx, "local-news.example", model.TierLocal))
	require.NoError(t, c.Enqueue(ctx, "apnews.com", model.TierWire))
	require.NoError(t, c.Enqueue(ctx, "lemonde.fr", model.TierNational))

	assert.Equal(t, "apnews.com", mustDequeue(t, c).Entry.Domain)
	assert.Equal(t, "lemonde.fr", mustDequeue(t, c).Entry.Domain)
	assert.Equal(t, "local-news.example", mustDequeue(t, c).Entry.Domain)

	_, err := c.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrNoWork)
}

func TestDequeue_StalestFirstWithinTier(t *testing.T) {
	clock := newClock()
	c := newTestCoordinator(t, state.NewMemoryStore(""), "a", clock, nil)
	ctx := context.Background()

	require.NoError(t, c.Enqueue(ctx, "lemonde.fr", model.TierNational))
	require.NoError(t, c.Enqueue(ctx, "elpais.com", model.TierNational))

	first := mustDequeue(t, c)
	assert.Equal(t, "lemonde.fr", first.Entry.Domain)
	require.NoError(t, c.Complete(ctx, first.ID, Succeeded))

	second := mustDequeue(t, c)
	assert.Equal(t, "elpais.com", second.Entry.Domain, "never fetched is stalest")
	clock.Advance(time.Minute)
	require.NoError(t, c.Complete(ctx, second.ID, Succeeded))

	// both are waiting for their revisit
	_, err := c.Dequeue(ctx)
	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, DefaultConfig().RevisitInterval-time.Minute, blocked.RetryAfter)

	clock.Advance(DefaultConfig().RevisitInterval)
	third := mustDequeue(t, c)
	assert.Equal(t, "lemonde.fr", third.Entry.Domain, "fetched longest ago goes first")
	assert.True(t, third.Entry.Recurring)
}

func TestDequeue_Politeness(t *testing.T) {
	clock := newClock()
	c := newTestCoordinator(t, state.NewMemoryStore(""), "a", clock, nil)
	ctx := context.Background()

	added, err := c.EnqueueURLs(ctx, []string{
		"https://www.lemonde.fr/planete/article/1.html",
		"https://www.lemonde.fr/planete/article/2.html",
	}, model.TierNational)
	require.NoError(t, err)
	require.Equal(t, 2, added)

	first := mustDequeue(t, c)
	assert.Equal(t, DomainFetching, c.DomainState("lemonde.fr"))

	_, err = c.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrBlocked, "one fetch per domain at a time")

	require.NoError(t, c.Complete(ctx, first.ID, Succeeded))
	assert.Equal(t, DomainCooling, c.DomainState("lemonde.fr"))

	_, err = c.Dequeue(ctx)
	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, DefaultConfig().PolitenessInterval, blocked.RetryAfter)

	clock.Advance(DefaultConfig().PolitenessInterval)
	assert.Equal(t, DomainIdle, c.DomainState("lemonde.fr"))
	second := mustDequeue(t, c)
	assert.Equal(t, "https://www.lemonde.fr/planete/article/2.html", second.Entry.URL)
}

func TestDequeue_OtherDomainsNotBlocked(t *testing.T) {
	clock := newClock()
	c := newTestCoordinator(t, state.NewMemoryStore(""), "a", clock, nil)
	ctx := context.Background()

	_, err := c.EnqueueURLs(ctx, []string{
		"https://www.lemonde.fr/1.html",
		"https://www.lemonde.fr/2.html",
		"https://elpais.com/1.html",
	}, model.TierNational)
	require.NoError(t, err)

	assert.Equal(t, "lemonde.fr", mustDequeue(t, c).Entry.Domain)
	assert.Equal(t, "elpais.com", mustDequeue(t, c).Entry.Domain)
}

func TestDequeue_BlockedAnswerIsReusedUntilFrontierChanges(t *testing.T) {
	clock := newClock()
	c := newTestCoordinator(t, state.NewMemoryStore(""), "a", clock, nil)
	ctx := context.Background()

	for _, domain := range []string{"lemonde.fr", "elpais.com", "spiegel.de"} {
		require.NoError(t, c.Enqueue(ctx, domain, model.TierNational))
		require.NoError(t, c.Complete(ctx, mustDequeue(t, c).ID, Succeeded))
	}
	revisit := DefaultConfig().RevisitInterval

	_, err := c.Dequeue(ctx)
	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, revisit, blocked.RetryAfter)
	pending := len(c.frontier)

	// a direct edit is not seen: the cached answer is served without a scan
	c.domains["lemonde.fr"].nextAllowedAt = time.Time{}
	for _, e := range c.frontier {
		e.NotBefore = time.Time{}
	}
	clock.Advance(time.Minute)
	_, err = c.Dequeue(ctx)
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, revisit-time.Minute, blocked.RetryAfter)
	assert.Len(t, c.frontier, pending)

	// any frontier change drops the cached answer
	require.NoError(t, c.Enqueue(ctx, "ouest-france.fr", model.TierLocal))
	lease := mustDequeue(t, c)
	assert.Equal(t, "lemonde.fr", lease.Entry.Domain)
}

func TestEnqueueURLs_Dedup(t *testing.T) {
	clock := newClock()
	c := newTestCoordinator(t, state.NewMemoryStore(""), "a", clock, nil)
	ctx := context.Background()

	added, err := c.EnqueueURLs(ctx, []string{
		"https://www.lemonde.fr/a.html?utm_source=twitter",
		"http://WWW.LEMONDE.FR:80/a.html#comments",
		"https://www.lemonde.fr/a.html",
		"mailto:desk@lemonde.fr",
	}, model.TierNational)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	lease := mustDequeue(t, c)
	require.NoError(t, c.Complete(ctx, lease.ID, Succeeded))

	added, err = c.EnqueueURLs(ctx, []string{"https://www.lemonde.fr/a.html"}, model.TierNational)
	require.NoError(t, err)
	assert.Zero(t, added, "fetched articles are not queued again")
}

func TestEnqueue_KeepsOneEntryPerDomain(t *testing.T) {
	clock := newClock()
	c := newTestCoordinator(t, state.NewMemoryStore(""), "a", clock, nil)
	ctx := context.Background()

	require.NoError(t, c.Probe(ctx, "ouest-france.fr"))
	require.NoError(t, c.Enqueue(ctx, "ouest-france.fr", model.TierLocal))
	require.NoError(t, c.Enqueue(ctx, "www.ouest-france.fr", model.TierNational))
	assert.Equal(t, 1, c.Stats()["pending"])

	lease := mustDequeue(t, c)
	assert.True(t, lease.Entry.Recurring)
	assert.Equal(t, model.TierNational, lease.Entry.Tier)
	assert.Equal(t, KindHomepage, lease.Entry.Kind)

	// probing a domain already in flight is a no-op
	require.NoError(t, c.Probe(ctx, "ouest-france.fr"))
	assert.Equal(t, 0, c.Stats()["pending"])
}

func TestComplete_MaxAttempts(t *testing.T) {
	clock := newClock()
	c := newTestCoordinator(t, state.NewMemoryStore(""), "a", clock, nil)
	ctx := context.Background()

	_, err := c.EnqueueURLs(ctx, []string{"https://elpais.com/a.html"}, model.TierNational)
	require.NoError(t, err)

	for attempt := 1; attempt <= DefaultConfig().MaxAttempts; attempt++ {
		lease := mustDequeue(t, c)
		assert.Equal(t, attempt-1, lease.Entry.Attempts)
		require.NoError(t, c.Complete(ctx, lease.ID, Retry))
		clock.Advance(time.Hour)
	}

	_, err = c.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrNoWork)
}

func TestComplete_FailedRecurringIsRevisited(t *testing.T) {
	clock := newClock()
	c := newTestCoordinator(t, state.NewMemoryStore(""), "a", clock, nil)
	ctx := context.Background()

	require.NoError(t, c.Enqueue(ctx, "lemonde.fr", model.TierNational))
	_, err := c.EnqueueURLs(ctx, []string{"https://elpais.com/gone.html"}, model.TierNational)
	require.NoError(t, err)

	home := mustDequeue(t, c)
	article := mustDequeue(t, c)
	require.NoError(t, c.Complete(ctx, home.ID, Failed))
	require.NoError(t, c.Complete(ctx, article.ID, Failed))

	assert.Equal(t, 1, c.Stats()["pending"])

	err = c.Complete(ctx, home.ID, Succeeded)
	assert.ErrorIs(t, err, ErrUnknownLease)
}

func TestExpireLeases(t *testing.T) {
	clock := newClock()
	c := newTestCoordinator(t, state.NewMemoryStore(""), "a", clock, nil)
	ctx := context.Background()

	_, err := c.EnqueueURLs(ctx, []string{"https://elpais.com/a.html"}, model.TierNational)
	require.NoError(t, err)
	lost := mustDequeue(t, c)

	n, err := c.ExpireLeases(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(DefaultConfig().LeaseTimeout + time.Second)
	n, err = c.ExpireLeases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	clock.Advance(time.Minute)
	again := mustDequeue(t, c)
	assert.Equal(t, lost.Entry.URL, again.Entry.URL)
	assert.Equal(t, 1, again.Entry.Attempts)
	assert.NotEqual(t, lost.ID, again.ID)

	assert.ErrorIs(t, c.Complete(ctx, lost.ID, Succeeded), ErrUnknownLease)
	require.NoError(t, c.Complete(ctx, again.ID, Succeeded))
}

func TestRemoveDomain(t *testing.T) {
	clock := newClock()
	c := newTestCoordinator(t, state.NewMemoryStore(""), "a", clock, nil)
	ctx := context.Background()

	require.NoError(t, c.Enqueue(ctx, "mirror.example", model.TierLocal))
	require.NoError(t, c.Enqueue(ctx, "lemonde.fr", model.TierNational))
	_, err := c.EnqueueURLs(ctx, []string{"https://mirror.example/a.html"}, model.TierLocal)
	require.NoError(t, err)

	require.NoError(t, c.RemoveDomain(ctx, "mirror.example"))
	assert.Equal(t, 1, c.Stats()["pending"])
	assert.Equal(t, "lemonde.fr", mustDequeue(t, c).Entry.Domain)
}

func TestResume_ReissuesInFlightExactlyOnce(t *testing.T) {
	store := state.NewMemoryStore("")
	clock := newClock()
	ctx := context.Background()

	first := newTestCoordinator(t, store, "coordinator-a", clock, nil)
	_, err := first.EnqueueURLs(ctx, []string{"https://www.lemonde.fr/article.html"}, model.TierNational)
	require.NoError(t, err)
	lost := mustDequeue(t, first)

	// the lease is durable before the fetch starts
	cp, _, err := LoadCheckpoint(ctx, store, first.CrawlID())
	require.NoError(t, err)
	require.Len(t, cp.Leased, 1)
	assert.Equal(t, lost.ID, cp.Leased[0].ID)
	assert.Empty(t, cp.Pending)

	// the first coordinator dies here, before completing the fetch
	events := &distributed.RecordingSink{}
	second := newTestCoordinator(t, store, "coordinator-b", clock, events)
	resumed, err := second.Resume(ctx)
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, []distributed.EventKind{distributed.EventCrawlJobResumed}, events.Kinds())

	replay := mustDequeue(t, second)
	assert.Equal(t, lost.Entry.URL, replay.Entry.URL)
	assert.Equal(t, lost.Entry.Attempts, replay.Entry.Attempts)
	require.NoError(t, second.Complete(ctx, replay.ID, Succeeded))

	_, err = second.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrNoWork)

	// a stale coordinator can no longer write
	err = first.Complete(ctx, lost.ID, Succeeded)
	assert.ErrorIs(t, err, ErrFenced)
	_, err = first.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrFenced)
}

func TestResume_RestoresCoolDownAndSeen(t *testing.T) {
	store := state.NewMemoryStore("")
	clock := newClock()
	ctx := context.Background()

	first := newTestCoordinator(t, store, "coordinator-a", clock, nil)
	_, err := first.EnqueueURLs(ctx, []string{
		"https://www.lemonde.fr/1.html",
		"https://www.lemonde.fr/2.html",
	}, model.TierNational)
	require.NoError(t, err)
	lease := mustDequeue(t, first)
	require.NoError(t, first.Complete(ctx, lease.ID, Succeeded))

	second := newTestCoordinator(t, store, "coordinator-b", clock, nil)
	_, err = second.Resume(ctx)
	require.NoError(t, err)

	assert.Equal(t, DomainCooling, second.DomainState("lemonde.fr"))
	_, err = second.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrBlocked)

	added, err := second.EnqueueURLs(ctx, []string{"https://www.lemonde.fr/1.html"}, model.TierNational)
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestResume_NothingToResume(t *testing.T) {
	c := newTestCoordinator(t, state.NewMemoryStore(""), "a", newClock(), nil)
	resumed, err := c.Resume(context.Background())
	require.NoError(t, err)
	assert.False(t, resumed)
}

type failingStore struct {
	*state.MemoryStore
	mu      sync.Mutex
	failing bool
}

func (f *failingStore) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

func (f *failingStore) SetIfMatch(ctx context.Context, key string, value []byte, etag string) error {
	f.mu.Lock()
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return errors.New("disk full")
	}
	return f.MemoryStore.SetIfMatch(ctx, key, value, etag)
}

func TestDequeue_CheckpointUnavailableIsFatal(t *testing.T) {
	store := &failingStore{MemoryStore: state.NewMemoryStore("")}
	c := newTestCoordinator(t, store, "a", newClock(), nil)
	ctx := context.Background()

	_, err := c.EnqueueURLs(ctx, []string{"https://elpais.com/a.html"}, model.TierNational)
	require.NoError(t, err)

	store.setFailing(true)
	_, err = c.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrCheckpointUnavailable)
	assert.Equal(t, 1, c.Stats()["pending"], "no lease without a durable checkpoint")
	assert.Equal(t, 0, c.Stats()["in_flight"])

	store.setFailing(false)
	_, err = c.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrCheckpointUnavailable)
	assert.Error(t, c.Err())
}

func TestCheckpoint_WritesMarker(t *testing.T) {
	store := state.NewMemoryStore("")
	clock := newClock()
	c := newTestCoordinator(t, store, "a", clock, nil)
	ctx := context.Background()

	require.NoError(t, c.Enqueue(ctx, "lemonde.fr", model.TierNational))
	before := c.Stats()["cursor"].(uint64)
	require.NoError(t, c.Checkpoint(ctx))
	assert.Equal(t, before+1, c.Stats()["cursor"].(uint64))

	marker, err := ReadActiveCrawl(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, c.CrawlID(), marker.CrawlID)
	assert.Equal(t, "a", marker.Owner)
	assert.Equal(t, clock.Now(), marker.UpdatedAt)

	cp, _, err := LoadCheckpoint(ctx, store, c.CrawlID())
	require.NoError(t, err)
	assert.Len(t, cp.Pending, 1)
	assert.Equal(t, 1, cp.Summary()["pending"])
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "crawl id required")

	cfg.CrawlID = "x"
	assert.NoError(t, cfg.Validate())

	cfg.MaxAttempts = 0
	assert.Error(t, cfg.Validate())
}
