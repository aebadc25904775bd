// Package crawl owns the shared frontier: priority order, per-domain
// politeness, URL dedup, leases handed to workers, and the write-ahead
// checkpoint that makes a crawl resumable.
package crawl

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/researchaccelerator-hub/media-atlas/common"
	"github.com/researchaccelerator-hub/media-atlas/distributed"
	"github.com/researchaccelerator-hub/media-atlas/metrics"
	"github.com/researchaccelerator-hub/media-atlas/model"
	"github.com/researchaccelerator-hub/media-atlas/state"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoWork = errors.New("crawl: frontier is empty")
	// ErrBlocked matches *BlockedError.
	ErrBlocked      = errors.New("crawl: every pending domain is busy or cooling down")
	ErrUnknownLease = errors.New("crawl: unknown lease")
	// ErrFenced means another coordinator has taken over the checkpoint.
	ErrFenced = errors.New("crawl: checkpoint owned by another coordinator")
	// ErrCheckpointUnavailable means the frontier can no longer be persisted.
	// The coordinator stops issuing leases once it is returned.
	ErrCheckpointUnavailable = errors.New("crawl: checkpoint store unavailable")
)

// BlockedError is returned by Dequeue when work exists but none is eligible.
type BlockedError struct {
	RetryAfter time.Duration
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%v; retry after %s", ErrBlocked, e.RetryAfter)
}

func (e *BlockedError) Is(target error) bool {
	return target == ErrBlocked
}

// IsFatal reports whether err means the coordinator has stopped for good.
func IsFatal(err error) bool {
	return errors.Is(err, ErrCheckpointUnavailable) || errors.Is(err, ErrFenced)
}

// Page kinds.
const (
	KindHomepage = distributed.PageKindHomepage
	KindArticle  = distributed.PageKindArticle
)

// Domain states.
const (
	DomainIdle     = "idle"
	DomainFetching = "fetching"
	DomainCooling  = "cooling-down"
)

// Outcome of a leased fetch.
type Outcome int

const (
	Succeeded Outcome = iota
	// Retry is a transient failure; the entry is retried up to MaxAttempts.
	Retry
	// Failed is permanent. One-shot entries are dropped.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Retry:
		return "retry"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Config holds the coordinator policy.
type Config struct {
	CrawlID string `yaml:"crawl_id" json:"crawl_id" mapstructure:"crawl_id"`
	// InstanceID identifies this coordinator as checkpoint owner.
	InstanceID         string        `yaml:"instance_id" json:"instance_id" mapstructure:"instance_id"`
	PolitenessInterval time.Duration `yaml:"politeness_interval" json:"politeness_interval" mapstructure:"politeness_interval"`
	RevisitInterval    time.Duration `yaml:"revisit_interval" json:"revisit_interval" mapstructure:"revisit_interval"`
	LeaseTimeout       time.Duration `yaml:"lease_timeout" json:"lease_timeout" mapstructure:"lease_timeout"`
	MaxAttempts        int           `yaml:"max_attempts" json:"max_attempts" mapstructure:"max_attempts"`
	SeenRetention      time.Duration `yaml:"seen_retention" json:"seen_retention" mapstructure:"seen_retention"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval" json:"checkpoint_interval" mapstructure:"checkpoint_interval"`
}

func DefaultConfig() Config {
	return Config{
		PolitenessInterval: 5 * time.Second,
		RevisitInterval:    15 * time.Minute,
		LeaseTimeout:       5 * time.Minute,
		MaxAttempts:        3,
		SeenRetention:      7 * 24 * time.Hour,
		CheckpointInterval: 30 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.CrawlID == "" {
		return fmt.Errorf("crawl ID is required")
	}
	if c.PolitenessInterval < 0 {
		return fmt.Errorf("politeness interval cannot be negative")
	}
	if c.RevisitInterval < 0 {
		return fmt.Errorf("revisit interval cannot be negative")
	}
	if c.LeaseTimeout <= 0 {
		return fmt.Errorf("lease timeout must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	if c.SeenRetention <= 0 {
		return fmt.Errorf("seen retention must be positive")
	}
	return nil
}

// Entry is one pending unit of work.
type Entry struct {
	URL    string     `json:"url"`
	Hash   string     `json:"hash"`
	Domain string     `json:"domain"`
	Tier   model.Tier `json:"tier"`
	Kind   string     `json:"kind"`
	// Recurring entries are monitored homepages, re-queued after every fetch.
	Recurring     bool      `json:"recurring"`
	LastFetchedAt time.Time `json:"last_fetched_at"`
	NotBefore     time.Time `json:"not_before"`
	Attempts      int       `json:"attempts"`
	Seq           uint64    `json:"seq"`

	index int
}

// Lease is an entry handed to a worker.
type Lease struct {
	ID       string    `json:"id"`
	Entry    Entry     `json:"entry"`
	IssuedAt time.Time `json:"issued_at"`
	Deadline time.Time `json:"deadline"`
}

// WorkItem is the message form of the lease.
func (l Lease) WorkItem(crawlID string) distributed.WorkItem {
	deadline := l.Deadline
	return distributed.WorkItem{
		ID:        l.ID,
		URL:       l.Entry.URL,
		Domain:    l.Entry.Domain,
		Kind:      l.Entry.Kind,
		Tier:      l.Entry.Tier,
		Attempt:   l.Entry.Attempts + 1,
		CrawlID:   crawlID,
		CreatedAt: l.IssuedAt,
		Deadline:  &deadline,
		TraceID:   "trace_" + l.ID,
	}
}

// frontier orders entries by tier, then oldest fetch, then enqueue order.
type frontier []*Entry

func (f frontier) Len() int { return len(f) }

func (f frontier) Less(i, j int) bool {
	a, b := f[i], f[j]
	if a.Tier != b.Tier {
		return a.Tier < b.Tier
	}
	if !a.LastFetchedAt.Equal(b.LastFetchedAt) {
		return a.LastFetchedAt.Before(b.LastFetchedAt)
	}
	return a.Seq < b.Seq
}

func (f frontier) Swap(i, j int) {
	f[i], f[j] = f[j], f[i]
	f[i].index = i
	f[j].index = j
}

func (f *frontier) Push(x interface{}) {
	e := x.(*Entry)
	e.index = len(*f)
	*f = append(*f, e)
}

func (f *frontier) Pop() interface{} {
	old := *f
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*f = old[:n-1]
	return e
}

type domainState struct {
	nextAllowedAt time.Time
	lease         string
}

// Coordinator is the single shared frontier. Every mutation is checkpointed
// while the lock is held, so a lease is never issued before it is durable.
type Coordinator struct {
	mu          sync.Mutex
	cfg         Config
	checkpoints *CheckpointStore
	sink        distributed.Sink
	backoff     common.RetryPolicy
	now         func() time.Time

	frontier frontier
	queued   map[string]*Entry
	leases   map[string]*Lease
	leased   map[string]string
	domains  map[string]*domainState
	seen     map[string]time.Time
	seq      uint64
	cursor   uint64
	fatal    error

	// blockedUntil lets Dequeue answer without scanning the frontier while
	// nothing has changed since every entry was found waiting.
	blockedUntil time.Time
}

func NewCoordinator(cfg Config, store state.Store, sink distributed.Sink) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawl config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = "coordinator-" + uuid.New().String()
	}
	if sink == nil {
		sink = distributed.LogSink{}
	}

	return &Coordinator{
		cfg:         cfg,
		checkpoints: NewCheckpointStore(store, cfg.CrawlID, cfg.InstanceID),
		sink:        sink,
		backoff: common.RetryPolicy{
			InitialDelay: maxDuration(cfg.PolitenessInterval, time.Second),
			MaxDelay:     maxDuration(cfg.RevisitInterval, time.Second),
			Multiplier:   2.0,
		},
		now:     time.Now,
		queued:  make(map[string]*Entry),
		leases:  make(map[string]*Lease),
		leased:  make(map[string]string),
		domains: make(map[string]*domainState),
		seen:    make(map[string]time.Time),
	}, nil
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// CrawlID returns the crawl this coordinator checkpoints.
func (c *Coordinator) CrawlID() string {
	return c.cfg.CrawlID
}

// Checkpoints exposes the checkpoint store, e.g. to tune its retry policy.
func (c *Coordinator) Checkpoints() *CheckpointStore {
	return c.checkpoints
}

func (c *Coordinator) domain(name string) *domainState {
	st, ok := c.domains[name]
	if !ok {
		st = &domainState{}
		c.domains[name] = st
	}
	return st
}

// unblock forgets the cached blocked state after a frontier or domain change.
func (c *Coordinator) unblock() {
	c.blockedUntil = time.Time{}
}

func (c *Coordinator) push(e *Entry) {
	c.unblock()
	c.seq++
	e.Seq = c.seq
	heap.Push(&c.frontier, e)
	c.queued[e.Hash] = e
}

// persist writes the checkpoint. Must be called with c.mu held. A failure
// poisons the coordinator.
func (c *Coordinator) persist(ctx context.Context) error {
	cp := c.snapshot()
	// the in-memory mutation is already applied; shutdown must not skip its write
	if err := c.checkpoints.Save(context.WithoutCancel(ctx), cp); err != nil {
		if errors.Is(err, ErrFenced) {
			c.fatal = err
		} else {
			c.fatal = fmt.Errorf("%w: %v", ErrCheckpointUnavailable, err)
		}
		log.Error().Err(c.fatal).Str("crawl_id", c.cfg.CrawlID).Msg("Checkpoint write failed, coordinator stopped")
		return c.fatal
	}
	c.cursor = cp.Cursor
	metrics.FrontierPending.Set(float64(len(c.frontier)))
	return nil
}

func (c *Coordinator) snapshot() *Checkpoint {
	now := c.now()
	cp := &Checkpoint{
		Cursor:  c.cursor + 1,
		Seq:     c.seq,
		Pending: make([]Entry, 0, len(c.frontier)),
		Leased:  make([]Lease, 0, len(c.leases)),
		Domains: make(map[string]time.Time),
		Seen:    make(map[string]time.Time, len(c.seen)),
		SavedAt: now.UTC(),
	}
	for _, e := range c.frontier {
		cp.Pending = append(cp.Pending, *e)
	}
	sort.Slice(cp.Pending, func(i, j int) bool { return cp.Pending[i].Seq < cp.Pending[j].Seq })
	for _, l := range c.leases {
		cp.Leased = append(cp.Leased, *l)
	}
	sort.Slice(cp.Leased, func(i, j int) bool { return cp.Leased[i].Entry.Seq < cp.Leased[j].Entry.Seq })
	for name, st := range c.domains {
		if st.nextAllowedAt.After(now) {
			cp.Domains[name] = st.nextAllowedAt
		}
	}
	for h, t := range c.seen {
		cp.Seen[h] = t
	}
	return cp
}

func homepageURL(domain string) string {
	return "https://" + domain + "/"
}

func (c *Coordinator) newEntry(rawURL string, tier model.Tier, kind string) (*Entry, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("invalid tier: %d", tier)
	}
	hash, err := URLHash(rawURL)
	if err != nil {
		return nil, err
	}
	domain, err := common.RegistrableDomain(rawURL)
	if err != nil {
		return nil, err
	}
	return &Entry{URL: rawURL, Hash: hash, Domain: domain, Tier: tier, Kind: kind}, nil
}

// Enqueue adds the homepage of a monitored domain as recurring work at the
// given tier. Enqueuing a domain twice keeps one entry at the higher priority.
func (c *Coordinator) Enqueue(ctx context.Context, domain string, tier model.Tier) error {
	domain, err := common.RegistrableDomain(domain)
	if err != nil {
		return fmt.Errorf("invalid domain: %w", err)
	}
	e, err := c.newEntry(homepageURL(domain), tier, KindHomepage)
	if err != nil {
		return err
	}
	e.Recurring = true

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal != nil {
		return c.fatal
	}

	if existing, ok := c.queued[e.Hash]; ok {
		if existing.Recurring && existing.Tier <= tier {
			return nil
		}
		existing.Recurring = true
		if tier < existing.Tier {
			existing.Tier = tier
			heap.Fix(&c.frontier, existing.index)
			c.unblock()
		}
	} else if id, ok := c.leased[e.Hash]; ok {
		lease := c.leases[id]
		if lease.Entry.Recurring && lease.Entry.Tier <= tier {
			return nil
		}
		lease.Entry.Recurring = true
		if tier < lease.Entry.Tier {
			lease.Entry.Tier = tier
		}
	} else {
		c.push(e)
		c.seen[e.Hash] = c.now()
	}

	log.Debug().Str("domain", domain).Str("tier", tier.String()).Msg("Enqueued domain")
	return c.persist(ctx)
}

// EnqueueURLs adds one-shot article URLs not seen before. It returns how
// many were added.
func (c *Coordinator) EnqueueURLs(ctx context.Context, urls []string, tier model.Tier) (int, error) {
	entries := make([]*Entry, 0, len(urls))
	for _, u := range urls {
		e, err := c.newEntry(u, tier, KindArticle)
		if err != nil {
			log.Debug().Err(err).Str("url", u).Msg("Skipping unusable URL")
			continue
		}
		entries = append(entries, e)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal != nil {
		return 0, c.fatal
	}

	now := c.now()
	added := 0
	for _, e := range entries {
		if _, seen := c.seen[e.Hash]; seen {
			continue
		}
		c.seen[e.Hash] = now
		c.push(e)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	return added, c.persist(ctx)
}

// Probe schedules a single homepage fetch for a domain that is not crawled
// yet, at the lowest priority.
func (c *Coordinator) Probe(ctx context.Context, domain string) error {
	domain, err := common.RegistrableDomain(domain)
	if err != nil {
		return fmt.Errorf("invalid domain: %w", err)
	}
	e, err := c.newEntry(homepageURL(domain), model.TierLocal, KindHomepage)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal != nil {
		return c.fatal
	}
	if _, ok := c.queued[e.Hash]; ok {
		return nil
	}
	if _, ok := c.leased[e.Hash]; ok {
		return nil
	}
	c.push(e)
	c.seen[e.Hash] = c.now()
	return c.persist(ctx)
}

// RemoveDomain drops pending work for domain. A fetch already in flight
// completes but is not re-queued.
func (c *Coordinator) RemoveDomain(ctx context.Context, domain string) error {
	domain, err := common.RegistrableDomain(domain)
	if err != nil {
		return fmt.Errorf("invalid domain: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal != nil {
		return c.fatal
	}

	kept := c.frontier[:0]
	removed := 0
	for _, e := range c.frontier {
		if e.Domain == domain {
			delete(c.queued, e.Hash)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(c.frontier); i++ {
		c.frontier[i] = nil
	}
	c.frontier = kept
	for i, e := range c.frontier {
		e.index = i
	}
	heap.Init(&c.frontier)
	c.unblock()

	for _, l := range c.leases {
		if l.Entry.Domain == domain && l.Entry.Recurring {
			l.Entry.Recurring = false
			removed++
		}
	}
	if removed == 0 {
		return nil
	}
	log.Info().Str("domain", domain).Int("entries", removed).Msg("Removed domain from frontier")
	return c.persist(ctx)
}

// readyIn reports how long e must wait. busy is true when its domain has a
// fetch in flight.
func (c *Coordinator) readyIn(e *Entry, now time.Time) (wait time.Duration, busy bool) {
	if st, ok := c.domains[e.Domain]; ok {
		if st.lease != "" {
			return 0, true
		}
		if d := st.nextAllowedAt.Sub(now); d > 0 {
			wait = d
		}
	}
	if d := e.NotBefore.Sub(now); d > wait {
		wait = d
	}
	return wait, false
}

// Dequeue leases the highest-priority eligible entry. The lease is
// checkpointed before it is returned. It returns ErrNoWork when nothing is
// pending and a *BlockedError when every pending entry must wait.
func (c *Coordinator) Dequeue(ctx context.Context) (Lease, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal != nil {
		return Lease{}, c.fatal
	}
	if len(c.frontier) == 0 {
		return Lease{}, ErrNoWork
	}

	now := c.now()
	if now.Before(c.blockedUntil) {
		return Lease{}, &BlockedError{RetryAfter: c.blockedUntil.Sub(now)}
	}

	var (
		chosen  *Entry
		skipped []*Entry
		minWait time.Duration = -1
	)
	for len(c.frontier) > 0 {
		e := heap.Pop(&c.frontier).(*Entry)
		wait, busy := c.readyIn(e, now)
		if !busy && wait == 0 {
			chosen = e
			break
		}
		if !busy && (minWait < 0 || wait < minWait) {
			minWait = wait
		}
		skipped = append(skipped, e)
	}
	for _, e := range skipped {
		heap.Push(&c.frontier, e)
	}

	if chosen == nil {
		if minWait < 0 {
			minWait = maxDuration(c.cfg.PolitenessInterval, time.Second)
		}
		c.blockedUntil = now.Add(minWait)
		return Lease{}, &BlockedError{RetryAfter: minWait}
	}

	delete(c.queued, chosen.Hash)
	lease := &Lease{
		ID:       uuid.New().String(),
		Entry:    *chosen,
		IssuedAt: now,
		Deadline: now.Add(c.cfg.LeaseTimeout),
	}
	c.leases[lease.ID] = lease
	c.leased[chosen.Hash] = lease.ID
	st := c.domain(chosen.Domain)
	st.lease = lease.ID

	if err := c.persist(ctx); err != nil {
		delete(c.leases, lease.ID)
		delete(c.leased, chosen.Hash)
		st.lease = ""
		heap.Push(&c.frontier, chosen)
		c.unblock()
		c.queued[chosen.Hash] = chosen
		return Lease{}, err
	}

	log.Debug().
		Str("lease_id", lease.ID).
		Str("url", chosen.URL).
		Str("tier", chosen.Tier.String()).
		Int("attempt", chosen.Attempts+1).
		Msg("Leased frontier entry")
	return *lease, nil
}

// settle releases a lease and re-queues its entry according to outcome.
// Must be called with c.mu held.
func (c *Coordinator) settle(lease *Lease, outcome Outcome, now time.Time) {
	c.unblock()
	delete(c.leases, lease.ID)
	delete(c.leased, lease.Entry.Hash)

	st := c.domain(lease.Entry.Domain)
	if st.lease == lease.ID {
		st.lease = ""
	}
	st.nextAllowedAt = now.Add(c.cfg.PolitenessInterval)

	e := lease.Entry
	revisit := func() {
		e.Attempts = 0
		e.LastFetchedAt = now
		e.NotBefore = now.Add(c.cfg.RevisitInterval)
		c.push(&e)
	}

	switch outcome {
	case Succeeded:
		if e.Recurring {
			revisit()
		}
	case Retry:
		e.Attempts++
		switch {
		case e.Attempts < c.cfg.MaxAttempts:
			e.NotBefore = now.Add(c.backoff.Backoff(e.Attempts))
			c.push(&e)
		case e.Recurring:
			log.Warn().Str("url", e.URL).Int("attempts", e.Attempts).Msg("Homepage fetch keeps failing, waiting for next revisit")
			revisit()
		default:
			log.Error().Str("url", e.URL).Int("attempts", e.Attempts).Msg("Dropping entry after max attempts")
		}
	case Failed:
		if e.Recurring {
			revisit()
		} else {
			log.Warn().Str("url", e.URL).Msg("Dropping entry after permanent failure")
		}
	}
}

// Complete releases a lease. Completing an unknown or expired lease returns
// ErrUnknownLease and changes nothing.
func (c *Coordinator) Complete(ctx context.Context, leaseID string, outcome Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal != nil {
		return c.fatal
	}

	lease, ok := c.leases[leaseID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLease, leaseID)
	}
	c.settle(lease, outcome, c.now())

	log.Debug().
		Str("lease_id", leaseID).
		Str("url", lease.Entry.URL).
		Str("outcome", outcome.String()).
		Msg("Completed lease")
	return c.persist(ctx)
}

// ExpireLeases returns work held past its deadline, e.g. by a dead worker,
// to the frontier as a retry. It also forgets seen URLs older than
// SeenRetention.
func (c *Coordinator) ExpireLeases(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal != nil {
		return 0, c.fatal
	}

	now := c.now()
	var expired []*Lease
	for _, l := range c.leases {
		if now.After(l.Deadline) {
			expired = append(expired, l)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].Entry.Seq < expired[j].Entry.Seq })
	for _, l := range expired {
		log.Warn().Str("lease_id", l.ID).Str("url", l.Entry.URL).Msg("Lease expired, re-queueing")
		c.settle(l, Retry, now)
	}

	pruned := 0
	for h, t := range c.seen {
		if now.Sub(t) <= c.cfg.SeenRetention {
			continue
		}
		if _, ok := c.queued[h]; ok {
			continue
		}
		if _, ok := c.leased[h]; ok {
			continue
		}
		delete(c.seen, h)
		pruned++
	}

	if len(expired) == 0 && pruned == 0 {
		return 0, nil
	}
	return len(expired), c.persist(ctx)
}

// Resume rebuilds the frontier from the last checkpoint of this crawl and
// takes ownership of it. Entries that were leased when the checkpoint was
// written are queued again. It reports false when there was nothing to
// resume. Resume must run before any other mutation.
func (c *Coordinator) Resume(ctx context.Context) (bool, error) {
	cp, etag, err := c.checkpoints.Load(ctx)
	if errors.Is(err, state.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCheckpointUnavailable, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor > 0 || len(c.frontier) > 0 || len(c.leases) > 0 {
		return false, fmt.Errorf("resume called on a coordinator that already has state")
	}

	previousOwner := cp.Owner
	c.seq = cp.Seq
	c.cursor = cp.Cursor
	for h, t := range cp.Seen {
		c.seen[h] = t
	}
	c.unblock()
	for name, next := range cp.Domains {
		c.domain(name).nextAllowedAt = next
	}
	for i := range cp.Pending {
		e := cp.Pending[i]
		heap.Push(&c.frontier, &e)
		c.queued[e.Hash] = &e
	}
	for _, l := range cp.Leased {
		e := l.Entry
		if _, dup := c.queued[e.Hash]; dup {
			continue
		}
		heap.Push(&c.frontier, &e)
		c.queued[e.Hash] = &e
	}

	claimed := c.snapshot()
	if err := c.checkpoints.Claim(ctx, claimed, etag); err != nil {
		c.fatal = err
		return false, err
	}
	c.cursor = claimed.Cursor
	metrics.FrontierPending.Set(float64(len(c.frontier)))

	log.Info().
		Str("crawl_id", c.cfg.CrawlID).
		Str("previous_owner", previousOwner).
		Uint64("cursor", cp.Cursor).
		Int("pending", len(cp.Pending)).
		Int("requeued", len(cp.Leased)).
		Msg("Resumed crawl from checkpoint")

	c.sink.Emit(ctx, distributed.NewEvent(distributed.EventCrawlJobResumed, "", map[string]interface{}{
		"crawl_id": c.cfg.CrawlID,
		"cursor":   cp.Cursor,
		"pending":  len(cp.Pending),
		"requeued": len(cp.Leased),
	}))
	return true, nil
}

// Checkpoint writes the checkpoint and the active crawl marker.
func (c *Coordinator) Checkpoint(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.fatal != nil {
			return c.fatal
		}
		return c.persist(gctx)
	})
	g.Go(func() error {
		return c.checkpoints.MarkActive(gctx)
	})
	return g.Wait()
}

// Err returns the fatal error that stopped the coordinator, if any.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

// DomainState returns idle, fetching or cooling-down.
func (c *Coordinator) DomainState(domain string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.domains[domain]
	switch {
	case !ok:
		return DomainIdle
	case st.lease != "":
		return DomainFetching
	case st.nextAllowedAt.After(c.now()):
		return DomainCooling
	}
	return DomainIdle
}

// Stats returns a snapshot for status reporting.
func (c *Coordinator) Stats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cooling := 0
	for _, st := range c.domains {
		if st.lease == "" && st.nextAllowedAt.After(now) {
			cooling++
		}
	}
	stats := map[string]interface{}{
		"crawl_id":         c.cfg.CrawlID,
		"instance_id":      c.cfg.InstanceID,
		"cursor":           c.cursor,
		"pending":          len(c.frontier),
		"in_flight":        len(c.leases),
		"domains_cooling":  cooling,
		"seen":             len(c.seen),
		"checkpoint_error": nil,
	}
	if c.fatal != nil {
		stats["checkpoint_error"] = c.fatal.Error()
	}
	return stats
}
