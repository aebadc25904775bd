// Package discovery maintains the citation graph between monitored and
// unknown domains and promotes well-cited candidates into the monitored set.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/researchaccelerator-hub/media-atlas/common"
	"github.com/researchaccelerator-hub/media-atlas/distributed"
	"github.com/researchaccelerator-hub/media-atlas/fingerprint"
	"github.com/researchaccelerator-hub/media-atlas/metrics"
	"github.com/researchaccelerator-hub/media-atlas/model"
	"github.com/rs/zerolog/log"
)

// Suspension reasons.
const (
	ReasonClone  = "clone"
	ReasonManual = "manual"
)

// Config holds the promotion policy.
type Config struct {
	// PromotionThreshold is the number of distinct monitored citers needed.
	PromotionThreshold int `yaml:"promotion_threshold" json:"promotion_threshold" mapstructure:"promotion_threshold"`
	// CandidateTTL evicts candidates that stall below the threshold.
	CandidateTTL time.Duration `yaml:"candidate_ttl" json:"candidate_ttl" mapstructure:"candidate_ttl"`
	// PromotedTier is the crawl priority given to promoted sources.
	PromotedTier model.Tier `yaml:"promoted_tier" json:"promoted_tier" mapstructure:"promoted_tier"`
	// FingerprintWait bounds how long a qualifying candidate waits for its
	// homepage probe before being promoted without a clone check.
	FingerprintWait time.Duration `yaml:"fingerprint_wait" json:"fingerprint_wait" mapstructure:"fingerprint_wait"`
	TickInterval    time.Duration `yaml:"tick_interval" json:"tick_interval" mapstructure:"tick_interval"`
}

func DefaultConfig() Config {
	return Config{
		PromotionThreshold: 2,
		CandidateTTL:       30 * 24 * time.Hour,
		PromotedTier:       model.TierLocal,
		FingerprintWait:    time.Hour,
		TickInterval:       time.Minute,
	}
}

func (c Config) Validate() error {
	if c.PromotionThreshold < 1 {
		return fmt.Errorf("promotion threshold must be at least 1, got %d", c.PromotionThreshold)
	}
	if c.CandidateTTL <= 0 {
		return fmt.Errorf("candidate TTL must be positive")
	}
	if !c.PromotedTier.Valid() {
		return fmt.Errorf("invalid promoted tier: %d", c.PromotedTier)
	}
	if c.FingerprintWait < 0 {
		return fmt.Errorf("fingerprint wait cannot be negative")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	return nil
}

// Seeder is the part of the crawl coordinator the graph drives.
type Seeder interface {
	Enqueue(ctx context.Context, domain string, tier model.Tier) error
	RemoveDomain(ctx context.Context, domain string) error
}

// Prober fetches a candidate's homepage once so its fingerprint is known
// before promotion.
type Prober interface {
	Probe(ctx context.Context, domain string) error
}

// SourceWriter persists sources and candidate citers.
type SourceWriter interface {
	UpsertSource(ctx context.Context, source model.MediaSource) error
	RecordCitation(ctx context.Context, citation model.Citation) error
}

// Deps are the service handles a Graph works with. Only Fingerprints is
// required.
type Deps struct {
	Fingerprints *fingerprint.Service
	Seeder       Seeder
	Prober       Prober
	Sources      SourceWriter
	Events       distributed.Sink
}

// Graph is the citation graph. All methods are safe for concurrent use.
type Graph struct {
	mu  sync.Mutex
	cfg Config

	fp     *fingerprint.Service
	seeder Seeder
	prober Prober
	repo   SourceWriter
	sink   distributed.Sink

	sources    map[string]*model.MediaSource
	candidates map[string]*model.DiscoveryCandidate
	probes     map[string]time.Time
	dirty      map[string]bool
	citations  []model.Citation

	now func() time.Time
}

func NewGraph(cfg Config, deps Deps) *Graph {
	if deps.Fingerprints == nil {
		deps.Fingerprints = fingerprint.NewService(fingerprint.DefaultConfig())
	}
	if deps.Events == nil {
		deps.Events = distributed.LogSink{}
	}
	return &Graph{
		cfg:        cfg,
		fp:         deps.Fingerprints,
		seeder:     deps.Seeder,
		prober:     deps.Prober,
		repo:       deps.Sources,
		sink:       deps.Events,
		sources:    make(map[string]*model.MediaSource),
		candidates: make(map[string]*model.DiscoveryCandidate),
		probes:     make(map[string]time.Time),
		dirty:      make(map[string]bool),
		now:        time.Now,
	}
}

func canonical(domain string) (string, bool) {
	d, err := common.RegistrableDomain(strings.TrimSpace(domain))
	if err != nil || d == "" {
		return "", false
	}
	return d, true
}

// Load restores persisted sources and rebuilds candidate citer sets from
// their stored citations. Citations older than the candidate TTL and those
// of domains no longer candidates are dropped.
func (g *Graph) Load(sources []model.MediaSource, citations []model.Citation) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, s := range sources {
		domain, ok := canonical(s.Domain)
		if !ok {
			continue
		}
		src := s
		src.Domain = domain
		if src.Status == "" {
			src.Status = model.StatusCandidate
		}
		g.sources[domain] = &src
	}

	cutoff := g.now().Add(-g.cfg.CandidateTTL)
	restored := 0
	for _, c := range citations {
		cited, ok := canonical(c.Candidate)
		if !ok {
			continue
		}
		citing, ok := canonical(c.Citer)
		if !ok || citing == cited || c.CitedAt.Before(cutoff) {
			continue
		}
		target := g.sources[cited]
		if target == nil || target.Status != model.StatusCandidate {
			continue
		}
		cand := g.candidates[cited]
		if cand == nil {
			cand = model.NewDiscoveryCandidate(cited, c.CitedAt)
			if target.HasFingerprint {
				v := target.StructuralFingerprint
				cand.Fingerprint = &v
			}
			g.candidates[cited] = cand
		}
		if prev, seen := cand.CitingDomains[citing]; seen && !c.CitedAt.Before(prev) {
			continue
		}
		cand.CitingDomains[citing] = c.CitedAt
		if c.CitedAt.Before(cand.FirstSeenAt) {
			cand.FirstSeenAt = c.CitedAt
		}
		restored++
	}
	for domain, cand := range g.candidates {
		if n := cand.Credits(); n > g.sources[domain].CitationCredits {
			g.sources[domain].CitationCredits = n
			g.dirty[domain] = true
		}
	}
	log.Info().Int("sources", len(sources)).Int("citations", restored).Msg("Loaded media sources")
}

// AddMonitored registers a seed source as monitored and enqueues it for
// crawling. A suspended domain stays suspended.
func (g *Graph) AddMonitored(ctx context.Context, source model.MediaSource) error {
	domain, ok := canonical(source.Domain)
	if !ok {
		return fmt.Errorf("invalid source domain %q", source.Domain)
	}
	if !source.Tier.Valid() {
		return fmt.Errorf("invalid tier %d for %s", source.Tier, domain)
	}

	g.mu.Lock()
	now := g.now()
	src, exists := g.sources[domain]
	if exists && src.Status == model.StatusSuspended {
		g.mu.Unlock()
		log.Info().Str("domain", domain).Msg("Seed domain is suspended, not monitoring")
		return nil
	}
	if !exists {
		src = &model.MediaSource{Domain: domain}
		g.sources[domain] = src
	}
	src.Tier = source.Tier
	src.Status = model.StatusMonitored
	src.UpdatedAt = now
	if source.CitationCredits > src.CitationCredits {
		src.CitationCredits = source.CitationCredits
	}
	delete(g.candidates, domain)
	delete(g.probes, domain)
	g.dirty[domain] = true
	tier := src.Tier
	g.mu.Unlock()

	if g.seeder != nil {
		if err := g.seeder.Enqueue(ctx, domain, tier); err != nil {
			return fmt.Errorf("failed to seed %s: %w", domain, err)
		}
	}
	return nil
}

// RecordCitation counts citing as a citer of cited. It reports whether a new
// credit was recorded: only monitored citers count, each at most once per
// candidate, and monitored or suspended targets are ignored.
func (g *Graph) RecordCitation(citingDomain, citedDomain string) bool {
	citing, ok := canonical(citingDomain)
	if !ok {
		return false
	}
	cited, ok := canonical(citedDomain)
	if !ok || cited == citing {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	citer := g.sources[citing]
	if citer == nil || !citer.IsActive() {
		return false
	}

	now := g.now()
	target := g.sources[cited]
	if target != nil && target.Status != model.StatusCandidate {
		return false
	}
	if target == nil {
		target = &model.MediaSource{
			Domain:    cited,
			Tier:      g.cfg.PromotedTier,
			Status:    model.StatusCandidate,
			UpdatedAt: now,
		}
		g.sources[cited] = target
		g.dirty[cited] = true
		log.Debug().Str("domain", cited).Str("cited_by", citing).Msg("New discovery candidate")
	}

	cand := g.candidates[cited]
	if cand == nil {
		cand = model.NewDiscoveryCandidate(cited, now)
		if target.HasFingerprint {
			v := target.StructuralFingerprint
			cand.Fingerprint = &v
		}
		g.candidates[cited] = cand
	}
	if _, seen := cand.CitingDomains[citing]; seen {
		return false
	}
	cand.CitingDomains[citing] = now
	if g.repo != nil {
		g.citations = append(g.citations, model.Citation{Candidate: cited, Citer: citing, CitedAt: now})
	}

	if n := cand.Credits(); n > target.CitationCredits {
		target.CitationCredits = n
		target.UpdatedAt = now
		g.dirty[cited] = true
	}
	return true
}

// ObserveFingerprint records a homepage fingerprint for a known domain. The
// first observation sets the baseline; a later one beyond the similarity
// threshold replaces it and emits fingerprint_drift.
func (g *Graph) ObserveFingerprint(ctx context.Context, domain string, v fingerprint.Vector) fingerprint.Drift {
	domain, ok := canonical(domain)
	if !ok {
		return fingerprint.Drift{}
	}

	g.mu.Lock()
	src := g.sources[domain]
	if src == nil {
		g.mu.Unlock()
		return fingerprint.Drift{}
	}
	now := g.now()

	var baseline *fingerprint.Vector
	if src.HasFingerprint {
		b := fingerprint.Vector(src.StructuralFingerprint)
		baseline = &b
	}
	drift := g.fp.Compare(baseline, v, now)

	if !drift.Baseline || drift.Drifted {
		src.StructuralFingerprint = uint64(v)
		src.HasFingerprint = true
		src.UpdatedAt = now
		g.dirty[domain] = true
	}
	if cand := g.candidates[domain]; cand != nil {
		fp := uint64(v)
		cand.Fingerprint = &fp
	}

	var event *distributed.Event
	if drift.Drifted {
		changed := now
		src.LastFingerprintChangeAt = &changed
		e := distributed.NewEvent(distributed.EventFingerprintDrift, domain, map[string]interface{}{
			"distance":  drift.Distance,
			"threshold": g.fp.Threshold(),
			"previous":  baseline.String(),
			"current":   v.String(),
		})
		event = &e
	}
	g.mu.Unlock()

	if event != nil {
		log.Info().
			Str("domain", domain).
			Int("distance", drift.Distance).
			Msg("Structural fingerprint drifted")
		g.sink.Emit(ctx, *event)
	}
	return drift
}

// Suspend marks a domain suspended. Suspended domains are never promoted,
// never accrue credits and are removed from the crawl.
func (g *Graph) Suspend(ctx context.Context, domain, reason string) error {
	return g.suspend(ctx, domain, reason, nil)
}

func (g *Graph) suspend(ctx context.Context, domain, reason string, attrs map[string]interface{}) error {
	domain, ok := canonical(domain)
	if !ok {
		return fmt.Errorf("invalid domain %q", domain)
	}

	g.mu.Lock()
	now := g.now()
	src := g.sources[domain]
	if src == nil {
		src = &model.MediaSource{Domain: domain, Tier: g.cfg.PromotedTier}
		g.sources[domain] = src
	}
	if src.Status == model.StatusSuspended {
		g.mu.Unlock()
		return nil
	}
	wasMonitored := src.IsActive()
	src.Status = model.StatusSuspended
	src.SuspendReason = reason
	src.UpdatedAt = now
	delete(g.candidates, domain)
	delete(g.probes, domain)
	g.dirty[domain] = true
	g.mu.Unlock()

	metrics.SuspensionsTotal.WithLabelValues(reason).Inc()
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	attrs["reason"] = reason
	log.Info().Str("domain", domain).Str("reason", reason).Msg("Source suspended")
	g.sink.Emit(ctx, distributed.NewEvent(distributed.EventSourceSuspended, domain, attrs))

	if wasMonitored && g.seeder != nil {
		if err := g.seeder.RemoveDomain(ctx, domain); err != nil {
			return fmt.Errorf("failed to remove %s from crawl: %w", domain, err)
		}
	}
	return nil
}

type cloneHit struct {
	domain   string
	cloneOf  string
	distance int
}

// Tick promotes qualifying candidates, suspends clones, requests probes and
// evicts stalled candidates. It returns the newly promoted sources.
func (g *Graph) Tick(ctx context.Context) ([]model.MediaSource, error) {
	g.mu.Lock()
	now := g.now()

	var known []fingerprint.Candidate
	for _, s := range g.sources {
		if s.IsActive() && s.HasFingerprint {
			known = append(known, fingerprint.Candidate{Domain: s.Domain, Fingerprint: fingerprint.Vector(s.StructuralFingerprint)})
		}
	}
	sort.Slice(known, func(i, j int) bool { return known[i].Domain < known[j].Domain })

	domains := make([]string, 0, len(g.candidates))
	for d := range g.candidates {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	var (
		promoted []model.MediaSource
		clones   []cloneHit
		probes   []string
		evicted  int
	)
	for _, domain := range domains {
		cand := g.candidates[domain]
		src := g.sources[domain]
		if src == nil || src.Status != model.StatusCandidate {
			delete(g.candidates, domain)
			continue
		}

		if cand.Credits() < g.cfg.PromotionThreshold {
			if now.Sub(cand.FirstSeenAt) > g.cfg.CandidateTTL {
				delete(g.candidates, domain)
				delete(g.probes, domain)
				evicted++
				log.Debug().Str("domain", domain).Int("credits", cand.Credits()).Msg("Evicted stalled candidate")
			}
			continue
		}

		if cand.Fingerprint == nil && g.prober != nil {
			requested, asked := g.probes[domain]
			if !asked {
				g.probes[domain] = now
				probes = append(probes, domain)
				continue
			}
			if now.Sub(requested) < g.cfg.FingerprintWait {
				continue
			}
			log.Warn().Str("domain", domain).Msg("No fingerprint for candidate, promoting without clone check")
		}

		if cand.Fingerprint != nil {
			if clone, dist, found := g.fp.FindClone(fingerprint.Vector(*cand.Fingerprint), known); found {
				clones = append(clones, cloneHit{domain: domain, cloneOf: clone.Domain, distance: dist})
				continue
			}
		}

		promotedAt := now
		src.Status = model.StatusMonitored
		src.Tier = g.cfg.PromotedTier
		src.PromotedAt = &promotedAt
		src.UpdatedAt = now
		if cand.Fingerprint != nil && !src.HasFingerprint {
			src.StructuralFingerprint = *cand.Fingerprint
			src.HasFingerprint = true
		}
		if src.HasFingerprint {
			known = append(known, fingerprint.Candidate{Domain: domain, Fingerprint: fingerprint.Vector(src.StructuralFingerprint)})
		}
		delete(g.candidates, domain)
		delete(g.probes, domain)
		g.dirty[domain] = true
		promoted = append(promoted, *src)
	}
	g.mu.Unlock()

	if evicted > 0 {
		log.Info().Int("evicted", evicted).Msg("Evicted stalled discovery candidates")
	}

	var errs []error
	for _, c := range clones {
		err := g.suspend(ctx, c.domain, ReasonClone, map[string]interface{}{
			"clone_of": c.cloneOf,
			"distance": c.distance,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}

	for _, domain := range probes {
		if err := g.prober.Probe(ctx, domain); err != nil {
			log.Warn().Err(err).Str("domain", domain).Msg("Failed to request candidate probe")
			g.mu.Lock()
			delete(g.probes, domain)
			g.mu.Unlock()
		}
	}

	for _, src := range promoted {
		metrics.PromotionsTotal.Inc()
		log.Info().
			Str("domain", src.Domain).
			Int("credits", src.CitationCredits).
			Str("tier", src.Tier.String()).
			Msg("Promoted discovery candidate")
		g.sink.Emit(ctx, distributed.NewEvent(distributed.EventSourcePromoted, src.Domain, map[string]interface{}{
			"credits": src.CitationCredits,
			"tier":    int(src.Tier),
		}))
		if g.seeder != nil {
			if err := g.seeder.Enqueue(ctx, src.Domain, src.Tier); err != nil {
				errs = append(errs, fmt.Errorf("failed to seed %s: %w", src.Domain, err))
			}
		}
	}

	g.Flush(ctx)
	return promoted, errors.Join(errs...)
}

// Flush persists sources changed since the last flush, then the citations
// recorded since. Failed writes are retried on the next flush.
func (g *Graph) Flush(ctx context.Context) {
	if g.repo == nil {
		return
	}

	g.mu.Lock()
	pending := make([]model.MediaSource, 0, len(g.dirty))
	for domain := range g.dirty {
		if src := g.sources[domain]; src != nil {
			pending = append(pending, *src)
		}
	}
	g.dirty = make(map[string]bool)
	citations := g.citations
	g.citations = nil
	g.mu.Unlock()

	for _, src := range pending {
		if err := g.repo.UpsertSource(ctx, src); err != nil {
			log.Warn().Err(err).Str("domain", src.Domain).Msg("Failed to persist media source")
			g.mu.Lock()
			g.dirty[src.Domain] = true
			g.mu.Unlock()
		}
	}

	var failed []model.Citation
	for _, c := range citations {
		if err := g.repo.RecordCitation(ctx, c); err != nil {
			log.Warn().Err(err).Str("domain", c.Candidate).Str("cited_by", c.Citer).Msg("Failed to persist citation")
			failed = append(failed, c)
		}
	}
	if len(failed) > 0 {
		g.mu.Lock()
		g.citations = append(failed, g.citations...)
		g.mu.Unlock()
	}
}

// Source returns a copy of the source record for domain.
func (g *Graph) Source(domain string) (model.MediaSource, bool) {
	domain, ok := canonical(domain)
	if !ok {
		return model.MediaSource{}, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	src, ok := g.sources[domain]
	if !ok {
		return model.MediaSource{}, false
	}
	return *src, true
}

// Candidate returns a copy of the candidate projection for domain.
func (g *Graph) Candidate(domain string) (model.DiscoveryCandidate, bool) {
	domain, ok := canonical(domain)
	if !ok {
		return model.DiscoveryCandidate{}, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	cand, ok := g.candidates[domain]
	if !ok {
		return model.DiscoveryCandidate{}, false
	}
	cp := *cand
	cp.CitingDomains = make(map[string]time.Time, len(cand.CitingDomains))
	for k, v := range cand.CitingDomains {
		cp.CitingDomains[k] = v
	}
	if cand.Fingerprint != nil {
		fp := *cand.Fingerprint
		cp.Fingerprint = &fp
	}
	return cp, true
}

// Monitored returns the monitored sources sorted by domain.
func (g *Graph) Monitored() []model.MediaSource {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []model.MediaSource
	for _, s := range g.sources {
		if s.IsActive() {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// IsMonitored reports whether domain is currently crawled.
func (g *Graph) IsMonitored(domain string) bool {
	src, ok := g.Source(domain)
	return ok && src.IsActive()
}

// Stats returns counts for status reporting.
func (g *Graph) Stats() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	stats := map[string]int{
		"candidates":          len(g.candidates),
		"pending_probes":      len(g.probes),
		"unflushed_sources":   len(g.dirty),
		"unflushed_citations": len(g.citations),
	}
	for _, s := range g.sources {
		stats[string(s.Status)]++
	}
	return stats
}
