package model

import (
	"errors"
	"fmt"
	"time"
)

// Tier is the influence class of a media source. Lower values crawl first.
type Tier int

const (
	TierWire     Tier = 0 // global wire service
	TierNational Tier = 1 // national hub
	TierLocal    Tier = 2 // local or regional outlet
)

func (t Tier) Valid() bool {
	return t >= TierWire && t <= TierLocal
}

func (t Tier) String() string {
	switch t {
	case TierWire:
		return "wire"
	case TierNational:
		return "national"
	case TierLocal:
		return "local"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

type SourceStatus string

const (
	StatusCandidate SourceStatus = "candidate"
	StatusMonitored SourceStatus = "monitored"
	StatusSuspended SourceStatus = "suspended"
)

// MediaSource is a news outlet keyed by its registrable domain.
type MediaSource struct {
	Domain                  string       `json:"domain" db:"domain"`
	Tier                    Tier         `json:"tier" db:"tier"`
	CitationCredits         int          `json:"citation_credits" db:"citation_credits"`
	StructuralFingerprint   uint64       `json:"structural_fingerprint" db:"-"`
	HasFingerprint          bool         `json:"has_fingerprint" db:"has_fingerprint"`
	Status                  SourceStatus `json:"status" db:"status"`
	SuspendReason           string       `json:"suspend_reason,omitempty" db:"suspend_reason"`
	LastFingerprintChangeAt *time.Time   `json:"last_fingerprint_change_at,omitempty" db:"last_fingerprint_change_at"`
	PromotedAt              *time.Time   `json:"promoted_at,omitempty" db:"promoted_at"`
	UpdatedAt               time.Time    `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the source is crawled and may cite candidates.
func (s *MediaSource) IsActive() bool {
	return s.Status == StatusMonitored
}

// DiscoveryCandidate is a domain cited by monitored sources but not yet promoted.
type DiscoveryCandidate struct {
	Domain        string               `json:"domain"`
	CitingDomains map[string]time.Time `json:"citing_domains"`
	FirstSeenAt   time.Time            `json:"first_seen_at"`
	Fingerprint   *uint64              `json:"fingerprint,omitempty"`
}

// NewDiscoveryCandidate creates an empty candidate first seen at now.
func NewDiscoveryCandidate(domain string, now time.Time) *DiscoveryCandidate {
	return &DiscoveryCandidate{
		Domain:        domain,
		CitingDomains: make(map[string]time.Time),
		FirstSeenAt:   now,
	}
}

// Credits is the number of distinct monitored domains that cited the candidate.
func (c *DiscoveryCandidate) Credits() int {
	return len(c.CitingDomains)
}

// Citation is one monitored domain citing a candidate, as stored.
type Citation struct {
	Candidate string    `json:"candidate" db:"candidate"`
	Citer     string    `json:"citer" db:"citer"`
	CitedAt   time.Time `json:"cited_at" db:"cited_at"`
}

// Confidence of a geographic resolution.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Method names the resolution layer that produced a GeoResolution.
type Method string

const (
	MethodNERGazetteer  Method = "ner-gazetteer"
	MethodGDELTFallback Method = "gdelt-fallback"
	MethodTLDFallback   Method = "tld-fallback"
	MethodNone          Method = ""
)

// Label is the method name used in events and metrics.
func (m Method) Label() string {
	if m == MethodNone {
		return "unresolved"
	}
	return string(m)
}

// UnknownCountry is rendered for resolutions without a country.
const UnknownCountry = "UNK"

var (
	ErrResolutionImmutable = errors.New("geo resolution already attached")
	ErrHighConfidenceNER   = errors.New("high confidence requires ner-gazetteer method")
)

// GeoResolution is the country judgment attached to an article.
type GeoResolution struct {
	CountryCode string     `json:"country_code"`
	Confidence  Confidence `json:"confidence"`
	Method      Method     `json:"method"`
	Entity      string     `json:"entity,omitempty"`
	ResolvedAt  time.Time  `json:"resolved_at"`
}

// Country returns the alpha-3 code, or UNK when unresolved.
func (g GeoResolution) Country() string {
	if g.CountryCode == "" {
		return UnknownCountry
	}
	return g.CountryCode
}

func (g GeoResolution) Validate() error {
	if g.Confidence == ConfidenceHigh && g.Method != MethodNERGazetteer {
		return ErrHighConfidenceNER
	}
	switch g.Confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		return fmt.Errorf("invalid confidence: %q", g.Confidence)
	}
	if g.Method == MethodNone && g.CountryCode != "" {
		return fmt.Errorf("country %s without resolution method", g.CountryCode)
	}
	if g.CountryCode != "" && len(g.CountryCode) != 3 {
		return fmt.Errorf("country code %q is not alpha-3", g.CountryCode)
	}
	return nil
}

// ArticleMetadata is produced per fetched article. ExtractedText is held only
// while the article moves through the pipeline.
type ArticleMetadata struct {
	URL           string         `json:"url"`
	SourceDomain  string         `json:"source_domain"`
	PublishedAt   *time.Time     `json:"published_at,omitempty"`
	Title         string         `json:"title,omitempty"`
	ExtractedText string         `json:"-"`
	Outlinks      []string       `json:"outlinks"`
	GeoResolution *GeoResolution `json:"geo_resolution,omitempty"`
}

// AttachResolution sets the resolution once. Later calls fail.
func (a *ArticleMetadata) AttachResolution(r GeoResolution) error {
	if a.GeoResolution != nil {
		return ErrResolutionImmutable
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid resolution for %s: %w", a.URL, err)
	}
	a.GeoResolution = &r
	return nil
}

// DiscardBody drops the article text after extraction.
func (a *ArticleMetadata) DiscardBody() {
	a.ExtractedText = ""
}
