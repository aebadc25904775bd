// Package storage persists media sources and per-article resolutions to the
// durable relational store. Every write is an idempotent upsert keyed by
// domain or URL; article bodies are never written.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/researchaccelerator-hub/media-atlas/model"
)

// Repository is the durable store used by the discovery graph and the
// result pipeline.
type Repository interface {
	// UpsertSource inserts or updates a source. Citation credits never
	// decrease.
	UpsertSource(ctx context.Context, source model.MediaSource) error
	// UpsertArticle inserts or updates article metadata. The first stored
	// geo resolution of an article is kept.
	UpsertArticle(ctx context.Context, article model.ArticleMetadata) error
	LoadSources(ctx context.Context) ([]model.MediaSource, error)
	// RecordCitation stores a candidate's citer. A repeated citer keeps its
	// first citation time.
	RecordCitation(ctx context.Context, citation model.Citation) error
	// LoadCitations returns the stored citers of candidate sources.
	LoadCitations(ctx context.Context) ([]model.Citation, error)
	Close() error
}

// Backend names accepted in Config.Backend.
const (
	BackendPostgres = "postgres"
	BackendBinding  = "binding"
	BackendMemory   = "memory"
)

// Config selects and configures the repository implementation.
type Config struct {
	Backend string `yaml:"backend" json:"backend" mapstructure:"backend"`

	Host     string `yaml:"host" json:"host" mapstructure:"host"`
	Port     string `yaml:"port" json:"port" mapstructure:"port"`
	User     string `yaml:"user" json:"user" mapstructure:"user"`
	Password string `yaml:"password" json:"-" mapstructure:"password"`
	DBName   string `yaml:"dbname" json:"dbname" mapstructure:"dbname"`
	SSLMode  string `yaml:"sslmode" json:"sslmode" mapstructure:"sslmode"`

	// BindingName is the Dapr postgres output binding used by the binding backend.
	BindingName string `yaml:"binding_name" json:"binding_name" mapstructure:"binding_name"`
}

func DefaultConfig() Config {
	return Config{
		Backend:     BackendMemory,
		Host:        "localhost",
		Port:        "5432",
		User:        "atlas",
		DBName:      "atlas",
		SSLMode:     "disable",
		BindingName: "atlasdb",
	}
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendPostgres:
		if c.Host == "" || c.DBName == "" {
			return fmt.Errorf("postgres backend requires host and dbname")
		}
	case BackendBinding:
		if c.BindingName == "" {
			return fmt.Errorf("binding backend requires a binding name")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Backend)
	}
	return nil
}

// MemoryRepository keeps everything in process. It applies the same merge
// rules as the SQL upserts.
type MemoryRepository struct {
	mu        sync.Mutex
	sources   map[string]model.MediaSource
	articles  map[string]model.ArticleMetadata
	citations map[string]map[string]time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sources:   make(map[string]model.MediaSource),
		articles:  make(map[string]model.ArticleMetadata),
		citations: make(map[string]map[string]time.Time),
	}
}

func (m *MemoryRepository) UpsertSource(_ context.Context, source model.MediaSource) error {
	if source.Domain == "" {
		return fmt.Errorf("source domain cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.sources[source.Domain]; ok && prev.CitationCredits > source.CitationCredits {
		source.CitationCredits = prev.CitationCredits
	}
	if source.UpdatedAt.IsZero() {
		source.UpdatedAt = time.Now().UTC()
	}
	m.sources[source.Domain] = source
	return nil
}

func (m *MemoryRepository) UpsertArticle(_ context.Context, article model.ArticleMetadata) error {
	if article.URL == "" {
		return fmt.Errorf("article URL cannot be empty")
	}
	article.DiscardBody()
	article.Outlinks = append([]string(nil), article.Outlinks...)

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.articles[article.URL]; ok && prev.GeoResolution != nil {
		article.GeoResolution = prev.GeoResolution
	}
	m.articles[article.URL] = article
	return nil
}

func (m *MemoryRepository) LoadSources(_ context.Context) ([]model.MediaSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sources := make([]model.MediaSource, 0, len(m.sources))
	for _, s := range m.sources {
		sources = append(sources, s)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Domain < sources[j].Domain })
	return sources, nil
}

func (m *MemoryRepository) RecordCitation(_ context.Context, citation model.Citation) error {
	if citation.Candidate == "" || citation.Citer == "" {
		return fmt.Errorf("citation needs a candidate and a citer")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	citers := m.citations[citation.Candidate]
	if citers == nil {
		citers = make(map[string]time.Time)
		m.citations[citation.Candidate] = citers
	}
	if _, ok := citers[citation.Citer]; !ok {
		citers[citation.Citer] = citation.CitedAt.UTC()
	}
	return nil
}

func (m *MemoryRepository) LoadCitations(_ context.Context) ([]model.Citation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var citations []model.Citation
	for candidate, citers := range m.citations {
		if src, ok := m.sources[candidate]; !ok || src.Status != model.StatusCandidate {
			continue
		}
		for citer, at := range citers {
			citations = append(citations, model.Citation{Candidate: candidate, Citer: citer, CitedAt: at})
		}
	}
	sort.Slice(citations, func(i, j int) bool {
		if citations[i].Candidate != citations[j].Candidate {
			return citations[i].Candidate < citations[j].Candidate
		}
		if !citations[i].CitedAt.Equal(citations[j].CitedAt) {
			return citations[i].CitedAt.Before(citations[j].CitedAt)
		}
		return citations[i].Citer < citations[j].Citer
	})
	return citations, nil
}

// Article returns the stored article for url.
func (m *MemoryRepository) Article(url string) (model.ArticleMetadata, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[url]
	return a, ok
}

// ArticleCount is the number of stored articles.
func (m *MemoryRepository) ArticleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.articles)
}

func (m *MemoryRepository) Close() error {
	return nil
}

// NewRepository builds the configured repository. invoker is only used by
// the binding backend.
func NewRepository(cfg Config, invoker BindingInvoker) (Repository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendPostgres:
		db, err := NewPostgresConnection(cfg)
		if err != nil {
			return nil, err
		}
		return NewPostgresRepository(db), nil
	case BackendBinding:
		if invoker == nil {
			return nil, fmt.Errorf("binding backend requires a Dapr client")
		}
		return NewBindingRepository(invoker, cfg.BindingName), nil
	}
	return NewMemoryRepository(), nil
}
