package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/researchaccelerator-hub/media-atlas/model"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
	defaultPingTimeout     = 5 * time.Second
)

const upsertSourceQuery = `
	INSERT INTO media_sources (
		domain, tier, citation_credits, structural_fingerprint, status,
		suspend_reason, last_fingerprint_change_at, promoted_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (domain) DO UPDATE SET
		tier = EXCLUDED.tier,
		citation_credits = GREATEST(media_sources.citation_credits, EXCLUDED.citation_credits),
		structural_fingerprint = COALESCE(EXCLUDED.structural_fingerprint, media_sources.structural_fingerprint),
		status = EXCLUDED.status,
		suspend_reason = EXCLUDED.suspend_reason,
		last_fingerprint_change_at = COALESCE(EXCLUDED.last_fingerprint_change_at, media_sources.last_fingerprint_change_at),
		promoted_at = COALESCE(media_sources.promoted_at, EXCLUDED.promoted_at),
		updated_at = EXCLUDED.updated_at
`

// The resolution columns are only written while the stored row has none.
const upsertArticleQuery = `
	INSERT INTO articles (
		url, source_domain, title, published_at, outlinks,
		country_code, confidence, method, entity, resolved_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (url) DO UPDATE SET
		title = EXCLUDED.title,
		published_at = COALESCE(EXCLUDED.published_at, articles.published_at),
		outlinks = EXCLUDED.outlinks,
		country_code = CASE WHEN articles.resolved_at IS NULL THEN EXCLUDED.country_code ELSE articles.country_code END,
		confidence = CASE WHEN articles.resolved_at IS NULL THEN EXCLUDED.confidence ELSE articles.confidence END,
		method = CASE WHEN articles.resolved_at IS NULL THEN EXCLUDED.method ELSE articles.method END,
		entity = CASE WHEN articles.resolved_at IS NULL THEN EXCLUDED.entity ELSE articles.entity END,
		resolved_at = COALESCE(articles.resolved_at, EXCLUDED.resolved_at),
		updated_at = EXCLUDED.updated_at
`

const selectSourcesQuery = `
	SELECT domain, tier, citation_credits, structural_fingerprint, status,
		suspend_reason, last_fingerprint_change_at, promoted_at, updated_at
	FROM media_sources
	ORDER BY domain
`

const insertCitationQuery = `
	INSERT INTO candidate_citations (candidate, citer, cited_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (candidate, citer) DO NOTHING
`

const selectCitationsQuery = `
	SELECT c.candidate, c.citer, c.cited_at
	FROM candidate_citations c
	JOIN media_sources s ON s.domain = c.candidate
	WHERE s.status = 'candidate'
	ORDER BY c.candidate, c.cited_at, c.citer
`

func citationArgs(c model.Citation) []interface{} {
	at := c.CitedAt
	if at.IsZero() {
		at = time.Now()
	}
	return []interface{}{c.Candidate, c.Citer, at.UTC()}
}

// sourceRow is the media_sources row. The fingerprint is stored as BIGINT.
type sourceRow struct {
	Domain                  string         `db:"domain"`
	Tier                    int            `db:"tier"`
	CitationCredits         int            `db:"citation_credits"`
	StructuralFingerprint   sql.NullInt64  `db:"structural_fingerprint"`
	Status                  string         `db:"status"`
	SuspendReason           sql.NullString `db:"suspend_reason"`
	LastFingerprintChangeAt *time.Time     `db:"last_fingerprint_change_at"`
	PromotedAt              *time.Time     `db:"promoted_at"`
	UpdatedAt               time.Time      `db:"updated_at"`
}

func (r sourceRow) toModel() model.MediaSource {
	return model.MediaSource{
		Domain:                  r.Domain,
		Tier:                    model.Tier(r.Tier),
		CitationCredits:         r.CitationCredits,
		StructuralFingerprint:   uint64(r.StructuralFingerprint.Int64),
		HasFingerprint:          r.StructuralFingerprint.Valid,
		Status:                  model.SourceStatus(r.Status),
		SuspendReason:           r.SuspendReason.String,
		LastFingerprintChangeAt: r.LastFingerprintChangeAt,
		PromotedAt:              r.PromotedAt,
		UpdatedAt:               r.UpdatedAt,
	}
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func sourceArgs(s model.MediaSource) []interface{} {
	var fp interface{}
	if s.HasFingerprint {
		fp = int64(s.StructuralFingerprint)
	}
	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return []interface{}{
		s.Domain,
		int(s.Tier),
		s.CitationCredits,
		fp,
		string(s.Status),
		nullableString(s.SuspendReason),
		nullableTime(s.LastFingerprintChangeAt),
		nullableTime(s.PromotedAt),
		updated.UTC(),
	}
}

func articleArgs(a model.ArticleMetadata) []interface{} {
	var (
		country, confidence, method, entity interface{}
		resolvedAt                          interface{}
	)
	if r := a.GeoResolution; r != nil {
		country = nullableString(r.CountryCode)
		confidence = string(r.Confidence)
		method = r.Method.Label()
		entity = nullableString(r.Entity)
		resolvedAt = r.ResolvedAt.UTC()
	}
	outlinks := pq.StringArray(a.Outlinks)
	if outlinks == nil {
		outlinks = pq.StringArray{}
	}
	return []interface{}{
		a.URL,
		a.SourceDomain,
		nullableString(a.Title),
		nullableTime(a.PublishedAt),
		outlinks,
		country,
		confidence,
		method,
		entity,
		resolvedAt,
		time.Now().UTC(),
	}
}

// driverArgs converts arguments to the plain values a driver would send.
func driverArgs(args []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(args))
	for i, a := range args {
		if v, ok := a.(driver.Valuer); ok {
			dv, err := v.Value()
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i+1, err)
			}
			out[i] = dv
			continue
		}
		out[i] = a
	}
	return out, nil
}

// NewPostgresConnection opens and pings a PostgreSQL pool.
func NewPostgresConnection(cfg Config) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// PostgresRepository writes through sqlx. The schema lives in schema.sql
// and is managed outside this process.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) UpsertSource(ctx context.Context, source model.MediaSource) error {
	if source.Domain == "" {
		return fmt.Errorf("source domain cannot be empty")
	}
	if _, err := r.db.ExecContext(ctx, upsertSourceQuery, sourceArgs(source)...); err != nil {
		return fmt.Errorf("failed to upsert source %s: %w", source.Domain, err)
	}
	log.Debug().Str("domain", source.Domain).Str("status", string(source.Status)).Msg("Upserted media source")
	return nil
}

func (r *PostgresRepository) UpsertArticle(ctx context.Context, article model.ArticleMetadata) error {
	if article.URL == "" {
		return fmt.Errorf("article URL cannot be empty")
	}
	if _, err := r.db.ExecContext(ctx, upsertArticleQuery, articleArgs(article)...); err != nil {
		return fmt.Errorf("failed to upsert article %s: %w", article.URL, err)
	}
	return nil
}

func (r *PostgresRepository) LoadSources(ctx context.Context) ([]model.MediaSource, error) {
	var rows []sourceRow
	if err := r.db.SelectContext(ctx, &rows, selectSourcesQuery); err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	sources := make([]model.MediaSource, 0, len(rows))
	for _, row := range rows {
		sources = append(sources, row.toModel())
	}
	return sources, nil
}

func (r *PostgresRepository) RecordCitation(ctx context.Context, citation model.Citation) error {
	if citation.Candidate == "" || citation.Citer == "" {
		return fmt.Errorf("citation needs a candidate and a citer")
	}
	if _, err := r.db.ExecContext(ctx, insertCitationQuery, citationArgs(citation)...); err != nil {
		return fmt.Errorf("failed to record citation %s -> %s: %w", citation.Citer, citation.Candidate, err)
	}
	return nil
}

func (r *PostgresRepository) LoadCitations(ctx context.Context) ([]model.Citation, error) {
	var citations []model.Citation
	if err := r.db.SelectContext(ctx, &citations, selectCitationsQuery); err != nil {
		return nil, fmt.Errorf("failed to load citations: %w", err)
	}
	return citations, nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}
