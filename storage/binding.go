package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	daprc "github.com/dapr/go-sdk/client"
	"github.com/researchaccelerator-hub/media-atlas/model"
	"github.com/rs/zerolog/log"
)

// BindingInvoker is the part of the Dapr client used to reach an output binding.
type BindingInvoker interface {
	InvokeBinding(ctx context.Context, in *daprc.InvokeBindingRequest) (*daprc.BindingEvent, error)
}

const (
	selectSourcesJSONQuery   = `SELECT row_to_json(s) AS source FROM (` + selectSourcesQuery + `) s`
	selectCitationsJSONQuery = `SELECT row_to_json(c) AS citation FROM (` + selectCitationsQuery + `) c`
)

// BindingRepository runs the same upserts through a Dapr postgresql output
// binding, for deployments where the sidecar owns the database credentials.
type BindingRepository struct {
	client  BindingInvoker
	binding string
}

func NewBindingRepository(client BindingInvoker, bindingName string) *BindingRepository {
	return &BindingRepository{client: client, binding: bindingName}
}

func (r *BindingRepository) invoke(ctx context.Context, operation, query string, args []interface{}) (*daprc.BindingEvent, error) {
	metadata := map[string]string{"sql": query}
	if len(args) > 0 {
		values, err := driverArgs(args)
		if err != nil {
			return nil, err
		}
		params, err := json.Marshal(values)
		if err != nil {
			return nil, fmt.Errorf("failed to encode binding params: %w", err)
		}
		metadata["params"] = string(params)
	}

	req := daprc.InvokeBindingRequest{
		Name:      r.binding,
		Operation: operation,
		Metadata:  metadata,
	}
	out, err := r.client.InvokeBinding(ctx, &req)
	if err != nil {
		return nil, fmt.Errorf("binding %s %s failed: %w", r.binding, operation, err)
	}
	return out, nil
}

func (r *BindingRepository) UpsertSource(ctx context.Context, source model.MediaSource) error {
	if source.Domain == "" {
		return fmt.Errorf("source domain cannot be empty")
	}
	if _, err := r.invoke(ctx, "exec", upsertSourceQuery, sourceArgs(source)); err != nil {
		return fmt.Errorf("failed to upsert source %s: %w", source.Domain, err)
	}
	log.Debug().Str("domain", source.Domain).Str("binding", r.binding).Msg("Upserted media source via binding")
	return nil
}

func (r *BindingRepository) UpsertArticle(ctx context.Context, article model.ArticleMetadata) error {
	if article.URL == "" {
		return fmt.Errorf("article URL cannot be empty")
	}
	if _, err := r.invoke(ctx, "exec", upsertArticleQuery, articleArgs(article)); err != nil {
		return fmt.Errorf("failed to upsert article %s: %w", article.URL, err)
	}
	return nil
}

// bindingSource is one media_sources row as produced by row_to_json.
type bindingSource struct {
	Domain                  string     `json:"domain"`
	Tier                    int        `json:"tier"`
	CitationCredits         int        `json:"citation_credits"`
	StructuralFingerprint   *int64     `json:"structural_fingerprint"`
	Status                  string     `json:"status"`
	SuspendReason           *string    `json:"suspend_reason"`
	LastFingerprintChangeAt *time.Time `json:"last_fingerprint_change_at"`
	PromotedAt              *time.Time `json:"promoted_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

func (b bindingSource) toModel() model.MediaSource {
	s := model.MediaSource{
		Domain:                  b.Domain,
		Tier:                    model.Tier(b.Tier),
		CitationCredits:         b.CitationCredits,
		Status:                  model.SourceStatus(b.Status),
		LastFingerprintChangeAt: b.LastFingerprintChangeAt,
		PromotedAt:              b.PromotedAt,
		UpdatedAt:               b.UpdatedAt,
	}
	if b.StructuralFingerprint != nil {
		s.StructuralFingerprint = uint64(*b.StructuralFingerprint)
		s.HasFingerprint = true
	}
	if b.SuspendReason != nil {
		s.SuspendReason = *b.SuspendReason
	}
	return s
}

// queryColumn runs a single-column query and returns each row's column.
func (r *BindingRepository) queryColumn(ctx context.Context, query, column string) ([]json.RawMessage, error) {
	out, err := r.invoke(ctx, "query", query, nil)
	if err != nil {
		return nil, err
	}
	if out == nil || len(bytes.TrimSpace(out.Data)) == 0 {
		return nil, nil
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(out.Data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode binding rows: %w", err)
	}
	cols := make([]json.RawMessage, 0, len(rows))
	for i, row := range rows {
		col, err := firstColumn(row, column)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		cols = append(cols, col)
	}
	return cols, nil
}

func (r *BindingRepository) LoadSources(ctx context.Context) ([]model.MediaSource, error) {
	cols, err := r.queryColumn(ctx, selectSourcesJSONQuery, "source")
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	if cols == nil {
		return nil, nil
	}

	sources := make([]model.MediaSource, 0, len(cols))
	for i, col := range cols {
		var src bindingSource
		if err := json.Unmarshal(col, &src); err != nil {
			return nil, fmt.Errorf("row %d: failed to decode source: %w", i, err)
		}
		sources = append(sources, src.toModel())
	}
	return sources, nil
}

// firstColumn extracts the single selected column from a binding row. Rows
// arrive as arrays of values or as objects keyed by column name, and a json
// column may itself arrive as a string.
func firstColumn(row json.RawMessage, column string) (json.RawMessage, error) {
	row = bytes.TrimSpace(row)
	if len(row) == 0 {
		return nil, fmt.Errorf("empty row")
	}

	var col json.RawMessage
	switch row[0] {
	case '[':
		var values []json.RawMessage
		if err := json.Unmarshal(row, &values); err != nil {
			return nil, err
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("row has no columns")
		}
		col = values[0]
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(row, &obj); err != nil {
			return nil, err
		}
		if inner, ok := obj[column]; ok && len(obj) == 1 {
			col = inner
		} else {
			col = row
		}
	default:
		col = row
	}

	col = bytes.TrimSpace(col)
	if len(col) > 0 && col[0] == '"' {
		var s string
		if err := json.Unmarshal(col, &s); err != nil {
			return nil, err
		}
		col = json.RawMessage(s)
	}
	return col, nil
}

func (r *BindingRepository) RecordCitation(ctx context.Context, citation model.Citation) error {
	if citation.Candidate == "" || citation.Citer == "" {
		return fmt.Errorf("citation needs a candidate and a citer")
	}
	if _, err := r.invoke(ctx, "exec", insertCitationQuery, citationArgs(citation)); err != nil {
		return fmt.Errorf("failed to record citation %s -> %s: %w", citation.Citer, citation.Candidate, err)
	}
	return nil
}

func (r *BindingRepository) LoadCitations(ctx context.Context) ([]model.Citation, error) {
	cols, err := r.queryColumn(ctx, selectCitationsJSONQuery, "citation")
	if err != nil {
		return nil, fmt.Errorf("failed to load citations: %w", err)
	}

	citations := make([]model.Citation, 0, len(cols))
	for i, col := range cols {
		var c model.Citation
		if err := json.Unmarshal(col, &c); err != nil {
			return nil, fmt.Errorf("row %d: failed to decode citation: %w", i, err)
		}
		citations = append(citations, c)
	}
	return citations, nil
}

func (r *BindingRepository) Close() error {
	return nil
}
