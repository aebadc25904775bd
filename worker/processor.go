package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/researchaccelerator-hub/media-atlas/discovery"
	"github.com/researchaccelerator-hub/media-atlas/distributed"
	"github.com/researchaccelerator-hub/media-atlas/fingerprint"
	"github.com/researchaccelerator-hub/media-atlas/geo"
	"github.com/researchaccelerator-hub/media-atlas/model"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

// ErrMalformed marks pages that cannot be processed. The unit of work is
// skipped, never retried.
var ErrMalformed = errors.New("malformed page")

// Resolver attaches a country of origin to article text.
type Resolver interface {
	Resolve(ctx context.Context, req geo.Request) model.GeoResolution
}

// PublisherCountries knows the declared country of a publisher domain.
type PublisherCountries interface {
	Country(domain string) string
}

// Processor turns a fetched page into a PageResult. It holds no per-page
// state and is shared by every worker goroutine.
type Processor struct {
	fingerprints *fingerprint.Service
	resolver     Resolver
	publishers   PublisherCountries
	sink         distributed.Sink
	maxLinks     int
}

// NewProcessor builds a processor. publishers may be nil.
func NewProcessor(fps *fingerprint.Service, resolver Resolver, publishers PublisherCountries, sink distributed.Sink, maxLinks int) *Processor {
	if sink == nil {
		sink = distributed.LogSink{}
	}
	return &Processor{
		fingerprints: fps,
		resolver:     resolver,
		publishers:   publishers,
		sink:         sink,
		maxLinks:     maxLinks,
	}
}

// Process parses the page once and runs the homepage or article pipeline.
// Errors wrap ErrMalformed.
func (p *Processor) Process(ctx context.Context, item distributed.WorkItem, page *Page) (*distributed.PageResult, error) {
	root, err := html.Parse(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrMalformed, item.URL, err)
	}
	base := page.FinalURL
	if base == "" {
		base = item.URL
	}

	switch item.Kind {
	case distributed.PageKindHomepage:
		return p.homepage(item, base, root)
	case distributed.PageKindArticle:
		return p.article(ctx, item, base, root)
	}
	return nil, fmt.Errorf("%w: unsupported page kind %q", ErrMalformed, item.Kind)
}

func (p *Processor) homepage(item distributed.WorkItem, base string, root *html.Node) (*distributed.PageResult, error) {
	v, err := p.fingerprints.Fingerprint(root)
	if err != nil {
		return nil, fmt.Errorf("%w: fingerprint %s: %v", ErrMalformed, item.URL, err)
	}
	links, err := discovery.ExtractInternalLinks(base, root, p.maxLinks)
	if err != nil {
		return nil, fmt.Errorf("%w: links %s: %v", ErrMalformed, item.URL, err)
	}

	fp := uint64(v)
	log.Debug().
		Str("domain", item.Domain).
		Str("fingerprint", v.String()).
		Int("links", len(links)).
		Msg("Processed homepage")
	return &distributed.PageResult{Fingerprint: &fp, Links: links}, nil
}

func (p *Processor) article(ctx context.Context, item distributed.WorkItem, base string, root *html.Node) (*distributed.PageResult, error) {
	extracted, err := discovery.ExtractArticle(base, root)
	if err != nil {
		return nil, fmt.Errorf("%w: extract %s: %v", ErrMalformed, item.URL, err)
	}

	article := model.ArticleMetadata{
		URL:           item.URL,
		SourceDomain:  item.Domain,
		PublishedAt:   extracted.PublishedAt,
		Title:         extracted.Title,
		ExtractedText: extracted.Text,
		Outlinks:      extracted.Citations,
	}

	req := geo.Request{
		Text:         strings.TrimSpace(extracted.Title + "\n" + extracted.Text),
		SourceDomain: item.Domain,
	}
	if p.publishers != nil {
		req.GDELTCountry = p.publishers.Country(item.Domain)
	}
	resolution := p.resolver.Resolve(ctx, req)
	if err := article.AttachResolution(resolution); err != nil {
		return nil, fmt.Errorf("%w: resolution for %s: %v", ErrMalformed, item.URL, err)
	}
	article.DiscardBody()

	p.sink.Emit(ctx, distributed.NewEvent(distributed.EventResolutionCompleted, item.Domain, map[string]interface{}{
		"country":    resolution.Country(),
		"confidence": string(resolution.Confidence),
		"method":     resolution.Method.Label(),
		"entity":     resolution.Entity,
	}).WithURL(item.URL))

	return &distributed.PageResult{
		Citations: extracted.Citations,
		Article:   &article,
	}, nil
}
