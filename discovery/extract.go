package discovery

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/researchaccelerator-hub/media-atlas/common"
	"golang.org/x/net/html"
)

// boilerplateSelectors are removed before body links or text are read.
// Links inside them are site furniture, not citations.
const boilerplateSelectors = "script, style, noscript, template, form, nav, header, footer, aside, " +
	"[role=navigation], [role=banner], [role=contentinfo], [role=complementary], " +
	".menu, .nav, .navbar, .navigation, .breadcrumb, .breadcrumbs, .share, .social, .related, .comments"

// textBlocks are the elements whose text is collected, one per line.
const textBlocks = "h1, h2, h3, h4, h5, h6, p, li, blockquote, figcaption"

// publishedSelectors are tried in order for the publication time.
var publishedSelectors = []struct {
	selector string
	attr     string
}{
	{"meta[property='article:published_time']", "content"},
	{"meta[name='article:published_time']", "content"},
	{"meta[itemprop='datePublished']", "content"},
	{"meta[name='pubdate']", "content"},
	{"meta[name='date']", "content"},
	{"time[datetime]", "datetime"},
}

var publishedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Article is what extraction reads from an article page.
type Article struct {
	Title       string
	PublishedAt *time.Time
	Text        string
	// Citations are registrable domains linked from body content, excluding
	// the page's own domain, in order of first appearance.
	Citations []string
}

// ExtractArticle reads title, publication time, body text and cited domains.
// The node tree is not modified.
func ExtractArticle(pageURL string, root *html.Node) (*Article, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page url: %w", err)
	}
	if root == nil {
		return nil, fmt.Errorf("no document for %s", pageURL)
	}

	doc := goquery.NewDocumentFromNode(root)
	content := contentRoot(doc).Clone()
	content.Find(boilerplateSelectors).Remove()

	citations, err := bodyOutlinks(base, content)
	if err != nil {
		return nil, err
	}

	return &Article{
		Title:       pageTitle(doc),
		PublishedAt: publishedAt(doc),
		Text:        blockText(content),
		Citations:   citations,
	}, nil
}

// ExtractBodyOutlinks returns the external registrable domains linked from
// the body content of the page. Navigation and page chrome are skipped.
func ExtractBodyOutlinks(pageURL string, root *html.Node) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page url: %w", err)
	}
	if root == nil {
		return nil, nil
	}

	content := contentRoot(goquery.NewDocumentFromNode(root)).Clone()
	content.Find(boilerplateSelectors).Remove()
	return bodyOutlinks(base, content)
}

// ExtractInternalLinks returns up to limit absolute links that stay on the
// page's registrable domain. Used on homepages to find articles; navigation
// is included here since section fronts live in menus.
func ExtractInternalLinks(pageURL string, root *html.Node, limit int) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page url: %w", err)
	}
	if root == nil {
		return nil, nil
	}
	own, err := common.RegistrableDomain(pageURL)
	if err != nil {
		return nil, err
	}
	self := strings.TrimSuffix(base.ResolveReference(&url.URL{}).String(), "/")

	var links []string
	seen := make(map[string]bool)
	goquery.NewDocumentFromNode(root).Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if limit > 0 && len(links) >= limit {
			return false
		}
		abs, ok := resolveLink(base, a.AttrOr("href", ""))
		if !ok {
			return true
		}
		domain, err := common.RegistrableDomain(abs)
		if err != nil || domain != own {
			return true
		}
		key := strings.TrimSuffix(abs, "/")
		if key == self || seen[key] {
			return true
		}
		seen[key] = true
		links = append(links, abs)
		return true
	})
	return links, nil
}

// contentRoot prefers the article element, then main, then body.
func contentRoot(doc *goquery.Document) *goquery.Selection {
	for _, sel := range []string{"article", "main", "[role=main]", "body"} {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return s
		}
	}
	return doc.Selection
}

func bodyOutlinks(base *url.URL, content *goquery.Selection) ([]string, error) {
	own, err := common.RegistrableDomain(base.String())
	if err != nil {
		return nil, err
	}

	var domains []string
	seen := make(map[string]bool)
	content.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if rel := strings.ToLower(a.AttrOr("rel", "")); strings.Contains(rel, "sponsored") {
			return
		}
		abs, ok := resolveLink(base, a.AttrOr("href", ""))
		if !ok {
			return
		}
		domain, err := common.RegistrableDomain(abs)
		if err != nil || domain == own || seen[domain] {
			return
		}
		seen[domain] = true
		domains = append(domains, domain)
	})
	return domains, nil
}

// resolveLink makes href absolute and keeps only http(s) links.
func resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

func pageTitle(doc *goquery.Document) string {
	if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func publishedAt(doc *goquery.Document) *time.Time {
	for _, ps := range publishedSelectors {
		value, ok := doc.Find(ps.selector).First().Attr(ps.attr)
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		for _, layout := range publishedLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				t = t.UTC()
				return &t
			}
		}
	}
	return nil
}

// blockText joins block-level text one block per line so sentence
// boundaries survive. Falls back to all text when the page has no blocks.
func blockText(content *goquery.Selection) string {
	var lines []string
	content.Find(textBlocks).Each(func(_ int, s *goquery.Selection) {
		// nested blocks are read through their parent
		if s.ParentsFiltered(textBlocks).Length() > 0 {
			return
		}
		if line := strings.Join(strings.Fields(s.Text()), " "); line != "" {
			lines = append(lines, line)
		}
	})
	if len(lines) == 0 {
		return strings.Join(strings.Fields(content.Text()), " ")
	}
	return strings.Join(lines, "\n")
}
