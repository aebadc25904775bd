package discovery

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

const articlePage = `<!DOCTYPE html>
<html>
<head>
  <title>Floods | Le Monde</title>
  <meta property="og:title" content="Rescue teams deployed in Lyon after flooding">
  <meta property="article:published_time" content="2024-05-01T08:30:00+02:00">
</head>
<body>
  <header>
    <a href="/">Home</a>
    <a href="https://www.facebook.com/lemonde">Facebook</a>
  </header>
  <nav class="menu">
    <a href="https://www.lemonde.fr/international/">International</a>
    <a href="https://partner-network.example/">Partner</a>
  </nav>
  <article>
    <h1>Rescue teams deployed in Lyon after flooding</h1>
    <p>Rescue teams deployed in Lyon after flooding.
       According to <a href="https://www.ouest-france.fr/meteo/crue-123">Ouest-France</a>, rivers rose overnight.</p>
    <p>Officials cited <a href="https://apnews.com/article/abc#top">AP reporting</a> and
       <a href="https://www.lemonde.fr/planete/article/x.html">earlier coverage</a>.</p>
    <p>See also <a href="https://news.apnews.com/other">another AP story</a> and
       <a href="mailto:desk@lemonde.fr">the desk</a>.</p>
    <aside><a href="https://sidebar-ads.example/">Sponsored</a></aside>
    <div class="share"><a href="https://twitter.com/intent/tweet">Share</a></div>
    <script>var x = "<a href='https://script.example/'>";</script>
  </article>
  <footer><a href="https://www.legal-notices.example/">Legal</a></footer>
</body>
</html>`

func parse(t *testing.T, s string) *html.Node {
	t.Helper()
	root, err := html.Parse(strings.NewReader(s))
	require.NoError(t, err)
	return root
}

func TestExtractArticle(t *testing.T) {
	root := parse(t, articlePage)

	article, err := ExtractArticle("https://www.lemonde.fr/planete/article/floods.html", root)
	require.NoError(t, err)

	assert.Equal(t, "Rescue teams deployed in Lyon after flooding", article.Title)
	require.NotNil(t, article.PublishedAt)
	assert.Equal(t, time.Date(2024, 5, 1, 6, 30, 0, 0, time.UTC), *article.PublishedAt)

	assert.Equal(t, []string{"ouest-france.fr", "apnews.com"}, article.Citations)

	lines := strings.Split(article.Text, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Rescue teams deployed in Lyon after flooding", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "Rescue teams deployed in Lyon after flooding. According to Ouest-France"))
	assert.NotContains(t, article.Text, "Sponsored")
	assert.NotContains(t, article.Text, "var x")
}

func TestExtractArticle_DoesNotModifyTree(t *testing.T) {
	root := parse(t, articlePage)

	_, err := ExtractArticle("https://www.lemonde.fr/a.html", root)
	require.NoError(t, err)

	var buf strings.Builder
	require.NoError(t, html.Render(&buf, root))
	assert.Contains(t, buf.String(), "partner-network.example")
	assert.Contains(t, buf.String(), "sidebar-ads.example")
}

func TestExtractBodyOutlinks(t *testing.T) {
	tests := []struct {
		name    string
		pageURL string
		body    string
		want    []string
	}{
		{
			name:    "article body only",
			pageURL: "https://www.lemonde.fr/a.html",
			body:    articlePage,
			want:    []string{"ouest-france.fr", "apnews.com"},
		},
		{
			name:    "main without article",
			pageURL: "https://example.org/story",
			body: `<body><nav><a href="https://nav.example/">n</a></nav>
				<main><p><a href="/local">local</a> <a href="//cited.example.com/x">cited</a></p></main></body>`,
			want: []string{"example.com"},
		},
		{
			name:    "role navigation and sponsored links skipped",
			pageURL: "https://example.org/story",
			body: `<body><div role="navigation"><a href="https://menu.example/">m</a></div>
				<p><a rel="sponsored nofollow" href="https://ads.example/">ad</a>
				<a href="https://www.bbc.co.uk/news/1">bbc</a></p></body>`,
			want: []string{"bbc.co.uk"},
		},
		{
			name:    "no links",
			pageURL: "https://example.org/",
			body:    `<body><p>Nothing to see</p></body>`,
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBodyOutlinks(tt.pageURL, parse(t, tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractInternalLinks(t *testing.T) {
	body := `<body>
		<nav><a href="/international/">International</a><a href="/">Home</a></nav>
		<a href="/planete/article/1.html">One</a>
		<a href="https://www.lemonde.fr/planete/article/1.html#comments">One again</a>
		<a href="https://campus.lemonde.fr/2.html">Two</a>
		<a href="https://www.ouest-france.fr/3.html">External</a>
		<a href="javascript:void(0)">JS</a>
	</body>`

	links, err := ExtractInternalLinks("https://www.lemonde.fr/", parse(t, body), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://www.lemonde.fr/international/",
		"https://www.lemonde.fr/planete/article/1.html",
		"https://campus.lemonde.fr/2.html",
	}, links)

	limited, err := ExtractInternalLinks("https://www.lemonde.fr/", parse(t, body), 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestPublishedAtLayouts(t *testing.T) {
	tests := []struct {
		body string
		want *time.Time
	}{
		{`<head><meta name="pubdate" content="2024-03-02"></head>`, ptrTime(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))},
		{`<body><time datetime="2024-03-02T10:00:00Z">2 March</time></body>`, ptrTime(time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC))},
		{`<head><meta name="pubdate" content="yesterday"></head>`, nil},
		{`<body></body>`, nil},
	}
	for _, tt := range tests {
		article, err := ExtractArticle("https://example.org/a", parse(t, tt.body))
		require.NoError(t, err)
		assert.Equal(t, tt.want, article.PublishedAt, tt.body)
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
