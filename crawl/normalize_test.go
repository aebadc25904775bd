package crawl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"root gets slash", "https://lemonde.fr", "https://lemonde.fr/", false},
		{"http upgraded and host lowered", "http://WWW.LeMonde.FR/Planete", "https://www.lemonde.fr/Planete", false},
		{"default port dropped", "https://elpais.com:443/a/", "https://elpais.com/a", false},
		{"custom port kept", "http://localhost:8080/a", "https://localhost:8080/a", false},
		{"fragment dropped", "https://elpais.com/a#top", "https://elpais.com/a", false},
		{"dot segments resolved", "https://elpais.com/a/./b/../c", "https://elpais.com/a/c", false},
		{"tracking stripped and query sorted", "https://elpais.com/s?z=1&utm_source=x&a=2&xtor=RSS", "https://elpais.com/s?a=2&z=1", false},
		{"only tracking params", "https://elpais.com/s?fbclid=abc", "https://elpais.com/s", false},
		{"credentials dropped", "https://user:pw@elpais.com/", "https://elpais.com/", false},
		{"empty", "", "", true},
		{"relative", "/a/b", "", true},
		{"unsupported scheme", "ftp://elpais.com/file", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestURLHash(t *testing.T) {
	a, err := URLHash("http://www.lemonde.fr/a.html?utm_campaign=x#c")
	require.NoError(t, err)
	b, err := URLHash("https://www.lemonde.fr/a.html")
	require.NoError(t, err)
	c, err := URLHash("https://www.lemonde.fr/b.html")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
