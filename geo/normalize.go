package geo

import (
	"strings"
	"unicode"

	ahocorasick "github.com/cloudflare/ahocorasick"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// removeAccents strips diacritical marks from a string.
func removeAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// normalizeName lower-cases, folds accents and reduces punctuation to single
// spaces: "Côte d'Ivoire" -> "cote d ivoire".
func normalizeName(s string) string {
	s = removeAccents(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// nameMatcher finds whole-word occurrences of known names in a normalized string.
type nameMatcher struct {
	names   []string
	values  []string
	matcher *ahocorasick.Matcher
}

func newNameMatcher(entries map[string]string) *nameMatcher {
	m := &nameMatcher{}
	padded := make([]string, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for name, value := range entries {
		key := normalizeName(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		m.names = append(m.names, key)
		m.values = append(m.values, value)
		padded = append(padded, " "+key+" ")
	}
	m.matcher = ahocorasick.NewStringMatcher(padded)
	return m
}

// locationalQualifiers may surround a place name without changing which
// place it is: "Central London", "Northern Papua New Guinea".
var locationalQualifiers = toSet(
	"north", "south", "east", "west", "northern", "southern", "eastern", "western",
	"northeast", "northwest", "southeast", "southwest", "northeastern", "northwestern",
	"southeastern", "southwestern", "central", "greater", "downtown", "inner", "outer",
	"rural", "coastal", "suburban", "metropolitan", "metro", "city", "region", "province",
	"of", "the",
)

// lookup returns the value of key when it is a known name, or of the longest
// known name in key whose surrounding words are all locational qualifiers.
// "Paris Hilton" and "New Mexico" do not match "Paris" or "Mexico".
func (m *nameMatcher) lookup(key string) (name, value string, ok bool) {
	if key == "" {
		return "", "", false
	}
	padded := " " + key + " "
	hits := m.matcher.MatchThreadSafe([]byte(padded))
	best := -1
	for _, idx := range hits {
		if !qualifiedOnly(padded, m.names[idx]) {
			continue
		}
		if best < 0 || len(m.names[idx]) > len(m.names[best]) ||
			(len(m.names[idx]) == len(m.names[best]) && m.names[idx] < m.names[best]) {
			best = idx
		}
	}
	if best < 0 {
		return "", "", false
	}
	return m.names[best], m.values[best], true
}

// qualifiedOnly reports whether every word of padded outside name is a
// locational qualifier.
func qualifiedOnly(padded, name string) bool {
	at := strings.Index(padded, " "+name+" ")
	if at < 0 {
		return false
	}
	rest := padded[:at] + " " + padded[at+len(name)+2:]
	for _, w := range strings.Fields(rest) {
		if !locationalQualifiers[w] {
			return false
		}
	}
	return true
}

// levenshtein is the edit distance between two short strings.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
