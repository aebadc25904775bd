package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func entityTexts(entities []Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.Text
	}
	return out
}

func TestExtractEntities(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "sentence initial word and place",
			text: "Rescue teams deployed in Lyon after flooding",
			want: []string{"Rescue", "Lyon"},
		},
		{
			name: "multi word name",
			text: "Protests erupted in Buenos Aires on Monday.",
			want: []string{"Protests", "Buenos Aires"},
		},
		{
			name: "lower case connector inside a name",
			text: "Talks between the Republic of Korea and Japan resumed",
			want: []string{"Talks", "Republic of Korea", "Japan"},
		},
		{
			name: "dotted acronyms",
			text: "The U.S. and the UK agreed on sanctions",
			want: []string{"US", "UK"},
		},
		{
			name: "abbreviation period does not split",
			text: "St. Petersburg hosted the forum",
			want: []string{"St Petersburg"},
		},
		{
			name: "title case headline split on stopwords",
			text: "Flooding In Lyon As Rivers Rise",
			want: []string{"Flooding", "Lyon", "Rivers Rise"},
		},
		{
			name: "organisations dropped",
			text: "NATO leaders gathered in Vilnius",
			want: []string{"Vilnius"},
		},
		{
			name: "duplicates collapse",
			text: "Kyiv said. Officials in Kyiv later confirmed",
			want: []string{"Kyiv", "Officials"},
		},
		{
			name: "punctuation breaks a run",
			text: "Visitors from Paris, Berlin and Rome",
			want: []string{"Visitors", "Paris", "Berlin", "Rome"},
		},
		{
			name: "no capitals",
			text: "nothing to see here",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := entityTexts(ExtractEntities(tt.text))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractEntities_SentenceInitial(t *testing.T) {
	entities := ExtractEntities("Rescue teams arrived. Lyon was flooded.\nBuenos Aires sent help")
	byText := make(map[string]Entity)
	for _, e := range entities {
		byText[e.Text] = e
	}

	assert.True(t, byText["Rescue"].SentenceInitial)
	assert.True(t, byText["Lyon"].SentenceInitial)
	assert.False(t, byText["Buenos Aires"].SentenceInitial, "multi word runs are never positional")
}

func TestEntity_IsImportant(t *testing.T) {
	tests := []struct {
		entity Entity
		want   bool
	}{
		{Entity{Text: "Lyon"}, true},
		{Entity{Text: "Ufa"}, false},
		{Entity{Text: "Rescue", SentenceInitial: true}, false},
		{Entity{Text: "lyon"}, false},
		{Entity{Text: "Évreux"}, true},
		{Entity{}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.entity.IsImportant(3), tt.entity.Text)
	}
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "cote d ivoire", normalizeName("Côte d'Ivoire"))
	assert.Equal(t, "sao paulo", normalizeName("  São   Paulo "))
	assert.Equal(t, "zurich", normalizeName("ZÜRICH"))
	assert.Equal(t, "", normalizeName("--"))
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("france", "france"))
	assert.Equal(t, 1, levenshtein("kazakstan", "kazakhstan"))
	assert.Equal(t, 2, levenshtein("germnay", "germany"))
	assert.Equal(t, 3, levenshtein("", "abc"))
}
