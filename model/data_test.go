package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeoResolution_Validate(t *testing.T) {
	tests := []struct {
		name    string
		res     GeoResolution
		wantErr error
		anyErr  bool
	}{
		{
			name: "high from gazetteer",
			res:  GeoResolution{CountryCode: "FRA", Confidence: ConfidenceHigh, Method: MethodNERGazetteer},
		},
		{
			name:    "high from gdelt is rejected",
			res:     GeoResolution{CountryCode: "FRA", Confidence: ConfidenceHigh, Method: MethodGDELTFallback},
			wantErr: ErrHighConfidenceNER,
		},
		{
			name: "medium from gdelt",
			res:  GeoResolution{CountryCode: "USA", Confidence: ConfidenceMedium, Method: MethodGDELTFallback},
		},
		{
			name: "unresolved",
			res:  GeoResolution{Confidence: ConfidenceLow},
		},
		{
			name:   "country without method",
			res:    GeoResolution{CountryCode: "DEU", Confidence: ConfidenceLow},
			anyErr: true,
		},
		{
			name:   "alpha-2 code",
			res:    GeoResolution{CountryCode: "DE", Confidence: ConfidenceLow, Method: MethodTLDFallback},
			anyErr: true,
		},
		{
			name:   "unknown confidence",
			res:    GeoResolution{Confidence: "certain"},
			anyErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.res.Validate()
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.anyErr:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestGeoResolution_Country(t *testing.T) {
	assert.Equal(t, "UNK", GeoResolution{Confidence: ConfidenceLow}.Country())
	assert.Equal(t, "GBR", GeoResolution{CountryCode: "GBR"}.Country())
}

func TestArticleMetadata_AttachResolutionOnce(t *testing.T) {
	a := &ArticleMetadata{URL: "https://example.fr/a", SourceDomain: "example.fr"}

	first := GeoResolution{CountryCode: "FRA", Confidence: ConfidenceHigh, Method: MethodNERGazetteer, ResolvedAt: time.Now()}
	require.NoError(t, a.AttachResolution(first))

	second := GeoResolution{CountryCode: "BEL", Confidence: ConfidenceLow, Method: MethodTLDFallback}
	assert.ErrorIs(t, a.AttachResolution(second), ErrResolutionImmutable)
	assert.Equal(t, "FRA", a.GeoResolution.CountryCode)
}

func TestArticleMetadata_AttachInvalidResolution(t *testing.T) {
	a := &ArticleMetadata{URL: "https://example.fr/a"}
	err := a.AttachResolution(GeoResolution{CountryCode: "FRA", Confidence: ConfidenceHigh, Method: MethodTLDFallback})
	assert.ErrorIs(t, err, ErrHighConfidenceNER)
	assert.Nil(t, a.GeoResolution)
}

func TestArticleMetadata_BodyNeverSerialized(t *testing.T) {
	a := ArticleMetadata{
		URL:           "https://example.com/story",
		SourceDomain:  "example.com",
		ExtractedText: "the full body of the story",
		Outlinks:      []string{"other.org"},
	}

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "full body")

	a.DiscardBody()
	assert.Empty(t, a.ExtractedText)
}

func TestDiscoveryCandidate_Credits(t *testing.T) {
	c := NewDiscoveryCandidate("new.example", time.Now())
	assert.Equal(t, 0, c.Credits())

	c.CitingDomains["a.com"] = time.Now()
	c.CitingDomains["a.com"] = time.Now()
	c.CitingDomains["b.com"] = time.Now()
	assert.Equal(t, 2, c.Credits())
}

func TestTier(t *testing.T) {
	assert.True(t, TierWire.Valid())
	assert.True(t, TierLocal.Valid())
	assert.False(t, Tier(3).Valid())
	assert.Equal(t, "national", TierNational.String())
	assert.Equal(t, "tier(7)", Tier(7).String())
}

func TestMethodLabel(t *testing.T) {
	assert.Equal(t, "unresolved", MethodNone.Label())
	assert.Equal(t, "tld-fallback", MethodTLDFallback.Label())
}
