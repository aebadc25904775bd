package geo

import "strings"

// vanityTLDs are country-code TLDs sold as generic branding; they say
// nothing about where a publisher is.
var vanityTLDs = map[string]bool{
	"io": true, "co": true, "tv": true, "me": true, "fm": true, "ai": true, "ws": true,
	"cc": true, "gg": true, "am": true, "la": true, "nu": true, "tk": true,
}

// tldExceptions cover ccTLDs that differ from the ISO alpha-2 code.
var tldExceptions = map[string]string{
	"uk": "GBR",
	"su": "RUS",
}

// CountryForTLD maps a country-code top-level domain ("fr", ".fr") to alpha-3.
// Generic and vanity TLDs return false.
func (t *CountryTable) CountryForTLD(tld string) (string, bool) {
	tld = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tld), "."))
	if i := strings.LastIndexByte(tld, '.'); i >= 0 {
		tld = tld[i+1:]
	}
	if len(tld) != 2 || vanityTLDs[tld] {
		return "", false
	}
	if code, ok := tldExceptions[tld]; ok {
		return code, true
	}
	return t.FromAlpha2(tld)
}
