package geo

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Entity is a capitalized mention that may name a place.
type Entity struct {
	Text string
	Key  string
	// SentenceInitial marks single-word mentions whose capital may only come
	// from sentence position.
	SentenceInitial bool
}

// IsImportant reports whether an entity is worth an external geocoding call:
// capitalized, longer than minLength runes, and not capitalized by position alone.
func (e Entity) IsImportant(minLength int) bool {
	if e.SentenceInitial || e.Text == "" {
		return false
	}
	first, _ := utf8.DecodeRuneInString(e.Text)
	return unicode.IsUpper(first) && utf8.RuneCountInString(e.Text) > minLength
}

var dottedAcronym = regexp.MustCompile(`\b(?:[A-Z]\.){2,}`)

// stopwords are capitalized words that never start or continue a place name.
var stopwords = toSet(
	"a", "an", "the", "in", "on", "at", "after", "before", "but", "and", "or", "if", "when", "while",
	"this", "that", "these", "those", "it", "he", "she", "they", "we", "i", "you", "his", "her", "their",
	"our", "its", "as", "by", "for", "from", "with", "without", "to", "into", "over", "under", "amid",
	"says", "said", "breaking", "update", "live", "exclusive", "watch", "video", "photos",
	"mr", "mrs", "ms", "dr", "prof", "president", "minister", "prime", "king", "queen", "pope",
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	"january", "february", "march", "april", "may", "june", "july", "august", "september",
	"october", "november", "december",
)

// connectors may appear lower-case inside a multi-word name ("Republic of Korea").
var connectors = toSet("of", "de", "da", "del", "della", "di", "la", "le", "el", "al", "du", "dos", "das", "do", "van", "von", "y")

// abbreviations keep a run going across their trailing period ("St. Petersburg").
var abbreviations = toSet("st", "mt", "ft", "pt", "sta", "ste")

// organisations are frequent all-caps mentions that are not places.
var organisations = toSet("nato", "un", "eu", "who", "imf", "ap", "afp", "bbc", "cnn", "ceo", "gdp", "covid", "ai", "fbi", "cia")

func toSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

type word struct {
	text          string
	sentenceStart bool
	breakBefore   bool
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

func isJoiner(r rune) bool {
	return r == '\'' || r == '’' || r == '-'
}

// tokenize splits text into words and records sentence and phrase boundaries.
func tokenize(text string) []word {
	text = dottedAcronym.ReplaceAllStringFunc(text, func(s string) string {
		return strings.ReplaceAll(s, ".", "")
	})

	var (
		words     []word
		cur       strings.Builder
		sentence  = true
		breakNext = true
		lastWord  string
	)

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		w := strings.TrimRight(cur.String(), "'’-")
		cur.Reset()
		if w == "" {
			return
		}
		words = append(words, word{text: w, sentenceStart: sentence, breakBefore: breakNext})
		lastWord = w
		sentence, breakNext = false, false
	}

	rs := []rune(text)
	for i, r := range rs {
		switch {
		case isWordRune(r):
			cur.WriteRune(r)
		case isJoiner(r) && cur.Len() > 0 && i+1 < len(rs) && isWordRune(rs[i+1]):
			cur.WriteRune(r)
		default:
			flush()
			switch {
			case unicode.IsSpace(r):
				if r == '\n' {
					sentence, breakNext = true, true
				}
			case r == '.' && abbreviations[strings.ToLower(lastWord)]:
				// "St." continues the name
			case r == '.' || r == '!' || r == '?':
				sentence, breakNext = true, true
			default:
				breakNext = true
			}
		}
	}
	flush()
	return words
}

func isCapitalized(w string) bool {
	first, _ := utf8.DecodeRuneInString(w)
	return unicode.IsUpper(first)
}

// ExtractEntities returns capitalized multi-word mentions in order of first
// appearance, de-duplicated by normalized key.
func ExtractEntities(text string) []Entity {
	words := tokenize(text)
	seen := make(map[string]bool)
	var entities []Entity

	emit := func(run []word) {
		for len(run) > 0 && connectors[strings.ToLower(run[len(run)-1].text)] {
			run = run[:len(run)-1]
		}
		if len(run) == 0 {
			return
		}
		parts := make([]string, len(run))
		for i, w := range run {
			parts[i] = w.text
		}
		surface := strings.Join(parts, " ")
		key := normalizeName(surface)
		if key == "" || seen[key] || organisations[key] {
			return
		}
		seen[key] = true
		entities = append(entities, Entity{
			Text:            surface,
			Key:             key,
			SentenceInitial: len(run) == 1 && run[0].sentenceStart,
		})
	}

	var run []word
	for i := 0; i < len(words); i++ {
		w := words[i]
		lower := strings.ToLower(w.text)

		if w.breakBefore && len(run) > 0 {
			emit(run)
			run = nil
		}

		switch {
		case isCapitalized(w.text) && !stopwords[lower]:
			run = append(run, w)
		case len(run) > 0 && connectors[lower] && i+1 < len(words) &&
			!words[i+1].breakBefore && isCapitalized(words[i+1].text) && !stopwords[strings.ToLower(words[i+1].text)]:
			run = append(run, w)
		default:
			if len(run) > 0 {
				emit(run)
				run = nil
			}
		}
	}
	if len(run) > 0 {
		emit(run)
	}
	return entities
}
