// Package fingerprint computes structural fingerprints of fetched pages.
//
// A fingerprint is a 64-bit SimHash over weighted shingles of the DOM
// skeleton: element names plus a reduced set of layout attributes. Text
// content never contributes, so two articles rendered by the same template
// hash to the same or nearly the same vector.
package fingerprint

import (
	"bytes"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/bits"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Width is the number of bits in a Vector.
const Width = 64

// ErrEmptyDOM is returned when a document has no body structure to hash.
var ErrEmptyDOM = errors.New("document has no structural elements")

// Vector is a structural fingerprint.
type Vector uint64

func (v Vector) String() string {
	return fmt.Sprintf("%016x", uint64(v))
}

// Distance is the Hamming distance between two vectors.
func Distance(a, b Vector) int {
	return bits.OnesCount64(uint64(a ^ b))
}

// Config holds fingerprint policy.
type Config struct {
	// ShingleSize is the number of ancestor tokens joined into one shingle.
	ShingleSize int `yaml:"shingle_size" json:"shingle_size" mapstructure:"shingle_size"`
	// DriftFraction is the share of Width above which two vectors are different templates.
	DriftFraction float64 `yaml:"drift_fraction" json:"drift_fraction" mapstructure:"drift_fraction"`
}

func DefaultConfig() Config {
	return Config{
		ShingleSize:   3,
		DriftFraction: 0.10,
	}
}

func (c Config) Validate() error {
	if c.ShingleSize < 1 {
		return fmt.Errorf("fingerprint.shingle_size must be at least 1")
	}
	if c.DriftFraction <= 0 || c.DriftFraction >= 0.5 {
		return fmt.Errorf("fingerprint.drift_fraction must be in (0, 0.5)")
	}
	return nil
}

// Service computes and compares fingerprints. It holds no mutable state and
// is safe for concurrent use.
type Service struct {
	shingleSize int
	threshold   int
}

func NewService(cfg Config) *Service {
	if cfg.ShingleSize < 1 {
		cfg.ShingleSize = DefaultConfig().ShingleSize
	}
	if cfg.DriftFraction <= 0 {
		cfg.DriftFraction = DefaultConfig().DriftFraction
	}
	return &Service{
		shingleSize: cfg.ShingleSize,
		threshold:   int(math.Floor(cfg.DriftFraction * Width)),
	}
}

// Threshold is the largest distance still considered the same template.
func (s *Service) Threshold() int {
	return s.threshold
}

// Similar reports whether a and b are within the similarity threshold.
func (s *Service) Similar(a, b Vector) bool {
	return Distance(a, b) <= s.threshold
}

// FingerprintHTML parses body and fingerprints the resulting tree.
func (s *Service) FingerprintHTML(body []byte) (Vector, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("parse html: %w", err)
	}
	return s.Fingerprint(root)
}

// Fingerprint hashes the skeleton rooted at root.
func (s *Service) Fingerprint(root *html.Node) (Vector, error) {
	weights := s.shingles(root)
	if len(weights) == 0 {
		return 0, ErrEmptyDOM
	}
	return simhash(weights), nil
}

// shingles walks the element tree and returns shingle -> weight.
func (s *Service) shingles(root *html.Node) map[string]float64 {
	counts := make(map[string]int)
	depths := make(map[string]int)
	path := make([]string, 0, 32)
	bodyElements := 0

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipElement(n) {
				return
			}
			path = append(path, token(n))
			if len(path) >= 3 {
				bodyElements++
			}
			start := len(path) - s.shingleSize
			if start < 0 {
				start = 0
			}
			shingle := strings.Join(path[start:], ">")
			counts[shingle]++
			if d, ok := depths[shingle]; !ok || len(path) < d {
				depths[shingle] = len(path)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			path = path[:len(path)-1]
		}
	}
	walk(root)

	if bodyElements == 0 {
		return nil
	}

	weights := make(map[string]float64, len(counts))
	for shingle, count := range counts {
		// repeated blocks add log-scaled weight; shallow structure outweighs leaves
		weights[shingle] = (1 + math.Log2(float64(count))) * (1 + 4/float64(depths[shingle]+1))
	}
	return weights
}

func skipElement(n *html.Node) bool {
	switch n.Data {
	case "script", "style", "noscript", "template", "iframe":
		return true
	}
	return false
}

// token is the skeleton label of an element: tag, then id/role/class with digits removed.
func token(n *html.Node) string {
	var attrs []string
	for _, a := range n.Attr {
		switch a.Key {
		case "id", "role":
			if v := stripDigits(a.Val); v != "" {
				attrs = append(attrs, a.Key+"="+v)
			}
		case "class":
			classes := strings.Fields(a.Val)
			for i := range classes {
				classes[i] = stripDigits(classes[i])
			}
			sort.Strings(classes)
			if joined := strings.Trim(strings.Join(classes, "."), "."); joined != "" {
				attrs = append(attrs, "class="+joined)
			}
		}
	}
	if len(attrs) == 0 {
		return n.Data
	}
	sort.Strings(attrs)
	return n.Data + "[" + strings.Join(attrs, ",") + "]"
}

func stripDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return -1
		}
		return r
	}, strings.ToLower(s))
}

func simhash(weights map[string]float64) Vector {
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	// fixed summation order keeps float rounding deterministic
	sort.Strings(keys)

	var acc [Width]float64
	for _, shingle := range keys {
		w := weights[shingle]
		h := fnv.New64a()
		_, _ = h.Write([]byte(shingle))
		sum := h.Sum64()
		for i := 0; i < Width; i++ {
			if sum&(1<<uint(i)) != 0 {
				acc[i] += w
			} else {
				acc[i] -= w
			}
		}
	}

	var v uint64
	for i := 0; i < Width; i++ {
		if acc[i] > 0 {
			v |= 1 << uint(i)
		}
	}
	return Vector(v)
}

// Drift is the outcome of comparing a fresh fingerprint with a stored baseline.
type Drift struct {
	Distance int
	// Baseline is false when there was no earlier fingerprint to compare with.
	Baseline bool
	Drifted  bool
	At       time.Time
}

// Compare checks current against an optional baseline.
func (s *Service) Compare(baseline *Vector, current Vector, now time.Time) Drift {
	if baseline == nil {
		return Drift{At: now}
	}
	d := Distance(*baseline, current)
	return Drift{
		Distance: d,
		Baseline: true,
		Drifted:  d > s.threshold,
		At:       now,
	}
}

// Candidate is a fingerprinted domain considered for clone detection.
type Candidate struct {
	Domain      string
	Fingerprint Vector
}

// FindClone returns the closest known domain within the threshold of v.
func (s *Service) FindClone(v Vector, known []Candidate) (Candidate, int, bool) {
	best := -1
	bestDist := Width + 1
	for i, k := range known {
		if d := Distance(v, k.Fingerprint); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 || bestDist > s.threshold {
		return Candidate{}, 0, false
	}
	return known[best], bestDist, true
}
