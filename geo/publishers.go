package geo

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/researchaccelerator-hub/media-atlas/common"
	"github.com/rs/zerolog/log"
)

// PublisherDirectory maps publisher domains to the country GDELT declares
// for them. Values are kept as found in the file; the resolver accepts FIPS,
// alpha-3 or a name.
type PublisherDirectory struct {
	mu        sync.RWMutex
	countries map[string]string
}

func NewPublisherDirectory() *PublisherDirectory {
	return &PublisherDirectory{countries: make(map[string]string)}
}

// ParsePublisherDirectory reads "domain<TAB>country[<TAB>name]" lines, the
// layout of GDELT's source country list. Comma separated lines are accepted
// too. Blank lines and '#' comments are skipped.
func ParsePublisherDirectory(r io.Reader) (*PublisherDirectory, error) {
	dir := NewPublisherDirectory()
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.FieldsFunc(text, func(r rune) bool { return r == '\t' || r == ',' })
		if len(fields) < 2 {
			return nil, fmt.Errorf("publisher directory line %d: expected domain and country", line)
		}
		dir.Set(fields[0], fields[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read publisher directory: %w", err)
	}
	return dir, nil
}

// LoadPublisherDirectory reads a directory file. An empty path yields an
// empty directory.
func LoadPublisherDirectory(path string) (*PublisherDirectory, error) {
	if path == "" {
		return NewPublisherDirectory(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open publisher directory: %w", err)
	}
	defer f.Close()

	dir, err := ParsePublisherDirectory(f)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Int("publishers", dir.Len()).Msg("Loaded publisher country directory")
	return dir, nil
}

func directoryKey(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if d, err := common.RegistrableDomain(domain); err == nil && d != "" {
		return d
	}
	return domain
}

func (d *PublisherDirectory) Set(domain, country string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.countries[directoryKey(domain)] = strings.TrimSpace(country)
}

// Country returns the declared country of domain, or "".
func (d *PublisherDirectory) Country(domain string) string {
	if d == nil {
		return ""
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.countries[directoryKey(domain)]
}

func (d *PublisherDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.countries)
}
