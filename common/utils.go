package common

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// GenerateCrawlID generates a unique identifier based on the current timestamp.
// The identifier is formatted as a string in the "YYYYMMDDHHMMSS" format.
func GenerateCrawlID() string {
	return time.Now().Format("20060102150405")
}

// DownloadSeedFile downloads a remote seed list and saves it to a temporary location.
// Returns the path to the downloaded file.
func DownloadSeedFile(url, userAgent string) (string, error) {
	log.Info().Str("url", url).Msg("Downloading seed file")

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status code: %d", resp.StatusCode)
	}

	filename := filepath.Join(os.TempDir(), fmt.Sprintf("seed_sources_%s.txt", GenerateCrawlID()))
	out, err := os.Create(filename)
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	if _, err = io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("failed to write to file: %w", err)
	}

	log.Info().Str("file", filename).Msg("Seed file downloaded successfully")
	return filename, nil
}

// ReadURLsFromFile reads URLs from a file, one per line.
// It ignores empty lines and lines starting with a '#' character (comments).
func ReadURLsFromFile(filename string) ([]string, error) {
	log.Debug().Str("filename", filename).Msg("Reading URLs from file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var urls []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			urls = append(urls, line)
		}
	}

	log.Debug().Int("url_count", len(urls)).Msg("URLs read from file")
	return urls, nil
}

// Seed is one line of a seed file: "<url> [tier]".
type Seed struct {
	URL  string
	Tier int
}

// ParseSeeds splits seed lines into URL and tier. A missing tier defaults to defaultTier.
func ParseSeeds(lines []string, defaultTier int) ([]Seed, error) {
	seeds := make([]Seed, 0, len(lines))
	for i, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		seed := Seed{URL: fields[0], Tier: defaultTier}
		if len(fields) > 1 {
			var tier int
			if _, err := fmt.Sscanf(fields[1], "%d", &tier); err != nil || tier < 0 || tier > 2 {
				return nil, fmt.Errorf("line %d: invalid tier %q", i+1, fields[1])
			}
			seed.Tier = tier
		}
		seeds = append(seeds, seed)
	}
	return seeds, nil
}
