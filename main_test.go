package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/researchaccelerator-hub/media-atlas/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const layoutA = `<html><body>
<header><nav><ul><li><a href="/">Home</a></li><li><a href="/world">World</a></li></ul></nav></header>
<main><section class="top"><article><h2><a href="/a/1">One</a></h2><p>Text</p></article></section></main>
<footer><p>Footer</p></footer>
</body></html>`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func localEnv(t *testing.T) {
	t.Setenv("ATLAS_STORE_BACKEND", "memory")
	t.Setenv("ATLAS_EVENT_BACKEND", "log")
	t.Setenv("ATLAS_GEO_GEOCODING_ENABLED", "false")
}

func TestLoadSeeds(t *testing.T) {
	a := &app{
		seedFile: writeFile(t, "seeds.txt", "# wire services\napnews.com 0\nlemonde.fr\n\nouest-france.fr 2\n"),
		seedList: "bbc.co.uk, ,elpais.com 1",
		seedTier: 1,
	}

	seeds, err := a.loadSeeds("test-agent")
	require.NoError(t, err)
	assert.Equal(t, []common.Seed{
		{URL: "apnews.com", Tier: 0},
		{URL: "lemonde.fr", Tier: 1},
		{URL: "ouest-france.fr", Tier: 2},
		{URL: "bbc.co.uk", Tier: 1},
		{URL: "elpais.com", Tier: 1},
	}, seeds)
}

func TestLoadSeeds_Errors(t *testing.T) {
	tests := []struct {
		name string
		app  *app
	}{
		{name: "invalid tier", app: &app{seedList: "lemonde.fr 7"}},
		{name: "missing file", app: &app{seedFile: "/nonexistent/seeds.txt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.app.loadSeeds("test-agent")
			assert.Error(t, err)
		})
	}
}

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	tests := []struct {
		level   string
		format  string
		want    zerolog.Level
		wantErr bool
	}{
		{level: "debug", format: "json", want: zerolog.DebugLevel},
		{level: "", format: "", want: zerolog.InfoLevel},
		{level: "warn", format: "console", want: zerolog.WarnLevel},
		{level: "loud", format: "json", wantErr: true},
		{level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			err := setupLogging(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, zerolog.GlobalLevel())
		})
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"run", "coordinator", "worker", "resume", "schedule", "status", "resolve", "fingerprint"} {
		assert.Contains(t, names, want)
	}

	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	for _, flag := range []string{"seeds", "seeds-url", "seed-list", "tier", "concurrency"} {
		assert.NotNil(t, run.Flags().Lookup(flag), flag)
	}
}

func TestFingerprintCommand(t *testing.T) {
	a := writeFile(t, "a.html", layoutA)
	b := writeFile(t, "b.html", strings.ReplaceAll(layoutA, "One", "Two"))

	out, err := execute(t, "", "fingerprint", a, b)
	require.NoError(t, err)

	var result struct {
		Pages []struct {
			Input       string `json:"input"`
			Fingerprint string `json:"fingerprint"`
		} `json:"pages"`
		Distance *int  `json:"distance"`
		Similar  *bool `json:"similar"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Pages, 2)
	assert.Equal(t, result.Pages[0].Fingerprint, result.Pages[1].Fingerprint, "text changes do not move the layout fingerprint")
	require.NotNil(t, result.Distance)
	assert.Equal(t, 0, *result.Distance)
	require.NotNil(t, result.Similar)
	assert.True(t, *result.Similar)
}

func TestFingerprintCommand_RequiresInput(t *testing.T) {
	_, err := execute(t, "", "fingerprint")
	assert.Error(t, err)
}

func TestResolveCommand(t *testing.T) {
	localEnv(t)

	out, err := execute(t, "Flooding in Marseille\nRivers rose overnight across the region.", "resolve", "--domain", "lemonde.fr")
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "FRA", result["country"])
	assert.Equal(t, "ner-gazetteer", result["method"])
}

func TestResolveCommand_MissingGeocoderKey(t *testing.T) {
	t.Setenv("ATLAS_STORE_BACKEND", "memory")
	t.Setenv("ATLAS_EVENT_BACKEND", "log")

	_, err := execute(t, "Flooding in Marseille", "resolve", "--domain", "lemonde.fr")
	assert.Error(t, err)
}

func TestStatusCommand_NoActiveCrawl(t *testing.T) {
	localEnv(t)

	_, err := execute(t, "", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active crawl found")
}

func TestRunCommand_RejectsWorkerConfig(t *testing.T) {
	localEnv(t)
	cfg := writeFile(t, "atlas.yaml", "distributed:\n  mode: worker\n  worker_id: w-1\n")

	_, err := execute(t, "", "resume", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker command")
}
