package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/researchaccelerator-hub/media-atlas/common"
	"github.com/researchaccelerator-hub/media-atlas/config"
	"github.com/researchaccelerator-hub/media-atlas/model"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("media-atlas failed")
	}
}

// app carries the flag values shared by every subcommand.
type app struct {
	v       *viper.Viper
	cfgFile string

	seedFile string
	seedURL  string
	seedList string
	seedTier int
}

// flagKeys maps command-line flags to configuration keys. A flag only
// overrides the file and environment when it is set.
var flagKeys = map[string]string{
	"log-level":    "log_level",
	"log-format":   "log_format",
	"crawl-id":     "crawl.crawl_id",
	"instance-id":  "crawl.instance_id",
	"worker-id":    "distributed.worker_id",
	"concurrency":  "worker.concurrency",
	"metrics-addr": "metrics_addr",
	"publishers":   "publishers_file",
}

func newRootCommand() *cobra.Command {
	a := &app{v: config.NewViper()}

	root := &cobra.Command{
		Use:           "media-atlas",
		Short:         "Continuously map the global news-media ecosystem",
		Long:          `media-atlas discovers news outlets through citation analysis, fingerprints their page layouts and resolves every article to a country of origin.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.bindFlags(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "YAML configuration file (ATLAS_* environment variables override it)")
	pf.String("log-level", "", "log level: trace, debug, info, warn, error")
	pf.String("log-format", "", "log format: json or console")
	pf.String("crawl-id", "", "crawl identifier (generated for new crawls)")

	root.AddCommand(
		a.runCommand(),
		a.coordinatorCommand(),
		a.workerCommand(),
		a.resumeCommand(),
		a.scheduleCommand(),
		a.statusCommand(),
		a.resolveCommand(),
		a.fingerprintCommand(),
	)
	return root
}

func (a *app) bindFlags(cmd *cobra.Command) error {
	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := a.v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// addSeedFlags registers the seed inputs used by commands that start a crawl.
func (a *app) addSeedFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.seedFile, "seeds", "", "file with one seed per line: <url> [tier]")
	cmd.Flags().StringVar(&a.seedURL, "seeds-url", "", "URL of a remote seed file")
	cmd.Flags().StringVar(&a.seedList, "seed-list", "", "comma-separated list of seed domains")
	cmd.Flags().IntVar(&a.seedTier, "tier", int(model.TierNational), "tier for seeds that do not name one (0 wire, 1 national, 2 local)")
}

// loadConfig reads the configuration for mode and configures logging.
func (a *app) loadConfig(mode string) (*config.AtlasConfig, error) {
	if mode != "" {
		a.v.Set("distributed.mode", mode)
	}
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadLocalConfig is loadConfig for commands that never call the geocoder.
func (a *app) loadLocalConfig() (*config.AtlasConfig, error) {
	a.v.Set("geo.geocoding_enabled", false)
	return a.loadConfig("")
}

func setupLogging(level, format string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	switch format {
	case "", "json":
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	case "console":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	default:
		return fmt.Errorf("invalid log format %q, must be json or console", format)
	}
	return nil
}

// loadSeeds collects seeds from the seed file, the remote seed file and the
// seed list, in that order.
func (a *app) loadSeeds(userAgent string) ([]common.Seed, error) {
	var paths []string
	if a.seedFile != "" {
		paths = append(paths, a.seedFile)
	}
	if a.seedURL != "" {
		downloaded, err := common.DownloadSeedFile(a.seedURL, userAgent)
		if err != nil {
			return nil, fmt.Errorf("failed to download seed file: %w", err)
		}
		defer os.Remove(downloaded)
		paths = append(paths, downloaded)
	}

	var lines []string
	for _, path := range paths {
		fileLines, err := common.ReadURLsFromFile(path)
		if err != nil {
			return nil, err
		}
		lines = append(lines, fileLines...)
	}

	if a.seedList != "" {
		for _, s := range strings.Split(a.seedList, ",") {
			if s = strings.TrimSpace(s); s != "" {
				lines = append(lines, s)
			}
		}
	}

	seeds, err := common.ParseSeeds(lines, a.seedTier)
	if err != nil {
		return nil, fmt.Errorf("invalid seeds: %w", err)
	}
	return seeds, nil
}
