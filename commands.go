package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/researchaccelerator-hub/media-atlas/common"
	"github.com/researchaccelerator-hub/media-atlas/config"
	"github.com/researchaccelerator-hub/media-atlas/crawl"
	"github.com/researchaccelerator-hub/media-atlas/dapr"
	"github.com/researchaccelerator-hub/media-atlas/distributed"
	"github.com/researchaccelerator-hub/media-atlas/fingerprint"
	"github.com/researchaccelerator-hub/media-atlas/geo"
	"github.com/researchaccelerator-hub/media-atlas/health"
	"github.com/researchaccelerator-hub/media-atlas/orchestrator"
	"github.com/researchaccelerator-hub/media-atlas/state"
	"github.com/researchaccelerator-hub/media-atlas/worker"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func (a *app) runCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a crawl with in-process fetch workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCrawl(cmd.Context(), config.ModeStandalone, false)
		},
	}
	a.addSeedFlags(cmd)
	cmd.Flags().Int("concurrency", 0, "number of concurrent fetches")
	cmd.Flags().String("metrics-addr", "", "address for the Prometheus /metrics endpoint")
	cmd.Flags().String("publishers", "", "CSV file of publisher domains and countries")
	return cmd
}

func (a *app) coordinatorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Own the frontier and hand out work to workers over Dapr pubsub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCrawl(cmd.Context(), config.ModeCoordinator, false)
		},
	}
	a.addSeedFlags(cmd)
	cmd.Flags().String("instance-id", "", "coordinator instance id (defaults to hostname)")
	cmd.Flags().String("metrics-addr", "", "address for the Prometheus /metrics endpoint")
	return cmd
}

func (a *app) resumeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue the last checkpointed crawl, or the one named by --crawl-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCrawl(cmd.Context(), "", true)
		},
	}
	cmd.Flags().String("instance-id", "", "coordinator instance id (defaults to hostname)")
	cmd.Flags().String("metrics-addr", "", "address for the Prometheus /metrics endpoint")
	return cmd
}

func (a *app) workerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Fetch and process pages handed out by a coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWorker(cmd.Context())
		},
	}
	cmd.Flags().String("worker-id", "", "unique id of this worker")
	cmd.Flags().Int("concurrency", 0, "number of concurrent fetches")
	cmd.Flags().String("publishers", "", "CSV file of publisher domains and countries")
	return cmd
}

func (a *app) scheduleCommand() *cobra.Command {
	job := dapr.JobData{Task: dapr.TaskSeed}
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule seeds to be added to a running coordinator through the Dapr Jobs API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.schedule(cmd.Context(), job)
		},
	}
	cmd.Flags().StringVar(&job.Name, "job", "atlas-seed", "job name, one of the coordinator's distributed.dapr.job_names")
	cmd.Flags().StringVar(&job.DueTime, "due", "", "when the job fires, e.g. 1h or an RFC 3339 time")
	cmd.Flags().StringSliceVar(&job.Seeds, "seed", nil, "seed as \"<url> [tier]\"; repeatable")
	cmd.Flags().StringVar(&job.SeedFile, "seeds", "", "seed file readable by the coordinator")
	cmd.Flags().IntVar(&job.Tier, "tier", 1, "tier for seeds that do not name one")
	return cmd
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the checkpoint and health beacon of a crawl",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.printStatus(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (a *app) resolveCommand() *cobra.Command {
	var req geo.Request
	cmd := &cobra.Command{
		Use:   "resolve [file]",
		Short: "Resolve the country of origin of an article text (stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open article: %w", err)
				}
				defer f.Close()
				in = f
			}
			text, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("failed to read article: %w", err)
			}
			req.Text = string(text)
			return a.resolve(cmd.Context(), req, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&req.SourceDomain, "domain", "", "domain that published the article")
	cmd.Flags().StringVar(&req.GDELTCountry, "gdelt-country", "", "publisher country as listed by GDELT")
	cmd.Flags().StringVar(&req.DomainTLD, "tld", "", "override the suffix derived from --domain")
	cmd.Flags().String("publishers", "", "CSV file of publisher domains and countries")
	return cmd
}

func (a *app) fingerprintCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <url|file> [url|file]",
		Short: "Print the structural fingerprint of a page, or the distance between two",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fingerprint(cmd.Context(), args, cmd.OutOrStdout())
		},
	}
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// runCrawl runs a crawl until interrupted. An empty mode keeps the
// configured one.
func (a *app) runCrawl(ctx context.Context, mode string, resume bool) error {
	cfg, err := a.loadConfig(mode)
	if err != nil {
		return err
	}
	if cfg.Distributed.IsWorkerMode() {
		return fmt.Errorf("mode %q does not own a crawl, use the worker command", cfg.Distributed.Mode)
	}

	var seeds []common.Seed
	if !resume {
		seeds, err = a.loadSeeds(cfg.Worker.Fetch.UserAgent)
		if err != nil {
			return err
		}
	}

	services, err := orchestrator.BuildServices(cfg)
	if err != nil {
		return err
	}
	defer services.Close()

	if cfg.Crawl.CrawlID == "" {
		if resume {
			marker, err := crawl.ReadActiveCrawl(ctx, services.Store)
			if err != nil {
				return fmt.Errorf("no crawl to resume: %w", err)
			}
			cfg.Crawl.CrawlID = marker.CrawlID
			log.Info().Str("crawl_id", marker.CrawlID).Str("previous_owner", marker.Owner).Msg("Resuming last active crawl")
		} else {
			cfg.Crawl.CrawlID = common.GenerateCrawlID()
		}
	}

	var transport orchestrator.Transport
	var pubsub *distributed.PubSubClient
	if cfg.Distributed.IsCoordinatorMode() {
		dc := cfg.Distributed.DaprConfig
		pubsub = distributed.NewPubSubClientWithClient(services.Dapr, dc.PubSubComponent, dc.AppPort)
		transport = pubsub
	}

	orch, err := services.NewOrchestrator(transport)
	if err != nil {
		return err
	}
	if pubsub != nil && len(cfg.Distributed.DaprConfig.JobNames) > 0 {
		jobs := dapr.NewJobServer(services.Dapr, orch, cfg.Crawl.CrawlID, cfg.Distributed.DaprConfig.JobNames)
		pubsub.RegisterService(jobs.Register)
	}

	ctx, stop := signalContext(ctx)
	defer stop()
	return orch.Run(ctx, seeds)
}

func (a *app) runWorker(ctx context.Context) error {
	cfg, err := a.loadConfig(config.ModeWorker)
	if err != nil {
		return err
	}

	services, err := orchestrator.BuildServices(cfg)
	if err != nil {
		return err
	}
	defer services.Close()

	workerID := cfg.Distributed.WorkerID
	supervisor, err := services.NewSupervisor(workerID)
	if err != nil {
		return err
	}

	dc := cfg.Distributed.DaprConfig
	transport := distributed.NewPubSubClientWithClient(services.Dapr, dc.PubSubComponent, dc.AppPort)
	w, err := services.NewWorker(workerID, transport, supervisor)
	if err != nil {
		return err
	}
	supervisor.Watch(worker.FetcherSubsystem, w.RestartFetcher)

	ctx, stop := signalContext(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return supervisor.Run(gctx) })
	g.Go(func() error {
		defer w.Stop()
		return w.Start(gctx)
	})
	return g.Wait()
}

func (a *app) schedule(ctx context.Context, job dapr.JobData) error {
	cfg, err := a.loadLocalConfig()
	if err != nil {
		return err
	}
	if err := job.Validate(); err != nil {
		return err
	}
	job.CrawlID = cfg.Crawl.CrawlID

	client, err := state.NewDaprClient(*cfg.DaprClientConfig())
	if err != nil {
		return fmt.Errorf("failed to connect to Dapr sidecar: %w", err)
	}
	defer client.Close()
	return dapr.ScheduleJob(ctx, client, job)
}

func (a *app) printStatus(ctx context.Context, out io.Writer) error {
	cfg, err := a.loadLocalConfig()
	if err != nil {
		return err
	}
	store, err := state.NewStoreFactory().Create(cfg.StateConfig())
	if err != nil {
		return fmt.Errorf("failed to create state store: %w", err)
	}
	defer store.Close()

	crawlID := cfg.Crawl.CrawlID
	if crawlID == "" {
		marker, err := crawl.ReadActiveCrawl(ctx, store)
		if err != nil {
			return fmt.Errorf("no active crawl found: %w", err)
		}
		crawlID = marker.CrawlID
	}

	cp, _, err := crawl.LoadCheckpoint(ctx, store, crawlID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint for crawl %s: %w", crawlID, err)
	}

	status := map[string]interface{}{
		"checkpoint": cp.Summary(),
	}
	beacon, err := health.ReadBeacon(ctx, store, cp.Owner)
	switch {
	case err == nil:
		status["health"] = beacon
	case errors.Is(err, state.ErrNotFound):
		status["health"] = map[string]interface{}{"instance": cp.Owner, "status": "no live beacon"}
	default:
		return fmt.Errorf("failed to read health beacon: %w", err)
	}
	return writeJSON(out, status)
}

func (a *app) resolve(ctx context.Context, req geo.Request, out io.Writer) error {
	cfg, err := a.loadConfig("")
	if err != nil {
		return err
	}
	services, err := orchestrator.BuildServices(cfg)
	if err != nil {
		return err
	}
	defer services.Close()

	if req.GDELTCountry == "" && req.SourceDomain != "" {
		req.GDELTCountry = services.Publishers.Country(req.SourceDomain)
	}
	resolution := services.Resolver.Resolve(ctx, req)
	return writeJSON(out, map[string]interface{}{
		"country":    resolution.Country(),
		"confidence": resolution.Confidence,
		"method":     resolution.Method.Label(),
		"entity":     resolution.Entity,
	})
}

func (a *app) fingerprint(ctx context.Context, inputs []string, out io.Writer) error {
	cfg, err := a.loadLocalConfig()
	if err != nil {
		return err
	}
	fps := fingerprint.NewService(cfg.Fingerprint)
	fetcher := worker.NewHTTPFetcher(cfg.Worker.Fetch)

	vectors := make([]fingerprint.Vector, 0, len(inputs))
	pages := make([]map[string]interface{}, 0, len(inputs))
	for _, input := range inputs {
		body, err := readPage(ctx, fetcher, input)
		if err != nil {
			return err
		}
		v, err := fps.FingerprintHTML(body)
		if err != nil {
			return fmt.Errorf("failed to fingerprint %s: %w", input, err)
		}
		vectors = append(vectors, v)
		pages = append(pages, map[string]interface{}{"input": input, "fingerprint": v.String()})
	}

	result := map[string]interface{}{"pages": pages}
	if len(vectors) == 2 {
		result["distance"] = fingerprint.Distance(vectors[0], vectors[1])
		result["threshold"] = fps.Threshold()
		result["similar"] = fps.Similar(vectors[0], vectors[1])
	}
	return writeJSON(out, result)
}

func readPage(ctx context.Context, fetcher worker.Fetcher, input string) ([]byte, error) {
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		page, err := fetcher.Fetch(ctx, input)
		if err != nil {
			return nil, err
		}
		return page.Body, nil
	}
	body, err := os.ReadFile(input)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", input, err)
	}
	return body, nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
