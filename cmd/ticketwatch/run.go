package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pedeee/ticketwatch/internal/config"
	"github.com/pedeee/ticketwatch/internal/extract"
	"github.com/pedeee/ticketwatch/internal/fetch"
	"github.com/pedeee/ticketwatch/internal/history"
	"github.com/pedeee/ticketwatch/internal/metrics"
	"github.com/pedeee/ticketwatch/internal/notify"
	"github.com/pedeee/ticketwatch/internal/ops"
	"github.com/pedeee/ticketwatch/internal/pipeline"
	"github.com/pedeee/ticketwatch/internal/snapshot"
	"github.com/pedeee/ticketwatch/internal/snapshot/gcs"
	"github.com/pedeee/ticketwatch/internal/snapshot/local"
	"github.com/pedeee/ticketwatch/internal/state"
)

type runFlags struct {
	Batch       bool
	Target      int
	MetricsAddr string
}

// newRunCmd builds the `run` subcommand: one full watch cycle over a
// URL file.
func newRunCmd(a *app) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [url-file]",
		Short: "Execute one watch cycle",
		Long: `Run fetches a prioritized subset of the watch list, extracts each
event's ticket status, diffs against the previous run, persists the
merged state, and prints what changed.

With an explicit url-file argument the run uses that file and keeps its
state in sibling files (<file>.state.json, <file>.failed.json), so batch
files never touch the master state.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := a.cfg.Paths
			if len(args) == 1 {
				paths = paths.ForURLFile(args[0])
			}
			opts := runOptions{
				Paths:       paths,
				TargetCount: a.cfg.Watch.TargetCount,
				BatchMode:   flags.Batch,
				MetricsAddr: a.cfg.Ops.MetricsAddr,
			}
			if flags.Target > 0 {
				opts.TargetCount = flags.Target
			}
			if flags.MetricsAddr != "" {
				opts.MetricsAddr = flags.MetricsAddr
			}
			return executeRun(cmd.Context(), a, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&flags.Batch, "batch", false, "fetch every URL in the file instead of a prioritized subset")
	cmd.Flags().IntVar(&flags.Target, "target", 0, "override the configured per-run URL target")
	cmd.Flags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "serve health and metrics endpoints at this address for the run's duration")
	return cmd
}

// runOptions are the per-invocation knobs; everything else comes from
// the loaded config.
type runOptions struct {
	Paths       config.PathsConfig
	TargetCount int
	BatchMode   bool
	MetricsAddr string
}

// executeRun assembles the engine and its collaborators from config and
// drives one cycle. The batch subcommand reuses it with isolated paths.
func executeRun(ctx context.Context, a *app, opts runOptions, out io.Writer) error {
	cfg := a.cfg
	log := a.log

	client, closeClient := buildFetchClient(cfg.Fetch, log)
	defer closeClient()

	extractor := extract.New(extract.Config{
		PriceSelector:      cfg.Extract.PriceSelector,
		HighPriceThreshold: decimal.NewFromFloat(cfg.Extract.HighPriceThreshold),
		ExcludeHints:       cfg.Extract.ExcludeHints,
	}, log.Named("extract"))

	retry := pipeline.RetryPolicy{
		MaxAttempts: cfg.Watch.RetryAttempts,
		BaseDelay:   cfg.Watch.RetryBaseDelay,
		MaxDelay:    cfg.Watch.RetryMaxDelay,
	}
	fetcher := pipeline.NewFetcher(client, extractor, pipeline.NewPacer(cfg.Watch.RequestDelay), retry, pipeline.FetcherConfig{
		Concurrency:     cfg.Watch.Concurrency,
		ProgressEvery:   cfg.Watch.ProgressEvery,
		CheckpointEvery: cfg.Watch.CheckpointEvery,
	}, log.Named("fetch"))

	deps := pipeline.EngineDeps{
		Store:     state.NewFileStore(opts.Paths.StateFile, opts.Paths.FailedFile, log.Named("state")),
		Selector:  pipeline.NewSelector(nil),
		Fetcher:   fetcher,
		Log:       log.Named("engine"),
		Notifiers: []pipeline.Notifier{notify.NewLogNotifier(log.Named("notify"))},
	}

	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			Token:  cfg.Telegram.Token,
			ChatID: cfg.Telegram.ChatID,
		}, log.Named("telegram"))
		if err != nil {
			return fmt.Errorf("telegram notifier: %w", err)
		}
		deps.Notifiers = append(deps.Notifiers, tg)
	}

	if cfg.PubSub.ProjectID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		defer func() { _ = psClient.Close() }()
		pub, err := notify.NewPubSubPublisher(psClient, cfg.PubSub.TopicName, log.Named("pubsub"))
		if err != nil {
			return fmt.Errorf("pubsub publisher: %w", err)
		}
		defer pub.Stop()
		deps.Publisher = pub
	}

	if cfg.History.DSN != "" {
		hist, err := history.NewStore(ctx, history.StoreConfig{DSN: cfg.History.DSN})
		if err != nil {
			return fmt.Errorf("history store: %w", err)
		}
		defer hist.Close()
		deps.History = hist
	}

	archive, closeArchive, err := buildArchive(ctx, cfg.Snapshots, log)
	if err != nil {
		return err
	}
	defer closeArchive()
	if archive != nil {
		deps.Snapshots = archive
	}

	metrics.Init()
	if opts.MetricsAddr != "" {
		srv := ops.NewServer(opts.MetricsAddr, log.Named("ops"))
		srv.Start()
		srv.SetReady(true)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				log.Warn("ops server shutdown", zap.Error(serr))
			}
		}()
	}

	engine := pipeline.NewEngine(pipeline.EngineConfig{
		URLFile:     opts.Paths.URLFile,
		TargetCount: opts.TargetCount,
		BatchMode:   opts.BatchMode,
	}, deps)

	report, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	printReport(out, report)
	return nil
}

// buildFetchClient assembles the transport stack: colly always, the
// headless and bypass clients when configured. Either optional client
// failing to initialize degrades the stack rather than aborting the run.
func buildFetchClient(cfg config.FetchConfig, log *zap.Logger) (fetch.Client, func()) {
	uas := fetch.NewUserAgents(cfg.UserAgents)
	primary := fetch.NewCollyClient(fetch.CollyConfig{
		Timeout:    cfg.Timeout,
		UserAgents: uas,
	}, log.Named("colly"))

	var headless fetch.Client
	if cfg.HeadlessMode != fetch.ModeOff {
		hc, err := fetch.NewHeadlessClient(fetch.HeadlessConfig{
			MaxParallel: cfg.HeadlessMaxParallel,
			NavTimeout:  cfg.NavTimeout,
			SettleDelay: cfg.SettleDelay,
			UserAgents:  uas,
		}, log.Named("headless"))
		if err != nil {
			log.Warn("headless client init failed", zap.Error(err))
		} else {
			headless = hc
		}
	}

	var bypass fetch.Client
	if cfg.BypassEnabled {
		bc, err := fetch.NewBypassClient(fetch.BypassConfig{
			Timeout:    cfg.Timeout,
			UserAgents: uas,
		}, log.Named("bypass"))
		if err != nil {
			log.Warn("bypass client init failed", zap.Error(err))
		} else {
			bypass = bc
		}
	}

	composite := fetch.NewComposite(primary, headless, bypass, cfg.HeadlessMode, log.Named("fetch"))
	return composite, composite.Close
}

// buildArchive resolves the snapshot backend. A nil archive means
// snapshots are off.
func buildArchive(ctx context.Context, cfg config.SnapshotConfig, log *zap.Logger) (*snapshot.Archive, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case "", config.SnapshotOff:
		return nil, noop, nil
	case config.SnapshotLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, noop, fmt.Errorf("snapshot store: %w", err)
		}
		return snapshot.NewArchive(store, cfg.Prefix, log.Named("snapshot")), noop, nil
	case config.SnapshotGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("snapshot store: %w", err)
		}
		return snapshot.NewArchive(store, cfg.Prefix, log.Named("snapshot")), func() { _ = client.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("snapshots.backend %q is not supported", cfg.Backend)
	}
}

func printReport(out io.Writer, report *pipeline.Report) {
	sum := report.Summary
	fmt.Fprintf(out, "run %s: %d selected, %d succeeded, %d failed, %d changed (%.0f%% success)\n",
		sum.RunID, sum.Selected, sum.Succeeded, sum.Failed, sum.Changed, sum.SuccessRate()*100)
	if sum.Interrupted {
		fmt.Fprintln(out, "run interrupted; partial results were saved")
	}

	if len(report.Changes) == 0 {
		fmt.Fprintln(out, "no status changes")
	} else {
		fmt.Fprintf(out, "\n%d status changes:\n", len(report.Changes))
		for _, c := range report.Changes {
			fmt.Fprintf(out, "  %s\n    %s\n", c, c.URL)
		}
	}

	if len(report.Failures) > 0 {
		urls := make([]string, 0, len(report.Failures))
		for u := range report.Failures {
			urls = append(urls, u)
		}
		sort.Strings(urls)
		fmt.Fprintf(out, "\n%d URLs failed:\n", len(report.Failures))
		for _, u := range urls {
			fmt.Fprintf(out, "  %s (%s)\n", u, report.Failures[u].Reason)
		}
	}
}
