// checker scans the EDGAR "Latest Filings" listing for Form 8-Ks declaring
// the target item and appends unseen ones to the ledger. It is meant to be
// invoked periodically by a scheduler; every run is independent.
//
// Usage:
//
//	checker [--dry-run] [--target-item=1.05] [--ledger-file=<path>] [--max-pages=N]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/DeafMist/form8k-radar/internal/apperr"
	"github.com/DeafMist/form8k-radar/internal/classify"
	"github.com/DeafMist/form8k-radar/internal/config"
	"github.com/DeafMist/form8k-radar/internal/edgar"
	"github.com/DeafMist/form8k-radar/internal/ledger"
	"github.com/DeafMist/form8k-radar/internal/logger"
	"github.com/DeafMist/form8k-radar/internal/notify"
	"github.com/DeafMist/form8k-radar/internal/pipeline"
)

// version is set at build time via -ldflags.
var version = "dev"

// errRunFailed is returned once the failure has been logged.
var errRunFailed = errors.New("run failed")

type flags struct {
	dryRun     bool
	targetItem string
	ledgerFile string
	maxPages   int
}

func main() {
	if err := newRootCmd(logger.New("checker")).Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCmd(log *slog.Logger) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "checker",
		Short:         "Record new Form 8-K filings for a disclosure item in the ledger",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadCheckerWith(func(c *config.Checker) { applyFlags(cmd, c, f) })
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return run(ctx, log, cfg)
		},
	}

	fl := cmd.Flags()
	fl.BoolVar(&f.dryRun, "dry-run", false, "Diff against the ledger and log new rows without writing")
	fl.StringVar(&f.targetItem, "target-item", "", "Disclosure item to track (overrides TARGET_ITEM)")
	fl.StringVar(&f.ledgerFile, "ledger-file", "", "Use a local ledger file instead of GitHub (overrides LEDGER_FILE)")
	fl.IntVar(&f.maxPages, "max-pages", 0, "Listing page cap (overrides SEC_MAX_PAGES)")

	return cmd
}

// applyFlags overrides environment settings with flags given explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.Checker, f flags) {
	fl := cmd.Flags()
	if fl.Changed("dry-run") {
		cfg.DryRun = f.dryRun
	}
	if fl.Changed("target-item") {
		cfg.TargetItem = f.targetItem
	}
	if fl.Changed("ledger-file") {
		cfg.Ledger.File = f.ledgerFile
	}
	if fl.Changed("max-pages") {
		cfg.Source.MaxPages = f.maxPages
	}
}

func run(ctx context.Context, log *slog.Logger, cfg *config.Checker) error {
	pub, closeFn, err := buildPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer closeFn()

	log.Info("run starting",
		slog.String("target_item", cfg.TargetItem),
		slog.String("ledger", cfg.Ledger.String()),
		slog.Bool("dry_run", cfg.DryRun),
		slog.Bool("classify", cfg.Classify.Enabled),
	)

	started := time.Now()
	report, err := pub.Run(ctx)
	if err != nil {
		log.Error("run failed",
			slog.String("run_id", report.RunID),
			slog.String("stage", apperr.Stage(err)),
			slog.Any("err", err),
		)
		return errRunFailed
	}

	log.Info("run complete",
		slog.String("run_id", report.RunID),
		slog.Int("scanned", report.Scanned),
		slog.Int("matched", report.Matched),
		slog.Int("new", report.New),
		slog.Bool("written", report.Written),
		slog.String("revision", report.Revision),
		slog.Duration("took", time.Since(started)),
	)
	return nil
}

func buildPublisher(cfg *config.Checker, log *slog.Logger) (*pipeline.Publisher, func(), error) {
	fetcher, err := edgar.NewFetcher(edgar.Options{
		BaseURL:    cfg.Source.BaseURL,
		UserAgent:  cfg.Source.UserAgent,
		PageSize:   cfg.Source.PageSize,
		MaxPages:   cfg.Source.MaxPages,
		Timeout:    cfg.Source.Timeout,
		RatePerSec: cfg.Source.RatePerSec,
		Logger:     log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init fetcher: %w", err)
	}

	store, err := ledger.OpenStore(cfg.Ledger.File, ledger.GitHubOptions{
		Owner:   cfg.Ledger.Owner,
		Repo:    cfg.Ledger.Repo,
		Path:    cfg.Ledger.Path,
		Branch:  cfg.Ledger.Branch,
		Token:   cfg.Ledger.Token,
		BaseURL: cfg.Ledger.APIURL,
		Timeout: cfg.Ledger.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init ledger: %w", err)
	}

	var classifier classify.Classifier = classify.Disabled{}
	if cfg.Classify.Enabled {
		classifier = &classify.LLMClassifier{
			BaseURL:    cfg.Classify.BaseURL,
			APIKey:     cfg.Classify.APIKey,
			Model:      cfg.Classify.Model,
			HTTPClient: &http.Client{Timeout: cfg.Classify.Timeout},
		}
	}

	var notifier notify.Notifier = notify.Discard{}
	closeFn := func() {}
	if len(cfg.KafkaBrokers) > 0 {
		kn := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic, 10*time.Second)
		notifier = kn
		closeFn = func() {
			if err := kn.Close(); err != nil {
				log.Warn("close kafka writer", slog.Any("err", err))
			}
		}
	}

	return &pipeline.Publisher{
		Source:     fetcher,
		Ledger:     ledger.New(store, cfg.TargetItem, log),
		Classifier: classifier,
		Documents:  fetcher,
		Notifier:   notifier,
		Config: pipeline.Config{
			TargetItem:       cfg.TargetItem,
			ClassifyEnabled:  cfg.Classify.Enabled,
			ClassifyTimeout:  cfg.Classify.Timeout,
			ClassifyMaxChars: cfg.Classify.MaxChars,
			LedgerTimeout:    cfg.Ledger.Timeout,
			DryRun:           cfg.DryRun,
		},
		Log: log,
	}, closeFn, nil
}
