// reindex rebuilds the Elasticsearch mirror from the ledger document. The
// ledger stays authoritative; the mirror can be dropped and recreated at any
// time.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeafMist/form8k-radar/internal/config"
	"github.com/DeafMist/form8k-radar/internal/elasticsearch"
	"github.com/DeafMist/form8k-radar/internal/ledger"
	"github.com/DeafMist/form8k-radar/internal/logger"
	"github.com/DeafMist/form8k-radar/internal/models"
)

type mirror interface {
	EnsureIndex(ctx context.Context) error
	BulkIndex(ctx context.Context, entries []models.LedgerEntry) (int, error)
}

func main() {
	log := logger.New("reindex")
	cfg, err := config.LoadReindex()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
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
		log.Error("init ledger", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Elasticsearch is often still starting when the job is scheduled.
	var esClient *elasticsearch.Client
	maxRetries := 10
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		esClient, err = elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
		if err != nil {
			log.Warn("failed to create elasticsearch client, retrying",
				slog.Any("err", err),
				slog.Int("attempt", i+1),
				slog.Int("max_retries", maxRetries),
			)
		} else {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			pingErr := esClient.Ping(pingCtx)
			cancel()
			if pingErr == nil {
				break
			}
			log.Warn("elasticsearch ping failed, retrying",
				slog.Any("err", pingErr),
				slog.Int("attempt", i+1),
				slog.Int("max_retries", maxRetries),
				slog.Duration("retry_in", retryDelay),
			)
		}

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			log.Info("shutdown signal received during startup")
			os.Exit(0)
		}
		retryDelay = min(retryDelay*2, 30*time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if esClient == nil || esClient.Ping(pingCtx) != nil {
		log.Error("failed to connect to elasticsearch after retries")
		os.Exit(1)
	}

	log.Info("connected to elasticsearch", slog.String("ledger", cfg.Ledger.String()))

	if cfg.Interval == 0 {
		if err := runOnce(ctx, log, store, esClient, cfg.BatchSize); err != nil {
			log.Error("reindex failed", slog.Any("err", err))
			os.Exit(1)
		}
		return
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info("reindex job running", slog.Duration("interval", cfg.Interval))

	if err := runOnce(ctx, log, store, esClient, cfg.BatchSize); err != nil {
		log.Warn("reindex run failed (will retry on next interval)", slog.Any("err", err))
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case <-ticker.C:
			if err := runOnce(ctx, log, store, esClient, cfg.BatchSize); err != nil {
				log.Warn("reindex run failed (will retry on next interval)", slog.Any("err", err))
			}
		}
	}
}

// runOnce reads the whole ledger and bulk-indexes it in batches of batchSize.
// Documents are keyed by accession ID, so repeated runs overwrite rather
// than duplicate.
func runOnce(ctx context.Context, log *slog.Logger, store ledger.Store, es mirror, batchSize int) error {
	subCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	snap, err := store.Load(subCtx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	if !snap.Exists {
		log.Info("ledger does not exist yet, nothing to index")
		return nil
	}

	if err := es.EnsureIndex(subCtx); err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}

	entries := ledger.ParseEntries(snap.Content)
	var indexed, rejected int
	for _, batch := range chunk(entries, batchSize) {
		failed, err := es.BulkIndex(subCtx, batch)
		if err != nil {
			return fmt.Errorf("bulk index after %d documents: %w", indexed, err)
		}
		indexed += len(batch) - failed
		rejected += failed
	}

	if rejected > 0 {
		log.Warn("reindex completed with rejected documents",
			slog.Int("indexed", indexed),
			slog.Int("rejected", rejected),
		)
		return nil
	}
	log.Info("reindex completed",
		slog.Int("indexed", indexed),
		slog.String("revision", snap.Revision),
	)
	return nil
}

func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, items[:n:n])
		items = items[n:]
	}
	return out
}
