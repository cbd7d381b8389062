package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/form8k-radar/internal/config"
	"github.com/DeafMist/form8k-radar/internal/dedupe"
	"github.com/DeafMist/form8k-radar/internal/edgar"
	"github.com/DeafMist/form8k-radar/internal/elasticsearch"
	"github.com/DeafMist/form8k-radar/internal/logger"
	"github.com/DeafMist/form8k-radar/internal/models"
)

type filingIndexer interface {
	IndexFiling(ctx context.Context, entry models.LedgerEntry) error
}

type dlqWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func main() {
	log := logger.New("worker")
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	cache := dedupe.NewRecent(cfg.DedupeCapacity, cfg.DedupeTTL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := esClient.EnsureIndex(initCtx); err != nil {
		// Dynamic mapping still accepts documents; the reindex job fixes it up.
		log.Warn("ensure index", slog.Any("err", err))
	}
	cancel()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit only
	})
	defer reader.Close()

	dlq := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaTopic + "_dlq",
		MaxAttempts: 3,
	})
	defer dlq.Close()

	log.Info("worker started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", cfg.KafkaTopic+"_dlq"),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := processMessage(ctx, log, esClient, cache, msg); err != nil {
			log.Warn("process message failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)

			if !sendToDLQ(ctx, log, dlq, msg, err) {
				if ctx.Err() != nil {
					return
				}
				// Leave the offset uncommitted so the message is redelivered after restart.
				log.Error("DLQ write exhausted retries",
					slog.Int("partition", msg.Partition),
					slog.Int64("offset", msg.Offset),
				)
				continue
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

// processMessage mirrors one "filing discovered" event. Replays are harmless:
// the document ID is the accession ID.
func processMessage(ctx context.Context, log *slog.Logger, indexer filingIndexer, cache *dedupe.Recent, msg kafka.Message) error {
	var entry models.LedgerEntry
	if err := json.Unmarshal(msg.Value, &entry); err != nil {
		return fmt.Errorf("decode entry: %w", err)
	}

	entry.AccessionID = strings.TrimSpace(entry.AccessionID)
	if entry.AccessionID == "" || edgar.ParseAccession(entry.AccessionID) != entry.AccessionID {
		return fmt.Errorf("invalid accession id %q", entry.AccessionID)
	}
	if key := string(msg.Key); key != "" && key != entry.AccessionID {
		return fmt.Errorf("message key %q does not match accession %q", key, entry.AccessionID)
	}
	if entry.DiscoveredAt.IsZero() {
		entry.DiscoveredAt = msg.Time.UTC()
	}

	if cache.IsSeen(entry.AccessionID) {
		log.Debug("duplicate filing", slog.String("accession", entry.AccessionID))
		return nil
	}

	if err := indexer.IndexFiling(ctx, entry); err != nil {
		return err
	}

	cache.MarkSeen(entry.AccessionID)
	log.Info("indexed filing",
		slog.String("accession", entry.AccessionID),
		slog.String("company", entry.CompanyName),
		slog.String("label", string(entry.MaterialityLabel)),
	)
	return nil
}

// sendToDLQ forwards msg with the failure attached, retrying with exponential
// backoff. It reports whether the write succeeded.
func sendToDLQ(ctx context.Context, log *slog.Logger, w dlqWriter, msg kafka.Message, cause error) bool {
	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	for attempt := range 5 {
		err := w.WriteMessages(ctx, dlqMsg)
		if err == nil {
			log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return true
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		log.Warn("DLQ write failed, retrying",
			slog.Any("err", err),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			log.Info("context canceled during DLQ retry")
			return false
		}
	}
	return false
}
