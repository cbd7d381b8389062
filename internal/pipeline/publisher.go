package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DeafMist/form8k-radar/internal/apperr"
	"github.com/DeafMist/form8k-radar/internal/classify"
	"github.com/DeafMist/form8k-radar/internal/dedupe"
	"github.com/DeafMist/form8k-radar/internal/ledger"
	"github.com/DeafMist/form8k-radar/internal/models"
	"github.com/DeafMist/form8k-radar/internal/notify"
	"github.com/DeafMist/form8k-radar/internal/processing"
)

// Source yields the records of the current listing.
type Source interface {
	Records(ctx context.Context, onSkip func(error)) (iter.Seq[models.FilingRecord], error)
}

// Ledger is the external record of filings already discovered.
type Ledger interface {
	LoadKnownIDs(ctx context.Context) (dedupe.Set, error)
	Append(ctx context.Context, entries []models.LedgerEntry, message string) (ledger.CommitResult, error)
}

// DocumentFetcher retrieves the visible text of a filing's primary document.
type DocumentFetcher interface {
	FetchDocumentText(ctx context.Context, indexURL string) (string, error)
}

// Config controls a single run.
type Config struct {
	TargetItem       string
	ClassifyEnabled  bool
	ClassifyTimeout  time.Duration
	ClassifyMaxChars int
	LedgerTimeout    time.Duration
	DryRun           bool
}

// Report summarises a completed run.
type Report struct {
	RunID    string
	Scanned  int
	Matched  int
	Known    int
	New      int
	Written  bool
	Revision string
	Entries  []models.LedgerEntry
}

// Publisher runs fetch, filter, diff, classify and append once per call.
// Runs must not overlap against the same ledger.
type Publisher struct {
	Source     Source
	Ledger     Ledger
	Classifier classify.Classifier
	Documents  DocumentFetcher
	Notifier   notify.Notifier
	Config     Config
	Log        *slog.Logger
	Now        func() time.Time
}

// Run executes one pass of the pipeline. A failure to fetch or to load the
// ledger aborts before any write. The returned error carries an apperr
// sentinel naming the failing stage.
func (p *Publisher) Run(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString()}
	log := p.logger().With(slog.String("run_id", report.RunID))

	if p.Source == nil || p.Ledger == nil {
		return report, errors.New("pipeline: source and ledger are required")
	}

	records, err := p.Source.Records(ctx, func(err error) {
		log.Debug("listing row skipped", slog.String("reason", err.Error()))
	})
	if err != nil {
		return report, fmt.Errorf("fetch listing: %w", err)
	}

	known, err := p.loadKnown(ctx)
	if err != nil {
		return report, fmt.Errorf("load ledger: %w", err)
	}

	plan := Plan(PlanConfig{TargetItem: p.Config.TargetItem}, records, known)
	report.Scanned = plan.Scanned
	report.Matched = plan.Matched
	report.Known = plan.Known
	report.New = len(plan.New)

	log.Info("listing diffed",
		slog.Int("scanned", plan.Scanned),
		slog.Int("matched", plan.Matched),
		slog.Int("known", plan.Known),
		slog.Int("repeated", plan.Repeated),
		slog.Int("new", len(plan.New)),
	)

	if len(plan.New) == 0 {
		log.Info("no new filings")
		return report, nil
	}

	labels := p.classifyAll(ctx, log, plan.New)
	entries := BuildEntries(plan.New, labels, p.now())
	report.Entries = entries

	if p.Config.DryRun {
		for _, e := range entries {
			log.Info("dry run: would append", slog.String("row", ledger.FormatRow(e)))
		}
		return report, nil
	}

	res, err := p.appendEntries(ctx, report.RunID, entries)
	if err != nil {
		return report, err
	}
	report.Written = true
	report.Revision = res.Revision
	log.Info("ledger updated",
		slog.Int("appended", res.Appended),
		slog.Bool("created", res.Created),
		slog.String("revision", res.Revision),
	)

	if p.Notifier != nil {
		if err := p.Notifier.Publish(ctx, entries); err != nil {
			log.Warn("failed to publish discovery events", slog.Any("err", err))
		}
	}

	return report, nil
}

func (p *Publisher) loadKnown(ctx context.Context) (dedupe.Set, error) {
	ctx, cancel := p.ledgerContext(ctx)
	defer cancel()
	return p.Ledger.LoadKnownIDs(ctx)
}

func (p *Publisher) appendEntries(ctx context.Context, runID string, entries []models.LedgerEntry) (ledger.CommitResult, error) {
	ctx, cancel := p.ledgerContext(ctx)
	defer cancel()

	msg := fmt.Sprintf("Add %d Form 8-K filing(s) with item %s (run %s)", len(entries), p.Config.TargetItem, runID)
	res, err := p.Ledger.Append(ctx, entries, msg)
	if err != nil {
		return res, fmt.Errorf("append ledger: %w: %w", apperr.ErrLedgerWrite, err)
	}
	return res, nil
}

func (p *Publisher) ledgerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.Config.LedgerTimeout > 0 {
		return context.WithTimeout(ctx, p.Config.LedgerTimeout)
	}
	return context.WithCancel(ctx)
}

func (p *Publisher) classifyAll(ctx context.Context, log *slog.Logger, records []models.FilingRecord) []models.MaterialityLabel {
	if !p.Config.ClassifyEnabled || p.Classifier == nil {
		return nil
	}

	labels := make([]models.MaterialityLabel, len(records))
	for i, rec := range records {
		label, err := p.classifyOne(ctx, rec)
		if err != nil {
			log.Warn("classification degraded to undetermined",
				slog.String("accession", rec.AccessionID),
				slog.String("stage", apperr.Stage(err)),
				slog.Any("err", err),
			)
			label = models.LabelUndetermined
		}
		labels[i] = label
	}
	return labels
}

// classifyOne bounds document retrieval and classification by one timeout.
func (p *Publisher) classifyOne(ctx context.Context, rec models.FilingRecord) (models.MaterialityLabel, error) {
	if p.Config.ClassifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Config.ClassifyTimeout)
		defer cancel()
	}

	if p.Documents == nil || rec.DocumentURL == "" {
		return models.LabelUndetermined, fmt.Errorf("%w: no document for %s", apperr.ErrClassification, rec.AccessionID)
	}
	text, err := p.Documents.FetchDocumentText(ctx, rec.DocumentURL)
	if err != nil {
		return models.LabelUndetermined, fmt.Errorf("%w: fetch document: %v", apperr.ErrClassification, err)
	}

	text = processing.ItemSection(text, p.Config.TargetItem)
	if p.Config.ClassifyMaxChars > 0 {
		text = processing.Truncate(text, p.Config.ClassifyMaxChars)
	}

	label, err := p.Classifier.Classify(ctx, text)
	if err != nil {
		return models.LabelUndetermined, err
	}
	if label == "" {
		return models.LabelUndetermined, nil
	}
	return label, nil
}

func (p *Publisher) logger() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (p *Publisher) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
