package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/DeafMist/form8k-radar/internal/dedupe"
	"github.com/DeafMist/form8k-radar/internal/models"
)

var errNotLoaded = errors.New("ledger: append called before LoadKnownIDs")

// CommitResult describes a successful append.
type CommitResult struct {
	Revision string
	Appended int
	Created  bool
}

// Ledger is the append-only record of discovered filings. It is the only
// state shared between runs. A Ledger is used by a single run at a time.
type Ledger struct {
	store   Store
	heading string
	log     *slog.Logger
	snap    *Snapshot
}

// New builds a Ledger over store. targetItem only affects the heading of a
// newly created ledger.
func New(store Store, targetItem string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Ledger{store: store, heading: Heading(targetItem), log: logger}
}

// LoadKnownIDs reads the full ledger and returns every recorded accession ID.
// The snapshot is kept so Append can be conditioned on its revision.
func (l *Ledger) LoadKnownIDs(ctx context.Context) (dedupe.Set, error) {
	snap, err := l.store.Load(ctx)
	if err != nil {
		return dedupe.Set{}, err
	}
	l.snap = &snap

	known := ParseKnownIDs(snap.Content)
	l.log.Debug("ledger loaded",
		slog.Bool("exists", snap.Exists),
		slog.String("revision", snap.Revision),
		slog.Int("known", known.Len()),
	)
	return known, nil
}

// Prepare renders the write that would append entries to the loaded snapshot.
func (l *Ledger) Prepare(entries []models.LedgerEntry, message string) (WriteRequest, error) {
	if l.snap == nil {
		return WriteRequest{}, errNotLoaded
	}
	return WriteRequest{
		Content:  Render(l.snap.Content, l.heading, entries),
		Message:  message,
		Revision: l.snap.Revision,
		Create:   !l.snap.Exists,
	}, nil
}

// Append writes entries in one conditional update against the revision seen
// by the last LoadKnownIDs. An empty batch performs no write.
func (l *Ledger) Append(ctx context.Context, entries []models.LedgerEntry, message string) (CommitResult, error) {
	if len(entries) == 0 {
		return CommitResult{}, nil
	}

	req, err := l.Prepare(entries, message)
	if err != nil {
		return CommitResult{}, err
	}

	revision, err := l.store.Commit(ctx, req)
	if err != nil {
		return CommitResult{}, fmt.Errorf("append %d entries: %w", len(entries), err)
	}

	l.snap = &Snapshot{Content: req.Content, Revision: revision, Exists: true}
	return CommitResult{Revision: revision, Appended: len(entries), Created: req.Create}, nil
}

// LocatedStore is a Store that can say where it keeps the ledger.
type LocatedStore interface {
	Store
	Location() string
}

// OpenStore returns a FileStore when file is set and a GitHubStore otherwise.
func OpenStore(file string, gh GitHubOptions) (LocatedStore, error) {
	if file != "" {
		return NewFileStore(file), nil
	}
	return NewGitHubStore(gh)
}
