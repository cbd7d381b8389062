package pipeline

import (
	"iter"
	"time"

	"github.com/DeafMist/form8k-radar/internal/dedupe"
	"github.com/DeafMist/form8k-radar/internal/models"
	"github.com/DeafMist/form8k-radar/internal/processing"
)

// PlanConfig holds what Plan needs to decide which records are new.
type PlanConfig struct {
	TargetItem string
}

// PlanResult is the outcome of diffing one listing against the ledger.
type PlanResult struct {
	// New holds unseen records carrying the target item, in listing order.
	New []models.FilingRecord
	// Scanned counts every record the listing produced.
	Scanned int
	// Matched counts records carrying the target item.
	Matched int
	// Known counts matched records already in the ledger.
	Known int
	// Repeated counts matched records seen earlier in the same listing.
	Repeated int
}

// Plan diffs a listing against the accession IDs already in the ledger.
// It performs no I/O. known is not modified.
func Plan(cfg PlanConfig, records iter.Seq[models.FilingRecord], known dedupe.Set) PlanResult {
	var res PlanResult
	seen := dedupe.NewSet()

	counted := func(yield func(models.FilingRecord) bool) {
		for rec := range records {
			res.Scanned++
			if !yield(rec) {
				return
			}
		}
	}

	for rec := range processing.FilterByItem(counted, cfg.TargetItem) {
		res.Matched++
		switch {
		case known.Has(rec.AccessionID):
			res.Known++
		case !seen.Add(rec.AccessionID):
			// Pagination can shift a row onto the next page between requests.
			res.Repeated++
		default:
			res.New = append(res.New, rec)
		}
	}
	return res
}

// BuildEntries turns new records into ledger entries. labels is indexed like
// records; a missing label leaves the entry unlabelled.
func BuildEntries(records []models.FilingRecord, labels []models.MaterialityLabel, now time.Time) []models.LedgerEntry {
	entries := make([]models.LedgerEntry, 0, len(records))
	for i, rec := range records {
		e := models.NewLedgerEntry(rec, now)
		if i < len(labels) {
			e.MaterialityLabel = labels[i]
		}
		entries = append(entries, e)
	}
	return entries
}
