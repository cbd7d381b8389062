package processing

import (
	"iter"
	"strings"

	"github.com/DeafMist/form8k-radar/internal/models"
)

// MatchesItem reports whether rec declares the target disclosure item.
func MatchesItem(rec models.FilingRecord, target string) bool {
	return rec.HasItem(strings.TrimSpace(target))
}

// FilterByItem lazily yields the records of seq that declare target.
func FilterByItem(seq iter.Seq[models.FilingRecord], target string) iter.Seq[models.FilingRecord] {
	return func(yield func(models.FilingRecord) bool) {
		for rec := range seq {
			if !MatchesItem(rec, target) {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
}
