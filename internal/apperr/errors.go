package apperr

import "errors"

// Sentinel errors for each pipeline stage. Wrap with fmt.Errorf("...: %w", Err...).
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrParseSkip         = errors.New("listing row skipped")
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	ErrLedgerConflict    = errors.New("ledger conflict")
	ErrClassification    = errors.New("classification failed")

	// ErrLedgerWrite marks any failure while appending to the ledger.
	ErrLedgerWrite = errors.New("ledger write failed")
)

// Stage names the pipeline stage an aborting error came from.
func Stage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSourceUnavailable):
		return "fetch"
	case errors.Is(err, ErrLedgerConflict), errors.Is(err, ErrLedgerWrite):
		return "ledger-write"
	case errors.Is(err, ErrLedgerUnavailable):
		return "ledger"
	case errors.Is(err, ErrClassification):
		return "classify"
	default:
		return "unknown"
	}
}
