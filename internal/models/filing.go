package models

import (
	"slices"
	"strings"
	"time"
)

// FilingRecord is one row of the EDGAR "Latest Filings" listing.
type FilingRecord struct {
	AccessionID string    `json:"accession_id"`
	FormType    string    `json:"form_type"`
	Items       []string  `json:"items"`
	CompanyName string    `json:"company_name"`
	CIK         string    `json:"cik,omitempty"`
	FiledAt     time.Time `json:"filed_at"`
	DocumentURL string    `json:"document_url"`
}

// HasItem reports whether the filing declares the given disclosure item.
func (r FilingRecord) HasItem(code string) bool {
	return slices.Contains(r.Items, strings.TrimSpace(code))
}

// LedgerEntry is a FilingRecord as persisted in the ledger and mirrored to Elasticsearch.
type LedgerEntry struct {
	FilingRecord
	MaterialityLabel MaterialityLabel `json:"materiality_label,omitempty"`
	DiscoveredAt     time.Time        `json:"discovered_at"`
}

// NewLedgerEntry stamps a record with the local discovery time.
func NewLedgerEntry(rec FilingRecord, discoveredAt time.Time) LedgerEntry {
	return LedgerEntry{
		FilingRecord: rec,
		DiscoveredAt: discoveredAt.UTC().Truncate(time.Second),
	}
}

// MaterialityLabel is the classifier's verdict on how the filer characterises the event.
type MaterialityLabel string

const (
	LabelMaterial     MaterialityLabel = "considered material"
	LabelNotMaterial  MaterialityLabel = "not considered material"
	LabelUndetermined MaterialityLabel = "undetermined"
)

// ParseMaterialityLabel maps free text onto the closed label set.
// The second return value is false when the text matched no label.
func ParseMaterialityLabel(raw string) (MaterialityLabel, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, "\"'.` ")
	switch {
	case s == "":
		return LabelUndetermined, false
	case strings.HasPrefix(s, string(LabelNotMaterial)):
		return LabelNotMaterial, true
	case strings.HasPrefix(s, string(LabelMaterial)):
		return LabelMaterial, true
	case strings.HasPrefix(s, string(LabelUndetermined)):
		return LabelUndetermined, true
	default:
		return LabelUndetermined, false
	}
}
