package ledger

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/DeafMist/form8k-radar/internal/dedupe"
	"github.com/DeafMist/form8k-radar/internal/models"
)

const (
	tableHeader    = "|Accession|Company|Form|Items|Filed|Discovered|Materiality|Link|"
	tableSeparator = "|---|---|---|---|---|---|---|---|"
	filedLayout    = "2006-01-02 15:04:05"
	columns        = 8
)

var (
	accessionPattern = regexp.MustCompile(`\d{10}-\d{2}-\d{6}`)
	linkPattern      = regexp.MustCompile(`\[[^\]]*\]\(([^)]+)\)`)
	eastern          = mustEastern()
)

func mustEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}

// Heading is the title block written when the ledger is created.
func Heading(targetItem string) string {
	return fmt.Sprintf("# Form 8-K filings with item %s\n\n", targetItem)
}

// FormatRow renders one entry as a markdown table row with a trailing newline.
// The output depends only on the entry so the ledger diffs cleanly over time.
func FormatRow(e models.LedgerEntry) string {
	filed := ""
	if !e.FiledAt.IsZero() {
		filed = e.FiledAt.In(eastern).Format(filedLayout)
	}
	discovered := ""
	if !e.DiscoveredAt.IsZero() {
		discovered = e.DiscoveredAt.UTC().Format(time.RFC3339)
	}
	link := ""
	if e.DocumentURL != "" {
		link = "[link](" + e.DocumentURL + ")"
	}

	cells := []string{
		e.AccessionID,
		escapeCell(e.CompanyName),
		escapeCell(e.FormType),
		strings.Join(e.Items, ", "),
		filed,
		discovered,
		string(e.MaterialityLabel),
		link,
	}
	return "|" + strings.Join(cells, "|") + "|\n"
}

// Render appends rows for entries to existing. An empty ledger gets the
// heading and table header first; a ledger whose last table has a different
// layout (rows written by the original script) gets a fresh table below it.
func Render(existing, heading string, entries []models.LedgerEntry) string {
	var sb strings.Builder

	switch {
	case strings.TrimSpace(existing) == "":
		sb.WriteString(heading)
		sb.WriteString(tableHeader + "\n" + tableSeparator + "\n")
	case !strings.Contains(existing, tableHeader):
		sb.WriteString(strings.TrimRight(existing, "\n"))
		sb.WriteString("\n\n" + tableHeader + "\n" + tableSeparator + "\n")
	default:
		// Blank lines after the last row would detach new rows from the table.
		sb.WriteString(strings.TrimRight(existing, "\n"))
		sb.WriteByte('\n')
	}

	for _, e := range entries {
		sb.WriteString(FormatRow(e))
	}
	return sb.String()
}

// ParseKnownIDs collects the accession IDs of every row in content. The
// accession column is preferred; rows without one fall back to an accession
// embedded in the row's link. Rows yielding neither are ignored.
func ParseKnownIDs(content string) dedupe.Set {
	known := dedupe.NewSet()
	for _, line := range tableRows(content) {
		if id := rowAccession(line); id != "" {
			known.Add(id)
		}
	}
	return known
}

// ParseEntries decodes every row in content into a LedgerEntry. Legacy rows
// (|Company|Timestamp|Link|) are mapped as far as their columns allow.
func ParseEntries(content string) []models.LedgerEntry {
	var out []models.LedgerEntry
	for _, line := range tableRows(content) {
		id := rowAccession(line)
		if id == "" {
			continue
		}
		cells := splitRow(line)

		var e models.LedgerEntry
		if len(cells) == columns {
			e = models.LedgerEntry{
				FilingRecord: models.FilingRecord{
					AccessionID: id,
					CompanyName: cells[1],
					FormType:    cells[2],
					Items:       splitItems(cells[3]),
					FiledAt:     parseFiled(cells[4]),
					DocumentURL: linkTarget(cells[7]),
				},
				MaterialityLabel: models.MaterialityLabel(cells[6]),
			}
			if ts, err := time.Parse(time.RFC3339, cells[5]); err == nil {
				e.DiscoveredAt = ts
			}
		} else {
			e = legacyEntry(id, cells)
		}
		out = append(out, e)
	}
	return out
}

func legacyEntry(id string, cells []string) models.LedgerEntry {
	e := models.LedgerEntry{FilingRecord: models.FilingRecord{AccessionID: id, FormType: "8-K"}}
	if len(cells) > 0 {
		e.CompanyName = cells[0]
	}
	if len(cells) > 1 {
		e.FiledAt = parseFiled(cells[1])
	}
	for _, c := range cells {
		if u := linkTarget(c); u != "" {
			e.DocumentURL = u
		}
	}
	return e
}

// tableRows returns the data rows of every markdown table in content.
func tableRows(content string) []string {
	var rows []string
	for _, line := range strings.Split(strings.ReplaceAll(content, "\r", ""), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") {
			continue
		}
		if isHeaderRow(line) {
			continue
		}
		rows = append(rows, line)
	}
	return rows
}

func isHeaderRow(line string) bool {
	if strings.Trim(line, "|-: ") == "" {
		return true
	}
	cells := splitRow(line)
	return len(cells) > 0 && (cells[0] == "Accession" || cells[0] == "Company")
}

func rowAccession(line string) string {
	cells := splitRow(line)
	if len(cells) > 0 {
		if id := accessionPattern.FindString(cells[0]); id == cells[0] && id != "" {
			return id
		}
	}
	return accessionPattern.FindString(line)
}

// splitRow splits a markdown row into unescaped cells, honouring "\|" and "\\".
func splitRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")

	var (
		cells  []string
		cur    strings.Builder
		closed bool
	)
	for i := 0; i < len(line); i++ {
		closed = false
		switch {
		case line[i] == '\\' && i+1 < len(line) && (line[i+1] == '|' || line[i+1] == '\\'):
			cur.WriteByte(line[i+1])
			i++
		case line[i] == '|':
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
			closed = true
		default:
			cur.WriteByte(line[i])
		}
	}
	if closed {
		return cells
	}
	return append(cells, strings.TrimSpace(cur.String()))
}

func escapeCell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "|", `\|`)
}

func splitItems(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseFiled(raw string) time.Time {
	ts, err := time.ParseInLocation(filedLayout, strings.TrimSpace(raw), eastern)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func linkTarget(cell string) string {
	if m := linkPattern.FindStringSubmatch(cell); m != nil {
		return m[1]
	}
	return ""
}
