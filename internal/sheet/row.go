package sheet

import (
	"strings"
	"time"

	"github.com/mailledger/mailledger/internal/parser"
)

// Row schema: timestamp | sender | subject | body | link columns | identity key.
// The key column makes ExistingKeys a single-column read instead of a
// re-derivation from row data.

func headerRow(linkColumns int) []interface{} {
	row := []interface{}{"Timestamp", "Sender", "Subject", "Body"}
	for i := 1; i <= linkColumns; i++ {
		if i == linkColumns {
			row = append(row, "Attachments")
		} else {
			row = append(row, "Attachment")
		}
	}
	return append(row, "Key")
}

func rowValues(rec *parser.EmailRecord, linkColumns, bodyLimit int) []interface{} {
	row := []interface{}{
		rec.Date.UTC().Format(time.RFC3339),
		rec.Sender,
		rec.Subject,
		truncate(rec.Body, bodyLimit),
	}
	for _, cell := range linkCells(rec, linkColumns) {
		row = append(row, cell)
	}
	return append(row, rec.IdentityKey)
}

// linkCells lays the record's references out over exactly n columns: the
// per-message folder link first, then one link per uploaded attachment,
// then links harvested from the body. Overflow is joined into the last
// column; no reference is ever dropped.
func linkCells(rec *parser.EmailRecord, n int) []string {
	var links []string
	if rec.FolderLink != "" {
		links = append(links, rec.FolderLink)
	}
	for _, ref := range rec.Refs {
		if ref.Link != "" {
			links = append(links, ref.Link)
		} else {
			links = append(links, "(upload failed: "+ref.Filename+")")
		}
	}
	links = append(links, rec.BodyLinks...)

	cells := make([]string, n)
	switch {
	case len(links) == 0:
		cells[0] = "None"
	case len(links) <= n:
		copy(cells, links)
	default:
		copy(cells, links[:n-1])
		cells[n-1] = strings.Join(links[n-1:], " | ")
	}
	return cells
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// columnLetter converts a zero-based column index to its A1 letter form.
func columnLetter(index int) string {
	letters := ""
	index++
	for index > 0 {
		index--
		letters = string(rune('A'+index%26)) + letters
		index /= 26
	}
	return letters
}
