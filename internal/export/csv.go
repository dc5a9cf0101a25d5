// Package export renders harvested records as CSV artifacts.
package export

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/JakeFAU/discussion-harvester/internal/harvest"
)

// ContentType is the MIME type of exported files.
const ContentType = "text/csv; charset=utf-8"

// BOM prefixes every export so spreadsheet tools detect UTF-8.
const BOM = "\uFEFF"

// Header is the first CSV row.
var Header = []string{"question", "author", "content", "ipLocation", "voteCount"}

const titleWidth = 40

var unsafeName = regexp.MustCompile(`[\\/:*?"<>|#%&+\s]+`)

// Export renders title and records as BOM-prefixed CSV. Every field is quoted
// and rows end with a bare newline.
func Export(title string, records []harvest.Record) []byte {
	var buf bytes.Buffer
	buf.WriteString(BOM)
	writeRow(&buf, Header)
	for _, rec := range records {
		writeRow(&buf, []string{
			title,
			rec.Author,
			rec.Content,
			rec.IPLocation,
			strconv.Itoa(rec.VoteCount),
		})
	}
	return buf.Bytes()
}

func writeRow(buf *bytes.Buffer, fields []string) {
	for i, field := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(field, `"`, `""`))
		buf.WriteByte('"')
	}
	buf.WriteByte('\n')
}

// FileName builds "<prefix>_<title>_<unixnano>.csv" with the title made safe
// for file systems and truncated to a fixed display width.
func FileName(prefix, title string, at time.Time) string {
	safe := SanitizeTitle(title)
	if safe == "" {
		safe = "untitled"
	}
	return prefix + "_" + safe + "_" + strconv.FormatInt(at.UnixNano(), 10) + ".csv"
}

// SanitizeTitle replaces path separators, reserved and URL-significant
// characters, and whitespace runs with underscores, then truncates to
// titleWidth columns.
func SanitizeTitle(title string) string {
	safe := unsafeName.ReplaceAllString(strings.TrimSpace(title), "_")
	return runewidth.Truncate(safe, titleWidth, "")
}
