package extractor

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxFilenameLen = 200

// reserved on at least one filesystem the artifact may land on
var reservedChars = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", "\"", "_",
	"/", "_", "\\", "_", "|", "_", "?", "_", "*", "_",
	"\x00", "",
)

var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SanitizeFilename makes a title safe to use as a filename: accents folded
// to ASCII-ish base letters, reserved characters replaced, whitespace
// collapsed, and length capped while keeping the extension.
func SanitizeFilename(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	if folded, _, err := transform.String(stripMarks, base); err == nil {
		base = folded
	}
	base = reservedChars.Replace(base)
	base = strings.Join(strings.Fields(base), " ")
	base = strings.Trim(base, ". ")

	if base == "" {
		base = "download"
	}

	limit := maxFilenameLen - len(ext)
	if limit < 1 {
		limit = 1
	}
	if len(base) > limit {
		base = strings.TrimRight(base[:limit], ". ")
	}
	return base + ext
}
