package util

import (
	"strings"
	"unicode"

	humanize "github.com/dustin/go-humanize"
)

// FormatSize returns a human-readable size string in binary units.
func FormatSize(bytes uint64) string {
	return humanize.IBytes(bytes)
}

// FormatCount returns a human-readable item count.
func FormatCount(n uint64) string {
	return humanize.Comma(ClampI64(n))
}

// Percent returns the percentage of part relative to total.
func Percent(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// RepairName converts raw name bytes into a printable string for display.
// Invalid UTF-8 sequences and control characters are replaced; the model
// keeps the original bytes untouched.
func RepairName(name []byte) string {
	s := strings.ToValidUTF8(string(name), "�")
	if !strings.ContainsFunc(s, unicode.IsControl) {
		return s
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return '�'
		}
		return r
	}, s)
}
