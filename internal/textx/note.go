// Package textx cleans free text supplied by buyers and sellers.
package textx

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNoteLen bounds item notes and history notes, in runes.
const MaxNoteLen = 500

var strict = bluemonday.StrictPolicy()

// Note strips all markup from s, trims it and truncates it to MaxNoteLen runes.
func Note(s string) string {
	s = strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
	if utf8.RuneCountInString(s) <= MaxNoteLen {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:MaxNoteLen]))
}
