package pipeline

import (
	"strings"
	"unicode"
)

// ValidUserName reports whether a NodeInfo name is worth keeping.
// Callsigns on the mesh mix Latin and Cyrillic letters, digits,
// emoji and punctuation freely; the gate only rejects names that
// render as nothing at all: empty, whitespace-only or made of
// control and replacement characters.
func ValidUserName(name string) bool {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return false
	}
	visible := false
	for _, r := range trimmed {
		if r == unicode.ReplacementChar {
			continue
		}
		if unicode.IsControl(r) {
			return false
		}
		if unicode.IsPrint(r) && !unicode.IsSpace(r) {
			visible = true
		}
	}
	return visible
}

// CleanUserName returns the name if valid, "" otherwise. An empty
// string merges as an absent hash field, which is what invalidates a
// Dot that has nothing else to show.
func CleanUserName(name string) string {
	if !ValidUserName(name) {
		return ""
	}
	return strings.TrimSpace(name)
}
