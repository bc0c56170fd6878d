// Package ansi removes terminal control sequences from captured CLI output.
package ansi

import (
	"regexp"
	"strings"
)

var (
	// ESC [ params final-byte, e.g. colours, cursor moves, private modes (?25l).
	csiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)
	// ESC ] ... terminated by BEL or ST (ESC \).
	oscPattern = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)
	// Keypad application/normal mode.
	keypadPattern = regexp.MustCompile(`\x1b[=>]`)
)

// Strip removes CSI, OSC and keypad-mode sequences and normalizes CRLF and lone
// CR to LF. Strip(Strip(s)) == Strip(s).
func Strip(s string) string {
	for {
		next := stripOnce(s)
		if next == s {
			return next
		}
		s = next
	}
}

func stripOnce(s string) string {
	if strings.IndexByte(s, 0x1b) >= 0 {
		s = oscPattern.ReplaceAllString(s, "")
		s = csiPattern.ReplaceAllString(s, "")
		s = keypadPattern.ReplaceAllString(s, "")
	}
	if strings.IndexByte(s, '\r') >= 0 {
		s = strings.ReplaceAll(s, "\r\n", "\n")
		s = strings.ReplaceAll(s, "\r", "\n")
	}
	return s
}

// DropBlankLines removes lines that are empty or whitespace-only and joins the
// rest with "\n".
func DropBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
