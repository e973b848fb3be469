// ABOUTME: StripControl removes terminal control sequences from backend text before it reaches a terminal.
// ABOUTME: Escape sequences are dropped whole; any remaining C0/C1 control except newline and tab is dropped too.
package markdown

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// StripControl returns s without escape sequences (CSI, OSC, DCS and the
// like) or bare control characters. Newlines and tabs are kept.
func StripControl(s string) string {
	if !hasControl(s) {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isControl(r) {
			return -1
		}
		return r
	}, ansi.Strip(s))
}

func hasControl(s string) bool {
	for _, r := range s {
		if isControl(r) {
			return true
		}
	}
	return false
}

func isControl(r rune) bool {
	switch {
	case r == '\n' || r == '\t':
		return false
	case r < 0x20, r == 0x7f:
		return true
	case r >= 0x80 && r <= 0x9f:
		return true
	}
	return false
}
