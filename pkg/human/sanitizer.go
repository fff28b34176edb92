package human

import (
	"strings"
	"unicode"
)

// MaxLoggedText caps the text stored in a human log entry.
var MaxLoggedText = 4096

// Sanitize drops invalid UTF-8 and control characters other than newline, tab
// and carriage return, then caps the length at MaxLoggedText bytes.
func Sanitize(input string) string {
	input = strings.ToValidUTF8(input, "")

	clean := true
	for _, r := range input {
		if unicode.IsControl(r) && !isSafeControl(r) {
			clean = false
			break
		}
	}
	if !clean {
		var b strings.Builder
		b.Grow(len(input))
		for _, r := range input {
			if !unicode.IsControl(r) || isSafeControl(r) {
				b.WriteRune(r)
			}
		}
		input = b.String()
	}

	if len(input) > MaxLoggedText {
		cut := MaxLoggedText
		for cut > 0 && !isRuneStart(input[cut]) {
			cut--
		}
		input = input[:cut]
	}
	return input
}

func isSafeControl(r rune) bool {
	return r == '\n' || r == '\t' || r == '\r'
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
