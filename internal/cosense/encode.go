package cosense

import (
	"strings"
	"unicode/utf8"
)

const upperhex = "0123456789ABCDEF"

// Encode percent-encodes the characters that break a Cosense ?body= query
// value: / ? # { } ^ | < > % and whitespace. Every other character,
// including non-ASCII text, is left as is. Escapes use the UTF-8 bytes of
// the character with uppercase hex digits.
func Encode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var buf [utf8.UTFMax]byte
	for _, r := range s {
		if !needsEscape(r) {
			b.WriteRune(r)
			continue
		}
		n := utf8.EncodeRune(buf[:], r)
		for _, c := range buf[:n] {
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&0x0f])
		}
	}
	return b.String()
}

func needsEscape(r rune) bool {
	switch r {
	case '/', '?', '#', '{', '}', '^', '|', '<', '>', '%':
		return true
	}
	return isSpace(r)
}

// isSpace reports whether r is whitespace in the ECMAScript sense
// (WhiteSpace and LineTerminator). This differs from unicode.IsSpace: it
// includes U+FEFF and excludes U+0085.
func isSpace(r rune) bool {
	switch r {
	case '\t', '\n', '\v', '\f', '\r', ' ',
		0x00A0, 0x1680, 0x2028, 0x2029, 0x202F, 0x205F, 0x3000, 0xFEFF:
		return true
	}
	return r >= 0x2000 && r <= 0x200A
}
