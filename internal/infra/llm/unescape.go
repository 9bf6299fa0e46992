package llm

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Unescape resolves common JSON escape sequences left in a raw delta.
// Deltas recovered by the regex/substring fallback strategies arrive with
// their escapes still literal (`\n`, `\"`, `é`, ...), so the fragment
// buffer unescapes every delta before appending it.
//
// Unknown escapes are kept verbatim rather than dropped — a provider emitting
// something unexpected must not silently lose characters.
func Unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
			i++
		case 't':
			b.WriteByte('\t')
			i++
		case 'r':
			b.WriteByte('\r')
			i++
		case '"':
			b.WriteByte('"')
			i++
		case '/':
			b.WriteByte('/')
			i++
		case '\\':
			b.WriteByte('\\')
			i++
		case 'u':
			r, consumed := decodeUnicodeEscape(s[i:])
			if consumed == 0 {
				b.WriteByte(c)
				break
			}
			b.WriteRune(r)
			i += consumed - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// decodeUnicodeEscape decodes a `\uXXXX` sequence at the start of s,
// including UTF-16 surrogate pairs (`😀`). Returns the rune and
// the number of bytes consumed, or 0 if the sequence is malformed.
func decodeUnicodeEscape(s string) (rune, int) {
	if len(s) < 6 || s[0] != '\\' || s[1] != 'u' {
		return 0, 0
	}
	hi, ok := hex4(s[2:6])
	if !ok {
		return 0, 0
	}
	if !utf16.IsSurrogate(hi) {
		return hi, 6
	}
	// High surrogate: needs a following \uXXXX low surrogate.
	if len(s) >= 12 && s[6] == '\\' && s[7] == 'u' {
		if lo, ok := hex4(s[8:12]); ok {
			if r := utf16.DecodeRune(hi, lo); r != utf8.RuneError {
				return r, 12
			}
		}
	}
	// Unpaired surrogate — emit the replacement char rather than garbage.
	return utf8.RuneError, 6
}

// hex4 parses exactly four hex digits.
func hex4(s string) (rune, bool) {
	var v rune
	for i := 0; i < 4; i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			v = v<<4 | rune(c-'0')
		case c >= 'a' && c <= 'f':
			v = v<<4 | rune(c-'a'+10)
		case c >= 'A' && c <= 'F':
			v = v<<4 | rune(c-'A'+10)
		default:
			return 0, false
		}
	}
	return v, true
}
