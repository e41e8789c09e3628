package httprelay

import (
	"strings"
	"unicode"
)

// stripInvisible drops format and control characters, keeping tabs and line breaks.
func stripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t', r == '\n', r == '\r':
			return r
		case unicode.Is(unicode.Cf, r), unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
}
