package luid

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadEscape is returned by UnescapeStrict for a truncated or non-hex
// escape sequence.
var ErrBadEscape = errors.New("invalid escape sequence")

const hexDigits = "0123456789ABCDEF"

// Escaper is an immutable percent-style escaper. The escape character and
// every reserved character are written as the escape character followed by
// two upper-case hex digits; all other bytes pass through unchanged.
//
// An Escaper is a plain value. Components that need one take it at
// construction instead of sharing package level state.
type Escaper struct {
	char     byte
	reserved string
}

// NewEscaper returns an Escaper using char as escape character and
// protecting every byte of reserved.
func NewEscaper(char byte, reserved string) Escaper {
	return Escaper{char: char, reserved: reserved}
}

// Char returns the escape character.
func (e Escaper) Char() byte {
	return e.char
}

func (e Escaper) needsEscape(b byte) bool {
	return b == e.char || strings.IndexByte(e.reserved, b) >= 0
}

// Escape protects the escape character and the reserved characters in s.
func (e Escaper) Escape(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if e.needsEscape(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if e.needsEscape(c) {
			b.WriteByte(e.char)
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0F])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Unescape reverses Escape. Invalid escape sequences are kept literally,
// so any string can be unescaped.
func (e Escaper) Unescape(s string) string {
	out, _ := e.unescape(s, false)
	return out
}

// UnescapeStrict reverses Escape and fails on an invalid escape sequence.
func (e Escaper) UnescapeStrict(s string) (string, error) {
	return e.unescape(s, true)
}

func (e Escaper) unescape(s string, strict bool) (string, error) {
	if strings.IndexByte(s, e.char) < 0 {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != e.char {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(s) {
			if strict {
				return "", fmt.Errorf("%w: truncated sequence in %q", ErrBadEscape, s)
			}
			b.WriteByte(c)
			continue
		}
		hi, okHi := fromHex(s[i+1])
		lo, okLo := fromHex(s[i+2])
		if !okHi || !okLo {
			if strict {
				return "", fmt.Errorf("%w: non-hex sequence in %q", ErrBadEscape, s)
			}
			b.WriteByte(c)
			continue
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), nil
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
