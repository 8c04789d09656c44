// Package luid encodes the locally unique identifiers handed to the generic
// sync engine.
//
// A merged record is stored as one main item plus optional sub-items. The
// engine only sees flat strings, so a (MainID, SubID) pair is joined into one
// LUID:
//
//	escape(mainID)                      when subID == ""
//	escape(mainID) + "/" + escape(subID) otherwise
//
// Escaping protects both the delimiter and the escape character, so the
// first literal "/" in a LUID is always the delimiter and
// Decode(Encode(m, s)) == (m, s) holds for every pair of strings.
package luid

import "strings"

// Separator joins the escaped MainID and SubID.
const Separator = '/'

// DefaultEscaper returns the escaper used for LUIDs and revision records.
func DefaultEscaper() Escaper {
	return NewEscaper('%', string(Separator))
}

// Codec joins and splits LUIDs.
type Codec struct {
	esc Escaper
}

// NewCodec returns a Codec using esc. The escaper must reserve Separator.
func NewCodec(esc Escaper) Codec {
	return Codec{esc: esc}
}

// Default returns a Codec built on DefaultEscaper.
func Default() Codec {
	return NewCodec(DefaultEscaper())
}

// Encode builds the LUID for a main item and one of its sub-items.
func (c Codec) Encode(mainID, subID string) string {
	if subID == "" {
		return c.esc.Escape(mainID)
	}
	return c.esc.Escape(mainID) + string(Separator) + c.esc.Escape(subID)
}

// Decode splits a LUID at its first unescaped separator. A LUID without
// separator names a plain item and yields an empty subID.
func (c Codec) Decode(luid string) (mainID, subID string) {
	idx := strings.IndexByte(luid, Separator)
	if idx < 0 {
		return c.esc.Unescape(luid), ""
	}
	return c.esc.Unescape(luid[:idx]), c.esc.Unescape(luid[idx+1:])
}

// Encode uses the default codec.
func Encode(mainID, subID string) string {
	return Default().Encode(mainID, subID)
}

// Decode uses the default codec.
func Decode(luid string) (mainID, subID string) {
	return Default().Decode(luid)
}
