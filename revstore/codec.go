package revstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rohanthewiz/serr"

	"syncevo/luid"
)

// ErrMalformedRecord marks a persisted revision record that cannot be
// decoded. Such records are skipped on load.
var ErrMalformedRecord = errors.New("malformed revision record")

// RecordCodec turns a RevisionEntry into the property value stored under
// its MainID and back.
type RecordCodec interface {
	Encode(entry RevisionEntry) (string, error)
	Decode(value string) (RevisionEntry, error)
}

// Record format names accepted by CodecFor.
const (
	FormatSlash   = "slash"
	FormatMsgPack = "msgpack"
)

// CodecFor returns the codec registered under format.
func CodecFor(format string) (RecordCodec, error) {
	switch format {
	case "", FormatSlash:
		return NewSlashCodec(luid.DefaultEscaper()), nil
	case FormatMsgPack:
		return MsgPackCodec{}, nil
	}
	return nil, serr.New("unknown record format: " + format)
}

// SlashCodec writes records as
//
//	/revision/uid/subid1/subid2/.../
//
// Every field is escaped so that it never contains a literal slash. Sub-ids
// are written sorted, which keeps the stored value stable for equal sets.
type SlashCodec struct {
	esc luid.Escaper
}

// NewSlashCodec returns a SlashCodec; esc must reserve '/'.
func NewSlashCodec(esc luid.Escaper) SlashCodec {
	return SlashCodec{esc: esc}
}

func (c SlashCodec) Encode(entry RevisionEntry) (string, error) {
	var b strings.Builder
	b.WriteByte('/')
	b.WriteString(c.esc.Escape(entry.Revision))
	b.WriteByte('/')
	b.WriteString(c.esc.Escape(entry.UID))
	b.WriteByte('/')
	for _, subID := range entry.SubIDs.Sorted() {
		b.WriteString(c.esc.Escape(subID))
		b.WriteByte('/')
	}
	return b.String(), nil
}

func (c SlashCodec) Decode(value string) (RevisionEntry, error) {
	if !strings.HasPrefix(value, "/") {
		return RevisionEntry{}, fmt.Errorf("%w: missing leading slash in %q", ErrMalformedRecord, value)
	}

	var fields []string
	rest := value[1:]
	for rest != "" {
		idx := strings.IndexByte(rest, '/')
		if idx < 0 {
			return RevisionEntry{}, fmt.Errorf("%w: unterminated field in %q", ErrMalformedRecord, value)
		}
		field, err := c.esc.UnescapeStrict(rest[:idx])
		if err != nil {
			return RevisionEntry{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		fields = append(fields, field)
		rest = rest[idx+1:]
	}

	if len(fields) < 2 {
		return RevisionEntry{}, fmt.Errorf("%w: missing revision or uid in %q", ErrMalformedRecord, value)
	}
	if len(fields) == 2 {
		return RevisionEntry{}, fmt.Errorf("%w: no sub-items in %q", ErrMalformedRecord, value)
	}

	return RevisionEntry{
		Revision: fields[0],
		UID:      fields[1],
		SubIDs:   NewSubIDSet(fields[2:]...),
	}, nil
}
