package revstore

import (
	"encoding/base64"
	"fmt"

	"github.com/rohanthewiz/serr"
	"github.com/vmihailenco/msgpack/v5"
)

// msgpackRecord is the wire shape of a revision record in msgpack format.
// Short keys keep the stored property values compact.
type msgpackRecord struct {
	Revision string   `msgpack:"r"`
	UID      string   `msgpack:"u"`
	SubIDs   []string `msgpack:"s"`
}

// MsgPackCodec stores revision records as Base64-encoded msgpack.
//
// msgpack length-prefixes every string, so revisions and sub-ids may
// contain any byte without escaping. Base64 keeps the result safe for the
// line oriented file node.
//
// Encoding pipeline: RevisionEntry -> msgpack bytes -> Base64 string
type MsgPackCodec struct{}

func (MsgPackCodec) Encode(entry RevisionEntry) (string, error) {
	rec := msgpackRecord{
		Revision: entry.Revision,
		UID:      entry.UID,
		SubIDs:   entry.SubIDs.Sorted(),
	}

	msgpackBytes, err := msgpack.Marshal(&rec)
	if err != nil {
		return "", serr.Wrap(err, "failed to msgpack encode revision record")
	}

	return base64.StdEncoding.EncodeToString(msgpackBytes), nil
}

// Decoding pipeline: Base64 string -> msgpack bytes -> RevisionEntry
func (MsgPackCodec) Decode(value string) (RevisionEntry, error) {
	msgpackBytes, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return RevisionEntry{}, fmt.Errorf("%w: bad base64: %v", ErrMalformedRecord, err)
	}

	var rec msgpackRecord
	if err := msgpack.Unmarshal(msgpackBytes, &rec); err != nil {
		return RevisionEntry{}, fmt.Errorf("%w: bad msgpack: %v", ErrMalformedRecord, err)
	}
	if len(rec.SubIDs) == 0 {
		return RevisionEntry{}, fmt.Errorf("%w: no sub-items", ErrMalformedRecord)
	}

	return RevisionEntry{
		Revision: rec.Revision,
		UID:      rec.UID,
		SubIDs:   NewSubIDSet(rec.SubIDs...),
	}, nil
}
