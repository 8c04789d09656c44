package revstore

import (
	"io"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// Store persists the revision map of one sync source together with the
// whole-database revision token seen when the map was written.
//
// Save is "clear then rewrite in full". It is only atomic with respect to
// normal completion: a crash between the two flushes can leave the map and
// the token out of step.
type Store struct {
	revisions Node
	token     *TokenSlot
	codec     RecordCodec
	aux       func(name string) Node
	closer    io.Closer
}

// NewStore combines a node for the revision records, a token slot and the
// record codec.
func NewStore(revisions Node, token *TokenSlot, codec RecordCodec) *Store {
	return &Store{revisions: revisions, token: token, codec: codec}
}

// Load reads the persisted map and database revision. Records that cannot
// be decoded are logged and skipped; their MainIDs then look unseen to
// change detection and are picked up again by the next full scan.
func (s *Store) Load() (RevisionMap, string, error) {
	props, err := s.revisions.ReadProperties()
	if err != nil {
		return nil, "", serr.Wrap(err, "failed to read revision records")
	}

	revs := make(RevisionMap, len(props))
	skipped := 0
	for _, p := range props {
		entry, err := s.codec.Decode(p.Value)
		if err != nil {
			logger.LogErr(err, "skipping malformed revision record", "main_id", p.Key)
			skipped++
			continue
		}
		revs[p.Key] = entry
	}

	dbRevision, err := s.token.Read()
	if err != nil {
		return nil, "", serr.Wrap(err, "failed to read database revision")
	}

	logger.Debug("Loaded revision store",
		"items", len(revs),
		"skipped", skipped,
		"database_revision", dbRevision,
	)
	return revs, dbRevision, nil
}

// Save replaces the persisted map and token. Entries without sub-items are
// dropped: a MainID must never be persisted with an empty set.
func (s *Store) Save(revs RevisionMap, dbRevision string) error {
	s.revisions.Clear()
	for _, mainID := range revs.MainIDs() {
		entry := revs[mainID]
		if len(entry.SubIDs) == 0 {
			logger.Debug("Not persisting main item without sub-items", "main_id", mainID)
			continue
		}
		value, err := s.codec.Encode(entry)
		if err != nil {
			return serr.Wrap(err, "failed to encode revision record for "+mainID)
		}
		s.revisions.SetProperty(mainID, value)
	}
	if err := s.revisions.Flush(); err != nil {
		return serr.Wrap(err, "failed to flush revision records")
	}

	s.token.Write(dbRevision)
	if err := s.token.Flush(); err != nil {
		return serr.Wrap(err, "failed to flush database revision")
	}

	return nil
}

// Slot returns an additional single-value slot stored next to the revision
// records, e.g. for a caller's continuation token. It returns nil when the
// store was built by hand with NewStore.
func (s *Store) Slot(name string) *TokenSlot {
	if s.aux == nil {
		return nil
	}
	return NewTokenSlot(s.aux(name))
}

// Close releases the underlying database, if any.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
