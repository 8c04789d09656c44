package revstore

import (
	"path"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rohanthewiz/serr"
)

// DriverFile selects FileNode storage.
const DriverFile = "file"

// Node names used inside a source's storage.
const (
	revisionsNode        = "revisions"
	databaseRevisionNode = "database-revision"
)

// Options select where and how a source's revision store is kept.
type Options struct {
	Driver string // DriverFile, DriverDuckDB or DriverSQLite
	Path   string // directory for DriverFile, database file otherwise
	Format string // FormatSlash or FormatMsgPack
	Source string // name of the sync source; separates stores sharing Path

	// FS overrides the filesystem for DriverFile. Defaults to the OS
	// filesystem rooted at Path.
	FS billy.Filesystem
}

// Open builds the Store described by opts.
func Open(opts Options) (*Store, error) {
	if opts.Source == "" {
		return nil, serr.New("source name is required for a revision store")
	}

	codec, err := CodecFor(opts.Format)
	if err != nil {
		return nil, serr.Wrap(err, "invalid record format")
	}

	switch opts.Driver {
	case "", DriverFile:
		fs := opts.FS
		if fs == nil {
			if opts.Path == "" {
				return nil, serr.New("store path is required for the file driver")
			}
			fs = osfs.New(opts.Path)
		}
		nodeFor := func(name string) Node {
			return NewFileNode(fs, path.Join(opts.Source, name+".ini"))
		}
		store := NewStore(nodeFor(revisionsNode), NewTokenSlot(nodeFor(databaseRevisionNode)), codec)
		store.aux = nodeFor
		return store, nil

	case DriverDuckDB, DriverSQLite:
		if opts.Path == "" {
			return nil, serr.New("database path is required for driver " + opts.Driver)
		}
		db, err := OpenDB(opts.Driver, filepath.Clean(opts.Path))
		if err != nil {
			return nil, err
		}
		nodeFor := func(name string) Node {
			return db.Node(opts.Source + "/" + name)
		}
		store := NewStore(nodeFor(revisionsNode), NewTokenSlot(nodeFor(databaseRevisionNode)), codec)
		store.aux = nodeFor
		store.closer = db
		return store, nil
	}

	return nil, serr.New("unknown store driver: " + opts.Driver)
}
