package revstore_test

import (
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"

	"syncevo/luid"
	"syncevo/revstore"
)

// sampleRevisions returns a small map with one plain and one merged item.
func sampleRevisions() revstore.RevisionMap {
	return revstore.RevisionMap{
		"plain": {Revision: "r1", UID: "u1", SubIDs: revstore.NewSubIDSet("")},
		"event/with/slash": {
			Revision: "r2",
			UID:      "u2",
			SubIDs:   revstore.NewSubIDSet("", "2024-01-01T10:00:00Z"),
		},
	}
}

func TestStoreSaveLoad(t *testing.T) {
	for _, format := range []string{revstore.FormatSlash, revstore.FormatMsgPack} {
		t.Run(format, func(t *testing.T) {
			codec, err := revstore.CodecFor(format)
			if err != nil {
				t.Fatalf("CodecFor failed: %v", err)
			}
			revisions := revstore.NewMemNode()
			tokenNode := revstore.NewMemNode()
			store := revstore.NewStore(revisions, revstore.NewTokenSlot(tokenNode), codec)

			in := sampleRevisions()
			if err := store.Save(in, "db-rev-7"); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			// A second store on the flushed state sees the same data
			reloaded := revstore.NewMemNode()
			for k, v := range revisions.Flushed() {
				reloaded.SetProperty(k, v)
			}
			token := revstore.NewMemNode()
			for k, v := range tokenNode.Flushed() {
				token.SetProperty(k, v)
			}
			out, dbRevision, err := revstore.NewStore(reloaded, revstore.NewTokenSlot(token), codec).Load()
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if dbRevision != "db-rev-7" {
				t.Errorf("expected database revision db-rev-7, got %q", dbRevision)
			}
			if !out.Equal(in) {
				t.Errorf("loaded %v, want %v", out, in)
			}
		})
	}
}

func TestStoreSaveDropsEmptyEntries(t *testing.T) {
	revisions := revstore.NewMemNode()
	store := revstore.NewStore(revisions, revstore.NewTokenSlot(revstore.NewMemNode()),
		revstore.NewSlashCodec(luid.DefaultEscaper()))

	revs := sampleRevisions()
	revs["gone"] = revstore.RevisionEntry{Revision: "r3", UID: "u3", SubIDs: revstore.NewSubIDSet()}
	if err := store.Save(revs, "x"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	flushed := revisions.Flushed()
	if _, ok := flushed["gone"]; ok {
		t.Error("entry without sub-items was persisted")
	}
	if len(flushed) != 2 {
		t.Errorf("expected 2 records, got %v", flushed)
	}
}

// TestStoreSaveReplaces checks that Save rewrites the node instead of
// merging into it.
func TestStoreSaveReplaces(t *testing.T) {
	revisions := revstore.NewMemNode()
	store := revstore.NewStore(revisions, revstore.NewTokenSlot(revstore.NewMemNode()),
		revstore.NewSlashCodec(luid.DefaultEscaper()))

	if err := store.Save(sampleRevisions(), "1"); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	if err := store.Save(revstore.RevisionMap{
		"other": {Revision: "r", UID: "u", SubIDs: revstore.NewSubIDSet("")},
	}, "2"); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	flushed := revisions.Flushed()
	if len(flushed) != 1 || flushed["other"] != "/r/u//" {
		t.Errorf("unexpected records after rewrite: %v", flushed)
	}
}

func TestStoreLoadSkipsMalformed(t *testing.T) {
	revisions := revstore.NewMemNode()
	revisions.SetProperty("good", "/r1/u1//")
	revisions.SetProperty("no-subs", "/r2/u2/")
	revisions.SetProperty("garbage", "not a record")
	if err := revisions.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	store := revstore.NewStore(revisions, revstore.NewTokenSlot(revstore.NewMemNode()),
		revstore.NewSlashCodec(luid.DefaultEscaper()))
	revs, dbRevision, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if dbRevision != "" {
		t.Errorf("expected empty database revision, got %q", dbRevision)
	}
	if len(revs) != 1 {
		t.Fatalf("expected only the good record, got %v", revs)
	}
	if entry := revs["good"]; entry.Revision != "r1" || !entry.SubIDs.Has("") {
		t.Errorf("unexpected entry %+v", entry)
	}
}

func TestOpenFileDriver(t *testing.T) {
	fs := memfs.New()
	opts := revstore.Options{Driver: revstore.DriverFile, Source: "addressbook", FS: fs}

	store, err := revstore.Open(opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.Save(sampleRevisions(), "tok"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	slot := store.Slot("anchor")
	if slot == nil {
		t.Fatal("expected an auxiliary slot")
	}
	slot.Write("anchor-1")
	if err := slot.Flush(); err != nil {
		t.Fatalf("slot Flush failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for _, name := range []string{
		"addressbook/revisions.ini",
		"addressbook/database-revision.ini",
		"addressbook/anchor.ini",
	} {
		if _, err := fs.Stat(name); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}

	reopened, err := revstore.Open(opts)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	revs, token, err := reopened.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if token != "tok" || !revs.Equal(sampleRevisions()) {
		t.Errorf("unexpected state after reopen: %q %v", token, revs)
	}
	if anchor, _ := reopened.Slot("anchor").Read(); anchor != "anchor-1" {
		t.Errorf("expected anchor-1, got %q", anchor)
	}
}

func TestOpenSQLDrivers(t *testing.T) {
	for _, driver := range []string{revstore.DriverDuckDB, revstore.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			dbPath := filepath.Join(t.TempDir(), "tracking.db")

			store, err := revstore.Open(revstore.Options{
				Driver: driver,
				Path:   dbPath,
				Format: revstore.FormatMsgPack,
				Source: "calendar",
			})
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if err := store.Save(sampleRevisions(), "tok"); err != nil {
				store.Close()
				t.Fatalf("Save failed: %v", err)
			}
			if err := store.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			reopened, err := revstore.Open(revstore.Options{
				Driver: driver,
				Path:   dbPath,
				Format: revstore.FormatMsgPack,
				Source: "calendar",
			})
			if err != nil {
				t.Fatalf("reopen failed: %v", err)
			}
			defer reopened.Close()

			revs, token, err := reopened.Load()
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if token != "tok" || !revs.Equal(sampleRevisions()) {
				t.Errorf("unexpected state after reopen: %q %v", token, revs)
			}
		})
	}
}

func TestOpenValidation(t *testing.T) {
	tests := []struct {
		name string
		opts revstore.Options
	}{
		{"missing source", revstore.Options{Driver: revstore.DriverFile, FS: memfs.New()}},
		{"missing path", revstore.Options{Driver: revstore.DriverFile, Source: "s"}},
		{"unknown driver", revstore.Options{Driver: "csv", Path: "x", Source: "s"}},
		{"unknown format", revstore.Options{FS: memfs.New(), Source: "s", Format: "xml"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := revstore.Open(tc.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}
