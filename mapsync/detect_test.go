package mapsync_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"syncevo/luid"
	"syncevo/mapsync"
	"syncevo/memsource"
	"syncevo/revstore"
)

// randomMap builds a map over a small id space so that old and new maps
// overlap a lot.
func randomMap(rng *rand.Rand) revstore.RevisionMap {
	revs := revstore.RevisionMap{}
	for m := 0; m < 6; m++ {
		if rng.Intn(3) == 0 {
			continue
		}
		subs := revstore.NewSubIDSet()
		for s := 0; s < 4; s++ {
			if rng.Intn(2) == 0 {
				subs.Add(fmt.Sprintf("s%d", s))
			}
		}
		if rng.Intn(4) == 0 {
			subs.Add("")
		}
		if len(subs) == 0 {
			subs.Add("")
		}
		revs[fmt.Sprintf("m/%d", m)] = revstore.RevisionEntry{
			Revision: fmt.Sprintf("r%d", rng.Intn(2)),
			UID:      fmt.Sprintf("u%d", m),
			SubIDs:   subs,
		}
	}
	return revs
}

// TestDiffCompleteness checks every pair of random maps against the
// definition of NEW, UPDATED and DELETED.
func TestDiffCompleteness(t *testing.T) {
	codec := luid.Default()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		oldMap := randomMap(rng)
		newMap := randomMap(rng)
		changes := mapsync.Diff(codec, oldMap, newMap)

		want := mapsync.Changes{}
		for mainID, o := range oldMap {
			n, ok := newMap[mainID]
			if ok && n.Revision == o.Revision {
				continue
			}
			for subID := range o.SubIDs {
				if ok && n.SubIDs.Has(subID) {
					want[codec.Encode(mainID, subID)] = mapsync.ChangeUpdated
				} else {
					want[codec.Encode(mainID, subID)] = mapsync.ChangeDeleted
				}
			}
		}
		for mainID, n := range newMap {
			o, ok := oldMap[mainID]
			if ok && n.Revision == o.Revision {
				continue
			}
			for subID := range n.SubIDs {
				if !ok || !o.SubIDs.Has(subID) {
					want[codec.Encode(mainID, subID)] = mapsync.ChangeNew
				}
			}
		}

		if len(changes) != len(want) {
			t.Fatalf("round %d: got %d changes, want %d\nold=%v\nnew=%v", i, len(changes), len(want), oldMap, newMap)
		}
		for l, kind := range want {
			if changes[l] != kind {
				t.Fatalf("round %d: %s = %v, want %v", i, l, changes[l], kind)
			}
		}

		// Every change decodes to an id of one of the two maps
		for l := range changes {
			mainID, subID := codec.Decode(l)
			_, inOld := oldMap[mainID]
			_, inNew := newMap[mainID]
			if !inOld && !inNew {
				t.Fatalf("round %d: change %s (%q, %q) refers to unknown main item", i, l, mainID, subID)
			}
		}
	}
}

func TestDiffDoesNotModifyInputs(t *testing.T) {
	oldMap := revstore.RevisionMap{"a": {Revision: "1", SubIDs: revstore.NewSubIDSet("x")}}
	newMap := revstore.RevisionMap{"a": {Revision: "2", SubIDs: revstore.NewSubIDSet("y")}}
	oldCopy, newCopy := oldMap.Clone(), newMap.Clone()

	mapsync.Diff(luid.Default(), oldMap, newMap)

	if !oldMap.Equal(oldCopy) || !newMap.Equal(newCopy) {
		t.Error("Diff modified its inputs")
	}
}

// TestDetectFullKeepsOldMap checks that the backend refreshes a copy, not
// the caller's map.
func TestDetectFullKeepsOldMap(t *testing.T) {
	ctx := context.Background()
	backend := memsource.New()
	backend.Put("a", "", []byte("a"))

	oldMap := revstore.RevisionMap{
		"a":    {Revision: "old", UID: "u", SubIDs: revstore.NewSubIDSet("")},
		"gone": {Revision: "old", UID: "u", SubIDs: revstore.NewSubIDSet("")},
	}
	oldCopy := oldMap.Clone()

	det, err := mapsync.NewDetector(backend, luid.Default()).Detect(ctx, oldMap, "stale", "1", "")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if det.Mode != mapsync.ModeFull {
		t.Fatalf("expected FULL, got %v", det.Mode)
	}
	if !oldMap.Equal(oldCopy) {
		t.Error("old map modified by detection")
	}
	if _, ok := det.Revisions["gone"]; ok {
		t.Error("deleted item still in new map")
	}
	if det.Changes["gone"] != mapsync.ChangeDeleted || det.Changes["a"] != mapsync.ChangeUpdated {
		t.Errorf("unexpected changes %v", det.Changes)
	}
}

func TestSelectMode(t *testing.T) {
	ctx := context.Background()
	backend := memsource.New()
	backend.Put("a", "", []byte("a"))
	current, _ := backend.SubDatabaseRevision(ctx)
	d := mapsync.NewDetector(backend, luid.Default())

	tests := []struct {
		name        string
		dbRevision  string
		lastToken   string
		resumeToken string
		want        mapsync.Mode
	}{
		{"no tokens", current, "", "", mapsync.ModeSlow},
		{"unchanged database", current, "1", "", mapsync.ModeNone},
		{"changed database", "other", "1", "", mapsync.ModeFull},
		{"nothing persisted", "", "1", "", mapsync.ModeFull},
		{"resume token", current, "", "r", mapsync.ModeNone},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mode, err := d.SelectMode(ctx, tc.dbRevision, tc.lastToken, tc.resumeToken)
			if err != nil {
				t.Fatalf("SelectMode failed: %v", err)
			}
			if mode != tc.want {
				t.Errorf("got %v, want %v", mode, tc.want)
			}
		})
	}
}

// TestSelectModeSlowSkipsBackend verifies that a slow sync does not even ask
// for the database revision.
func TestSelectModeSlowSkipsBackend(t *testing.T) {
	backend := memsource.New()
	mode, err := mapsync.NewDetector(backend, luid.Default()).SelectMode(context.Background(), "x", "", "")
	if err != nil || mode != mapsync.ModeSlow {
		t.Fatalf("unexpected (%v, %v)", mode, err)
	}
	if n := backend.Calls(memsource.OpDatabaseRevision); n != 0 {
		t.Errorf("database revision queried %d times", n)
	}
}
