package store

import (
	"path/filepath"
	"testing"

	"github.com/docbase/store/pkg/fs"
)

func noteSet() EntitySet {
	return EntitySet{
		Name: "notes",
		Mode: ModeFlat,
		Type: EntityType{
			Name: "Note",
			Fields: []Field{
				{Name: "id", Key: true, PublicKey: true, Type: FieldString},
				{Name: "text", Type: FieldString},
			},
		},
	}
}

func TestFlatCodec_AppendAndReplay_LastWriteWins(t *testing.T) {
	t.Parallel()

	set := noteSet()
	fsys := fs.NewReal()
	codec := newFlatCodec(fsys)
	path := filepath.Join(t.TempDir(), "notes.ndjson")

	if err := codec.appendInsert(path, set, Document{"id": "a", "text": "first"}); err != nil {
		t.Fatalf("appendInsert: %v", err)
	}

	if err := codec.appendInsert(path, set, Document{"id": "b", "text": "second"}); err != nil {
		t.Fatalf("appendInsert b: %v", err)
	}

	if err := codec.appendUpdate(path, set, Document{"id": "a", "text": "first-updated"}); err != nil {
		t.Fatalf("appendUpdate: %v", err)
	}

	docs, err := codec.loadAll(path, set)
	if err != nil {
		t.Fatalf("loadAll: %v", err)
	}

	if len(docs) != 2 {
		t.Fatalf("loadAll returned %d docs, want 2", len(docs))
	}

	byID := map[string]Document{}
	for _, d := range docs {
		byID[d["id"].(string)] = d
	}

	if byID["a"]["text"] != "first-updated" {
		t.Fatalf("a.text=%v, want first-updated", byID["a"]["text"])
	}

	if byID["b"]["text"] != "second" {
		t.Fatalf("b.text=%v, want second", byID["b"]["text"])
	}
}

func TestFlatCodec_TombstoneRemovesDocument(t *testing.T) {
	t.Parallel()

	set := noteSet()
	fsys := fs.NewReal()
	codec := newFlatCodec(fsys)
	path := filepath.Join(t.TempDir(), "notes.ndjson")

	if err := codec.appendInsert(path, set, Document{"id": "a", "text": "first"}); err != nil {
		t.Fatalf("appendInsert: %v", err)
	}

	if err := codec.appendTombstone(path, set, "a"); err != nil {
		t.Fatalf("appendTombstone: %v", err)
	}

	docs, err := codec.loadAll(path, set)
	if err != nil {
		t.Fatalf("loadAll: %v", err)
	}

	if len(docs) != 0 {
		t.Fatalf("loadAll after tombstone returned %d docs, want 0", len(docs))
	}
}

func TestFlatCodec_LoadAll_MissingFileIsEmptyNotError(t *testing.T) {
	t.Parallel()

	set := noteSet()
	fsys := fs.NewReal()
	codec := newFlatCodec(fsys)

	docs, err := codec.loadAll(filepath.Join(t.TempDir(), "missing.ndjson"), set)
	if err != nil {
		t.Fatalf("loadAll: %v", err)
	}

	if len(docs) != 0 {
		t.Fatalf("loadAll=%v, want empty", docs)
	}
}

func TestFlatCodec_Compact_DropsHistoryAndTombstones(t *testing.T) {
	t.Parallel()

	set := noteSet()
	fsys := fs.NewReal()
	codec := newFlatCodec(fsys)
	path := filepath.Join(t.TempDir(), "notes.ndjson")

	if err := codec.appendInsert(path, set, Document{"id": "a", "text": "v1"}); err != nil {
		t.Fatalf("appendInsert: %v", err)
	}

	if err := codec.appendUpdate(path, set, Document{"id": "a", "text": "v2"}); err != nil {
		t.Fatalf("appendUpdate: %v", err)
	}

	if err := codec.appendInsert(path, set, Document{"id": "b", "text": "gone"}); err != nil {
		t.Fatalf("appendInsert b: %v", err)
	}

	if err := codec.appendTombstone(path, set, "b"); err != nil {
		t.Fatalf("appendTombstone: %v", err)
	}

	live, err := codec.loadAll(path, set)
	if err != nil {
		t.Fatalf("loadAll: %v", err)
	}

	if err := codec.compact(path, set, live); err != nil {
		t.Fatalf("compact: %v", err)
	}

	docs, err := codec.loadAll(path, set)
	if err != nil {
		t.Fatalf("loadAll after compact: %v", err)
	}

	if len(docs) != 1 || docs[0]["text"] != "v2" {
		t.Fatalf("docs after compact=%v, want single v2 record", docs)
	}
}
