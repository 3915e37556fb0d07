package store

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func templateSet() EntitySet {
	return EntitySet{
		Name: "templates",
		Mode: ModeDirectory,
		Type: EntityType{
			Name: "Template",
			Fields: []Field{
				{Name: "slug", Key: true, PublicKey: true, Type: FieldString},
				{Name: "title", Type: FieldString},
				{Name: "body", Type: FieldString, Document: true, Extension: "html"},
			},
		},
	}
}

func TestIndex_InsertAndFind(t *testing.T) {
	t.Parallel()

	idx := newIndex(templateSet())

	want := Document{"slug": "report", "title": "Report"}
	if _, err := idx.insert(want); err != nil {
		t.Fatalf("insert: %v", err)
	}

	docs := idx.find(nil)
	if len(docs) != 1 {
		t.Fatalf("find: got %d docs, want 1", len(docs))
	}

	if diff := cmp.Diff(want, docs[0]); diff != "" {
		t.Fatalf("document mismatch (-want +got):\n%s", diff)
	}
}

func TestIndex_Insert_DuplicateKeyRejected(t *testing.T) {
	t.Parallel()

	idx := newIndex(templateSet())

	if _, err := idx.insert(Document{"slug": "report", "title": "A"}); err != nil {
		t.Fatalf("insert 1: %v", err)
	}

	_, err := idx.insert(Document{"slug": "report", "title": "B"})
	if err == nil {
		t.Fatal("insert duplicate: want error, got nil")
	}
}

func TestIndex_Find_ReturnsClonesNotAliases(t *testing.T) {
	t.Parallel()

	idx := newIndex(templateSet())

	if _, err := idx.insert(Document{"slug": "report", "title": "Report"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	docs := idx.find(nil)
	docs[0]["title"] = "mutated"

	again := idx.find(nil)
	if again[0]["title"] != "Report" {
		t.Fatalf("index was mutated through a Find result: %v", again[0]["title"])
	}
}

func TestIndex_Update_SetSemantics(t *testing.T) {
	t.Parallel()

	idx := newIndex(templateSet())

	if _, err := idx.insert(Document{"slug": "report", "title": "Report", "body": "v1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	merged, newKey, created, err := idx.update("report", Document{"title": "Updated"}, false)
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if created {
		t.Fatal("update of existing key reported created=true")
	}

	if newKey != "report" {
		t.Fatalf("newKey=%q, want report", newKey)
	}

	if merged["title"] != "Updated" {
		t.Fatalf("title=%v, want Updated", merged["title"])
	}

	if merged["body"] != "v1" {
		t.Fatalf("body=%v, want v1 (unset fields must be preserved)", merged["body"])
	}
}

func TestIndex_Update_RenamesKeyWhenPublicKeyFieldChanges(t *testing.T) {
	t.Parallel()

	idx := newIndex(templateSet())

	if _, err := idx.insert(Document{"slug": "report", "title": "Report"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, newKey, _, err := idx.update("report", Document{"slug": "renamed"}, false)
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if newKey != "renamed" {
		t.Fatalf("newKey=%q, want renamed", newKey)
	}

	if _, ok := idx.get("report"); ok {
		t.Fatal("old key still present after rename")
	}

	if _, ok := idx.get("renamed"); !ok {
		t.Fatal("new key missing after rename")
	}
}

func TestIndex_Update_RenameRejectedOnCollision(t *testing.T) {
	t.Parallel()

	idx := newIndex(templateSet())

	if _, err := idx.insert(Document{"slug": "report", "title": "A"}); err != nil {
		t.Fatalf("insert report: %v", err)
	}

	if _, err := idx.insert(Document{"slug": "summary", "title": "B"}); err != nil {
		t.Fatalf("insert summary: %v", err)
	}

	_, _, _, err := idx.update("report", Document{"slug": "summary"}, false)
	if err == nil {
		t.Fatal("rename onto existing key: want error, got nil")
	}

	if _, ok := idx.get("report"); !ok {
		t.Fatal("failed rename must not remove the original document")
	}
}

func TestIndex_Update_MissingKeyWithoutUpsertFails(t *testing.T) {
	t.Parallel()

	idx := newIndex(templateSet())

	_, _, _, err := idx.update("missing", Document{"title": "x"}, false)
	if err == nil {
		t.Fatal("update of missing key without upsert: want error, got nil")
	}
}

func TestIndex_Update_UpsertInsertsWhenMissing(t *testing.T) {
	t.Parallel()

	idx := newIndex(templateSet())

	doc, newKey, created, err := idx.update("missing", Document{"slug": "missing", "title": "New"}, true)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if !created {
		t.Fatal("upsert of missing key: created=false, want true")
	}

	if newKey != "missing" {
		t.Fatalf("newKey=%q, want missing", newKey)
	}

	if doc["title"] != "New" {
		t.Fatalf("title=%v, want New", doc["title"])
	}
}

func TestIndex_Remove(t *testing.T) {
	t.Parallel()

	idx := newIndex(templateSet())

	if _, err := idx.insert(Document{"slug": "report", "title": "Report"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	removed, err := idx.remove("report")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}

	if removed["title"] != "Report" {
		t.Fatalf("removed title=%v, want Report", removed["title"])
	}

	if _, err := idx.remove("report"); err == nil {
		t.Fatal("remove of already-removed key: want error, got nil")
	}
}
