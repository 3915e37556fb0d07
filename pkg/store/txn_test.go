package store

import (
	"path/filepath"
	"testing"

	"github.com/docbase/store/pkg/fs"
)

func TestParseStageName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		wantNew    string
		wantOld    string
		wantInsert bool
		wantOK     bool
	}{
		{"~~newone", "newone", "", true, true},
		{"~new~old", "new", "old", false, true},
		{"report", "", "", false, false},
		{"~", "", "", false, false},
		{"~~", "", "", false, false},
	}

	for _, tc := range cases {
		gotNew, gotOld, gotInsert, gotOK := parseStageName(tc.name)
		if gotNew != tc.wantNew || gotOld != tc.wantOld || gotInsert != tc.wantInsert || gotOK != tc.wantOK {
			t.Errorf("parseStageName(%q) = (%q, %q, %v, %v), want (%q, %q, %v, %v)",
				tc.name, gotNew, gotOld, gotInsert, gotOK, tc.wantNew, tc.wantOld, tc.wantInsert, tc.wantOK)
		}
	}
}

func newTestTxn(t *testing.T, set EntitySet) (*txn, fs.FS, string) {
	t.Helper()

	fsys := fs.NewReal()
	base := t.TempDir()
	view := newSchemaView(NewStaticSchema(set), nil)
	codec := newDirectoryCodec(fsys, view)

	return newTxn(fsys, codec, base), fsys, base
}

func TestTxn_StageInsert_ProducesLiveDirectory(t *testing.T) {
	t.Parallel()

	set := templateSet()
	tx, fsys, base := newTestTxn(t, set)

	if err := tx.stageInsert(set, Document{"slug": "report", "title": "Report"}); err != nil {
		t.Fatalf("stageInsert: %v", err)
	}

	if exists, _ := fsys.Exists(filepath.Join(base, "report", configFileName)); !exists {
		t.Fatal("live document directory missing after stageInsert")
	}

	entries, err := fsys.ReadDir(base)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("base has %d entries after commit, want 1 (no leftover staging dir): %v", len(entries), entries)
	}
}

func TestTxn_Recover_FinalizesCommittedInsert(t *testing.T) {
	t.Parallel()

	set := templateSet()
	tx, fsys, base := newTestTxn(t, set)

	stageDir := filepath.Join(base, insertStageName("report"))
	if err := fsys.MkdirAll(stageDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	if err := tx.codec.writeInto(stageDir, set, Document{"slug": "report", "title": "Report"}); err != nil {
		t.Fatalf("writeInto: %v", err)
	}

	if err := tx.mark(stageDir); err != nil {
		t.Fatalf("mark: %v", err)
	}

	if err := tx.recover(); err != nil {
		t.Fatalf("recover: %v", err)
	}

	if exists, _ := fsys.Exists(filepath.Join(base, "report", configFileName)); !exists {
		t.Fatal("committed insert was not finalized by recover")
	}

	if exists, _ := fsys.Exists(stageDir); exists {
		t.Fatal("staging directory still present after recover finalized it")
	}
}

func TestTxn_Recover_DiscardsUncommittedInsert(t *testing.T) {
	t.Parallel()

	set := templateSet()
	tx, fsys, base := newTestTxn(t, set)

	stageDir := filepath.Join(base, insertStageName("report"))
	if err := fsys.MkdirAll(stageDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	if err := tx.codec.writeInto(stageDir, set, Document{"slug": "report", "title": "Report"}); err != nil {
		t.Fatalf("writeInto: %v", err)
	}

	// No commit marker written: simulates a crash before the transaction
	// was authorized.

	if err := tx.recover(); err != nil {
		t.Fatalf("recover: %v", err)
	}

	if exists, _ := fsys.Exists(stageDir); exists {
		t.Fatal("uncommitted staging directory survived recover")
	}

	if exists, _ := fsys.Exists(filepath.Join(base, "report")); exists {
		t.Fatal("uncommitted insert became live after recover")
	}
}

func TestTxn_Recover_FinalizesCommittedRename(t *testing.T) {
	t.Parallel()

	set := templateSet()
	tx, fsys, base := newTestTxn(t, set)

	if err := tx.stageInsert(set, Document{"slug": "old-slug", "title": "Report"}); err != nil {
		t.Fatalf("stageInsert: %v", err)
	}

	stageDir := filepath.Join(base, updateStageName("new-slug", "old-slug"))
	if err := fsys.MkdirAll(stageDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	if err := tx.codec.writeInto(stageDir, set, Document{"slug": "new-slug", "title": "Renamed"}); err != nil {
		t.Fatalf("writeInto: %v", err)
	}

	if err := tx.mark(stageDir); err != nil {
		t.Fatalf("mark: %v", err)
	}

	// Simulate crashing after marking the commit but before removing the
	// old live directory and renaming the stage into place.

	if err := tx.recover(); err != nil {
		t.Fatalf("recover: %v", err)
	}

	if exists, _ := fsys.Exists(filepath.Join(base, "old-slug")); exists {
		t.Fatal("old document directory still present after rename recovery")
	}

	if exists, _ := fsys.Exists(filepath.Join(base, "new-slug", configFileName)); !exists {
		t.Fatal("renamed document directory missing after recovery")
	}
}

func TestTxn_StageRemove_DeletesLiveDirectory(t *testing.T) {
	t.Parallel()

	set := templateSet()
	tx, fsys, base := newTestTxn(t, set)

	if err := tx.stageInsert(set, Document{"slug": "report", "title": "Report"}); err != nil {
		t.Fatalf("stageInsert: %v", err)
	}

	if err := tx.stageRemove("report"); err != nil {
		t.Fatalf("stageRemove: %v", err)
	}

	if exists, _ := fsys.Exists(filepath.Join(base, "report")); exists {
		t.Fatal("document directory still present after stageRemove")
	}
}
