package fs_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/docbase/store/pkg/fs"
)

const testContentHello = "hello"

func TestAtomicWriteFile_ReplacesContentAndLeavesNoTempFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "final.txt")

	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	writer := fs.NewAtomicWriter(fs.NewReal())

	if err := writer.WriteWithDefaults(path, strings.NewReader(testContentHello)); err != nil {
		t.Fatalf("WriteWithDefaults: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != testContentHello {
		t.Fatalf("content=%q, want %q", string(got), testContentHello)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("dir has %d entries after write, want 1 (no leftover temp file): %v", len(entries), entries)
	}
}

func TestAtomicWriteFile_RejectsNilOptsPerm(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writer := fs.NewAtomicWriter(fs.NewReal())

	err := writer.Write(filepath.Join(dir, "x.txt"), strings.NewReader("x"), fs.AtomicWriteOptions{})
	if err == nil {
		t.Fatal("Write with zero Perm: want error, got nil")
	}
}
