package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docbase/store/pkg/fs"
)

// commitMarkerName is the zero-byte file that authorizes recovery to
// finalize a staging directory. Its presence means every document file
// underneath it was fully written and synced; its absence means the
// staging directory is abandoned and safe to discard (spec.md §4.3).
const commitMarkerName = ".commit"

// stagingPrefix marks every staging directory name, so a directory listing
// can always tell staged work apart from live documents without opening
// anything.
const stagingPrefix = "~"

// txn drives the stage-then-rename commit protocol for one directory-mode
// entity set. Every mutation that touches the filesystem goes through
// stageInsert/stageUpdate/stageRemove so a crash at any point converges,
// on the next [recover] call, to either the pre- or the post-transaction
// state and never a mix (spec.md's crash-safety invariant).
type txn struct {
	fsys  fs.FS
	codec *directoryCodec
	base  string // directory holding one subdirectory per document
}

func newTxn(fsys fs.FS, codec *directoryCodec, base string) *txn {
	return &txn{fsys: fsys, codec: codec, base: base}
}

// insertStageName names the staging directory for a brand-new document:
// "~~<new>". The double prefix distinguishes it from a rename-in-place
// staging directory at a glance.
func insertStageName(newKey string) string {
	return stagingPrefix + stagingPrefix + newKey
}

// updateStageName names the staging directory for a document being
// rewritten, possibly under a new key: "~<new>~<old>".
func updateStageName(newKey, oldKey string) string {
	return stagingPrefix + newKey + stagingPrefix + oldKey
}

// parseStageName decodes a staging directory name back into its key(s).
// ok is false for any entry that isn't a recognized staging name.
func parseStageName(name string) (newKey, oldKey string, isInsert bool, ok bool) {
	if !strings.HasPrefix(name, stagingPrefix) {
		return "", "", false, false
	}

	rest := name[len(stagingPrefix):]

	if strings.HasPrefix(rest, stagingPrefix) {
		newKey = rest[len(stagingPrefix):]
		if newKey == "" {
			return "", "", false, false
		}

		return newKey, "", true, true
	}

	parts := strings.SplitN(rest, stagingPrefix, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false, false
	}

	return parts[0], parts[1], false, true
}

// stageInsert commits a new document: stage, write, mark, rename into place.
func (t *txn) stageInsert(set EntitySet, doc Document) error {
	newKey, err := publicKeyOf(set, doc)
	if err != nil {
		return err
	}

	stageDir := filepath.Join(t.base, insertStageName(newKey))

	if err := t.fsys.MkdirAll(stageDir, 0o755); err != nil {
		return fmt.Errorf("%w: create stage dir: %w", ErrIoError, err)
	}

	if err := t.codec.writeInto(stageDir, set, doc); err != nil {
		_ = t.fsys.RemoveAll(stageDir)
		return err
	}

	if err := t.mark(stageDir); err != nil {
		_ = t.fsys.RemoveAll(stageDir)
		return err
	}

	finalDir := filepath.Join(t.base, newKey)
	if err := t.fsys.Rename(stageDir, finalDir); err != nil {
		return fmt.Errorf("%w: rename into place: %w", ErrIoError, err)
	}

	return nil
}

// stageUpdate commits a rewritten document, possibly renaming its key:
// stage under the new key, write, mark, delete the old live directory,
// rename the stage into place.
func (t *txn) stageUpdate(set EntitySet, oldKey string, doc Document) error {
	newKey, err := publicKeyOf(set, doc)
	if err != nil {
		return err
	}

	stageDir := filepath.Join(t.base, updateStageName(newKey, oldKey))

	if err := t.fsys.MkdirAll(stageDir, 0o755); err != nil {
		return fmt.Errorf("%w: create stage dir: %w", ErrIoError, err)
	}

	if err := t.codec.writeInto(stageDir, set, doc); err != nil {
		_ = t.fsys.RemoveAll(stageDir)
		return err
	}

	if err := t.mark(stageDir); err != nil {
		_ = t.fsys.RemoveAll(stageDir)
		return err
	}

	oldDir := filepath.Join(t.base, oldKey)
	if oldKey != newKey {
		if err := t.fsys.RemoveAll(oldDir); err != nil {
			return fmt.Errorf("%w: remove old document dir: %w", ErrIoError, err)
		}
	} else {
		// Same key: the live directory is about to be replaced by rename,
		// but Rename onto an existing directory fails on most platforms,
		// so it must be cleared first. The commit marker in stageDir is
		// what lets recovery redo this step if we crash right here.
		if err := t.fsys.RemoveAll(oldDir); err != nil {
			return fmt.Errorf("%w: remove previous document dir: %w", ErrIoError, err)
		}
	}

	finalDir := filepath.Join(t.base, newKey)
	if err := t.fsys.Rename(stageDir, finalDir); err != nil {
		return fmt.Errorf("%w: rename into place: %w", ErrIoError, err)
	}

	return nil
}

// stageRemove deletes a live document directory. Removal has no
// intermediate on-disk state worth staging: [fs.FS.RemoveAll] either runs
// to completion or leaves the original directory untouched enough that a
// retry converges (spec.md does not require a remove to survive a crash
// mid-delete as anything other than "gone or not gone").
func (t *txn) stageRemove(key string) error {
	dir := filepath.Join(t.base, key)
	if err := t.fsys.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: remove document dir: %w", ErrIoError, err)
	}

	return nil
}

func (t *txn) mark(stageDir string) error {
	f, err := t.fsys.Create(filepath.Join(stageDir, commitMarkerName))
	if err != nil {
		return fmt.Errorf("%w: write commit marker: %w", ErrIoError, err)
	}

	syncErr := f.Sync()
	closeErr := f.Close()

	if syncErr != nil {
		return fmt.Errorf("%w: sync commit marker: %w", ErrIoError, syncErr)
	}

	if closeErr != nil {
		return fmt.Errorf("%w: close commit marker: %w", ErrIoError, closeErr)
	}

	return nil
}

// recover scans base for leftover staging directories and converges each
// one: a staging directory carrying [commitMarkerName] is finalized (the
// rename/delete steps that were interrupted are redone); one without it is
// discarded, since nothing durable depended on it yet. Called once at
// startup before the index is hydrated (spec.md §4.3's recovery scan).
func (t *txn) recover() error {
	entries, err := t.fsys.ReadDir(t.base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("%w: read %q: %w", ErrIoError, t.base, err)
	}

	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), stagingPrefix) {
			continue
		}

		stageDir := filepath.Join(t.base, e.Name())

		newKey, oldKey, isInsert, ok := parseStageName(e.Name())
		if !ok {
			// Not a name this package ever produces; leave it alone rather
			// than guess.
			continue
		}

		committed, err := t.fsys.Exists(filepath.Join(stageDir, commitMarkerName))
		if err != nil {
			return fmt.Errorf("%w: stat commit marker in %q: %w", ErrIoError, stageDir, err)
		}

		if !committed {
			if err := t.fsys.RemoveAll(stageDir); err != nil {
				return fmt.Errorf("%w: discard uncommitted stage %q: %w", ErrIoError, stageDir, err)
			}

			continue
		}

		if !isInsert && oldKey != newKey {
			oldDir := filepath.Join(t.base, oldKey)
			if err := t.fsys.RemoveAll(oldDir); err != nil {
				return fmt.Errorf("%w: finalize: remove old dir %q: %w", ErrIoError, oldDir, err)
			}
		}

		finalDir := filepath.Join(t.base, newKey)
		if err := t.fsys.RemoveAll(finalDir); err != nil {
			return fmt.Errorf("%w: finalize: clear %q: %w", ErrIoError, finalDir, err)
		}

		if err := t.fsys.Rename(stageDir, finalDir); err != nil {
			return fmt.Errorf("%w: finalize: rename %q: %w", ErrIoError, stageDir, err)
		}
	}

	return nil
}
