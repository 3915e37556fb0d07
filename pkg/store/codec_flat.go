package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/docbase/store/pkg/fs"
)

// flatDeletedAttr marks a tombstone record in a flat-mode log: the record
// carries only the publicKey field, $entitySet, and this attribute set true.
const flatDeletedAttr = "$$deleted"

// flatCodec persists an entity set as a single append-only
// newline-delimited JSON file. Reads replay the whole log and fold
// records by publicKey, last write wins, tombstones removing prior
// entries — the same shape as [jsonldb.Table]'s load/Append pair in the
// maruel-mddb reference implementation, adapted here to publicKey-keyed
// documents instead of content-addressed blobs.
type flatCodec struct {
	fsys fs.FS
	aw   *fs.AtomicWriter
}

func newFlatCodec(fsys fs.FS) *flatCodec {
	return &flatCodec{fsys: fsys, aw: fs.NewAtomicWriter(fsys)}
}

// append writes one record to the end of the log at path, creating it if
// necessary. Each record is a single JSON line.
func (c *flatCodec) append(path string, record Document) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: marshal record: %w", ErrIoError, err)
	}

	line = append(line, '\n')

	f, err := c.fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %q for append: %w", ErrIoError, path, err)
	}

	_, writeErr := f.Write(line)

	syncErr := f.Sync()
	closeErr := f.Close()

	if writeErr != nil {
		return fmt.Errorf("%w: append to %q: %w", ErrIoError, path, writeErr)
	}

	if syncErr != nil {
		return fmt.Errorf("%w: sync %q: %w", ErrIoError, path, syncErr)
	}

	if closeErr != nil {
		return fmt.Errorf("%w: close %q: %w", ErrIoError, path, closeErr)
	}

	return nil
}

// appendInsert records doc as a new entry in the set's log.
func (c *flatCodec) appendInsert(path string, set EntitySet, doc Document) error {
	return c.append(path, withEntitySetAttr(doc, set.Name))
}

// appendUpdate records a replacement for the document identified by the
// set's publicKey field.
func (c *flatCodec) appendUpdate(path string, set EntitySet, doc Document) error {
	return c.append(path, withEntitySetAttr(doc, set.Name))
}

// appendTombstone records a deletion of the document identified by key.
func (c *flatCodec) appendTombstone(path string, set EntitySet, key string) error {
	field, ok := set.Type.PublicKeyField()
	if !ok {
		return fmt.Errorf("%w: entity type %q declares no key field", ErrSchemaUnknown, set.Type.Name)
	}

	record := Document{
		field.Name:      key,
		flatDeletedAttr: true,
		entitySetAttr:   set.Name,
	}

	return c.append(path, record)
}

// loadAll replays the log at path and folds it into the live document set,
// last write wins, tombstones removing prior entries. A missing file
// yields an empty, non-error result (the set has simply never been
// written to).
func (c *flatCodec) loadAll(path string, set EntitySet) ([]Document, error) {
	data, err := c.fsys.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("%w: read %q: %w", ErrIoError, path, err)
	}

	byKey := make(map[string]Document)
	order := make([]string, 0)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec Document
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("%w: decode record in %q: %w", ErrDecodeError, path, err)
		}

		key, err := publicKeyOf(set, rec)
		if err != nil {
			return nil, err
		}

		if deleted, _ := rec[flatDeletedAttr].(bool); deleted {
			if _, existed := byKey[key]; existed {
				delete(byKey, key)
			}

			continue
		}

		delete(rec, entitySetAttr)
		delete(rec, flatDeletedAttr)

		if _, existed := byKey[key]; !existed {
			order = append(order, key)
		}

		byKey[key] = rec
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan %q: %w", ErrIoError, path, err)
	}

	out := make([]Document, 0, len(order))

	for _, key := range order {
		if doc, ok := byKey[key]; ok {
			out = append(out, doc)
		}
	}

	return out, nil
}

// compact rewrites the log at path to contain only the current live
// documents, one insert record each, dropping tombstones and superseded
// history. Used to bound unbounded log growth; not invoked automatically
// (spec.md names no compaction trigger), exposed for callers that want to
// schedule it themselves.
func (c *flatCodec) compact(path string, set EntitySet, docs []Document) error {
	var buf bytes.Buffer

	for _, doc := range docs {
		line, err := json.Marshal(withEntitySetAttr(doc, set.Name))
		if err != nil {
			return fmt.Errorf("%w: marshal record: %w", ErrIoError, err)
		}

		buf.Write(line)
		buf.WriteByte('\n')
	}

	if err := c.aw.Write(path, bytes.NewReader(buf.Bytes()), c.aw.DefaultOptions()); err != nil {
		return fmt.Errorf("%w: compact %q: %w", ErrIoError, path, err)
	}

	return nil
}
