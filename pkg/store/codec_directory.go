package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docbase/store/pkg/fs"
)

// configFileName is the per-document metadata file in directory mode: every
// non-document field plus the $entitySet attribute.
const configFileName = "config.json"

// directoryCodec maps one document to a subdirectory: config.json for
// inline fields, one file per Document field. Staging and commit are the
// transaction engine's concern (see txn.go); this type only knows how to
// serialize a document into a directory and back.
type directoryCodec struct {
	fsys fs.FS
	aw   *fs.AtomicWriter
	view *schemaView
}

func newDirectoryCodec(fsys fs.FS, view *schemaView) *directoryCodec {
	return &directoryCodec{fsys: fsys, aw: fs.NewAtomicWriter(fsys), view: view}
}

// writeInto serializes doc as config.json + document-property files inside
// dir, which must already exist. Each file is written with
// [fs.AtomicWriter], so a crash mid-write leaves at most one half-written
// temp file behind, never a half-written live file.
func (c *directoryCodec) writeInto(dir string, set EntitySet, doc Document) error {
	docFields := set.Type.DocumentFields()
	isDocField := make(map[string]bool, len(docFields))

	for _, f := range docFields {
		isDocField[f.Name] = true
	}

	config := make(Document)
	for k, v := range doc {
		if k == entitySetAttr || isDocField[k] {
			continue
		}

		config[k] = v
	}

	config[entitySetAttr] = set.Name

	configBytes, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal config.json: %w", ErrIoError, err)
	}

	if err := c.aw.Write(filepath.Join(dir, configFileName), bytes.NewReader(configBytes), c.aw.DefaultOptions()); err != nil {
		return fmt.Errorf("%w: write config.json: %w", ErrIoError, err)
	}

	for _, field := range docFields {
		raw, present := doc[field.Name]
		if !present {
			continue
		}

		data, err := encodeFieldValue(field, raw)
		if err != nil {
			return fmt.Errorf("%w: encode field %q: %w", ErrIoError, field.Name, err)
		}

		ext := c.view.extensionFor(set, doc, field)
		name := field.Name

		if ext != "" {
			name += "." + ext
		}

		if err := c.aw.Write(filepath.Join(dir, name), bytes.NewReader(data), c.aw.DefaultOptions()); err != nil {
			return fmt.Errorf("%w: write field %q: %w", ErrIoError, field.Name, err)
		}
	}

	return nil
}

// readFrom reconstructs a document from a document directory. Missing
// document-property files become absent map keys (not empty strings), so
// callers can distinguish "field never set" from "field set to empty".
func (c *directoryCodec) readFrom(dir string, set EntitySet) (Document, error) {
	configBytes, err := c.fsys.ReadFile(filepath.Join(dir, configFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: read config.json: %w", ErrDecodeError, err)
	}

	doc := make(Document)
	if err := json.Unmarshal(configBytes, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode config.json: %w", ErrDecodeError, err)
	}

	delete(doc, entitySetAttr)

	for _, field := range set.Type.Fields {
		s, ok := doc[field.Name].(string)
		if field.Document || field.Type != FieldDateTimeOffset || !ok {
			continue
		}

		val, err := decodeFieldValue(field, []byte(s))
		if err != nil {
			return nil, fmt.Errorf("%w: decode field %q: %w", ErrDecodeError, field.Name, err)
		}

		doc[field.Name] = val
	}

	entries, err := c.fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read document dir: %w", ErrDecodeError, err)
	}

	byStem := make(map[string]os.DirEntry, len(entries))
	for _, e := range entries {
		name := e.Name()
		if name == configFileName {
			continue
		}

		stem := strings.SplitN(name, ".", 2)[0]
		byStem[stem] = e
	}

	for _, field := range set.Type.DocumentFields() {
		entry, ok := byStem[field.Name]
		if !ok {
			continue
		}

		data, err := c.fsys.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: read field %q: %w", ErrDecodeError, field.Name, err)
		}

		val, err := decodeFieldValue(field, data)
		if err != nil {
			return nil, fmt.Errorf("%w: decode field %q: %w", ErrDecodeError, field.Name, err)
		}

		doc[field.Name] = val
	}

	return doc, nil
}

// listLive returns the publicKeys of document directories under baseDir,
// skipping staging entries (anything prefixed with "~"; see txn.go).
func listLive(fsys fs.FS, baseDir string) ([]string, error) {
	entries, err := fsys.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("%w: read %q: %w", ErrIoError, baseDir, err)
	}

	var out []string

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		if strings.HasPrefix(e.Name(), "~") {
			continue
		}

		out = append(out, e.Name())
	}

	return out, nil
}

func encodeFieldValue(field Field, raw any) ([]byte, error) {
	switch field.Type {
	case FieldString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("field %q: expected string, got %T", field.Name, raw)
		}

		return []byte(s), nil
	case FieldBinary:
		b, ok := raw.([]byte)
		if !ok {
			return nil, fmt.Errorf("field %q: expected []byte, got %T", field.Name, raw)
		}

		return b, nil
	case FieldDateTimeOffset:
		t, ok := raw.(time.Time)
		if !ok {
			return nil, fmt.Errorf("field %q: expected time.Time, got %T", field.Name, raw)
		}

		return []byte(t.Format(time.RFC3339Nano)), nil
	case FieldComplex:
		return json.Marshal(raw)
	default:
		return nil, fmt.Errorf("field %q: unknown field type %v", field.Name, field.Type)
	}
}

func decodeFieldValue(field Field, data []byte) (any, error) {
	switch field.Type {
	case FieldString:
		return string(data), nil
	case FieldBinary:
		out := make([]byte, len(data))
		copy(out, data)

		return out, nil
	case FieldDateTimeOffset:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("field %q: parse timestamp: %w", field.Name, err)
		}

		return t, nil
	case FieldComplex:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("field %q: decode json: %w", field.Name, err)
		}

		return v, nil
	default:
		return nil, fmt.Errorf("field %q: unknown field type %v", field.Name, field.Type)
	}
}
