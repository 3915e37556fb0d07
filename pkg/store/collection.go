package store

import (
	"github.com/google/uuid"
)

// Collection is a handle on one registered [EntitySet]'s documents. Every
// method routes through the provider's single write queue, so a
// Collection is safe to share across goroutines and its operations never
// interleave with concurrently applied external edits (spec.md §4.5).
type Collection struct {
	provider *Provider
	state    *setState
}

// Name returns the entity set name this Collection operates on.
func (c *Collection) Name() string {
	return c.state.set.Name
}

// Insert adds doc as a new document. If doc's publicKey field is absent or
// empty, Insert generates one. Returns [ErrDuplicateKey] if the resulting
// publicKey collides with a live document.
func (c *Collection) Insert(doc Document) (Document, error) {
	var result Document

	err := c.provider.queue.do(func() error {
		working := doc.Clone()

		if err := c.ensureKey(working); err != nil {
			return withContext(err, c.Name(), "")
		}

		stored, err := c.state.idx.insert(working)
		if err != nil {
			return withContext(err, c.Name(), "")
		}

		key, _ := publicKeyOf(c.state.set, stored)

		if err := c.persistInsert(stored); err != nil {
			_, _ = c.state.idx.remove(key)
			return withContext(err, c.Name(), key)
		}

		c.provider.markSelfWrite(c.state, key)
		c.provider.sync.publish(ActionInsert, c.state.set, stored)

		result = stored

		return nil
	})

	return result, err
}

// ensureKey fills in missing identity fields before insert: the primary
// key field and, if it names a distinct field, the publicKey used to name
// the document on disk. A schema may declare the two separately, so both
// are generated independently (spec.md §3: the primary key "is assigned on
// insert if missing").
func (c *Collection) ensureKey(doc Document) error {
	if field, ok := c.state.set.Type.KeyField(); ok {
		ensureStringField(doc, field)
	}

	if field, ok := c.state.set.Type.PublicKeyField(); ok {
		ensureStringField(doc, field)
	}

	return nil
}

// ensureStringField generates a value for field if doc doesn't already
// carry a non-empty string there.
func ensureStringField(doc Document, field Field) {
	if raw, ok := doc[field.Name]; ok {
		if s, ok := raw.(string); ok && s != "" {
			return
		}
	}

	doc[field.Name] = uuid.NewString()
}

func (c *Collection) persistInsert(doc Document) error {
	if c.state.set.Mode == ModeFlat {
		return newFlatCodec(c.provider.cfg.FS).appendInsert(c.state.path, c.state.set, doc)
	}

	return c.state.txn.stageInsert(c.state.set, doc)
}

// Update applies patch to the document identified by key as a partial
// ($set-style) update: fields present in patch overwrite, fields absent
// are untouched. If upsert is true, a missing key inserts patch as a new
// document instead of returning [ErrNotFound].
func (c *Collection) Update(key string, patch Document, upsert bool) (Document, error) {
	var result Document

	err := c.provider.queue.do(func() error {
		merged, newKey, created, err := c.state.idx.update(key, patch.Clone(), upsert)
		if err != nil {
			return withContext(err, c.Name(), key)
		}

		if created {
			err = c.persistInsert(merged)
		} else {
			err = c.persistUpdate(key, newKey, merged)
		}

		if err != nil {
			// Best-effort rollback: reload from disk is the authoritative
			// fix-up here, but within a single process the safest local
			// action is to drop the now-inconsistent in-memory entry so
			// the next Find doesn't serve unpersisted state.
			_, _ = c.state.idx.remove(newKey)
			return withContext(err, c.Name(), key)
		}

		c.provider.markSelfWrite(c.state, newKey)
		if newKey != key {
			c.provider.markSelfWrite(c.state, key)
		}

		action := ActionUpdate
		if created {
			action = ActionInsert
		}

		c.provider.sync.publish(action, c.state.set, merged)

		result = merged

		return nil
	})

	return result, err
}

func (c *Collection) persistUpdate(oldKey, newKey string, doc Document) error {
	if c.state.set.Mode == ModeFlat {
		return newFlatCodec(c.provider.cfg.FS).appendUpdate(c.state.path, c.state.set, doc)
	}

	return c.state.txn.stageUpdate(c.state.set, oldKey, doc)
}

// Remove deletes the document identified by key. Returns [ErrNotFound] if
// absent.
func (c *Collection) Remove(key string) (Document, error) {
	var result Document

	err := c.provider.queue.do(func() error {
		removed, err := c.state.idx.remove(key)
		if err != nil {
			return withContext(err, c.Name(), key)
		}

		if perr := c.persistRemove(key); perr != nil {
			// The document is gone from the index but may still be on
			// disk; reinsert so the in-memory view doesn't diverge from
			// what a restart would reload.
			_, _ = c.state.idx.insert(removed)
			return withContext(perr, c.Name(), key)
		}

		c.provider.markSelfWrite(c.state, key)
		c.provider.sync.publish(ActionRemove, c.state.set, removed)

		result = removed

		return nil
	})

	return result, err
}

func (c *Collection) persistRemove(key string) error {
	if c.state.set.Mode == ModeFlat {
		return newFlatCodec(c.provider.cfg.FS).appendTombstone(c.state.path, c.state.set, key)
	}

	return c.state.txn.stageRemove(key)
}

// Find returns clones of every document matching m. A nil m matches every
// document.
func (c *Collection) Find(m Matcher) ([]Document, error) {
	var result []Document

	err := c.provider.queue.do(func() error {
		result = c.state.idx.find(m)
		return nil
	})

	return result, err
}

// Count returns the number of documents matching m. A nil m matches every
// document.
func (c *Collection) Count(m Matcher) (int, error) {
	var result int

	err := c.provider.queue.do(func() error {
		result = c.state.idx.count(m)
		return nil
	})

	return result, err
}

// Get returns the document identified by key, or [ErrNotFound].
func (c *Collection) Get(key string) (Document, error) {
	var result Document

	err := c.provider.queue.do(func() error {
		doc, ok := c.state.idx.get(key)
		if !ok {
			return withContext(ErrNotFound, c.Name(), key)
		}

		result = doc

		return nil
	})

	return result, err
}
