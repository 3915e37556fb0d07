package store

import "fmt"

// index is the in-memory view of one entity set (spec.md §4.4). Every read
// and write clones: Find returns clones so callers can't mutate the index
// by reference, and insert/update/remove work from clones so a caller's
// slice of the input document can't alias stored state either.
//
// index is not safe for concurrent use; the owning [Collection] serializes
// access through the store's write queue.
type index struct {
	set EntitySet
	// byKey holds the live documents keyed by publicKey.
	byKey map[string]Document
	// order preserves insertion order for stable iteration in Find/Count.
	order []string
}

func newIndex(set EntitySet) *index {
	return &index{
		set:   set,
		byKey: make(map[string]Document),
	}
}

// load replaces the index contents wholesale, as used by the startup loader
// and by flat-mode watcher reloads. Each document is stored as a clone.
// Returns [ErrDuplicateKey] if two documents share a publicKey, in which
// case the previous contents are left untouched.
func (idx *index) load(docs []Document) error {
	byKey := make(map[string]Document, len(docs))
	order := make([]string, 0, len(docs))

	for _, doc := range docs {
		key, err := publicKeyOf(idx.set, doc)
		if err != nil {
			return err
		}

		if _, dup := byKey[key]; dup {
			return duplicateKeyError(key)
		}

		byKey[key] = doc.Clone()
		order = append(order, key)
	}

	idx.byKey = byKey
	idx.order = order

	return nil
}

// find returns clones of every document matching m, in insertion order.
func (idx *index) find(m Matcher) []Document {
	if m == nil {
		m = matchAll
	}

	out := make([]Document, 0, len(idx.order))

	for _, key := range idx.order {
		doc := idx.byKey[key]
		if m.Match(doc) {
			out = append(out, doc.Clone())
		}
	}

	return out
}

// get returns a clone of the document stored under key.
func (idx *index) get(key string) (Document, bool) {
	doc, ok := idx.byKey[key]
	if !ok {
		return nil, false
	}

	return doc.Clone(), true
}

// count returns the number of documents matching m.
func (idx *index) count(m Matcher) int {
	if m == nil {
		m = matchAll
	}

	n := 0

	for _, key := range idx.order {
		if m.Match(idx.byKey[key]) {
			n++
		}
	}

	return n
}

// insert adds a clone of doc under its publicKey. It generates no keys
// (see [Collection.Insert]); a missing or invalid publicKey is an error.
// Returns [ErrDuplicateKey] if the key collides with a live document.
func (idx *index) insert(doc Document) (Document, error) {
	clone := doc.Clone()

	key, err := publicKeyOf(idx.set, clone)
	if err != nil {
		return nil, err
	}

	if _, dup := idx.byKey[key]; dup {
		return nil, duplicateKeyError(key)
	}

	idx.byKey[key] = clone
	idx.order = append(idx.order, key)

	return clone.Clone(), nil
}

// update applies patch as a $set-style partial update to the document
// identified by key. Every field present in patch overwrites the stored
// field; absent fields are left untouched. If patch changes the publicKey
// field, update validates the new key is free before committing the
// rename — so a failed rename never leaves the index half-mutated.
//
// If upsert is true and key does not exist, update inserts patch as a new
// document instead of failing with [ErrNotFound]; created reports which
// path was taken, so callers know whether to persist via an insert-shaped
// or an update-shaped operation.
func (idx *index) update(key string, patch Document, upsert bool) (doc Document, newKey string, created bool, err error) {
	existing, ok := idx.byKey[key]
	if !ok {
		if upsert {
			inserted, err := idx.insert(patch)
			if err != nil {
				return nil, "", false, err
			}

			k, _ := publicKeyOf(idx.set, inserted)

			return inserted, k, true, nil
		}

		return nil, "", false, fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	merged := existing.Clone()
	for k, v := range patch {
		merged[k] = cloneValue(v)
	}

	mergedKey, kerr := publicKeyOf(idx.set, merged)
	if kerr != nil {
		return nil, "", false, kerr
	}

	if mergedKey != key {
		if _, dup := idx.byKey[mergedKey]; dup {
			return nil, "", false, duplicateKeyError(mergedKey)
		}
	}

	delete(idx.byKey, key)
	idx.byKey[mergedKey] = merged

	if mergedKey != key {
		for i, k := range idx.order {
			if k == key {
				idx.order[i] = mergedKey
				break
			}
		}
	}

	return merged.Clone(), mergedKey, false, nil
}

// findByID returns the publicKey and a clone of the document whose value
// for field equals id. Used by sync-subscription apply, which locates
// documents by primary key rather than by publicKey (spec.md §4.7:
// update/remove are "keyed by _id", which need not be the field a
// directory-mode document is named by on disk).
func (idx *index) findByID(field Field, id any) (key string, doc Document, ok bool) {
	for k, d := range idx.byKey {
		if v, present := d[field.Name]; present && v == id {
			return k, d.Clone(), true
		}
	}

	return "", nil, false
}

// remove deletes the document identified by key. Returns [ErrNotFound] if
// absent.
func (idx *index) remove(key string) (Document, error) {
	existing, ok := idx.byKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	delete(idx.byKey, key)

	for i, k := range idx.order {
		if k == key {
			idx.order = append(idx.order[:i], idx.order[i+1:]...)
			break
		}
	}

	return existing.Clone(), nil
}

