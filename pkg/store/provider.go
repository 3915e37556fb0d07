package store

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/docbase/store/pkg/fs"
)

// flatFileExt is the filename suffix for a flat-mode entity set's log. It
// is empty: the log file is named exactly after the set, which is also the
// name the watcher reports in [ReloadEvent.EntitySet].
const flatFileExt = ""

// setState is everything this package tracks per registered [EntitySet].
type setState struct {
	set EntitySet
	idx *index

	// Directory mode.
	dir string
	txn *txn

	// Flat mode.
	path string
}

func (s *setState) selfWritePaths(key string) []string {
	if s.set.Mode == ModeFlat {
		return []string{s.path}
	}

	return []string{filepath.Join(s.dir, key)}
}

// Provider is the top-level handle on a schema-aware document store rooted
// at one data directory. Open one per process per data directory; share
// the returned [Collection] handles across goroutines.
type Provider struct {
	cfg    Config
	view   *schemaView
	logger *slog.Logger

	sets map[string]*setState

	queue *writeQueue
	sync  *Sync
	wtch  *watcher

	stopWatch chan struct{}
}

// Open validates cfg, runs crash recovery, hydrates the in-memory index
// from disk, and starts the filesystem watcher (spec.md's startup loader).
func Open(cfg Config) (*Provider, error) {
	cfg, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	p := &Provider{
		cfg:    cfg,
		view:   newSchemaView(cfg.Schema, cfg.ExtensionResolvers),
		logger: cfg.Logger,
		sets:   make(map[string]*setState),
		queue:  newWriteQueue(),
		sync:   newSync(cfg.MessageSizeLimit),
	}

	if err := cfg.FS.MkdirAll(cfg.DataDirectory, 0o755); err != nil {
		p.queue.stop()
		return nil, fmt.Errorf("%w: create data directory: %w", ErrIoError, err)
	}

	for _, set := range cfg.Schema.EntitySets() {
		state, err := p.initSet(set)
		if err != nil {
			p.queue.stop()
			return nil, err
		}

		p.sets[set.Name] = state
	}

	if !cfg.DisableWatcher {
		w, err := newWatcher(cfg.DataDirectory, cfg.SelfWriteSkipThreshold, p.logger)
		if err != nil {
			p.logger.Warn("store: filesystem watcher unavailable, external edits won't be reconciled", "error", err)
		} else {
			p.wtch = w
			p.stopWatch = make(chan struct{})

			go p.watchLoop()
		}
	}

	p.logger.Info("store: opened", "dir", cfg.DataDirectory, "sets", len(p.sets))

	return p, nil
}

func (p *Provider) initSet(set EntitySet) (*setState, error) {
	state := &setState{set: set, idx: newIndex(set)}

	switch set.Mode {
	case ModeDirectory:
		state.dir = filepath.Join(p.cfg.DataDirectory, set.Name)

		if err := p.cfg.FS.MkdirAll(state.dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create entity set dir %q: %w", ErrIoError, set.Name, err)
		}

		codec := newDirectoryCodec(p.cfg.FS, p.view)
		state.txn = newTxn(p.cfg.FS, codec, state.dir)

		if err := state.txn.recover(); err != nil {
			return nil, err
		}

		keys, err := listLive(p.cfg.FS, state.dir)
		if err != nil {
			return nil, err
		}

		docs := make([]Document, 0, len(keys))

		for _, key := range keys {
			doc, err := codec.readFrom(filepath.Join(state.dir, key), set)
			if err != nil {
				if errors.Is(err, ErrDecodeError) {
					p.logger.Warn("store: skipping undecodable document", "entitySet", set.Name, "key", key, "error", err)
					continue
				}

				return nil, withContext(err, set.Name, key)
			}

			docs = append(docs, doc)
		}

		if err := state.idx.load(docs); err != nil {
			return nil, withContext(err, set.Name, "")
		}

	case ModeFlat:
		state.path = filepath.Join(p.cfg.DataDirectory, set.Name+flatFileExt)

		codec := newFlatCodec(p.cfg.FS)

		docs, err := codec.loadAll(state.path, set)
		if err != nil {
			return nil, withContext(err, set.Name, "")
		}

		if err := state.idx.load(docs); err != nil {
			return nil, withContext(err, set.Name, "")
		}

	default:
		return nil, fmt.Errorf("%w: entity set %q has unknown mode", ErrSchemaUnknown, set.Name)
	}

	return state, nil
}

// watchLoop applies externally observed filesystem changes back into the
// in-memory index, serialized through the same write queue as local API
// calls (spec.md §4.5 requires all mutations, local or watcher-originated,
// to pass through the single writer).
func (p *Provider) watchLoop() {
	for {
		select {
		case ev, ok := <-p.wtch.Events():
			if !ok {
				return
			}

			if err := p.queue.do(func() error { return p.applyReload(ev) }); err != nil {
				p.logger.Warn("store: failed to apply external change", "entitySet", ev.EntitySet, "error", err)
			}
		case <-p.stopWatch:
			return
		}
	}
}

func (p *Provider) applyReload(ev ReloadEvent) error {
	state, ok := p.sets[ev.EntitySet]
	if !ok {
		return nil
	}

	switch state.set.Mode {
	case ModeFlat:
		codec := newFlatCodec(p.cfg.FS)

		docs, err := codec.loadAll(state.path, state.set)
		if err != nil {
			return withContext(err, ev.EntitySet, "")
		}

		return withContext(state.idx.load(docs), ev.EntitySet, "")

	default:
		if ev.PublicKey == "" {
			return nil
		}

		dir := filepath.Join(state.dir, ev.PublicKey)

		exists, err := p.cfg.FS.Exists(dir)
		if err != nil {
			return withContext(err, ev.EntitySet, ev.PublicKey)
		}

		if !exists {
			if _, err := state.idx.remove(ev.PublicKey); err != nil && !errors.Is(err, ErrNotFound) {
				return withContext(err, ev.EntitySet, ev.PublicKey)
			}

			return nil
		}

		codec := newDirectoryCodec(p.cfg.FS, p.view)

		doc, err := codec.readFrom(dir, state.set)
		if err != nil {
			return withContext(err, ev.EntitySet, ev.PublicKey)
		}

		if _, existing := state.idx.get(ev.PublicKey); existing {
			_, _, _, err = state.idx.update(ev.PublicKey, doc, true)
		} else {
			_, err = state.idx.insert(doc)
		}

		return withContext(err, ev.EntitySet, ev.PublicKey)
	}
}

// ApplySync applies an inbound sync envelope — received from another store
// instance sharing this data directory, over whatever external transport
// the caller wires up to [Provider.Sync] — into this provider's in-memory
// index (spec.md §4.7's sync.subscription(event)). The mutation is
// serialized through the write queue for mutual exclusion with local
// operations, but it does not re-publish, so relaying events between
// instances can't loop.
func (p *Provider) ApplySync(env SyncEnvelope) error {
	return p.queue.do(func() error { return p.applySync(env) })
}

func (p *Provider) applySync(env SyncEnvelope) error {
	setName, _ := env.Doc[entitySetAttr].(string)

	state, ok := p.sets[setName]
	if !ok {
		return nil
	}

	keyField, ok := state.set.Type.KeyField()
	if !ok {
		return fmt.Errorf("%w: entity type %q declares no key field", ErrSchemaUnknown, state.set.Type.Name)
	}

	doc := env.Doc.Clone()
	delete(doc, entitySetAttr)

	id, hasID := doc[keyField.Name]
	if !hasID {
		return fmt.Errorf("%w: sync event missing key field %q", ErrInvalidName, keyField.Name)
	}

	switch env.Action {
	case ActionInsert:
		_, err := state.idx.insert(doc)
		return withContext(err, setName, "")

	case ActionUpdate:
		return withContext(p.applyByID(state, keyField, id, doc), setName, "")

	case ActionRemove:
		if pubKey, _, found := state.idx.findByID(keyField, id); found {
			_, err := state.idx.remove(pubKey)
			return withContext(err, setName, "")
		}

		return nil

	case ActionRefresh:
		reloaded, err := p.reload(state, doc)
		if err != nil {
			return withContext(err, setName, "")
		}

		return withContext(p.applyByID(state, keyField, id, reloaded), setName, "")

	default:
		return nil
	}
}

// applyByID inserts doc as new if no live document carries keyField==id
// yet, otherwise updates the existing one in place — "apply ... as insert
// or update depending on prior presence" (spec.md §4.7).
func (p *Provider) applyByID(state *setState, keyField Field, id any, doc Document) error {
	if pubKey, _, found := state.idx.findByID(keyField, id); found {
		_, _, _, err := state.idx.update(pubKey, doc, true)
		return err
	}

	_, err := state.idx.insert(doc)

	return err
}

// reload re-reads a single document's current on-disk state, backing the
// refresh action's persistence.reload(doc) (spec.md §4.7). locator carries
// at least the entity set's key and publicKey field values, as shaped by
// [locatorDoc]. Returns [ErrNotFound] if the document no longer exists.
func (p *Provider) reload(state *setState, locator Document) (Document, error) {
	if state.set.Mode == ModeFlat {
		docs, err := newFlatCodec(p.cfg.FS).loadAll(state.path, state.set)
		if err != nil {
			return nil, err
		}

		keyField, ok := state.set.Type.KeyField()
		if !ok {
			return nil, fmt.Errorf("%w: entity type %q declares no key field", ErrSchemaUnknown, state.set.Type.Name)
		}

		id := locator[keyField.Name]

		for _, doc := range docs {
			if doc[keyField.Name] == id {
				return doc, nil
			}
		}

		return nil, fmt.Errorf("%w: %v", ErrNotFound, id)
	}

	field, ok := state.set.Type.PublicKeyField()
	if !ok {
		return nil, fmt.Errorf("%w: entity type %q declares no key field", ErrSchemaUnknown, state.set.Type.Name)
	}

	publicKey, _ := locator[field.Name].(string)
	if publicKey == "" {
		return nil, fmt.Errorf("%w: refresh locator missing publicKey field %q", ErrInvalidName, field.Name)
	}

	dir := filepath.Join(state.dir, publicKey)

	exists, err := p.cfg.FS.Exists(dir)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, publicKey)
	}

	return newDirectoryCodec(p.cfg.FS, p.view).readFrom(dir, state.set)
}

// Collection returns a handle on the named entity set's documents.
func (p *Provider) Collection(name string) (*Collection, error) {
	state, ok := p.sets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSchemaUnknown, name)
	}

	return &Collection{provider: p, state: state}, nil
}

// Sync returns the pub/sub channel other store instances publish to and
// subscribe from.
func (p *Provider) Sync() *Sync {
	return p.sync
}

// markSelfWrite tells the watcher to ignore the next filesystem event on
// the document's directory (directory mode) or on the set's log file (flat
// mode), since the in-memory index is already up to date from the local
// write that produced it. Events on files inside a document directory are
// not marked.
func (p *Provider) markSelfWrite(state *setState, key string) {
	if p.wtch == nil {
		return
	}

	for _, path := range state.selfWritePaths(key) {
		p.wtch.markSelfWrite(path)
	}
}

// Close stops the write queue, the watcher, and the sync channel, in that
// order so no in-flight mutation is interrupted mid-commit.
func (p *Provider) Close() error {
	p.queue.stop()

	if p.wtch != nil {
		close(p.stopWatch)
		_ = p.wtch.Close()
	}

	p.sync.Stop()

	p.logger.Info("store: closed", "dir", p.cfg.DataDirectory)

	return nil
}

// compile-time check that the configured Real default actually satisfies fs.FS.
var _ fs.FS = fs.NewReal()
