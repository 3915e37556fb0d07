package store

import (
	"encoding/json"
	"sync"
)

// Action classifies a [SyncEnvelope] mutation.
type Action string

const (
	ActionInsert  Action = "insert"
	ActionUpdate  Action = "update"
	ActionRemove  Action = "remove"
	ActionRefresh Action = "refresh"
)

// SyncEnvelope is the unit published on a [Sync] channel: `{action, doc}`
// (spec.md §4.7). Doc always carries $entitySet. For insert/update/remove
// it is the full post-mutation document, when small enough to stay under
// [Config.MessageSizeLimit]; for refresh — sent instead once the full
// envelope would exceed that limit — Doc is reduced to the minimal locator
// `{_id, $entitySet, <publicKey field>}` a subscriber needs to ask
// [Provider.reload] for the current state.
type SyncEnvelope struct {
	Action Action   `json:"action"`
	Doc    Document `json:"doc"`
}

// Sync is a pub/sub fan-out of local mutations to other store instances
// sharing the same data directory over some external transport (the
// transport itself — e.g. a message broker — is supplied by the caller via
// [Sync.Subscribe]; this type only shapes and size-gates the envelopes).
type Sync struct {
	limit int

	mu   sync.Mutex
	subs map[int]chan SyncEnvelope
	next int
}

func newSync(limit int) *Sync {
	return &Sync{limit: limit, subs: make(map[int]chan SyncEnvelope)}
}

// Subscribe registers a new listener and returns a channel of envelopes
// plus an unsubscribe function. The channel is buffered; a slow subscriber
// that falls behind has the oldest unread envelope dropped rather than
// blocking publishers, per the same reasoning [watcher] uses for reload
// events (refresh semantics tolerate missed intermediate states since the
// final refresh converges to current truth).
func (s *Sync) Subscribe() (<-chan SyncEnvelope, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++

	ch := make(chan SyncEnvelope, 64)
	s.subs[id] = ch

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if existing, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(existing)
		}
	}

	return ch, unsubscribe
}

// publish shapes and fans out a committed mutation as `{action, doc}`,
// injecting $entitySet into doc (spec.md §4.7). If the serialized envelope
// would exceed the configured size limit, publish instead sends a refresh
// envelope whose doc is reduced to the key fields a subscriber needs to
// reload the document itself.
func (s *Sync) publish(action Action, set EntitySet, doc Document) {
	env := SyncEnvelope{Action: action, Doc: withEntitySetAttr(doc, set.Name)}

	if s.tooLarge(env) {
		env = SyncEnvelope{Action: ActionRefresh, Doc: locatorDoc(set, env.Doc)}
	}

	s.broadcast(env)
}

// locatorDoc reduces full to the minimal fields a refresh subscriber needs:
// its primary key, its $entitySet, and its publicKey (which may be the
// same field as the primary key).
func locatorDoc(set EntitySet, full Document) Document {
	out := Document{entitySetAttr: full[entitySetAttr]}

	if field, ok := set.Type.KeyField(); ok {
		if v, present := full[field.Name]; present {
			out[field.Name] = v
		}
	}

	if field, ok := set.Type.PublicKeyField(); ok {
		if v, present := full[field.Name]; present {
			out[field.Name] = v
		}
	}

	return out
}

func (s *Sync) tooLarge(env SyncEnvelope) bool {
	if s.limit <= 0 {
		return false
	}

	data, err := json.Marshal(env)
	if err != nil {
		return false
	}

	return len(data) > s.limit
}

func (s *Sync) broadcast(env SyncEnvelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- env:
		default:
			// Drop the oldest pending envelope to make room rather than
			// block the publisher; the subscriber's next read picks up
			// the newer state.
			select {
			case <-ch:
			default:
			}

			select {
			case ch <- env:
			default:
			}
		}
	}
}

// Stop closes every subscription channel.
func (s *Sync) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
