package store

import (
	"fmt"
	"strings"
	"time"
)

// Document is a single record. Keys correspond to [Field] names, plus the
// reserved "$entitySet" attribute on the wire (see [entitySetAttr]). Values
// are JSON-compatible scalars, []byte (Binary fields), time.Time
// (DateTimeOffset fields), or nested maps/slices for Complex fields.
type Document map[string]any

// entitySetAttr is the wire-only attribute naming the owning entity set.
// It never persists as a schema [Field]; codecs attach and strip it at
// the store boundary.
const entitySetAttr = "$entitySet"

// Clone returns a deep copy of d. The index clones on every read and write
// so callers can never observe or corrupt another goroutine's in-flight
// mutation (spec.md §4.4).
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}

	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}

	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Document:
		return val.Clone()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			out[k] = cloneValue(sub)
		}

		return out
	case []any:
		out := make([]any, len(val))
		for i, sub := range val {
			out[i] = cloneValue(sub)
		}

		return out
	case []byte:
		out := make([]byte, len(val))
		copy(out, val)

		return out
	case time.Time:
		return val
	default:
		return val
	}
}

// forbiddenKeyChars are not allowed in a publicKey, since the publicKey
// becomes a filesystem name (a directory in directory-mode, a line key in
// flat-mode).
const forbiddenKeyChars = "/\\"

// validatePublicKey enforces spec.md §4.1: non-empty, no path separators,
// and no leading "~" (reserved for staging directories, see [txn.go]).
func validatePublicKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: publicKey must not be empty", ErrInvalidName)
	}

	if strings.ContainsAny(key, forbiddenKeyChars) {
		return fmt.Errorf("%w: publicKey %q contains a path separator", ErrInvalidName, key)
	}

	if strings.HasPrefix(key, "~") {
		return fmt.Errorf("%w: publicKey %q starts with the reserved prefix \"~\"", ErrInvalidName, key)
	}

	return nil
}

// publicKeyOf extracts and validates the publicKey of doc for set.
func publicKeyOf(set EntitySet, doc Document) (string, error) {
	field, ok := set.Type.PublicKeyField()
	if !ok {
		return "", fmt.Errorf("%w: entity type %q declares no key field", ErrSchemaUnknown, set.Type.Name)
	}

	raw, ok := doc[field.Name]
	if !ok {
		return "", fmt.Errorf("%w: document missing key field %q", ErrInvalidName, field.Name)
	}

	key, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: key field %q is not a string", ErrInvalidName, field.Name)
	}

	if err := validatePublicKey(key); err != nil {
		return "", err
	}

	return key, nil
}

// withEntitySetAttr returns a copy of doc with "$entitySet" set to name.
func withEntitySetAttr(doc Document, name string) Document {
	out := make(Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}

	out[entitySetAttr] = name

	return out
}
