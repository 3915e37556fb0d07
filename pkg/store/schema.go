package store

// FieldType is the semantic type of an [EntityType] field.
type FieldType int

const (
	// FieldString stores UTF-8 text.
	FieldString FieldType = iota
	// FieldBinary stores raw bytes.
	FieldBinary
	// FieldDateTimeOffset stores a timestamp, round-tripped through ISO-8601.
	FieldDateTimeOffset
	// FieldComplex references a nested complex type (arbitrary JSON value).
	FieldComplex
)

func (t FieldType) String() string {
	switch t {
	case FieldString:
		return "String"
	case FieldBinary:
		return "Binary"
	case FieldDateTimeOffset:
		return "DateTimeOffset"
	case FieldComplex:
		return "Complex"
	default:
		return "Unknown"
	}
}

// Field describes one named field of an [EntityType].
type Field struct {
	// Name is the field key as it appears in a [Document].
	Name string
	// Type is the field's semantic type.
	Type FieldType

	// Key marks the field carrying the entity's primary key. Exactly one
	// field per EntityType must set this.
	Key bool
	// PublicKey marks the field used as the filesystem name for this
	// document. When no field sets this, the Key field is used instead.
	PublicKey bool
	// Document marks the field as persisted to its own file rather than
	// inlined into config.json.
	Document bool
	// Extension is the default file extension used for a Document field,
	// e.g. "html". Overridable per-call by a [Config.ExtensionResolvers] hit.
	Extension string
	// EngineHint is an opaque hint describing how the property's contents
	// should be interpreted downstream (e.g. a templating engine name).
	// Carried through verbatim; this package does not interpret it.
	EngineHint string
}

// EntityType is an ordered set of named fields.
type EntityType struct {
	Name   string
	Fields []Field
}

// KeyField returns the field flagged as the primary key.
func (t EntityType) KeyField() (Field, bool) {
	for _, f := range t.Fields {
		if f.Key {
			return f, true
		}
	}

	return Field{}, false
}

// PublicKeyField returns the field used to name documents on disk: the field
// flagged PublicKey, or the Key field if none is flagged.
func (t EntityType) PublicKeyField() (Field, bool) {
	for _, f := range t.Fields {
		if f.PublicKey {
			return f, true
		}
	}

	return t.KeyField()
}

// DocumentFields returns the fields persisted as standalone files.
func (t EntityType) DocumentFields() []Field {
	var out []Field

	for _, f := range t.Fields {
		if f.Document {
			out = append(out, f)
		}
	}

	return out
}

// Mode selects how an [EntitySet] is persisted.
type Mode int

const (
	// ModeDirectory stores one subdirectory per document.
	ModeDirectory Mode = iota
	// ModeFlat stores the whole set as one append-only newline-delimited
	// JSON file.
	ModeFlat
)

func (m Mode) String() string {
	if m == ModeFlat {
		return "flat"
	}

	return "directory"
}

// EntitySet is a named collection bound to an [EntityType] and a [Mode].
type EntitySet struct {
	Name string
	Mode Mode
	Type EntityType
}

// Schema is the read-only projection of registered entity sets this package
// consumes. It is an external collaborator: registration, complex-type
// resolution, and validation of the schema itself happen outside this
// package (see spec.md §1, "schema/type registry").
type Schema interface {
	// EntitySet returns the entity set registered under name.
	EntitySet(name string) (EntitySet, bool)
	// EntitySets returns every registered entity set, in registration order.
	EntitySets() []EntitySet
}

// StaticSchema is a minimal [Schema] backed by an in-memory slice, useful
// for embedding a fixed schema or in tests. Production callers typically
// supply their own Schema backed by a live type registry.
type StaticSchema struct {
	sets  []EntitySet
	byKey map[string]EntitySet
}

// NewStaticSchema builds a [StaticSchema] from the given entity sets.
func NewStaticSchema(sets ...EntitySet) *StaticSchema {
	byKey := make(map[string]EntitySet, len(sets))
	for _, s := range sets {
		byKey[s.Name] = s
	}

	return &StaticSchema{sets: sets, byKey: byKey}
}

func (s *StaticSchema) EntitySet(name string) (EntitySet, bool) {
	set, ok := s.byKey[name]
	return set, ok
}

func (s *StaticSchema) EntitySets() []EntitySet {
	return s.sets
}

// ExtensionResolver overrides the on-disk extension for a document-property
// field. Resolvers are consulted in registration order; the first one
// returning ok=true wins. If none match, the field's schema-default
// Extension is used.
type ExtensionResolver func(doc Document, field Field, set EntitySet) (ext string, ok bool)

// schemaView resolves document-property extensions against a resolver
// chain, per spec.md §4.1.
type schemaView struct {
	schema    Schema
	resolvers []ExtensionResolver
}

func newSchemaView(schema Schema, resolvers []ExtensionResolver) *schemaView {
	return &schemaView{schema: schema, resolvers: resolvers}
}

// extensionFor resolves the file extension for a document-property field of
// doc, consulting the resolver chain before falling back to the schema
// default.
func (v *schemaView) extensionFor(set EntitySet, doc Document, field Field) string {
	for _, resolve := range v.resolvers {
		if resolve == nil {
			continue
		}

		if ext, ok := resolve(doc, field, set); ok && ext != "" {
			return ext
		}
	}

	return field.Extension
}
