// Package store is a schema-aware document store that persists typed entity
// collections onto a human-readable directory tree.
//
// It maps an in-memory, schema-driven collection model to the filesystem and
// back, serializes concurrent mutations through a single write queue,
// commits multi-file changes atomically via stage-then-rename, and
// reconciles external filesystem edits (made with ordinary text tools) back
// into the in-memory view through a filesystem watcher and a sync channel.
//
// # Storage modes
//
// An [EntitySet] is either directory-mode (one subdirectory per document,
// config.json plus one file per document-property field) or flat-mode
// (append-only newline-delimited JSON in a single file). Both are driven
// through the same [Collection] API.
//
// # Scope
//
// The query engine (filtering, projection, sort, skip/limit), the schema
// registry, and the command-line surface are external collaborators: callers
// supply a [Schema] and a [Matcher]. This package owns the filesystem
// mapping, the crash-safe commit protocol, and cross-instance sync.
package store
