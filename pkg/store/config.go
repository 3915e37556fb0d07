package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/docbase/store/pkg/fs"
	"github.com/docbase/store/pkg/logx"
)

// defaultSelfWriteSkipThreshold bounds how long a self-written path is
// suppressed from the filesystem watcher before it is treated as an
// external edit again (spec.md §4.6).
const defaultSelfWriteSkipThreshold = 50 * time.Millisecond

// defaultMessageSizeLimit is the largest envelope [Sync] publishes
// in full before falling back to a refresh locator (spec.md §4.7).
const defaultMessageSizeLimit = 256 * 1024

// Matcher evaluates query predicates against documents. It is supplied by
// the caller's query engine; this package only uses it to select documents
// for [Collection.Find] and [Collection.Count].
type Matcher interface {
	// Match reports whether doc satisfies the predicate represented by m.
	Match(doc Document) bool
}

// MatcherFunc adapts a function to a [Matcher].
type MatcherFunc func(doc Document) bool

// Match implements [Matcher].
func (f MatcherFunc) Match(doc Document) bool { return f(doc) }

// matchAll selects every document; used when [Collection.Find] is called
// with a nil Matcher.
var matchAll MatcherFunc = func(Document) bool { return true }

// Config configures a [Provider].
type Config struct {
	// DataDirectory is the root directory backing every entity set. Required.
	DataDirectory string

	// Schema is the registered entity sets this store persists. Required.
	Schema Schema

	// FS is the filesystem implementation. Defaults to [fs.Real].
	FS fs.FS

	// Logger receives structured diagnostics. Defaults to a no-op logger.
	Logger *slog.Logger

	// ExtensionResolvers customize the on-disk file extension of
	// document-property fields, consulted in order (spec.md §4.1).
	ExtensionResolvers []ExtensionResolver

	// SelfWriteSkipThreshold bounds how long this instance suppresses
	// filesystem watch events for paths it just wrote itself. Defaults to
	// 50ms.
	SelfWriteSkipThreshold time.Duration

	// MessageSizeLimit is the largest sync envelope published in full
	// before falling back to a refresh locator. Defaults to 256KiB.
	MessageSizeLimit int

	// DisableWatcher skips starting the filesystem watcher, useful in
	// tests that don't exercise external-edit reconciliation.
	DisableWatcher bool
}

// validate checks required fields and returns a copy with defaults applied.
func (c Config) validate() (Config, error) {
	if c.DataDirectory == "" {
		return c, fmt.Errorf("%w: Config.DataDirectory is required", ErrInvalidName)
	}

	if c.Schema == nil {
		return c, fmt.Errorf("%w: Config.Schema is required", ErrSchemaUnknown)
	}

	if c.FS == nil {
		c.FS = fs.NewReal()
	}

	if c.Logger == nil {
		c.Logger = logx.Discard()
	}

	if c.SelfWriteSkipThreshold <= 0 {
		c.SelfWriteSkipThreshold = defaultSelfWriteSkipThreshold
	}

	if c.MessageSizeLimit <= 0 {
		c.MessageSizeLimit = defaultMessageSizeLimit
	}

	return c, nil
}
