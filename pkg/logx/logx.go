// Package logx builds [slog.Logger]s for the store: a tinted console logger
// (colorized, level-tagged output when attached to a terminal, plain text
// otherwise) and the discarding logger store.Provider uses when no
// caller-supplied Logger is configured.
package logx

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Options configures [New].
type Options struct {
	// Level sets the minimum level logged. Defaults to [slog.LevelInfo].
	Level slog.Leveler
	// TimeFormat overrides the timestamp layout. Defaults to time.TimeOnly
	// plus milliseconds.
	TimeFormat string
	// NoColor forces plain output even when w is a terminal.
	NoColor bool
}

// New builds a tinted [slog.Logger] writing to w. An *os.File (such as
// os.Stderr) is wrapped in [colorable.NewColorable] and auto-detects color
// support via [isatty.IsTerminal]; other writers are used as-is with color
// disabled.
func New(w io.Writer, opts Options) *slog.Logger {
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}

	if opts.TimeFormat == "" {
		opts.TimeFormat = "15:04:05.000"
	}

	noColor := opts.NoColor

	out := w
	if f, ok := w.(*os.File); ok {
		out = colorable.NewColorable(f)

		if !isatty.IsTerminal(f.Fd()) {
			noColor = true
		}
	} else {
		noColor = true
	}

	handler := tint.NewHandler(out, &tint.Options{
		Level:      opts.Level,
		TimeFormat: opts.TimeFormat,
		NoColor:    noColor,
	})

	return slog.New(handler)
}

// NewDefault builds a [New] logger writing to os.Stderr at [slog.LevelInfo].
func NewDefault() *slog.Logger {
	return New(os.Stderr, Options{})
}

// Discard returns a logger that drops everything, for tests and callers
// that don't want store diagnostics.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
