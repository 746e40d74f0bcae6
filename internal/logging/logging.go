// Package logging configures the zerolog logger shared by the server,
// supervisor, and client binaries, following the per-process logger
// pattern used by cs3org/reva's pkg/log.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Options controls logger construction.
type Options struct {
	// Component names the process ("server", "supervisor", "client").
	Component string
	// Level is one of zerolog's level strings ("debug", "info", "warn",
	// "error"). Empty defaults to "info".
	Level string
	// Pretty selects console-formatted (human) output instead of JSON.
	Pretty bool
	Output io.Writer
}

// New builds a configured logger. Callers thread the returned Logger
// through their components rather than using a package-global.
func New(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(out).With().Timestamp().Logger().Level(level)
	if opts.Component != "" {
		logger = logger.With().Str("component", opts.Component).Logger()
	}
	return logger
}
