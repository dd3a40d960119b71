// Package rlog builds the one zerolog.Logger the replicator constructs at
// startup and threads down through every component constructor, per
// SPEC_FULL.md §9's ambient logging rule: never a package-level global,
// always an explicit value a component accepts (datamart.New, diff.New,
// alert.New, orchestrator.New all take a zerolog.Logger and tag it with
// their own "component" field).
package rlog

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds the root logger. debug raises the level to Debug (the CLI
// driver's --debug flag, spec.md §6); otherwise Info. pretty switches
// between a human-readable console writer (local runs) and plain JSON
// lines (the format every other component in this stack emits to stdout
// when run as a service).
func New(debug, pretty bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	var w = os.Stderr
	var out zerolog.ConsoleWriter
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
		return zerolog.New(out).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
