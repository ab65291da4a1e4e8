// Package logging builds the zap loggers used by the server and the CLI.
package logging

import (
	"go.uber.org/zap"
)

// New returns a logger for the given level and format. Format "json"
// selects the production encoder, anything else the development console
// encoder. An unparsable level falls back to info.
func New(level, format string, fields map[string]any) (*zap.Logger, error) {
	var cfg zap.Config
	if format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Level = lvl
	if len(fields) > 0 {
		cfg.InitialFields = fields
	}

	return cfg.Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
