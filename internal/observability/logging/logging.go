// Package logging configures the global zap logger.
package logging

import (
	"go.uber.org/zap"
)

// Init installs a production logger at the given level as the zap
// global. An unknown level falls back to info.
func Init(level string) {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}

	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}

	zap.ReplaceGlobals(l)
}
