// Package logger owns the process-wide sugared zap logger shared by the
// API server and the sync worker.
package logger

import (
	"sync"

	"go.uber.org/zap"
)

const envProduction = "production"

var (
	sugar *zap.SugaredLogger
	once  sync.Once
)

// Init builds the global logger once for the given environment.
// Production emits JSON; everything else gets the human-readable
// console encoder.
func Init(env string) {
	once.Do(func() {
		build := zap.NewDevelopment
		if env == envProduction {
			build = zap.NewProduction
		}

		base, err := build()
		if err != nil {
			base = zap.NewNop()
		}
		sugar = base.Sugar()
	})
}

// Get returns the global sugared logger, initializing a development
// logger if Init was never called.
func Get() *zap.SugaredLogger {
	if sugar == nil {
		Init("development")
	}
	return sugar
}

// Sync flushes buffered entries. Call before process exit.
func Sync() {
	if sugar != nil {
		_ = sugar.Sync()
	}
}
