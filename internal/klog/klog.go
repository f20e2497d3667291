// Package klog provides the kernel's single structured logger.
//
// Grounded on utils/logger.go from the teacher repo: a text-handler
// log/slog.Logger tagged with the emitting component, initialized once at
// boot and shared by every subsystem.
package klog

import (
	"log/slog"
	"os"
	"sync"
)

var (
	mu     sync.Mutex
	base   *slog.Logger
	levelV = new(slog.LevelVar)
)

// Init configures the process-wide logger. levelName is one of
// "debug"|"info"|"warn"|"error"; anything else defaults to "info".
func Init(levelName string) {
	mu.Lock()
	defer mu.Unlock()

	switch levelName {
	case "debug":
		levelV.Set(slog.LevelDebug)
	case "warn":
		levelV.Set(slog.LevelWarn)
	case "error":
		levelV.Set(slog.LevelError)
	default:
		levelV.Set(slog.LevelInfo)
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: levelV})
	base = slog.New(handler)
}

// For returns a logger tagged with the given kernel component name,
// e.g. klog.For("scheduler").Info("context switch", "from", a, "to", b).
func For(component string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		base = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: levelV}))
	}
	return base.With("component", component)
}
