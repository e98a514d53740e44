// Package logging builds the engine's root structured logger, mirroring
// referee's plain slog.New(slog.NewJSONHandler(...)) setup and
// generalizing jwtly10-tradebook/internal/logging/debug.go's topic-gated
// wrapper into a per-strategy logger built with logger.With.
package logging

import (
	"log/slog"
	"os"
)

// New builds the process-wide root logger at the given level, emitting
// newline-delimited JSON to stdout per spec.md 6.
func New(level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// ForStrategy returns a child logger that stamps every record with the
// strategy's id, so per-strategy events are greppable in aggregate logs.
func ForStrategy(logger *slog.Logger, strategyID string) *slog.Logger {
	return logger.With("strategy_id", strategyID)
}
