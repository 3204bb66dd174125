package assettest

import (
	"io"
	"log/slog"
	"testing"
)

// TestLogger creates a logger that discards all output
func TestLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
