// Package testutil holds small helpers shared across package tests.
package testutil

import (
	"io"
	"log/slog"
)

// Logger returns a logger that swallows everything, keeping test output
// readable.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
