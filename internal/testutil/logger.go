package testutil

import "log/slog"

// DiscardLogger returns a slog.Logger that discards all output. For
// components taking log.Logger (an alias for *slog.Logger), log.NewNop()
// returns the same thing; use whichever import is already present.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
