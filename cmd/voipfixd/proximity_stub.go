//go:build !linux

package main

import (
	"context"
	"log/slog"
)

// runProximityReader is Linux-only; evdev does not exist elsewhere. The
// daemon runs degraded without proximity-triggered media fixes.
func runProximityReader(ctx context.Context, device string, events chan<- Event, logger *slog.Logger) error {
	logger.Warn("proximity reader unsupported on this platform, media routing fix disabled", "device", device)
	return nil
}
