package main

import (
	"context"
	"log"
	"time"

	"steward/server/internal/match"
)

// RunMetrics logs a one-line state summary every interval until ctx is
// cancelled. Useful for eyeballing a live server from its journal.
func RunMetrics(ctx context.Context, state *match.State, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := state.Snapshot()
			mapName := "(none)"
			if snap.CurrentMap != nil {
				mapName = snap.CurrentMap.Name
			}
			log.Printf("[metrics] phase=%s players=%d map=%q warmup=%t paused=%t",
				snap.Phase, len(snap.Players), mapName, snap.InWarmup, snap.Paused)
		}
	}
}
