package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// purgeLoop deletes expired entries every interval until ctx is done.
// Expired entries are never served, this only frees the space they take.
func purgeLoop(ctx context.Context, store purger, interval time.Duration) {
	if interval <= 0 {
		return
	}
	log.Info().Msgf("Starting cache purge loop with interval %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		purged, err := store.PurgeExpired(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Could not purge expired entries")
			continue
		}
		if purged > 0 {
			log.Debug().Int64("purged", purged).Msg("Purged expired entries")
		}
	}
}
