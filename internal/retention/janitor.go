// Package retention implements the temporary photo retention policy.
// Identification photos that were never attached to a plant live under
// a temp key prefix; the janitor sweeps the ones older than the TTL.
//
// The janitor runs as a background goroutine and respects context
// cancellation for graceful shutdown. Delete failures are fail-safe:
// the object stays and is retried next cycle.
package retention

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sproutly/sproutly/server/internal/storage"
)

// CycleStats tracks what happened in a single sweep.
type CycleStats struct {
	Scanned int
	Deleted int
	Errors  int
}

// Janitor periodically deletes expired temporary photos.
type Janitor struct {
	objects  storage.ObjectStorage
	ttl      time.Duration
	interval time.Duration
}

// NewJanitor creates a janitor sweeping objects older than ttl on the
// given interval.
func NewJanitor(objects storage.ObjectStorage, ttl, interval time.Duration) *Janitor {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if interval < time.Minute {
		interval = time.Hour
	}
	return &Janitor{objects: objects, ttl: ttl, interval: interval}
}

// Start runs the sweep loop until ctx is cancelled. One sweep runs
// immediately on startup.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("ttl", j.ttl).
		Dur("interval", j.interval).
		Msg("photo retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("photo retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one sweep.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	var stats CycleStats

	objects, err := j.objects.List(ctx, "")
	if err != nil {
		log.Error().Err(err).Msg("retention sweep: listing failed")
		stats.Errors++
		return stats
	}

	cutoff := time.Now().Add(-j.ttl)
	for _, obj := range objects {
		if !isTempKey(obj.Key) {
			continue
		}
		stats.Scanned++
		if obj.Modified.After(cutoff) {
			continue
		}
		if err := j.objects.Delete(ctx, obj.Key); err != nil {
			log.Warn().Err(err).Str("key", obj.Key).Msg("retention sweep: delete failed")
			stats.Errors++
			continue
		}
		stats.Deleted++
	}

	if stats.Deleted > 0 || stats.Errors > 0 {
		log.Info().
			Int("scanned", stats.Scanned).
			Int("deleted", stats.Deleted).
			Int("errors", stats.Errors).
			Msg("retention sweep finished")
	}
	return stats
}

// isTempKey matches keys of the form {userId}/temp-{id}/... — photos
// that never got attached to a plant.
func isTempKey(key string) bool {
	parts := strings.SplitN(key, "/", 3)
	return len(parts) >= 2 && strings.HasPrefix(parts[1], "temp-")
}
