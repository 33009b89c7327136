package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// StaleDealSweepEnabled toggles the scheduled stale-deal sweep.
//
// Set via env:
// - STALE_DEAL_SWEEP=true
func StaleDealSweepEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STALE_DEAL_SWEEP")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// StaleDealSweepInterval is how often the sweep runs. A sweep that overruns
// the interval finishes; the next tick is skipped by the running guard.
//
// Set via env:
// - STALE_DEAL_SWEEP_INTERVAL_MINUTES (default 60)
func StaleDealSweepInterval() time.Duration {
	minutes, err := strconv.Atoi(strings.TrimSpace(os.Getenv("STALE_DEAL_SWEEP_INTERVAL_MINUTES")))
	if err != nil || minutes <= 0 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}

// DealCacheLifespan bounds how long a deal read may be served from cache.
// Writes invalidate synchronously; other readers may observe a stale snapshot
// until their entry expires, which is acceptable for dashboard reads only.
//
// Set via env:
// - DEAL_CACHE_LIFESPAN_MINUTES (default 5)
func DealCacheLifespan() time.Duration {
	minutes, err := strconv.Atoi(strings.TrimSpace(os.Getenv("DEAL_CACHE_LIFESPAN_MINUTES")))
	if err != nil || minutes <= 0 {
		minutes = 5
	}
	return time.Duration(minutes) * time.Minute
}
