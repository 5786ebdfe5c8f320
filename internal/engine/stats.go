package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/braingenix/bglog/internal/model"
)

// Stats is a snapshot of pipeline counters since Initialize.
type Stats struct {
	Logged        uint64 `json:"logged"`
	Enqueued      uint64 `json:"enqueued"`
	Persisted     uint64 `json:"persisted"`
	Spooled       uint64 `json:"spooled"`
	Replayed      uint64 `json:"replayed"`
	Dropped       uint64 `json:"dropped"`
	StoreFailures uint64 `json:"store_failures"`
	FileFailures  uint64 `json:"file_failures"`
}

type counters struct {
	logged        atomic.Uint64
	enqueued      atomic.Uint64
	persisted     atomic.Uint64
	spooled       atomic.Uint64
	replayed      atomic.Uint64
	dropped       atomic.Uint64
	storeFailures atomic.Uint64
	fileFailures  atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Logged:        c.logged.Load(),
		Enqueued:      c.enqueued.Load(),
		Persisted:     c.persisted.Load(),
		Spooled:       c.spooled.Load(),
		Replayed:      c.replayed.Load(),
		Dropped:       c.dropped.Load(),
		StoreFailures: c.storeFailures.Load(),
		FileFailures:  c.fileFailures.Load(),
	}
}

// LifetimeStats holds cumulative counts that survive restarts.
type LifetimeStats struct {
	TotalLogged    uint64            `json:"total_logged"`
	TotalPersisted uint64            `json:"total_persisted"`
	TotalDropped   uint64            `json:"total_dropped"`
	LevelCounts    map[string]uint64 `json:"level_counts"`
}

// statsFileName is the filename for persisted stats
const statsFileName = ".bglog.stats"

type lifetime struct {
	mu     sync.Mutex
	base   LifetimeStats
	levels map[model.Level]uint64
}

func (lt *lifetime) observe(l model.Level) {
	lt.mu.Lock()
	lt.levels[l]++
	lt.mu.Unlock()
}

func (lt *lifetime) total(s Stats) LifetimeStats {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	out := LifetimeStats{
		TotalLogged:    lt.base.TotalLogged + s.Logged,
		TotalPersisted: lt.base.TotalPersisted + s.Persisted,
		TotalDropped:   lt.base.TotalDropped + s.Dropped,
		LevelCounts:    make(map[string]uint64, len(lt.base.LevelCounts)+len(lt.levels)),
	}
	for k, v := range lt.base.LevelCounts {
		out.LevelCounts[k] = v
	}
	for lvl, v := range lt.levels {
		out.LevelCounts[lvl.String()] += v
	}
	return out
}

// loadLifetimeStats reads stats from disk.
func loadLifetimeStats(dir string) LifetimeStats {
	stats := LifetimeStats{LevelCounts: make(map[string]uint64)}

	data, err := os.ReadFile(filepath.Join(dir, statsFileName))
	if err != nil {
		// Missing or unreadable, start from zero.
		return stats
	}
	if err := json.Unmarshal(data, &stats); err != nil {
		return LifetimeStats{LevelCounts: make(map[string]uint64)}
	}
	if stats.LevelCounts == nil {
		stats.LevelCounts = make(map[string]uint64)
	}
	return stats
}

// saveLifetimeStats writes stats to disk atomically.
func saveLifetimeStats(dir string, stats LifetimeStats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(dir, statsFileName)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
