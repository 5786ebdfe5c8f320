package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Cleaner removes rotated log archives once they are older than Retention.
type Cleaner struct {
	Dir       string
	Name      string
	Retention time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

// Run sweeps the directory every interval until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger().Info("archive cleaner started", "retention", c.Retention, "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.Retention <= 0 {
				continue
			}
			c.Sweep()
		}
	}
}

// Sweep removes expired archives and returns how many were deleted.
func (c *Cleaner) Sweep() int {
	paths, err := ListArchives(c.Dir, c.Name)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger().Warn("cleaner failed to read log dir", "dir", c.Dir, "error", err)
		}
		return 0
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	threshold := now().Add(-c.Retention)

	removed := 0
	for _, path := range paths {
		rotated, ok := c.rotatedAt(filepath.Base(path))
		if !ok || !rotated.Before(threshold) {
			continue
		}
		if err := os.Remove(path); err != nil {
			c.logger().Warn("cleaner failed to delete archive", "path", path, "error", err)
			continue
		}
		c.logger().Info("expired archive deleted", "path", path)
		removed++
	}
	return removed
}

// rotatedAt extracts the rotation time from BG-20060102T150405.000[-n].log[.ext].
func (c *Cleaner) rotatedAt(base string) (time.Time, bool) {
	prefix := strings.TrimSuffix(c.Name, filepath.Ext(c.Name)) + "-"
	rest := strings.TrimPrefix(base, prefix)
	if len(rest) < len(rotationLayout) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(rotationLayout, rest[:len(rotationLayout)], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (c *Cleaner) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
