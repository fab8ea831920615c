package staging

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultStagedFileTTL   = 30 * time.Minute
	DefaultCleanupInterval = 10 * time.Minute
)

// StartCleaner periodically removes staged files older than ttl. Requests release
// their own files; this only catches files left behind by a crash.
func (s *LocalStore) StartCleaner(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if ttl <= 0 {
		ttl = DefaultStagedFileTTL
	}
	go s.cleanupLoop(ctx, interval, ttl)
}

func (s *LocalStore) cleanupLoop(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.cleanupExpired(time.Now().Add(-ttl)); err != nil {
				log.Printf("cleanup staged files error: %v", err)
			}
		}
	}
}

// cleanupExpired removes regular files modified before cutoff and reports how many went.
func (s *LocalStore) cleanupExpired(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("remove stale staged file %s failed: %v", path, err)
			continue
		}
		removed++
	}
	return removed, nil
}
