package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PruneUploads removes files in dir that no stored video points at and
// returns their names. Uploads only stay reachable through the library,
// so anything else in dir is left over from a failed import or from an
// upload of content that was later uploaded again. Run it before anything
// writes to dir; an upload still being copied is not referenced yet.
func (l *Library) PruneUploads(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}

	referenced, err := l.videoPaths(ctx)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if referenced[cleanPath(path)] {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			if l.logger != nil {
				l.logger.Warn("failed to remove stale upload", "name", e.Name(), "error", err)
			}
			continue
		}
		removed = append(removed, e.Name())
	}

	if l.logger != nil && len(removed) > 0 {
		l.logger.Info("pruned stale uploads", "count", len(removed))
	}
	return removed, nil
}

// References reports whether a stored video points at path.
func (l *Library) References(ctx context.Context, path string) (bool, error) {
	referenced, err := l.videoPaths(ctx)
	if err != nil {
		return false, err
	}
	return referenced[cleanPath(path)], nil
}

func (l *Library) videoPaths(ctx context.Context) (map[string]bool, error) {
	videos, err := l.repo.ListVideos(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	paths := make(map[string]bool, len(videos))
	for _, v := range videos {
		paths[cleanPath(v.Path)] = true
	}
	return paths, nil
}

func cleanPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
