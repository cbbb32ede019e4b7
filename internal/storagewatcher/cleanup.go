package storagewatcher

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/configstore"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
)

// cleanupFile is one candidate for deletion during a cleanup pass.
type cleanupFile struct {
	path    string
	size    int64
	modTime time.Time
}

// runCleanup deletes retention-exceeded files under root, then (if the disk
// is still short on space) deletes the oldest remaining files, at most
// settings.DeleteBatchSize of them per call, stopping early once
// settings.MinFreeGB is free. Only CleanupOldestFirst is implemented;
// CleanupLargestFirst falls back to oldest-first with a logged warning,
// since nothing in this engine yet needs size-based eviction.
func runCleanup(root string, settings configstore.StorageSettings, statFunc func(string) (*disk.UsageStat, error), logger *logging.Logger) (freedBytes int64, freedEnough bool, err error) {
	files, err := listFiles(root)
	if err != nil {
		return 0, false, err
	}

	if settings.CleanupPriority == configstore.CleanupLargestFirst {
		logger.Warn("cleanup_priority largest_first is not implemented, falling back to oldest_first")
	}

	var remaining []cleanupFile
	if settings.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -settings.RetentionDays)
		for _, f := range files {
			if f.modTime.Before(cutoff) {
				if rmErr := os.Remove(f.path); rmErr != nil {
					logger.WithError(rmErr).WithField("path", f.path).Warn("cleanup: failed to remove retention-exceeded file")
					remaining = append(remaining, f)
					continue
				}
				freedBytes += f.size
				continue
			}
			remaining = append(remaining, f)
		}
	} else {
		remaining = files
	}

	enoughFree := func() (bool, error) {
		usage, statErr := statFunc(root)
		if statErr != nil {
			return false, statErr
		}
		freeGB := float64(usage.Free) / (1 << 30)
		return freeGB >= settings.MinFreeGB, nil
	}

	ok, statErr := enoughFree()
	if statErr != nil {
		return freedBytes, false, statErr
	}
	if ok {
		return freedBytes, true, nil
	}

	sort.Slice(remaining, func(i, j int) bool { return remaining[i].modTime.Before(remaining[j].modTime) })

	deleted := 0
	for _, f := range remaining {
		if deleted >= settings.DeleteBatchSize {
			break
		}
		if rmErr := os.Remove(f.path); rmErr != nil {
			logger.WithError(rmErr).WithField("path", f.path).Warn("cleanup: failed to remove oldest file")
			continue
		}
		freedBytes += f.size
		deleted++
		if ok, statErr = enoughFree(); statErr == nil && ok {
			break
		}
	}

	return freedBytes, ok, nil
}

func listFiles(root string) ([]cleanupFile, error) {
	var out []cleanupFile
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		out = append(out, cleanupFile{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
