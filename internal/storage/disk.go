package storage

import (
	"os"
	"path/filepath"
)

// DiskUsageBytes sums the sizes of the given files, skipping ones that do not
// exist. Used by the status endpoint to report on-disk footprint of the
// database, index snapshot and position map.
func DiskUsageBytes(paths ...string) int64 {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		total += info.Size()
		// WAL and shared-memory sidecars count toward the database footprint.
		for _, suffix := range []string{"-wal", "-shm"} {
			if sideInfo, err := os.Stat(p + suffix); err == nil {
				total += sideInfo.Size()
			}
		}
	}
	return total
}

// DirUsageBytes sums the sizes of all regular files under dir.
func DirUsageBytes(dir string) int64 {
	var total int64
	filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total
}
