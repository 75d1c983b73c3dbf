// Package storage measures how much disk a vector store occupies.
package storage

import (
	"errors"
	"io/fs"
	"path/filepath"
)

// DiskUsageBytes sums the regular files under each store directory, which is what
// /stats reports as disk_usage_bytes. A directory the store has not created yet counts
// as 0. Symlinks below the directory are not followed.
func DiskUsageBytes(dirs ...string) (int64, error) {
	var total int64
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			dir = resolved
		}
		err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				// Removed mid-walk, e.g. a SQLite journal.
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			total += info.Size()
			return nil
		})
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
