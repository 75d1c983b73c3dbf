package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSized(t *testing.T, path string, n int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, n), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDiskUsageBytes(t *testing.T) {
	root := t.TempDir()
	sqliteDir := filepath.Join(root, "sqlite")
	writeSized(t, filepath.Join(sqliteDir, "kagami.db"), 4096)
	writeSized(t, filepath.Join(sqliteDir, "kagami.db-wal"), 512)

	memoryDir := filepath.Join(root, "memory")
	writeSized(t, filepath.Join(memoryDir, "holiday.json"), 300)
	writeSized(t, filepath.Join(memoryDir, "nested", "pets.json"), 200)

	outside := filepath.Join(root, "outside.bin")
	writeSized(t, outside, 10_000)
	if err := os.Symlink(outside, filepath.Join(memoryDir, "link.json")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		dirs []string
		want int64
	}{
		{"sqlite store", []string{sqliteDir}, 4608},
		{"snapshots skip symlinks", []string{memoryDir}, 500},
		{"several stores", []string{sqliteDir, memoryDir}, 5108},
		{"store not created yet", []string{filepath.Join(root, "vectors")}, 0},
		{"empty dir setting", []string{"", sqliteDir}, 4608},
		{"no dirs", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiskUsageBytes(tt.dirs...)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("DiskUsageBytes = %d, want %d", got, tt.want)
			}
		})
	}
}
