package vector

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// StoreType represents the vector store backend to use.
type StoreType string

const (
	// StoreTypeSQLite persists collections in dir/vectors.db. Default.
	StoreTypeSQLite StoreType = "sqlite"
	// StoreTypeMemory keeps collections in memory, snapshotting to dir on Close.
	StoreTypeMemory StoreType = "memory"
	// StoreTypeChroma talks to a remote Chroma server.
	StoreTypeChroma StoreType = "chroma"
)

// Options selects and configures a backend.
type Options struct {
	Type      string
	Dir       string
	ChromaURL string
	Logger    *zap.Logger
}

// NewStore creates a vector store of the specified type.
// Supported types: "sqlite" (default), "memory", "chroma".
func NewStore(opts Options) (Store, error) {
	switch StoreType(opts.Type) {
	case StoreTypeSQLite, "":
		if opts.Dir == "" {
			return nil, fmt.Errorf("%w: sqlite store requires a directory", ErrInvalidArgument)
		}
		return NewSQLiteStore(filepath.Join(opts.Dir, SQLiteFileName), opts.Logger)
	case StoreTypeMemory:
		return NewMemoryStore(opts.Dir, opts.Logger)
	case StoreTypeChroma:
		return NewChromaStore(ChromaConfig{URL: opts.ChromaURL}, opts.Logger)
	default:
		return nil, fmt.Errorf("unknown store type: %s (supported: sqlite, memory, chroma)", opts.Type)
	}
}
