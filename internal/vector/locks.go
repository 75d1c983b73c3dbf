package vector

import "sync"

// CollectionLocks hands out one RWMutex per collection name.
// Writers hold the lock across clear and add so readers never see a half-rebuilt collection.
type CollectionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewCollectionLocks creates an empty lock registry.
func NewCollectionLocks() *CollectionLocks {
	return &CollectionLocks{locks: make(map[string]*sync.RWMutex)}
}

// For returns the lock for name, creating it on first use.
func (l *CollectionLocks) For(name string) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[name]
	if !ok {
		lk = &sync.RWMutex{}
		l.locks[name] = lk
	}
	return lk
}
