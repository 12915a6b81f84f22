package repository

import (
	"path/filepath"
	"slices"
	"sync"
)

// PathLocker provides per-path mutual exclusion for repositories that write
// files. Different paths proceed concurrently; the same path is serialized.
type PathLocker struct {
	mu    sync.Mutex             // Guards the locks map itself
	locks map[string]*sync.Mutex // Per-path mutexes
}

// NewPathLocker creates a new PathLocker.
func NewPathLocker() *PathLocker {
	return &PathLocker{
		locks: make(map[string]*sync.Mutex),
	}
}

// files is shared by every LocalFile so two repositories pointing at the
// same path never interleave writes.
var files = NewPathLocker()

// Lock acquires the mutex for path, creating it on first use.
func (l *PathLocker) Lock(path string) {
	path = filepath.Clean(path)

	l.mu.Lock()
	m, ok := l.locks[path]
	if !ok {
		m = &sync.Mutex{}
		l.locks[path] = m
	}
	l.mu.Unlock()

	// Acquired outside the manager lock to avoid contention
	m.Lock()
}

// Unlock releases the mutex for path.
func (l *PathLocker) Unlock(path string) {
	path = filepath.Clean(path)

	l.mu.Lock()
	m, ok := l.locks[path]
	l.mu.Unlock()

	if ok {
		m.Unlock()
	}
}

// LockAll acquires every path in lexicographic order, which prevents
// deadlocks between callers locking overlapping sets.
func (l *PathLocker) LockAll(paths []string) {
	for _, p := range sortedPaths(paths) {
		l.Lock(p)
	}
}

// UnlockAll releases paths in reverse lexicographic order.
func (l *PathLocker) UnlockAll(paths []string) {
	sorted := sortedPaths(paths)
	for i := len(sorted) - 1; i >= 0; i-- {
		l.Unlock(sorted[i])
	}
}

func sortedPaths(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	sorted := make([]string, len(paths))
	for i, p := range paths {
		sorted[i] = filepath.Clean(p)
	}
	slices.Sort(sorted)
	return slices.Compact(sorted)
}

// LockFiles takes the LocalFile locks for paths in deadlock-free order and
// returns the matching unlock. The caller must not save or load any of those
// exact paths through a LocalFile before unlocking.
func LockFiles(paths ...string) (unlock func()) {
	files.LockAll(paths)
	return func() { files.UnlockAll(paths) }
}
