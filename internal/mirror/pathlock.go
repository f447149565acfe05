package mirror

import "sync"

// PathLocker serializes mutations of a given mirror entry between the
// realtime dispatch path and the reconciler. Locks are keyed by relative
// path and never removed; the map stays small relative to the tree.
type PathLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewPathLocker() *PathLocker {
	return &PathLocker{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for rel and returns its unlock func.
func (p *PathLocker) Lock(rel string) func() {
	p.mu.Lock()
	l, ok := p.locks[rel]
	if !ok {
		l = &sync.Mutex{}
		p.locks[rel] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}
