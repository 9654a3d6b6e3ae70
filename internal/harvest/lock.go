package harvest

import "sync"

// keyedLock is a set of non-blocking mutexes keyed by string.
type keyedLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newKeyedLock() *keyedLock {
	return &keyedLock{held: make(map[string]struct{})}
}

// tryLock acquires key and reports whether it was free.
func (l *keyedLock) tryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *keyedLock) unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
