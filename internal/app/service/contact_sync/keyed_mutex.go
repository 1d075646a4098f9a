package contact_sync

import "sync"

// keyedMutex serializes work per contact key (lowercased email). The map
// grows with the number of distinct contacts seen over the process lifetime;
// entries are released when no goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (m *keyedMutex) Lock(key string) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyedLock{}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
}

func (m *keyedMutex) Unlock(key string) {
	m.mu.Lock()
	l := m.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()

	l.mu.Unlock()
}
