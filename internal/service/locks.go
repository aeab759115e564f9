package service

import (
	"sync"
)

// sessionLocks serialises state updates per session. Entries are reference
// counted and removed once no goroutine holds or waits for them.
type sessionLocks struct {
	mu    sync.Mutex              // protects locks
	locks map[string]*sessionLock // session id -> lock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{
		locks: make(map[string]*sessionLock),
	}
}

// Lock blocks until the caller holds the lock for id and returns its release func.
func (sl *sessionLocks) Lock(id string) (unlock func()) {
	sl.mu.Lock()
	l, ok := sl.locks[id]
	if !ok {
		l = &sessionLock{}
		sl.locks[id] = l
	}
	l.refs++
	sl.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		sl.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(sl.locks, id)
		}
		sl.mu.Unlock()
	}
}

// active returns the number of sessions with a held or awaited lock.
func (sl *sessionLocks) active() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.locks)
}
