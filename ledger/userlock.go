package ledger

import "sync"

// UserLocks hands out one mutex per user so that balance mutations on the
// same user serialize while different users proceed in parallel. Entries are
// dropped once nobody holds or waits on them.
type UserLocks struct {
	mu    sync.Mutex
	locks map[UserID]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until the caller owns id's lock and returns the unlock func.
func (l *UserLocks) Lock(id UserID) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[UserID]*userLock)
	}
	ul, ok := l.locks[id]
	if !ok {
		ul = &userLock{}
		l.locks[id] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of users currently locked or waited on.
func (l *UserLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
