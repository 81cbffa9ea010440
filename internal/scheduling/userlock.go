package scheduling

import "sync"

// userLocks serializes slot allocation per user so that reading free days and writing the
// chosen one happen as a unit. Entries are dropped once nobody holds or waits on them.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

func (u *userLocks) lock(userID string) (unlock func()) {
	u.mu.Lock()
	if u.locks == nil {
		u.locks = make(map[string]*userLock)
	}
	l := u.locks[userID]
	if l == nil {
		l = &userLock{}
		u.locks[userID] = l
	}
	l.refs++
	u.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		u.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(u.locks, userID)
		}
		u.mu.Unlock()
	}
}
