package session

import (
	"context"
	"sync"
)

type keyLock struct {
	ch   chan struct{}
	refs int
}

// Serializer hands out one lock per client ID. Entries are reference counted
// and dropped when the last holder or waiter releases them.
type Serializer struct {
	mu    sync.Mutex
	locks map[int64]*keyLock
}

// NewSerializer returns an empty Serializer.
func NewSerializer() *Serializer {
	return &Serializer{locks: make(map[int64]*keyLock)}
}

// Lock blocks until the caller owns clientID or ctx is done. The returned
// function releases the lock and must be called exactly once.
func (s *Serializer) Lock(ctx context.Context, clientID int64) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[clientID]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		s.locks[clientID] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		s.release(clientID, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			s.release(clientID, l)
		})
	}, nil
}

func (s *Serializer) release(clientID int64, l *keyLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, clientID)
	}
}

// Active returns the number of clients currently holding or awaiting a lock.
func (s *Serializer) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
