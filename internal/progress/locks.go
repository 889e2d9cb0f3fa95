package progress

import (
	"sync"

	"github.com/google/uuid"
)

type lockKey struct {
	team   uuid.UUID
	puzzle uuid.UUID
}

type keyedMutex struct {
	mu   sync.Mutex
	refs int
}

// KeyedLocker serializes work per (team, puzzle) inside one process. Entries
// are dropped once nobody holds or waits for them.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[lockKey]*keyedMutex
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: map[lockKey]*keyedMutex{}}
}

// Lock blocks until the key is free and returns its release func.
func (l *KeyedLocker) Lock(teamID, puzzleID uuid.UUID) func() {
	k := lockKey{team: teamID, puzzle: puzzleID}
	l.mu.Lock()
	m, ok := l.locks[k]
	if !ok {
		m = &keyedMutex{}
		l.locks[k] = m
	}
	m.refs++
	l.mu.Unlock()

	m.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Unlock()
			l.mu.Lock()
			m.refs--
			if m.refs == 0 {
				delete(l.locks, k)
			}
			l.mu.Unlock()
		})
	}
}

func (l *KeyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
