package service

import (
	"sync"

	"github.com/google/uuid"
)

// entityLocks serializes mutations per entity id. Contribution recording,
// round advancement and cancellation on one group are not commutative; the
// same holds for payments on one plan. Locking is per id, never store-wide,
// so independent entities mutate concurrently.
type entityLocks struct {
	locks sync.Map // uuid.UUID -> *sync.Mutex
}

func newEntityLocks() *entityLocks {
	return &entityLocks{}
}

// acquire blocks until the entity's lock is held and returns the release
// function.
func (l *entityLocks) acquire(id uuid.UUID) func() {
	mu, _ := l.locks.LoadOrStore(id, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}
