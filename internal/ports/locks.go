package ports

import "sync"

// EnvironmentLocks serializes port allocation per container-engine
// environment. The lifecycle service holds the lock from candidate
// evaluation until the draft server row is persisted; double allocation
// under contention is the hazard this removes.
type EnvironmentLocks struct {
	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

// NewEnvironmentLocks creates an empty lock table.
func NewEnvironmentLocks() *EnvironmentLocks {
	return &EnvironmentLocks{locks: make(map[int]*sync.Mutex)}
}

func (e *EnvironmentLocks) get(environmentID int) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[environmentID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[environmentID] = l
	}
	return l
}

// Lock acquires the exclusive lock for an environment and returns the
// matching unlock.
func (e *EnvironmentLocks) Lock(environmentID int) func() {
	l := e.get(environmentID)
	l.Lock()
	return l.Unlock
}
