package engine

import "sync"

// eventLocks hands out one mutex per event id so commands against the same
// event are serialized while different events proceed in parallel. Locks are
// never released back; events are never deleted, and a mutex is tiny.
type eventLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newEventLocks() *eventLocks {
	return &eventLocks{locks: make(map[int64]*sync.Mutex)}
}

func (el *eventLocks) lock(eventID int64) func() {
	el.mu.Lock()
	m, ok := el.locks[eventID]
	if !ok {
		m = &sync.Mutex{}
		el.locks[eventID] = m
	}
	el.mu.Unlock()

	m.Lock()
	return m.Unlock
}
