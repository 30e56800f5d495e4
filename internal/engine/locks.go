package engine

import (
	"sync"

	"github.com/google/uuid"
)

// keyedMutex serializes state transitions per reservation id. Locks are held
// only for a single validate-and-commit step and are never nested, so no
// ordering between keys is needed.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (k *keyedMutex) lock(id uuid.UUID) func() {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
