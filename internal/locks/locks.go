package locks

import "sync"

// Keyed hands out one mutex per key so operations on different keys never
// block each other
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyed() *Keyed {
	return &Keyed{
		locks: map[string]*sync.Mutex{},
	}
}

// Lock acquires the mutex for the given key and returns its unlock function
func (k *Keyed) Lock(key string) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}
