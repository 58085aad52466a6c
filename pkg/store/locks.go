package store

import "sync"

// convLocks hands out one mutex per conversation id, created lazily. Appends
// to the same conversation serialize on it; unrelated conversations never
// contend.
type convLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newConvLocks() *convLocks {
	return &convLocks{locks: map[string]*sync.Mutex{}}
}

func (c *convLocks) get(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[id]
	if !ok {
		l = &sync.Mutex{}
		c.locks[id] = l
	}
	return l
}
