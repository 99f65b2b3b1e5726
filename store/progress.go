package store

import "sync"

// Counters tracks per-operation progress (records read, duplicated,
// deleted, ignored), reported at completion, guarded by a mutex so
// multiple worker tasks can report progress concurrently.
type Counters struct {
	mu         sync.Mutex
	Read       int64
	Duplicated int64
	Deleted    int64
	Ignored    int64
}

func (c *Counters) AddRead(n int64) {
	c.mu.Lock()
	c.Read += n
	c.mu.Unlock()
}

func (c *Counters) AddDuplicated(n int64) {
	c.mu.Lock()
	c.Duplicated += n
	c.mu.Unlock()
}

func (c *Counters) AddDeleted(n int64) {
	c.mu.Lock()
	c.Deleted += n
	c.mu.Unlock()
}

func (c *Counters) AddIgnored(n int64) {
	c.mu.Lock()
	c.Ignored += n
	c.mu.Unlock()
}

// Snapshot returns a copy of the current counter values.
func (c *Counters) Snapshot() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Counters{Read: c.Read, Duplicated: c.Duplicated, Deleted: c.Deleted, Ignored: c.Ignored}
}
