package session

import "sync"

// Cache is the volatile projection of currently-active sessions, keyed by
// session ID. It is rebuilt from the durable store on process start and
// mutated only after the corresponding store write has been confirmed.
// All accessors return copies so callers can never alias internal state.
type Cache struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewCache() *Cache {
	return &Cache{
		records: make(map[string]*Record),
	}
}

func (c *Cache) Get(id string) (*Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (c *Cache) All() []*Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]*Record, 0, len(c.records))
	for _, r := range c.records {
		result = append(result, r.Clone())
	}
	return result
}

// Put inserts or replaces the entry for the record's session ID.
// Only active records belong in the cache; a record with an end time
// already set is ignored.
func (c *Cache) Put(r *Record) {
	if r == nil || !r.Active() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[r.SessionID] = r.Clone()
}

func (c *Cache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, id)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Rebuild replaces the cache contents with the given records, skipping any
// that are not active. Used for cold-start recovery from the durable store.
func (c *Cache) Rebuild(records []*Record) {
	fresh := make(map[string]*Record, len(records))
	for _, r := range records {
		if r == nil || !r.Active() {
			continue
		}
		fresh[r.SessionID] = r.Clone()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = fresh
}
