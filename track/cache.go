package track

// Key identifies a cached profile.  Extra holds whatever else the result
// depends on, such as the subset filter and the fidelity budget.
type Key struct {
	Chrom      string
	Start, End int64
	Extra      string
}

// Cache holds the most recent table computed by a caller.  Storing a table
// under a new key evicts the previous one.  Errors are not cached.
//
// Cache is not safe for concurrent use; each caller keeps its own.
type Cache struct {
	key   Key
	table *Table
	full  bool

	// Hits and Misses count GetOrCompute calls.
	Hits, Misses int
}

// GetOrCompute returns the cached table if key matches the cached key, and
// otherwise calls compute and caches its result.
func (c *Cache) GetOrCompute(key Key, compute func() (*Table, error)) (*Table, error) {
	if c.full && c.key == key {
		c.Hits++
		return c.table, nil
	}
	c.Misses++
	table, err := compute()
	if err != nil {
		return nil, err
	}
	c.key, c.table, c.full = key, table, true
	return table, nil
}

// Invalidate empties the cache.
func (c *Cache) Invalidate() {
	c.key, c.table, c.full = Key{}, nil, false
}
