// Package eviction implements the maxmemory eviction candidate pool of
// spec.md §4.4 step 11 ("perform eviction... deny-OOM commands are
// rejected with OOM") and the client-eviction bucketing of spec.md §4.7
// ("bucket index = ⌊log2(memory)⌋ clamped... O(1) client-eviction victim
// selection").
//
// The underlying problem — "track candidates, evict the best one under
// pressure, O(1)" — is the same one a doubly-linked LRU list alongside a
// map solves for any size-capped cache. Here it is solved with a real
// dependency instead of hand-rolled list machinery:
// github.com/hashicorp/golang-lru/v2 backs the maxmemory candidate pool.
package eviction

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Policy selects which approximation the eviction pool uses to rank
// candidates, mirroring the configurable maxmemory-policy families.
type Policy int

const (
	PolicyNoEviction Policy = iota
	PolicyAllKeysLRU
	PolicyAllKeysLFU
	PolicyVolatileLRU
	PolicyVolatileLFU
	PolicyVolatileTTL
)

// KeyPool tracks candidate keys for maxmemory eviction. It is
// policy-agnostic storage holding whichever keys its caller Touches (the
// dispatcher's SET handler touches every key it writes, with no
// volatile-only filtering), with O(1) "give me the next eviction victim"
// semantics, exactly the role the teacher's LRU list played for QueryCache.
type KeyPool struct {
	cache *lru.Cache[string, struct{}]
}

// NewKeyPool builds a pool with room for capacity candidate keys. When the
// pool is full, adding a new key drops the least-recently-used one
// automatically inside golang-lru; KeyPool does not report which key was
// dropped.
func NewKeyPool(capacity int) (*KeyPool, error) {
	c, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, err
	}
	return &KeyPool{cache: c}, nil
}

// Touch records recent access to key, moving it to the most-recently-used
// position.
func (p *KeyPool) Touch(key string) {
	p.cache.Add(key, struct{}{})
}

// Remove drops key from the pool, e.g. because the key itself was deleted.
func (p *KeyPool) Remove(key string) {
	p.cache.Remove(key)
}

// Victim returns the least-recently-used candidate key without removing it,
// or "", false if the pool is empty.
func (p *KeyPool) Victim() (string, bool) {
	keys := p.cache.Keys()
	if len(keys) == 0 {
		return "", false
	}
	return keys[0], true
}

// EvictVictim removes and returns the least-recently-used candidate,
// the key the dispatcher's memory-enforcement gate (spec.md §4.4 step 11)
// should delete from the keyspace to free memory.
func (p *KeyPool) EvictVictim() (string, bool) {
	key, ok := p.Victim()
	if !ok {
		return "", false
	}
	p.cache.Remove(key)
	return key, true
}

// Len reports the number of tracked candidate keys.
func (p *KeyPool) Len() int { return p.cache.Len() }

// minLogBucket/maxLogBucket clamp the client-memory bucket index, matching
// spec.md §4.7 "clamped to [MIN_LOG, MAX_LOG]".
const (
	minLogBucket = 0
	maxLogBucket = 40 // comfortably above any realistic per-client byte count
)

// BucketIndex computes ⌊log2(memoryBytes)⌋ clamped to [minLogBucket,
// maxLogBucket], per spec.md §4.7 "Bucketing for eviction".
func BucketIndex(memoryBytes int64) int {
	if memoryBytes <= 1 {
		return minLogBucket
	}
	idx := 0
	for memoryBytes > 1 {
		memoryBytes >>= 1
		idx++
	}
	if idx < minLogBucket {
		return minLogBucket
	}
	if idx > maxLogBucket {
		return maxLogBucket
	}
	return idx
}

// ClientBuckets groups client identifiers by BucketIndex for O(1) "find the
// most expensive non-excluded client" victim selection (spec.md §4.7).
// Clients move between buckets as their memory usage crosses a power-of-two
// boundary; Move handles both the initial placement and subsequent
// re-bucketing.
type ClientBuckets struct {
	buckets map[int]map[string]struct{}
	current map[string]int // clientID -> current bucket index
}

// NewClientBuckets builds an empty bucket set.
func NewClientBuckets() *ClientBuckets {
	return &ClientBuckets{
		buckets: make(map[int]map[string]struct{}),
		current: make(map[string]int),
	}
}

// Move places clientID into the bucket for memoryBytes, removing it from
// any prior bucket first.
func (c *ClientBuckets) Move(clientID string, memoryBytes int64) {
	newBucket := BucketIndex(memoryBytes)
	if oldBucket, ok := c.current[clientID]; ok {
		if oldBucket == newBucket {
			return
		}
		delete(c.buckets[oldBucket], clientID)
		if len(c.buckets[oldBucket]) == 0 {
			delete(c.buckets, oldBucket)
		}
	}
	if c.buckets[newBucket] == nil {
		c.buckets[newBucket] = make(map[string]struct{})
	}
	c.buckets[newBucket][clientID] = struct{}{}
	c.current[clientID] = newBucket
}

// Remove drops clientID entirely, e.g. on disconnect.
func (c *ClientBuckets) Remove(clientID string) {
	if bucket, ok := c.current[clientID]; ok {
		delete(c.buckets[bucket], clientID)
		if len(c.buckets[bucket]) == 0 {
			delete(c.buckets, bucket)
		}
		delete(c.current, clientID)
	}
}

// MostExpensive returns one clientID from the highest non-empty bucket —
// an O(1)-amortized approximation of "the most expensive client", good
// enough for the eviction gate of spec.md §4.4 step 10, which only needs a
// victim, not an exact ranking.
func (c *ClientBuckets) MostExpensive() (string, bool) {
	highest := -1
	for idx := range c.buckets {
		if idx > highest {
			highest = idx
		}
	}
	if highest == -1 {
		return "", false
	}
	for id := range c.buckets[highest] {
		return id, true
	}
	return "", false
}
