// Package keyspace implements the N logically numbered databases of
// spec.md §3: a key→Object hash table paired with a key→expiry hash table,
// incremental rehashing, and resize-inhibition while a persistence child is
// alive (spec.md §5 "Resource discipline on fork").
//
// The two-table shape keeps a map alongside a parallel expiry map rather
// than a single combined structure (LRU bookkeeping lives in objx.Object
// and the eviction package instead). Hashing uses xxhash (cespare/xxhash/v2)
// instead of Go's built-in map hash, so bucket counts are observable and
// rehash steps are explicit.
package keyspace

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/lordbasex/kvcore/objx"
)

const (
	initialBuckets = 4
	loadFactorHigh = 1.0 // grow when entries/buckets exceeds this
	rehashStepKeys = 1   // keys migrated per incremental rehash step, per spec.md §4.6
)

// bucket is a single hash bucket: a chain of entries. Real implementations
// use open addressing or a more compact chain; a slice-of-entries chain is
// enough to expose bucket-count/rehash-progress behavior observably, which
// is what the resize-safety testable property (spec.md §8 item 5) actually
// cares about.
type entry struct {
	key   string
	value *objx.Object
}

type table struct {
	buckets [][]entry
	count   int
}

func newTable(n int) *table {
	return &table{buckets: make([][]entry, n)}
}

func (t *table) bucketIndex(key string) int {
	h := xxhash.Sum64String(key)
	return int(h % uint64(len(t.buckets)))
}

func (t *table) get(key string) (*objx.Object, bool) {
	idx := t.bucketIndex(key)
	for _, e := range t.buckets[idx] {
		if e.key == key {
			return e.value, true
		}
	}
	return nil, false
}

func (t *table) set(key string, value *objx.Object) (isNew bool) {
	idx := t.bucketIndex(key)
	for i, e := range t.buckets[idx] {
		if e.key == key {
			t.buckets[idx][i].value = value
			return false
		}
	}
	t.buckets[idx] = append(t.buckets[idx], entry{key: key, value: value})
	t.count++
	return true
}

func (t *table) delete(key string) bool {
	idx := t.bucketIndex(key)
	for i, e := range t.buckets[idx] {
		if e.key == key {
			t.buckets[idx] = append(t.buckets[idx][:i], t.buckets[idx][i+1:]...)
			t.count--
			return true
		}
	}
	return false
}

func (t *table) loadFactor() float64 {
	if len(t.buckets) == 0 {
		return 0
	}
	return float64(t.count) / float64(len(t.buckets))
}

// Database is one of the N numbered keyspaces of spec.md §3. A single
// owner goroutine (the dispatcher's reactor) mutates it; Database itself
// adds a mutex only to make that discipline assertable under race
// detection in tests, not because concurrent writers are expected.
type Database struct {
	mu sync.Mutex

	id int

	keys    *table
	expires map[string]int64 // key -> absolute unix-milli expiry

	rehashFrom *table // non-nil while an incremental rehash is in progress
	rehashTo   *table

	resizeInhibited bool // true while a persistence child is alive, spec.md §5
}

// NewDatabase creates an empty, numbered database.
func NewDatabase(id int) *Database {
	return &Database{
		id:      id,
		keys:    newTable(initialBuckets),
		expires: make(map[string]int64),
	}
}

// ID returns this database's number (0..N-1).
func (d *Database) ID() int { return d.id }

// InhibitResize disables hash-table growth/rehash while a persistence child
// is alive, preserving copy-on-write pages (spec.md §5, §4.6 "both are
// suppressed if a persistence child is active").
func (d *Database) InhibitResize(inhibited bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resizeInhibited = inhibited
}

// BucketCount reports the current bucket count of the keys table, the
// quantity the resize-safety testable property (spec.md §8 item 5) pins in
// place while resizeInhibited is true.
func (d *Database) BucketCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.keys.buckets)
}

// lookupLocked consults both halves of an in-progress incremental rehash:
// rehashTo (already-migrated keys) and d.keys, which aliases rehashFrom
// while a rehash is running (see maybeGrowLocked) or is simply the live
// table otherwise. A key lives in exactly one of the two at any time.
// Caller must hold d.mu.
func (d *Database) lookupLocked(key string) (*objx.Object, bool) {
	if d.rehashTo != nil {
		if v, ok := d.rehashTo.get(key); ok {
			return v, true
		}
	}
	return d.keys.get(key)
}

// setLocked installs value under key, writing through to whichever table
// currently owns it during an in-progress rehash: if key is still pending
// migration in d.keys (rehashFrom), it is removed from there and installed
// in rehashTo directly, so it is never written twice and a subsequent
// migration step can't clobber a fresher value with the stale one still
// sitting in rehashFrom. A brand-new key goes straight into rehashTo, the
// same table real incremental rehashing grows new entries into. Caller
// must hold d.mu.
func (d *Database) setLocked(key string, value *objx.Object) {
	if d.rehashTo != nil {
		d.keys.delete(key)
		d.rehashTo.set(key, value)
		return
	}
	d.keys.set(key, value)
}

// Get looks up a key, honoring its expiry against now (the caller must pass
// the frozen command-time snapshot, never a fresh read — spec.md §4.1).
// A logically expired key is treated as absent but is NOT deleted here;
// deletion is the active/lazy expiration caller's job (spec.md §4.6, §4.8),
// keeping Get side-effect-free for readonly commands.
func (d *Database) Get(key string, now time.Time) (*objx.Object, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isExpiredLocked(key, now) {
		return nil, false
	}
	return d.lookupLocked(key)
}

// Set installs value under key, clearing any prior expiry (matching plain
// SET semantics; callers needing to preserve TTL use SetKeepTTL).
func (d *Database) Set(key string, value *objx.Object) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setLocked(key, value)
	delete(d.expires, key)
	d.maybeGrowLocked()
	d.stepRehashLocked()
}

// SetKeepTTL installs value under key without touching any existing expiry.
func (d *Database) SetKeepTTL(key string, value *objx.Object) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setLocked(key, value)
	d.maybeGrowLocked()
	d.stepRehashLocked()
}

// Delete removes a key from both the keys and expires tables (spec.md §3
// "destroying a key removes from both").
func (d *Database) Delete(key string) (existed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	existed = d.keys.delete(key)
	if d.rehashTo != nil && d.rehashTo.delete(key) {
		existed = true
	}
	delete(d.expires, key)
	return existed
}

// Exists reports whether key is present and not logically expired.
func (d *Database) Exists(key string, now time.Time) bool {
	_, ok := d.Get(key, now)
	return ok
}

// SetExpire records an absolute expiry (unix-milli) for key. Returns false
// if the key does not exist.
func (d *Database) SetExpire(key string, atUnixMilli int64, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isExpiredLocked(key, now) {
		return false
	}
	if _, ok := d.lookupLocked(key); !ok {
		return false
	}
	d.expires[key] = atUnixMilli
	return true
}

// Persist removes any expiry from key, returning true if one was removed.
func (d *Database) Persist(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.expires[key]; !ok {
		return false
	}
	delete(d.expires, key)
	return true
}

// TTLMillis returns the remaining time-to-live in milliseconds (>=0), or
// -1 if the key exists with no expiry, or -2 if the key does not exist (or
// is logically expired as of now).
func (d *Database) TTLMillis(key string, now time.Time) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isExpiredLocked(key, now) {
		return -2
	}
	if _, ok := d.lookupLocked(key); !ok {
		return -2
	}
	expiryMs, hasExpiry := d.expires[key]
	if !hasExpiry {
		return -1
	}
	remaining := expiryMs - now.UnixMilli()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// isExpiredLocked must be called with d.mu held.
func (d *Database) isExpiredLocked(key string, now time.Time) bool {
	expiryMs, ok := d.expires[key]
	if !ok {
		return false
	}
	return now.UnixMilli() >= expiryMs
}

// Size returns the number of keys present (not filtering expired-but-not-
// yet-swept keys, matching DBSIZE's documented semantics of counting table
// entries rather than performing a full expiry scan).
func (d *Database) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := d.keys.count
	if d.rehashTo != nil {
		count += d.rehashTo.count
	}
	return count
}

// Flush empties both tables, as FLUSHDB does (spec.md §3 "Databases:
// ... cleared by FLUSHDB/FLUSHALL").
func (d *Database) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys = newTable(initialBuckets)
	d.expires = make(map[string]int64)
	d.rehashFrom, d.rehashTo = nil, nil
}

// maybeGrowLocked starts an incremental rehash when the load factor crosses
// the configured threshold. Caller must hold d.mu.
func (d *Database) maybeGrowLocked() {
	if d.resizeInhibited || d.rehashTo != nil {
		return
	}
	if d.keys.loadFactor() <= loadFactorHigh {
		return
	}
	d.rehashFrom = d.keys
	d.rehashTo = newTable(len(d.keys.buckets) * 2)
}

// stepRehashLocked migrates rehashStepKeys keys per call from rehashFrom to
// rehashTo, completing the swap once rehashFrom is drained. This mirrors
// the cron-driven incremental rehash of spec.md §4.6, invoked opportunistically
// on writes as well so a database that stops receiving cron ticks (e.g. in
// tests) still converges. Caller must hold d.mu.
func (d *Database) stepRehashLocked() {
	if d.rehashFrom == nil {
		return
	}
	migrated := 0
	for bi := range d.rehashFrom.buckets {
		if len(d.rehashFrom.buckets[bi]) == 0 {
			continue
		}
		for len(d.rehashFrom.buckets[bi]) > 0 && migrated < rehashStepKeys {
			e := d.rehashFrom.buckets[bi][0]
			d.rehashFrom.buckets[bi] = d.rehashFrom.buckets[bi][1:]
			d.rehashFrom.count--
			d.rehashTo.set(e.key, e.value)
			migrated++
		}
		if migrated >= rehashStepKeys {
			break
		}
	}
	if d.rehashDoneLocked() {
		d.keys = d.rehashTo
		d.rehashFrom, d.rehashTo = nil, nil
	}
}

func (d *Database) rehashDoneLocked() bool {
	for _, b := range d.rehashFrom.buckets {
		if len(b) > 0 {
			return false
		}
	}
	return true
}

// Rehashing reports whether an incremental rehash is currently in progress,
// for INFO/DEBUG introspection.
func (d *Database) Rehashing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rehashFrom != nil
}

// Step performs one server-cron "databases cron" unit of work for this
// database: if a persistence child is active, it is a no-op (spec.md
// §4.6); otherwise it advances any in-progress rehash.
func (d *Database) Step() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resizeInhibited {
		return
	}
	d.stepRehashLocked()
}

// ForEach calls fn once per live key, skipping anything logically expired
// as of now. Used by the durable-log rewrite snapshot (spec.md §4.6
// "start a background save/rewrite"); fn must not call back into Database.
func (d *Database) ForEach(now time.Time, fn func(key string, value *objx.Object)) {
	d.mu.Lock()
	type kv struct {
		key   string
		value *objx.Object
	}
	var snapshot []kv
	collect := func(t *table) {
		for _, bucket := range t.buckets {
			for _, e := range bucket {
				if d.isExpiredLocked(e.key, now) {
					continue
				}
				snapshot = append(snapshot, kv{e.key, e.value})
			}
		}
	}
	collect(d.keys)
	if d.rehashTo != nil {
		collect(d.rehashTo)
	}
	d.mu.Unlock()

	for _, e := range snapshot {
		fn(e.key, e.value)
	}
}

// ActiveExpireCycle samples up to sampleSize keys with an expiry set and
// deletes any that are logically expired as of now, returning how many
// were removed. This is the active-expiration half of "databases cron"
// (spec.md §4.6): bounded, sampling-based, not a full scan. Suppressed
// entirely while a persistence child is active, same as rehashing.
func (d *Database) ActiveExpireCycle(now time.Time, sampleSize int) (expired int) {
	d.mu.Lock()
	if d.resizeInhibited {
		d.mu.Unlock()
		return 0
	}
	candidates := make([]string, 0, sampleSize)
	sampled := 0
	for key, expiryMs := range d.expires {
		if sampled >= sampleSize {
			break
		}
		sampled++
		if now.UnixMilli() >= expiryMs {
			candidates = append(candidates, key)
		}
	}
	d.mu.Unlock()

	for _, key := range candidates {
		d.Delete(key)
	}
	return len(candidates)
}
