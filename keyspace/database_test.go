package keyspace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lordbasex/kvcore/objx"
)

func TestSetGetDelete(t *testing.T) {
	db := NewDatabase(0)
	now := time.Now()

	_, ok := db.Get("k", now)
	require.False(t, ok)

	db.Set("k", objx.New(objx.EncRaw, []byte("v")))
	obj, ok := db.Get("k", now)
	require.True(t, ok)
	require.Equal(t, []byte("v"), obj.Data())

	require.True(t, db.Delete("k"))
	_, ok = db.Get("k", now)
	require.False(t, ok)
}

func TestExpirySharedBetweenTables(t *testing.T) {
	db := NewDatabase(0)
	now := time.Now()

	db.Set("k", objx.New(objx.EncRaw, []byte("v")))
	require.True(t, db.SetExpire("k", now.Add(10*time.Millisecond).UnixMilli(), now))

	require.True(t, db.Exists("k", now))
	later := now.Add(time.Second)
	require.False(t, db.Exists("k", later), "logically expired key must read as absent")

	// Destroying a key removes it from both tables (spec.md §3).
	db.Delete("k")
	require.Equal(t, int64(-2), db.TTLMillis("k", later))
}

func TestTTLMillisStates(t *testing.T) {
	db := NewDatabase(0)
	now := time.Now()

	require.Equal(t, int64(-2), db.TTLMillis("missing", now))

	db.Set("persistent", objx.New(objx.EncRaw, []byte("v")))
	require.Equal(t, int64(-1), db.TTLMillis("persistent", now))

	db.Set("ttled", objx.New(objx.EncRaw, []byte("v")))
	db.SetExpire("ttled", now.Add(time.Second).UnixMilli(), now)
	ttl := db.TTLMillis("ttled", now)
	require.Greater(t, ttl, int64(0))
	require.LessOrEqual(t, ttl, int64(1000))
}

func TestCommandTimeSnapshotDrivesExpiryNotWallClock(t *testing.T) {
	db := NewDatabase(0)
	now := time.Now()
	db.Set("k", objx.New(objx.EncRaw, []byte("v")))
	db.SetExpire("k", now.Add(time.Millisecond).UnixMilli(), now)

	// A frozen snapshot taken before expiry must still see the key present,
	// even though wall-clock time has since passed the deadline — this is
	// what lets one outermost command see one consistent verdict throughout
	// its nested accesses (spec.md §4.1).
	require.True(t, db.Exists("k", now))
}

func TestResizeInhibitedDuringPersistenceChild(t *testing.T) {
	db := NewDatabase(0)
	before := db.BucketCount()

	db.InhibitResize(true)
	for i := 0; i < 1000; i++ {
		db.Set(string(rune('a'+i%26))+string(rune(i)), objx.New(objx.EncRaw, []byte("v")))
	}
	require.Equal(t, before, db.BucketCount(), "bucket count must not change while a persistence child is active")

	db.InhibitResize(false)
	db.Set("trigger-growth", objx.New(objx.EncRaw, []byte("v")))
	require.GreaterOrEqual(t, db.BucketCount(), before)
}

func TestIncrementalRehashConvergesViaStep(t *testing.T) {
	db := NewDatabase(0)
	for i := 0; i < 50; i++ {
		db.Set(string(rune(i))+"-key", objx.New(objx.EncRaw, []byte("v")))
	}
	for i := 0; i < 1000 && db.Rehashing(); i++ {
		db.Step()
	}
	require.False(t, db.Rehashing(), "incremental rehash must eventually complete")
	require.Equal(t, 50, db.Size())
}

func TestGetVisibleDuringIncrementalRehash(t *testing.T) {
	db := NewDatabase(0)
	now := time.Now()
	keys := []string{"k0", "k1", "k2", "k3", "k4"}
	for _, k := range keys {
		db.Set(k, objx.New(objx.EncRaw, []byte(k)))
	}
	require.True(t, db.Rehashing(), "the 5th key over initialBuckets=4 at loadFactorHigh=1.0 must start a rehash")

	for _, k := range keys {
		v, ok := db.Get(k, now)
		require.True(t, ok, "key %s must stay visible while migrated into rehashTo", k)
		require.Equal(t, k, string(v.Data().([]byte)))
	}
	require.True(t, db.Exists(keys[0], now))
	require.EqualValues(t, -1, db.TTLMillis(keys[0], now))
	require.True(t, db.SetExpire(keys[0], now.Add(time.Minute).UnixMilli(), now))
}

func TestSetDuringRehashNeverDuplicatesAcrossTables(t *testing.T) {
	db := NewDatabase(0)
	now := time.Now()
	for i := 0; i < 5; i++ {
		db.Set(string(rune('a'+i)), objx.New(objx.EncRaw, []byte("v1")))
	}
	require.True(t, db.Rehashing())

	db.Set("a", objx.New(objx.EncRaw, []byte("v2")))
	v, ok := db.Get("a", now)
	require.True(t, ok)
	require.Equal(t, "v2", string(v.Data().([]byte)))
	require.Equal(t, 5, db.Size())
}

func TestDeleteDuringRehashReportsExistenceFromEitherTable(t *testing.T) {
	db := NewDatabase(0)
	keys := []string{"k0", "k1", "k2", "k3", "k4"}
	for _, k := range keys {
		db.Set(k, objx.New(objx.EncRaw, []byte("v")))
	}
	require.True(t, db.Rehashing())

	for _, k := range keys {
		require.True(t, db.Delete(k), "key %s must report existed regardless of which table it migrated into", k)
	}
	require.False(t, db.Delete("missing"))
}

func TestActiveExpireCycleSweepsExpiredKeys(t *testing.T) {
	db := NewDatabase(0)
	now := time.Now()
	db.Set("k1", objx.New(objx.EncRaw, []byte("v")))
	db.SetExpire("k1", now.Add(-time.Second).UnixMilli(), now)
	db.Set("k2", objx.New(objx.EncRaw, []byte("v")))

	expired := db.ActiveExpireCycle(now, 20)
	require.Equal(t, 1, expired)
	require.Equal(t, 1, db.Size())
}

func TestActiveExpireSuppressedWhileChildActive(t *testing.T) {
	db := NewDatabase(0)
	now := time.Now()
	db.Set("k1", objx.New(objx.EncRaw, []byte("v")))
	db.SetExpire("k1", now.Add(-time.Second).UnixMilli(), now)

	db.InhibitResize(true)
	expired := db.ActiveExpireCycle(now, 20)
	require.Equal(t, 0, expired, "active expiration must be suppressed while a persistence child is active")
}

func TestFlushClearsBothTables(t *testing.T) {
	db := NewDatabase(0)
	now := time.Now()
	db.Set("k", objx.New(objx.EncRaw, []byte("v")))
	db.SetExpire("k", now.Add(time.Minute).UnixMilli(), now)

	db.Flush()
	require.Equal(t, 0, db.Size())
	require.Equal(t, int64(-2), db.TTLMillis("k", now))
}
