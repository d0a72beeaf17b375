package eviction

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyPoolEvictsLeastRecentlyUsed(t *testing.T) {
	p, err := NewKeyPool(2)
	require.NoError(t, err)

	p.Touch("a")
	p.Touch("b")
	victim, ok := p.Victim()
	require.True(t, ok)
	require.Equal(t, "a", victim)

	p.Touch("a") // bump a to most-recent
	victim, ok = p.Victim()
	require.True(t, ok)
	require.Equal(t, "b", victim)
}

func TestEvictVictimRemovesFromPool(t *testing.T) {
	p, err := NewKeyPool(10)
	require.NoError(t, err)
	p.Touch("a")
	p.Touch("b")

	key, ok := p.EvictVictim()
	require.True(t, ok)
	require.Equal(t, "a", key)
	require.Equal(t, 1, p.Len())
}

func TestEmptyPoolHasNoVictim(t *testing.T) {
	p, err := NewKeyPool(10)
	require.NoError(t, err)
	_, ok := p.Victim()
	require.False(t, ok)
}

func TestBucketIndexClamping(t *testing.T) {
	require.Equal(t, minLogBucket, BucketIndex(0))
	require.Equal(t, minLogBucket, BucketIndex(1))
	require.Equal(t, 1, BucketIndex(2))
	require.Equal(t, 10, BucketIndex(1024))
}

func TestClientBucketsMoveAndFindMostExpensive(t *testing.T) {
	cb := NewClientBuckets()
	cb.Move("small-client", 64)
	cb.Move("big-client", 1<<20)

	victim, ok := cb.MostExpensive()
	require.True(t, ok)
	require.Equal(t, "big-client", victim)
}

func TestClientBucketsRebucketsOnCrossingBoundary(t *testing.T) {
	cb := NewClientBuckets()
	cb.Move("c1", 64)
	require.Equal(t, "c1", mustVictim(t, cb))

	cb.Move("c1", 1<<20)
	require.Equal(t, "c1", mustVictim(t, cb))
}

func mustVictim(t *testing.T, cb *ClientBuckets) string {
	t.Helper()
	v, ok := cb.MostExpensive()
	require.True(t, ok)
	return v
}

func TestClientBucketsRemove(t *testing.T) {
	cb := NewClientBuckets()
	cb.Move("c1", 64)
	cb.Remove("c1")
	_, ok := cb.MostExpensive()
	require.False(t, ok)
}
