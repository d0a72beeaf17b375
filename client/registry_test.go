package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry()
	c := New()
	r.Add(c)

	got, ok := r.Get(c.ID())
	require.True(t, ok)
	require.Equal(t, c, got)
	require.Equal(t, 1, r.Len())

	r.Remove(c.ID())
	_, ok = r.Get(c.ID())
	require.False(t, ok)
	require.Equal(t, 0, r.Len())
}

func TestNextBatchRotatesHead(t *testing.T) {
	r := NewRegistry()
	var ids []string
	for i := 0; i < 5; i++ {
		c := New()
		r.Add(c)
		ids = append(ids, c.ID())
	}

	first := r.NextBatch(2)
	require.Len(t, first, 2)
	require.Equal(t, ids[0], first[0].ID())
	require.Equal(t, ids[1], first[1].ID())

	second := r.NextBatch(2)
	require.Equal(t, ids[2], second[0].ID())
	require.Equal(t, ids[3], second[1].ID())

	require.NotEqual(t, first[0].ID(), second[0].ID(), "rotation head must change across batches")
}

func TestNextBatchWrapsAround(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		r.Add(New())
	}

	r.NextBatch(2)
	batch := r.NextBatch(2)
	require.Len(t, batch, 2, "batch size is clamped to the client count, not blocked by wraparound")
}

func TestRemoveMidRotationAdjustsCursor(t *testing.T) {
	r := NewRegistry()
	var clients []*Client
	for i := 0; i < 4; i++ {
		c := New()
		r.Add(c)
		clients = append(clients, c)
	}

	r.NextBatch(2) // cursor now at index 2
	r.Remove(clients[0].ID())

	require.Equal(t, 3, r.Len())
	// Removing an earlier entry must shift the cursor back so rotation
	// doesn't skip or repeat a client.
	batch := r.NextBatch(1)
	require.Equal(t, clients[2].ID(), batch[0].ID())
}

func TestEmptyRegistryNextBatch(t *testing.T) {
	r := NewRegistry()
	require.Nil(t, r.NextBatch(5))
}
