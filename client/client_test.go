package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewClientDefaults(t *testing.T) {
	c := New()
	require.NotEmpty(t, c.ID())
	require.Equal(t, 0, c.DBID())
	require.False(t, c.InMulti())
}

func TestFlagsSetAndClear(t *testing.T) {
	c := New()
	require.False(t, c.HasFlag(FlagAuthenticated))
	c.SetFlag(FlagAuthenticated, true)
	require.True(t, c.HasFlag(FlagAuthenticated))
	c.SetFlag(FlagAuthenticated, false)
	require.False(t, c.HasFlag(FlagAuthenticated))
}

func TestMultiQueueLifecycle(t *testing.T) {
	c := New()
	c.StartMulti()
	require.True(t, c.InMulti())

	c.QueueCommand([][]byte{[]byte("SET"), []byte("a"), []byte("1")})
	c.QueueCommand([][]byte{[]byte("INCR"), []byte("a")})

	queued := c.DrainMulti()
	require.Len(t, queued, 2)
	require.False(t, c.InMulti())
	require.Equal(t, "SET", string(queued[0].Argv[0]))
}

func TestMultiDirtyFlagCausesExecAbort(t *testing.T) {
	c := New()
	c.StartMulti()
	require.False(t, c.IsMultiDirty())
	c.MarkMultiDirty()
	require.True(t, c.IsMultiDirty())

	c.DrainMulti()
	require.False(t, c.IsMultiDirty(), "dirty flag must clear once the transaction resolves")
}

func TestWatchUnwatch(t *testing.T) {
	c := New()
	c.Watch(0, "k")
	require.True(t, c.IsWatching(0, "k"))
	require.False(t, c.IsWatching(1, "k"), "watch must be database-qualified")

	c.Unwatch()
	require.False(t, c.IsWatching(0, "k"))
}

func TestWatchesClearedOnExecAndDiscard(t *testing.T) {
	c := New()
	c.Watch(0, "k")
	c.StartMulti()
	c.DrainMulti()
	require.False(t, c.IsWatching(0, "k"), "EXEC must clear watches")

	c.Watch(0, "k")
	c.StartMulti()
	c.DiscardMulti()
	require.False(t, c.IsWatching(0, "k"), "DISCARD must clear watches")
}

func TestReprocessingGuardCurrentCommand(t *testing.T) {
	c := New()
	require.Nil(t, c.CurrentCommand())

	c.SetCurrentCommand([][]byte{[]byte("BLPOP"), []byte("k"), []byte("0")})
	require.NotNil(t, c.CurrentCommand())

	c.ClearCurrentCommand()
	require.Nil(t, c.CurrentCommand())
}

func TestIdleDuration(t *testing.T) {
	c := New()
	base := time.Now()
	c.Touch(base)
	require.Equal(t, 5*time.Second, c.IdleDuration(base.Add(5*time.Second)))
}

func TestPubSubModeTracksSubscriptionCount(t *testing.T) {
	c := New()
	require.False(t, c.HasFlag(FlagPubSubMode))

	c.Subscribe("chan1")
	require.True(t, c.HasFlag(FlagPubSubMode))
	require.Equal(t, 1, c.SubscriptionCount())

	c.Unsubscribe("chan1")
	require.False(t, c.HasFlag(FlagPubSubMode))
	require.Equal(t, 0, c.SubscriptionCount())
}

func TestRequestCloseSetsFlag(t *testing.T) {
	c := New()
	require.False(t, c.CloseRequested())
	c.RequestClose()
	require.True(t, c.CloseRequested())
	require.True(t, c.HasFlag(FlagCloseAfterReply))
}
