package shutdown

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lordbasex/kvcore/durablelog"
)

type fakeDurableLog struct {
	flushed, closed bool
	flushErr        error
}

func (f *fakeDurableLog) Append(entries []durablelog.Entry) error { return nil }
func (f *fakeDurableLog) Flush() error {
	f.flushed = true
	return f.flushErr
}
func (f *fakeDurableLog) Close() error   { f.closed = true; return nil }
func (f *fakeDurableLog) Degraded() bool { return false }

type fakePauser struct {
	paused, unpaused bool
}

func (p *fakePauser) Pause(time.Time, bool) { p.paused = true }
func (p *fakePauser) Unpause()               { p.unpaused = true }

func TestRunWithNOWSkipsReplicaWait(t *testing.T) {
	calls := 0
	c := New(Options{
		ReplicasCaughtUp: func() bool { calls++; return false },
		ShutdownTimeout:  50 * time.Millisecond,
	})

	err := c.Run(context.Background(), Request{NOW: true})
	require.NoError(t, err)
	require.Zero(t, calls, "NOW must skip the replica-catch-up wait entirely")
}

func TestRunWaitsForReplicasThenFinalizes(t *testing.T) {
	caughtUp := false
	pauser := &fakePauser{}
	snapshotted := false

	c := New(Options{
		Pause:            pauser,
		ShutdownTimeout:  time.Second,
		ReplicasCaughtUp: func() bool { return caughtUp },
		Snapshot:         func() error { snapshotted = true; return nil },
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		caughtUp = true
	}()

	err := c.Run(context.Background(), Request{})
	require.NoError(t, err)
	require.True(t, pauser.paused)
	require.True(t, pauser.unpaused)
	require.True(t, snapshotted)
}

func TestRunReturnsErrorWhenReplicasNeverCatchUp(t *testing.T) {
	c := New(Options{
		ShutdownTimeout:  10 * time.Millisecond,
		ReplicasCaughtUp: func() bool { return false },
	})

	err := c.Run(context.Background(), Request{})
	require.ErrorIs(t, err, ErrReplicaWaitFailed)
}

func TestFinalizeSkipsSnapshotOnNOSAVE(t *testing.T) {
	snapshotted := false
	c := New(Options{
		Snapshot: func() error { snapshotted = true; return nil },
	})

	err := c.Run(context.Background(), Request{NOW: true, NOSAVE: true})
	require.NoError(t, err)
	require.False(t, snapshotted)
}

func TestFinalizeRemovesPIDFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "kvcored.pid")
	require.NoError(t, err)
	f.Close()

	c := New(Options{PIDFilePath: f.Name()})
	require.NoError(t, c.Run(context.Background(), Request{NOW: true}))

	_, statErr := os.Stat(f.Name())
	require.True(t, os.IsNotExist(statErr))
}

func TestFinalizeFlushesAndClosesDurableLog(t *testing.T) {
	log := &fakeDurableLog{}
	c := New(Options{DurableLog: log})

	require.NoError(t, c.Run(context.Background(), Request{NOW: true}))
	require.True(t, log.flushed)
	require.True(t, log.closed)
}

func TestCancelShutdownClearsPendingAndUnpauses(t *testing.T) {
	pauser := &fakePauser{}
	c := New(Options{Pause: pauser})

	c.RequestShutdown(Request{})
	_, pending := c.Pending()
	require.True(t, pending)

	c.CancelShutdown()
	_, pending = c.Pending()
	require.False(t, pending)
	require.True(t, pauser.unpaused)
}
