package sleep

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/lordbasex/kvcore/client"
	"github.com/lordbasex/kvcore/clock"
	"github.com/lordbasex/kvcore/eviction"
	"github.com/lordbasex/kvcore/keyspace"
	"github.com/lordbasex/kvcore/objx"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *keyspace.Keyspace, *client.Registry) {
	t.Helper()
	ks := keyspace.New(2)
	clients := client.NewRegistry()
	oracle := clock.New()
	metrics := NewMetrics(prometheus.NewRegistry())
	c := NewCoordinator(ks, clients, nil, nil, nil, oracle, metrics)
	return c, ks, clients
}

// A tick must leave the advisory lock released and AfterSleep must
// reacquire it; otherwise a second tick would deadlock on BeforeSleep's
// final Unlock.
func TestTickCycleDoesNotDeadlock(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	done := make(chan struct{})
	go func() {
		c.BeforeSleep(false)
		c.AfterSleep()
		c.BeforeSleep(false)
		c.AfterSleep()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tick cycle deadlocked")
	}
}

func TestBeforeSleepExpiresKeysActively(t *testing.T) {
	c, ks, _ := newTestCoordinator(t)

	db := ks.DB(0)
	db.Set("k", objx.New(objx.EncEmbstr, []byte("v")))
	db.SetExpire("k", c.Clock.WallClock().Add(-time.Second).UnixMilli(), c.Clock.WallClock())

	require.True(t, db.Exists("k", c.Clock.WallClock().Add(-2*time.Second))) // still present as of an earlier instant

	c.BeforeSleep(false)
	c.AfterSleep()

	require.False(t, db.Exists("k", c.Clock.WallClock()))
}

func TestBeforeSleepFreesClosedClients(t *testing.T) {
	c, _, clients := newTestCoordinator(t)

	cl := client.New()
	clients.Add(cl)
	cl.RequestClose()

	c.BeforeSleep(false)
	c.AfterSleep()

	_, found := clients.Get(cl.ID())
	require.False(t, found)
}

func TestBeforeSleepEvictsMostExpensiveClientUpToLimit(t *testing.T) {
	c, _, clients := newTestCoordinator(t)
	buckets := eviction.NewClientBuckets()
	c.ClientBuckets = buckets
	c.MaxEvictPerTick = 1

	cl := client.New()
	clients.Add(cl)
	buckets.Move(cl.ID(), 1<<20)

	c.BeforeSleep(false)
	c.AfterSleep()

	require.True(t, cl.CloseRequested())
}

func TestReentrantBeforeSleepSkipsEvictionAndExpiry(t *testing.T) {
	c, ks, _ := newTestCoordinator(t)
	buckets := eviction.NewClientBuckets()
	c.ClientBuckets = buckets

	db := ks.DB(0)
	db.Set("k", objx.New(objx.EncEmbstr, []byte("v")))
	db.SetExpire("k", c.Clock.WallClock().Add(-time.Second).UnixMilli(), c.Clock.WallClock())

	c.BeforeSleep(true) // reentrant: must not run the active-expire/eviction steps

	require.True(t, db.Exists("k", c.Clock.WallClock().Add(-2*time.Second)))
}
