package transport

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/lordbasex/kvcore/client"
	"github.com/lordbasex/kvcore/clock"
	"github.com/lordbasex/kvcore/config"
	"github.com/lordbasex/kvcore/dispatch"
	"github.com/lordbasex/kvcore/keyspace"
	"github.com/lordbasex/kvcore/objx"
)

type noopSleeper struct{ beforeCalls, afterCalls int }

func (s *noopSleeper) BeforeSleep(reentrant bool) { s.beforeCalls++ }
func (s *noopSleeper) AfterSleep()                { s.afterCalls++ }

func newTestReactor(t *testing.T) (*Reactor, *client.Registry, *client.Client) {
	t.Helper()
	reg := dispatch.BuildRegistry()
	ks := keyspace.New(4)
	shared := objx.NewShared()
	oracle := clock.New()
	clients := client.NewRegistry()
	cfg := config.DefaultServerConfig()
	metrics := dispatch.NewMetrics(prometheus.NewRegistry())
	d := dispatch.New(reg, ks, shared, oracle, clients, cfg, nil, nil, nil, nil, metrics, nil)

	r := NewReactor(d, &noopSleeper{}, 16)
	cli := client.New()
	clients.Add(cli)
	return r, clients, cli
}

func TestReactorSubmitRunsThroughDispatcherAndReplies(t *testing.T) {
	r, _, cli := newTestReactor(t)
	go r.Run()
	defer r.Stop()

	reply := r.Submit(cli, [][]byte{[]byte("PING")})
	require.Contains(t, string(reply), "PONG")
}

func TestReactorStopUnblocksPendingSubmit(t *testing.T) {
	r, _, _ := newTestReactor(t)
	go r.Run()

	done := make(chan struct{})
	go func() {
		r.Submit(client.New(), [][]byte{[]byte("PING")})
		close(done)
	}()

	r.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit did not unblock after Stop")
	}
}
