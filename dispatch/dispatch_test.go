package dispatch

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/lordbasex/kvcore/client"
	"github.com/lordbasex/kvcore/clock"
	"github.com/lordbasex/kvcore/config"
	"github.com/lordbasex/kvcore/info"
	"github.com/lordbasex/kvcore/keyspace"
	"github.com/lordbasex/kvcore/objx"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *client.Client) {
	t.Helper()
	reg := BuildRegistry()
	ks := keyspace.New(4)
	shared := objx.NewShared()
	oracle := clock.New()
	clients := client.NewRegistry()
	cfg := config.DefaultServerConfig()
	metrics := NewMetrics(prometheus.NewRegistry())

	d := New(reg, ks, shared, oracle, clients, cfg, nil, nil, nil, nil, metrics, nil)

	cli := client.New()
	clients.Add(cli)
	return d, cli
}

func argv(parts ...string) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}

// S1: PING/PONG.
func TestPingPong(t *testing.T) {
	d, cli := newTestDispatcher(t)
	reply, verdict := d.Process(cli, argv("PING"))
	require.Equal(t, Continue, verdict)
	require.Equal(t, "+PONG\r\n", string(reply))
}

// S2: SET then GET round-trips.
func TestSetGetRoundTrip(t *testing.T) {
	d, cli := newTestDispatcher(t)

	reply, _ := d.Process(cli, argv("SET", "k", "v"))
	require.Equal(t, "+OK\r\n", string(reply))

	reply, _ = d.Process(cli, argv("GET", "k"))
	require.Equal(t, "$1\r\nv\r\n", string(reply))
}

func TestIncrPropagatesAndAccumulates(t *testing.T) {
	d, cli := newTestDispatcher(t)
	d.Config.AppendOnly = true

	d.Process(cli, argv("SET", "counter", "10"))
	reply, _ := d.Process(cli, argv("INCR", "counter"))
	require.Equal(t, ":11\r\n", string(reply))
	require.Equal(t, 0, d.Propagation.Len(), "propagation buffer must be flushed by the end of each outermost command")
}

// S3: MULTI queues commands and EXEC runs them, replying with an array.
func TestMultiExecQueuesAndExecutes(t *testing.T) {
	d, cli := newTestDispatcher(t)

	reply, _ := d.Process(cli, argv("MULTI"))
	require.Equal(t, "+OK\r\n", string(reply))

	reply, _ = d.Process(cli, argv("SET", "a", "1"))
	require.Equal(t, "+QUEUED\r\n", string(reply))

	reply, _ = d.Process(cli, argv("SET", "b", "2"))
	require.Equal(t, "+QUEUED\r\n", string(reply))

	reply, _ = d.Process(cli, argv("EXEC"))
	require.Equal(t, "*2\r\n+OK\r\n+OK\r\n", string(reply))

	reply, _ = d.Process(cli, argv("GET", "a"))
	require.Equal(t, "$1\r\n1\r\n", string(reply))
}

// EXECABORT: a queued command rejected pre-execute (unknown command) dirties
// the transaction so EXEC aborts (spec.md §7 "Rejections flag an
// in-progress transaction as dirty").
func TestExecAbortsOnDirtyTransaction(t *testing.T) {
	d, cli := newTestDispatcher(t)

	d.Process(cli, argv("MULTI"))
	reply, _ := d.Process(cli, argv("NOTACOMMAND"))
	require.Contains(t, string(reply), "ERR")

	reply, _ = d.Process(cli, argv("EXEC"))
	require.Contains(t, string(reply), "EXECABORT")
}

// NOAUTH -> AUTH flow.
func TestAuthGatesCommandsUntilAuthenticated(t *testing.T) {
	d, cli := newTestDispatcher(t)
	d.Config.RequirePass = "s3cret"

	reply, _ := d.Process(cli, argv("GET", "k"))
	require.Contains(t, string(reply), "NOAUTH")

	reply, _ = d.Process(cli, argv("AUTH", "wrong"))
	require.Contains(t, string(reply), "WRONGPASS")

	reply, _ = d.Process(cli, argv("AUTH", "s3cret"))
	require.Equal(t, "+OK\r\n", string(reply))

	reply, _ = d.Process(cli, argv("GET", "k"))
	require.Equal(t, "$-1\r\n", string(reply))
}

// DEBUG is protected by default; enabling it allows DEBUG SLEEP to run.
func TestDebugProtectedByDefault(t *testing.T) {
	d, cli := newTestDispatcher(t)

	reply, verdict := d.Process(cli, argv("DEBUG", "SLEEP", "0"))
	require.Equal(t, Continue, verdict)
	require.True(t, strings.HasPrefix(string(reply), "-ERR DEBUG command not allowed"))

	d.Config.EnableDebugCommand = true
	reply, _ = d.Process(cli, argv("DEBUG", "SLEEP", "0"))
	require.Equal(t, "+OK\r\n", string(reply))
}

func TestUnknownCommandRejected(t *testing.T) {
	d, cli := newTestDispatcher(t)
	reply, verdict := d.Process(cli, argv("BOGUSCMD"))
	require.Equal(t, Continue, verdict)
	require.Contains(t, string(reply), "unknown command")
}

func TestWrongArityRejected(t *testing.T) {
	d, cli := newTestDispatcher(t)
	reply, _ := d.Process(cli, argv("GET"))
	require.Contains(t, string(reply), "wrong number of arguments")
}

func TestShutdownStopsConnection(t *testing.T) {
	d, cli := newTestDispatcher(t)
	reply, verdict := d.Process(cli, argv("SHUTDOWN"))
	require.Nil(t, reply)
	require.Equal(t, Stop, verdict)
}

func TestDelAndExistsTrackDirtiness(t *testing.T) {
	d, cli := newTestDispatcher(t)
	d.Process(cli, argv("SET", "x", "1"))

	reply, _ := d.Process(cli, argv("EXISTS", "x", "missing"))
	require.Equal(t, ":1\r\n", string(reply))

	reply, _ = d.Process(cli, argv("DEL", "x"))
	require.Equal(t, ":1\r\n", string(reply))

	reply, _ = d.Process(cli, argv("EXISTS", "x"))
	require.Equal(t, ":0\r\n", string(reply))
}

func TestClientPauseBlocksThenExpires(t *testing.T) {
	d, cli := newTestDispatcher(t)

	d.Pause(d.Clock.WallClock().Add(time.Hour), false) // pause all commands
	reply, verdict := d.Process(cli, argv("PING"))
	require.Nil(t, reply)
	require.Equal(t, Continue, verdict)

	d.Pause(d.Clock.WallClock().Add(-time.Second), false) // already-expired deadline clears on next check
	reply, _ = d.Process(cli, argv("PING"))
	require.Equal(t, "+PONG\r\n", string(reply))
}

func TestShutdownIsLoggedWhenLoggingEnabled(t *testing.T) {
	d, cli := newTestDispatcher(t)
	var buf bytes.Buffer
	d.Log = info.NewLogger(info.LegacyFormat, 'M', &buf)

	reply, verdict := d.Process(cli, argv("SHUTDOWN"))
	require.Nil(t, reply)
	require.Equal(t, Stop, verdict)
	require.Contains(t, buf.String(), "SHUTDOWN")
}
