package replica

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeRESPArray(t *testing.T) {
	body := encodeRESPArray([][]byte{[]byte("SET"), []byte("k"), []byte("1")})
	require.Equal(t, "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\n1\r\n", string(body))
}

func TestDefaultReconnectConfig(t *testing.T) {
	cfg := DefaultReconnectConfig()
	require.True(t, cfg.Enabled)
	require.Equal(t, 10, cfg.MaxAttempts)
	require.Equal(t, 2.0, cfg.BackoffMultiplier)
}

func TestNewSinkStartsDisconnected(t *testing.T) {
	s := NewAMQPSink("amqp://localhost:1/novhost", "kvcore.replication", DefaultReconnectConfig())
	require.False(t, s.Connected())

	err := s.Publish(nil, [][]byte{[]byte("PING")})
	require.Error(t, err, "publishing before Connect must fail rather than block")
}
