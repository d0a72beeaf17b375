package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultServerConfigSaneDefaults(t *testing.T) {
	c := DefaultServerConfig()
	require.Equal(t, 16, c.Databases)
	require.Equal(t, int64(0), c.MaxMemoryBytes)
	require.Equal(t, "noeviction", c.EvictionPolicy)
	require.Equal(t, 10, c.HZ)
	require.False(t, c.AppendOnly)
}

func TestGetEnvStringFallsBackToDefault(t *testing.T) {
	os.Unsetenv("KVCORE_TEST_STRING")
	require.Equal(t, "fallback", getEnv("KVCORE_TEST_STRING", "fallback"))

	t.Setenv("KVCORE_TEST_STRING", "override")
	require.Equal(t, "override", getEnv("KVCORE_TEST_STRING", "fallback"))
}

func TestGetEnvBoolParsesOrFallsBack(t *testing.T) {
	t.Setenv("KVCORE_TEST_BOOL", "true")
	require.True(t, getEnvBool("KVCORE_TEST_BOOL", false))

	t.Setenv("KVCORE_TEST_BOOL", "not-a-bool")
	require.False(t, getEnvBool("KVCORE_TEST_BOOL", false), "unparseable value must fall back to default")
}

func TestGetEnvIntAndInt64(t *testing.T) {
	t.Setenv("KVCORE_TEST_INT", "42")
	require.Equal(t, 42, getEnvInt("KVCORE_TEST_INT", 0))

	t.Setenv("KVCORE_TEST_INT64", "9999999999")
	require.Equal(t, int64(9999999999), getEnvInt64("KVCORE_TEST_INT64", 0))
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("KVCORE_TEST_DURATION", "5s")
	require.Equal(t, 5*time.Second, getEnvDuration("KVCORE_TEST_DURATION", time.Second))

	t.Setenv("KVCORE_TEST_DURATION", "garbage")
	require.Equal(t, time.Second, getEnvDuration("KVCORE_TEST_DURATION", time.Second))
}

func TestGetEnvFloat64(t *testing.T) {
	t.Setenv("KVCORE_TEST_FLOAT", "2.5")
	require.Equal(t, 2.5, getEnvFloat64("KVCORE_TEST_FLOAT", 1.0))
}
