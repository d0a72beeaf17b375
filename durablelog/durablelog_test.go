package durablelog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndFlushWritesRESP(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.aof")

	log, err := Open(path, FsyncAlways)
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Append([]Entry{{Argv: [][]byte{[]byte("SET"), []byte("k"), []byte("1")}}}))
	require.NoError(t, log.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\n1\r\n", string(data))
}

func TestDegradedClearsOnSuccessfulFlush(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.aof")
	log, err := Open(path, FsyncEverySecond)
	require.NoError(t, err)
	defer log.Close()

	require.False(t, log.Degraded())
	require.NoError(t, log.Append([]Entry{{Argv: [][]byte{[]byte("PING")}}}))
	require.NoError(t, log.Flush())
	require.False(t, log.Degraded())
}

func TestRewriteReplacesFileContentsAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.aof")
	log, err := Open(path, FsyncAlways)
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Append([]Entry{{Argv: [][]byte{[]byte("SET"), []byte("old"), []byte("v")}}}))
	require.NoError(t, log.Flush())

	require.NoError(t, log.Rewrite(func() []Entry {
		return []Entry{{Argv: [][]byte{[]byte("SET"), []byte("new"), []byte("v")}}}
	}))

	require.NoError(t, log.Append([]Entry{{Argv: [][]byte{[]byte("INCR"), []byte("new")}}}))
	require.NoError(t, log.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "old")
	require.Contains(t, string(data), "new")
	require.Contains(t, string(data), "INCR")
}
