package propagate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSingleEntryFlushedUnbracketed(t *testing.T) {
	b := New()
	b.Append(TargetAOF|TargetREPL, 0, [][]byte{[]byte("SET"), []byte("k"), []byte("1")})

	out := b.Flush()
	require.Len(t, out, 1)
	require.Equal(t, "SET", string(out[0].Argv[0]))
	require.Equal(t, 0, b.Len(), "Flush must reset the buffer")
}

func TestMultiEntryFlushBracketedWithMultiExec(t *testing.T) {
	b := New()
	b.Append(TargetAOF, 0, [][]byte{[]byte("SET"), []byte("a"), []byte("1")})
	b.Append(TargetAOF, 0, [][]byte{[]byte("INCR"), []byte("a")})

	out := b.Flush()
	require.Len(t, out, 4)
	require.Equal(t, "MULTI", string(out[0].Argv[0]))
	require.Equal(t, "SET", string(out[1].Argv[0]))
	require.Equal(t, "INCR", string(out[2].Argv[0]))
	require.Equal(t, "EXEC", string(out[3].Argv[0]))
}

func TestTouchesArbitraryKeysBypassesBracketing(t *testing.T) {
	b := New()
	b.Append(TargetAOF, 0, [][]byte{[]byte("DEL"), []byte("expired1")})
	b.Append(TargetAOF, 0, [][]byte{[]byte("DEL"), []byte("expired2")})
	b.MarkTouchesArbitraryKeys()

	out := b.Flush()
	require.Len(t, out, 2, "touches-arbitrary-keys entries must not be wrapped in MULTI/EXEC")
	require.Equal(t, "DEL", string(out[0].Argv[0]))
	require.Equal(t, "DEL", string(out[1].Argv[0]))
}

func TestEmptyBufferFlushesNothing(t *testing.T) {
	b := New()
	require.Nil(t, b.Flush())
}

func TestConsecutiveSameDBSuppressesRedundantSelect(t *testing.T) {
	b := New()
	b.Append(TargetAOF, 3, [][]byte{[]byte("SET"), []byte("a"), []byte("1")})
	b.Append(TargetAOF, 3, [][]byte{[]byte("SET"), []byte("b"), []byte("2")})

	out := b.Flush()
	// MULTI carries the real DBID (3); the first real SET repeats it so is
	// suppressed to NoSelect; the second SET, same DB again, also suppressed.
	require.Equal(t, 3, out[0].DBID)
	require.Equal(t, NoSelect, out[1].DBID)
	require.Equal(t, NoSelect, out[2].DBID)
}

func TestAppendCopiesArgvDefensively(t *testing.T) {
	b := New()
	argv := [][]byte{[]byte("SET"), []byte("k"), []byte("1")}
	b.Append(TargetAOF, 0, argv)
	argv[2][0] = '9'

	out := b.Flush()
	require.Equal(t, "1", string(out[0].Argv[2]), "mutating the caller's argv after Append must not affect the queued entry")
}

func TestResetClearsTouchesArbitraryKeysFlag(t *testing.T) {
	b := New()
	b.MarkTouchesArbitraryKeys()
	b.Reset()
	b.Append(TargetAOF, 0, [][]byte{[]byte("SET"), []byte("a"), []byte("1")})
	b.Append(TargetAOF, 0, [][]byte{[]byte("SET"), []byte("b"), []byte("2")})

	out := b.Flush()
	require.Equal(t, "MULTI", string(out[0].Argv[0]), "flag must not leak across buffer reuse")
}
