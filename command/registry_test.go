package command

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupCaseInsensitive(t *testing.T) {
	r := New(Static())

	d, isContainer, ok := r.Lookup([][]byte{[]byte("get")})
	require.True(t, ok)
	require.False(t, isContainer)
	require.Equal(t, "GET", d.Name)

	d, isContainer, ok = r.Lookup([][]byte{[]byte("GeT")})
	require.True(t, ok)
	require.False(t, isContainer)
	require.Equal(t, "GET", d.Name)
}

func TestLookupSubcommand(t *testing.T) {
	r := New(Static())

	d, isContainer, ok := r.Lookup([][]byte{[]byte("client"), []byte("list")})
	require.True(t, ok)
	require.False(t, isContainer)
	require.Equal(t, "CLIENT|LIST", d.Name)

	d, isContainer, ok = r.Lookup([][]byte{[]byte("CLIENT")})
	require.True(t, ok)
	require.True(t, isContainer)
	require.Equal(t, "CLIENT", d.Name)
}

func TestLookupUnknownCommand(t *testing.T) {
	r := New(Static())
	_, _, ok := r.Lookup([][]byte{[]byte("NOSUCHCOMMAND")})
	require.False(t, ok)
}

func TestRenamePreservesOriginalLookup(t *testing.T) {
	r := New(Static())

	require.True(t, r.Rename("CONFIG", "SPECIALCONFIG"))

	_, _, ok := r.Lookup([][]byte{[]byte("CONFIG")})
	require.False(t, ok, "renamed command must not be reachable under its old name by clients")

	d, ok := r.ResolveOriginal("CONFIG")
	require.True(t, ok, "internal self-rewrites must still resolve the original name")
	require.Equal(t, "CONFIG", d.Name)

	d, _, ok = r.Lookup([][]byte{[]byte("specialconfig")})
	require.True(t, ok)
	require.Equal(t, "CONFIG", d.Name)
}

func TestLegacyKeyRangeDerivation(t *testing.T) {
	r := New(Static())

	d, _, ok := r.Lookup([][]byte{[]byte("MSET")})
	require.True(t, ok)
	first, last, step, ok := d.Keys.LegacyRange()
	require.True(t, ok)
	require.Equal(t, 1, first)
	require.Equal(t, -1, last)
	require.Equal(t, 2, step)
}

func TestMovableKeysSpecRejectsLegacyRange(t *testing.T) {
	spec := KeySpec{Extractor: func(argv [][]byte) []int { return []int{1} }}
	_, _, _, ok := spec.LegacyRange()
	require.False(t, ok)
}

func TestCheckArity(t *testing.T) {
	exact := &Descriptor{Arity: 3}
	require.True(t, exact.CheckArity(3))
	require.False(t, exact.CheckArity(2))
	require.False(t, exact.CheckArity(4))

	minimum := &Descriptor{Arity: -2}
	require.False(t, minimum.CheckArity(1))
	require.True(t, minimum.CheckArity(2))
	require.True(t, minimum.CheckArity(5))
}

func TestCountIncludesSubcommands(t *testing.T) {
	r := New(Static())
	all := r.All()
	require.Greater(t, r.Count(), 0)
	require.Equal(t, len(all), r.Count())
}

func TestSubcommandInheritsParentProtectedFlag(t *testing.T) {
	r := New(Static())

	d, isContainer, ok := r.Lookup([][]byte{[]byte("DEBUG"), []byte("SLEEP")})
	require.True(t, ok)
	require.False(t, isContainer)
	require.Equal(t, "DEBUG|SLEEP", d.Name)
	require.True(t, d.Flags.Has(FlagProtected), "DEBUG|SLEEP must inherit DEBUG's protected flag")
}
