package clock

import (
	"testing"
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestCommandTimeConstancyAcrossNesting(t *testing.T) {
	mock := bclock.NewMock()
	o := NewWithClock(mock)

	exitOuter := o.EnterCommand()
	outerSnap := o.CommandTime()

	mock.Add(5 * time.Second)

	exitInner := o.EnterCommand()
	innerSnap := o.CommandTime()
	exitInner()

	require.Equal(t, outerSnap, innerSnap, "nested call must observe the outer snapshot unchanged")

	exitOuter()
	require.Equal(t, int32(0), o.Nesting())
}

func TestWallClockOnlyMovesOnRefresh(t *testing.T) {
	mock := bclock.NewMock()
	o := NewWithClock(mock)

	before := o.WallClock()
	mock.Add(time.Minute)
	require.Equal(t, before, o.WallClock(), "cached wall clock must not move without an explicit refresh")

	o.RefreshWallClock()
	require.True(t, o.WallClock().After(before))
}
