// Package clock provides the three notions of "now" used by the command
// execution core: a real monotonic clock for latency measurement, a cached
// wall clock refreshed at event-loop boundaries, and a command-time snapshot
// frozen for the duration of one outermost command.
package clock

import (
	"sync"
	"sync/atomic"
	"time"

	bclock "github.com/benbjohnson/clock"
)

// Oracle is the time source for one Server. It wraps a benbjohnson/clock.Clock
// behind a single handle so tests can swap in a mock and drive cron/
// expiration deterministically.
type Oracle struct {
	clock bclock.Clock

	// cachedWallMu guards cachedWall; refreshed once per event-loop
	// iteration (afterSleep) rather than on every read.
	cachedWallMu sync.RWMutex
	cachedWall   time.Time

	// snapshot is the command-time value frozen at the outermost call()
	// entry. snapshotDepth tracks execution nesting so only the outermost
	// entry may re-freeze it (spec invariant: command-time constancy).
	snapshotMu    sync.Mutex
	snapshot      time.Time
	snapshotDepth int32

	daylightActive atomic.Bool
}

// New returns an Oracle backed by the real system clock.
func New() *Oracle {
	return NewWithClock(bclock.New())
}

// NewWithClock returns an Oracle backed by the given clock, typically a
// bclock.Mock in tests.
func NewWithClock(c bclock.Clock) *Oracle {
	o := &Oracle{clock: c}
	o.RefreshWallClock()
	return o
}

// Underlying exposes the wrapped clock so cron timers can be built against
// the same time source (real or mocked).
func (o *Oracle) Underlying() bclock.Clock { return o.clock }

// Monotonic returns the real monotonic clock, read fresh on every call. Used
// for latency measurement (spec §4.1 item 1).
func (o *Oracle) Monotonic() time.Time { return o.clock.Now() }

// WallClock returns the cached wall clock (spec §4.1 item 2): cheap to read,
// refreshed only at event-loop boundaries.
func (o *Oracle) WallClock() time.Time {
	o.cachedWallMu.RLock()
	defer o.cachedWallMu.RUnlock()
	return o.cachedWall
}

// RefreshWallClock refreshes the cached wall clock. Called from after-sleep
// and nowhere else, a once-per-tick timestamp refresh.
func (o *Oracle) RefreshWallClock() {
	now := o.clock.Now()
	o.cachedWallMu.Lock()
	o.cachedWall = now
	o.cachedWallMu.Unlock()
	o.daylightActive.Store(isDST(now))
}

// DaylightActive reports the last-refreshed daylight-saving flag; only the
// cached wall-clock path updates it (spec §4.1).
func (o *Oracle) DaylightActive() bool { return o.daylightActive.Load() }

// EnterCommand bumps execution nesting and, on the outermost entry, freezes
// the command-time snapshot. Returns a matching ExitCommand to call on unwind.
// This is the mechanism behind the command-time constancy invariant (spec §8
// property 1): nested EXEC/script/module calls never re-freeze the snapshot.
func (o *Oracle) EnterCommand() (exit func()) {
	o.snapshotMu.Lock()
	if o.snapshotDepth == 0 {
		o.snapshot = o.clock.Now()
	}
	o.snapshotDepth++
	o.snapshotMu.Unlock()

	return func() {
		o.snapshotMu.Lock()
		o.snapshotDepth--
		o.snapshotMu.Unlock()
	}
}

// CommandTime returns the frozen command-time snapshot (spec §4.1 item 3).
// Must only be called between EnterCommand and its matching exit.
func (o *Oracle) CommandTime() time.Time {
	o.snapshotMu.Lock()
	defer o.snapshotMu.Unlock()
	return o.snapshot
}

// Nesting reports the current execution nesting depth; zero means no command
// is currently executing on this oracle.
func (o *Oracle) Nesting() int32 {
	o.snapshotMu.Lock()
	defer o.snapshotMu.Unlock()
	return o.snapshotDepth
}

func isDST(t time.Time) bool {
	_, offsetNow := t.Zone()
	jan1 := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
	jul1 := time.Date(t.Year(), time.July, 1, 0, 0, 0, 0, t.Location())
	_, offsetJan := jan1.Zone()
	_, offsetJul := jul1.Zone()
	standard := offsetJan
	if offsetJul < standard {
		standard = offsetJul
	}
	return offsetNow > standard
}
