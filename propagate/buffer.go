// Package propagate implements the propagation buffer of spec.md §3/§4.5:
// an ordered list of AOF/REPL target entries accumulated during one
// outermost command execution unit, flushed at its end with MULTI/EXEC
// bracketing when more than one entry was queued.
//
// The shape mirrors a transaction lifecycle (Begin/Commit/Rollback) keyed
// by an ID with buffered work flushed atomically on commit; here the
// "transaction" is the propagation buffer's owning execution unit, and
// "commit" is Flush bracketing the queued entries in a synthetic MULTI/EXEC.
package propagate

// Target is a bitset of replication sinks an entry should reach.
type Target uint8

const (
	TargetAOF Target = 1 << iota
	TargetREPL
)

func (t Target) Has(sink Target) bool { return t&sink != 0 }

// NoSelect is the sentinel database id meaning "suppress a redundant SELECT
// between consecutive propagations" (spec.md §4.5).
const NoSelect = -1

// Entry is one propagation entry: target sinks, the database it applies to,
// and an owned copy of the argument vector (spec.md §3 "Propagation entry").
type Entry struct {
	Target Target
	DBID   int
	Argv   [][]byte
}

// Buffer accumulates propagation entries for one outermost execution unit.
// It is not safe for concurrent use; the single reactor owner thread is the
// only writer (spec.md §5).
type Buffer struct {
	entries            []Entry
	touchesArbitraryKeys bool
}

// New returns an empty propagation buffer.
func New() *Buffer {
	return &Buffer{}
}

// Append queues a propagation entry. argv is copied so later mutation by
// the caller cannot corrupt a pending entry (spec.md §3 "owned copies with
// incremented refcounts" — Go's GC stands in for refcounting here, but the
// defensive copy still matters because callers often reuse argv slices).
func (b *Buffer) Append(target Target, dbID int, argv [][]byte) {
	owned := make([][]byte, len(argv))
	for i, a := range argv {
		owned[i] = append([]byte(nil), a...)
	}
	b.entries = append(b.entries, Entry{Target: target, DBID: dbID, Argv: owned})
}

// MarkTouchesArbitraryKeys records that the current execution unit is
// flagged touches-arbitrary-keys (e.g. an active-expire sweep), which
// disables MULTI/EXEC bracketing on flush regardless of entry count
// (spec.md §4.5).
func (b *Buffer) MarkTouchesArbitraryKeys() { b.touchesArbitraryKeys = true }

// Len reports how many entries are queued.
func (b *Buffer) Len() int { return len(b.entries) }

// Entries returns the queued entries, the way they would be inspected for
// flushing. Callers must not mutate the returned slice.
func (b *Buffer) Entries() []Entry { return b.entries }

// Reset clears the buffer for reuse by the next outermost execution unit.
func (b *Buffer) Reset() {
	b.entries = b.entries[:0]
	b.touchesArbitraryKeys = false
}

// multiArgv and execArgv are the synthetic command vectors used to bracket
// a multi-entry flush.
var (
	multiArgv = [][]byte{[]byte("MULTI")}
	execArgv  = [][]byte{[]byte("EXEC")}
)

// Flush drains the buffer into a flat sequence of entries ready for AOF
// append and replica fan-out, applying the bracketing rule of spec.md §4.5:
// a single entry is emitted as-is; two or more are wrapped in a synthetic
// MULTI/EXEC pair unless touches-arbitrary-keys was marked, in which case
// they are emitted unbracketed. Consecutive entries sharing the same DBID
// as the previous one propagate with DBID set to NoSelect so the consumer
// can skip a redundant SELECT.
func (b *Buffer) Flush() []Entry {
	defer b.Reset()

	if len(b.entries) == 0 {
		return nil
	}

	out := make([]Entry, 0, len(b.entries)+2)
	bracket := len(b.entries) >= 2 && !b.touchesArbitraryKeys

	lastDB := int(NoSelect)
	emit := func(target Target, dbID int, argv [][]byte) {
		effectiveDB := dbID
		if dbID == lastDB {
			effectiveDB = NoSelect
		} else {
			lastDB = dbID
		}
		out = append(out, Entry{Target: target, DBID: effectiveDB, Argv: argv})
	}

	if bracket {
		combinedTarget := Target(0)
		for _, e := range b.entries {
			combinedTarget |= e.Target
		}
		emit(combinedTarget, b.entries[0].DBID, multiArgv)
	}
	for _, e := range b.entries {
		emit(e.Target, e.DBID, e.Argv)
	}
	if bracket {
		combinedTarget := Target(0)
		for _, e := range b.entries {
			combinedTarget |= e.Target
		}
		emit(combinedTarget, b.entries[len(b.entries)-1].DBID, execArgv)
	}
	return out
}
