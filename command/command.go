// Package command implements the command descriptor table and registry of
// spec.md §4.3: case-insensitive lookup with eager rehashing, one level of
// subcommands, legacy key-range derivation, and per-command statistics.
//
// The validation shape is a classifier against configured command lists:
// Descriptor.Flags classifies RESP commands against a fixed set of
// execution-gating bits, the same whitelist/blacklist idea applied to
// statement kinds elsewhere.
package command

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Flag is a bit in a command's flags bitset (spec.md §3).
type Flag uint32

const (
	FlagWrite Flag = 1 << iota
	FlagReadonly
	FlagDenyOOM
	FlagAdmin
	FlagNoScript
	FlagDenyBlocking
	FlagLoadingAllowed
	FlagStaleAllowed
	FlagSkipMonitor
	FlagFast
	FlagNoAuth
	FlagNoMulti
	FlagMovableKeys
	FlagAllowBusy
	FlagTouchesArbitraryKeys
	FlagMayReplicate
	FlagModule
	FlagProtected
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// KeySpec describes where a command's keys live in argv. Only an ascending,
// step-1, index-based spec can be fused into a legacy (first, last, step)
// range (spec.md §4.3); anything else forces FlagMovableKeys and requires
// calling Extractor.
type KeySpec struct {
	FirstKey int // 1-based index into argv; 0 means "no static keys"
	LastKey  int // negative counts from the end, as in real RESP commands
	Step     int

	// Extractor is consulted instead of (FirstKey,LastKey,Step) when the
	// command's keys cannot be described by a simple ascending range
	// (keyword-based or keynum-based specs, spec.md §4.3/§GLOSSARY
	// "movable keys").
	Extractor func(argv [][]byte) []int
}

// LegacyRange returns the classic (first, last, step) triple and whether it
// is valid — i.e., the spec is a plain ascending index range with step 1 or
// more, and no custom Extractor is required.
func (k KeySpec) LegacyRange() (first, last, step int, ok bool) {
	if k.Extractor != nil {
		return 0, 0, 0, false
	}
	if k.FirstKey <= 0 || k.Step <= 0 {
		return 0, 0, 0, false
	}
	if k.LastKey >= 0 && k.LastKey < k.FirstKey {
		return 0, 0, 0, false
	}
	return k.FirstKey, k.LastKey, k.Step, true
}

// Stats holds the per-command counters from spec.md §4.3/§7.
type Stats struct {
	Calls         atomic.Int64
	Microseconds  atomic.Int64
	RejectedCalls atomic.Int64
	FailedCalls   atomic.Int64
}

// Snapshot is a point-in-time copy of Stats, safe to hand to INFO rendering.
type Snapshot struct {
	Calls, Microseconds, RejectedCalls, FailedCalls int64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Calls:         s.Calls.Load(),
		Microseconds:  s.Microseconds.Load(),
		RejectedCalls: s.RejectedCalls.Load(),
		FailedCalls:   s.FailedCalls.Load(),
	}
}

// Handler executes a command against whatever keyspace/client context the
// caller threads through ctx. It returns the encoded RESP reply bytes.
// Concrete call sites live in package dispatch; command stays free of a
// dependency on keyspace/client to avoid an import cycle.
type Handler func(ctx any, argv [][]byte) ([]byte, error)

// Descriptor is a fully qualified command (possibly "PARENT|SUB"), matching
// spec.md §3.
type Descriptor struct {
	Name    string // "GET", or "CLIENT|PAUSE" for subcommands
	Arity   int    // positive = exact, negative = minimum (abs value)
	Flags   Flag
	ACLCats []string
	Keys    KeySpec
	Summary string // recovered detail, SPEC_FULL.md §4.3a
	Since   string // recovered detail, SPEC_FULL.md §4.3a

	Subcommands map[string]*Descriptor

	Handler Handler

	stats Stats
}

// Stats exposes the live, mutable counters for this descriptor.
func (d *Descriptor) Stats() *Stats { return &d.stats }

// CheckArity reports whether argc (including the command name itself)
// satisfies d.Arity, per spec.md §4.4 step 3.
func (d *Descriptor) CheckArity(argc int) bool {
	if d.Arity >= 0 {
		return argc == d.Arity
	}
	return argc >= -d.Arity
}

// Registry is the case-insensitive command table of spec.md §4.3. It
// supports renames (a second table preserving original names, so internal
// self-rewrites survive a rename-command directive) and eager rehashing —
// in Go that simply means never letting the map grow lazily mid-lookup;
// Register pre-sizes nothing fancy, but New walks the whole static table up
// front so the first real lookup is never the one paying for bucket growth.
type Registry struct {
	mu potentiallyRW

	byName     map[string]*Descriptor // current (possibly renamed) name -> descriptor
	byOrigName map[string]*Descriptor // original static-table name -> descriptor, for self-rewrites
}

// potentiallyRW exists only to document intent; sync.RWMutex directly would
// work identically, but command lookups vastly outnumber registrations and
// the distinction matters when reviewing hot paths.
type potentiallyRW = sync.RWMutex

// New builds a Registry from a static table (spec.md §4.3 "Registration from
// a static table at startup").
func New(table []*Descriptor) *Registry {
	r := &Registry{
		byName:     make(map[string]*Descriptor, len(table)*2),
		byOrigName: make(map[string]*Descriptor, len(table)*2),
	}
	for _, d := range table {
		r.register(d)
	}
	return r
}

func (r *Registry) register(d *Descriptor) {
	key := strings.ToUpper(d.Name)
	r.byName[key] = d
	r.byOrigName[key] = d
	for sub, sd := range d.Subcommands {
		// A subcommand inherits the parent's protected flag: Lookup returns
		// the subcommand descriptor, not the parent, so the protected-command
		// gate must see it there too (e.g. DEBUG|SLEEP is protected whenever
		// DEBUG is).
		sd.Flags |= d.Flags & FlagProtected
		subKey := key + "|" + strings.ToUpper(sub)
		r.byName[subKey] = sd
		r.byOrigName[subKey] = sd
	}
}

// Lookup resolves argv[0] (and argv[1] for a subcommand) to a descriptor,
// case-insensitively (spec.md §4.4 step 2). ok is false if the command (or
// subcommand) is unknown; isContainer is true if argv[0] names a known
// parent command with subcommands, so the dispatcher can point the caller
// at HELP.
func (r *Registry) Lookup(argv [][]byte) (d *Descriptor, isContainer bool, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(argv) == 0 {
		return nil, false, false
	}
	name := strings.ToUpper(string(argv[0]))

	if parent, exists := r.byName[name]; exists && len(parent.Subcommands) > 0 {
		if len(argv) < 2 {
			return parent, true, true
		}
		subName := name + "|" + strings.ToUpper(string(argv[1]))
		if sd, exists := r.byName[subName]; exists {
			return sd, false, true
		}
		return parent, true, false
	}

	if d, exists := r.byName[name]; exists {
		return d, false, true
	}
	return nil, false, false
}

// Rename installs a new name for an existing command without losing the
// ability to resolve it by its original name (spec.md §4.3 "a second table
// preserving original names").
func (r *Registry) Rename(originalName, newName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToUpper(originalName)
	d, ok := r.byOrigName[key]
	if !ok {
		return false
	}
	delete(r.byName, key)
	r.byName[strings.ToUpper(newName)] = d
	return true
}

// ResolveOriginal looks a command up by its original (pre-rename) name, used
// by internal self-rewrites so a rename-command directive never breaks them.
func (r *Registry) ResolveOriginal(originalName string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byOrigName[strings.ToUpper(originalName)]
	return d, ok
}

// All returns every registered descriptor (including subcommands), for
// COMMAND / COMMAND LIST / COMMAND INFO.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.byName))
	seen := make(map[*Descriptor]bool, len(r.byName))
	for _, d := range r.byName {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

// Count returns the number of distinct descriptors (parents and
// subcommands), for COMMAND COUNT.
func (r *Registry) Count() int { return len(r.All()) }
