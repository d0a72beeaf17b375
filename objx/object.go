// Package objx implements the tagged-variant Object model of spec.md §3: a
// refcounted value carrying an encoding tag, with a distinct non-owning
// "static" handle kind for shared, never-freed objects (spec.md §9,
// "polymorphic values via tagged encoding").
package objx

import (
	"sync/atomic"
	"time"
)

// Encoding tags the concrete representation backing an Object.
type Encoding int

const (
	EncInt Encoding = iota
	EncEmbstr
	EncRaw
	EncList
	EncHash
	EncSet
	EncZSet
	EncStream
)

func (e Encoding) String() string {
	switch e {
	case EncInt:
		return "int"
	case EncEmbstr:
		return "embstr"
	case EncRaw:
		return "raw"
	case EncList:
		return "list"
	case EncHash:
		return "hash"
	case EncSet:
		return "set"
	case EncZSet:
		return "zset"
	case EncStream:
		return "stream"
	default:
		return "unknown"
	}
}

// staticRefcount is the sentinel meaning "never freed, never mutated",
// matching spec.md §3. It is intentionally far from the int32 overflow
// boundary so an accidental Incr/Decr pair cannot reach it by accident.
const staticRefcount = 1 << 30

// Object is a reference-counted, tagged value. Mutation requires a refcount
// of exactly one (§3 invariant); callers that find a higher count must copy
// before writing.
type Object struct {
	enc  Encoding
	data any

	refcount atomic.Int32

	// access* back the LRU/LFU policies consulted by the eviction pool
	// (see the eviction package); they are advisory, not authoritative.
	accessAtNanos atomic.Int64
	accessFreq    atomic.Uint32
}

// New creates an Object with refcount 1, owned by its single creator.
func New(enc Encoding, data any) *Object {
	o := &Object{enc: enc, data: data}
	o.refcount.Store(1)
	o.Touch(time.Now())
	return o
}

// NewStatic creates a static, never-freed Object. IncrRef/DecrRef on a
// static object are no-ops, matching spec.md §3's "static, never freed,
// never mutated" sentinel.
func NewStatic(enc Encoding, data any) *Object {
	o := &Object{enc: enc, data: data}
	o.refcount.Store(staticRefcount)
	return o
}

// IsStatic reports whether this object is the static sentinel kind.
func (o *Object) IsStatic() bool { return o.refcount.Load() >= staticRefcount }

// Encoding returns the object's encoding tag.
func (o *Object) Encoding() Encoding { return o.enc }

// Data returns the underlying representation. Callers must not mutate it
// without first confirming Refcount() == 1 (or IsStatic(), in which case
// mutation is always forbidden).
func (o *Object) Data() any { return o.data }

// SetData replaces the underlying representation in place. Panics if called
// on a shared or static object — the caller is expected to have checked
// Writable() first; this mirrors the assertable invariant in spec.md §4.2.
func (o *Object) SetData(data any) {
	if !o.Writable() {
		panic("objx: attempted in-place mutation of a shared or static object")
	}
	o.data = data
}

// Writable reports whether this object may be mutated in place: refcount
// exactly one, and not static.
func (o *Object) Writable() bool {
	return !o.IsStatic() && o.refcount.Load() == 1
}

// Refcount returns the current reference count. For static objects this
// returns the sentinel value, never something a caller could mistake for a
// live, droppable count.
func (o *Object) Refcount() int32 { return o.refcount.Load() }

// IncrRef increments the refcount. No-op on static objects.
func (o *Object) IncrRef() {
	if o.IsStatic() {
		return
	}
	o.refcount.Add(1)
}

// DecrRef decrements the refcount and reports whether it reached zero (the
// caller should then release/free o). Static objects never reach zero.
func (o *Object) DecrRef() (freed bool) {
	if o.IsStatic() {
		return false
	}
	return o.refcount.Add(-1) == 0
}

// Touch records an LRU access timestamp, used by the eviction pool's idle
// sampling.
func (o *Object) Touch(at time.Time) {
	o.accessAtNanos.Store(at.UnixNano())
	o.accessFreq.Add(1)
}

// IdleSince returns how long it has been since the object was last touched.
func (o *Object) IdleSince(now time.Time) time.Duration {
	last := o.accessAtNanos.Load()
	if last == 0 {
		return 0
	}
	return now.Sub(time.Unix(0, last))
}

// AccessFrequency returns the LFU-style access counter.
func (o *Object) AccessFrequency() uint32 { return o.accessFreq.Load() }
