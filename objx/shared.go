package objx

import (
	"fmt"
	"strconv"
)

// Shared is the process-lifetime registry of canonical immutable reply
// fragments described in spec.md §3/§4.2: created once at startup, never
// mutated afterward, refcount sentinel prevents free. Unlike an LRU cache
// over mutable results, nothing here is ever evicted; the LRU mechanism
// itself lives in the eviction package for maxmemory candidate tracking.
type Shared struct {
	OK       *Object
	Pong     *Object
	Queued   *Object
	NullRESP2 *Object
	NullRESP3 *Object
	EmptyArrayRESP2 *Object

	ints    []*Object // boxed integers 0..maxInt-1
	bulkLen []*Object // bulk/array length header fragments 0..maxHeader-1

	errPrefixes map[string]*Object // canonical error-prefix lines, §6
}

const (
	defaultMaxInt    = 10000
	defaultMaxHeader = 32
)

// NewShared builds and freezes the shared-object registry. It must run
// before any client is created (spec.md §4.2).
func NewShared() *Shared {
	s := &Shared{
		OK:              NewStatic(EncEmbstr, []byte("+OK\r\n")),
		Pong:            NewStatic(EncEmbstr, []byte("+PONG\r\n")),
		Queued:          NewStatic(EncEmbstr, []byte("+QUEUED\r\n")),
		NullRESP2:       NewStatic(EncEmbstr, []byte("$-1\r\n")),
		NullRESP3:       NewStatic(EncEmbstr, []byte("_\r\n")),
		EmptyArrayRESP2: NewStatic(EncEmbstr, []byte("*0\r\n")),
		errPrefixes:     make(map[string]*Object, len(errorPrefixes)),
	}

	s.ints = make([]*Object, defaultMaxInt)
	for i := range s.ints {
		s.ints[i] = NewStatic(EncInt, []byte(fmt.Sprintf(":%d\r\n", i)))
	}

	s.bulkLen = make([]*Object, defaultMaxHeader)
	for i := range s.bulkLen {
		s.bulkLen[i] = NewStatic(EncEmbstr, []byte(fmt.Sprintf("$%d\r\n", i)))
	}

	for _, prefix := range errorPrefixes {
		s.errPrefixes[prefix] = NewStatic(EncEmbstr, []byte("-"+prefix+" "))
	}

	return s
}

// errorPrefixes enumerates the documented error tokens from spec.md §6. The
// registry pre-builds the "-TOKEN " opening for each so EncodeError only appends
// the dynamic suffix, never mutating the shared prefix object.
var errorPrefixes = []string{
	"ERR", "WRONGTYPE", "NOAUTH", "NOPERM", "READONLY", "MASTERDOWN",
	"LOADING", "BUSY", "NOSCRIPT", "OOM", "EXECABORT", "NOREPLICAS",
	"BUSYKEY", "MISCONF", "MOVED", "ASK", "REDIRECT", "CLUSTERDOWN",
}

// Int returns the boxed integer object for n if it falls in the pre-built
// range, or nil if the caller must encode a fresh one.
func (s *Shared) Int(n int64) *Object {
	if n < 0 || n >= int64(len(s.ints)) {
		return nil
	}
	return s.ints[n]
}

// BulkHeader returns the pre-built "$len\r\n" fragment for small lengths, or
// nil if the caller must encode a fresh one.
func (s *Shared) BulkHeader(length int) *Object {
	if length < 0 || length >= len(s.bulkLen) {
		return nil
	}
	return s.bulkLen[length]
}

// ErrorPrefix returns the canonical "-TOKEN " opening for one of the
// documented error prefixes, or nil if token is not recognized.
func (s *Shared) ErrorPrefix(token string) *Object {
	return s.errPrefixes[token]
}

// EncodeError builds a full error line from a known prefix and a message,
// without mutating the shared prefix object (spec.md §4.2 invariant).
func (s *Shared) EncodeError(token, message string) []byte {
	prefix := s.ErrorPrefix(token)
	var out []byte
	if prefix != nil {
		out = append(out, prefix.Data().([]byte)...)
	} else {
		out = append(out, '-')
		out = append(out, token...)
		out = append(out, ' ')
	}
	out = append(out, message...)
	out = append(out, '\r', '\n')
	return out
}

// EncodeInteger returns the RESP integer reply for n, reusing the shared
// boxed object when possible.
func (s *Shared) EncodeInteger(n int64) []byte {
	if boxed := s.Int(n); boxed != nil {
		return boxed.Data().([]byte)
	}
	return []byte(":" + strconv.FormatInt(n, 10) + "\r\n")
}
