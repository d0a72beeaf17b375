package dispatch

import "fmt"

// PreExecuteError describes a rejection by a pipeline gate (steps 1-20),
// before the handler ever runs. Process's gates do not construct it: they
// write the error reply directly (Shared.EncodeError) and count the
// rejection against RejectedCalls, not FailedCalls, through reject
// (spec.md §9 "recovered from original_source: the distinction between
// rejected_calls and failed_calls").
type PreExecuteError struct {
	Token   string // wire-visible error token, e.g. "NOAUTH", "OOM"
	Message string
}

func (e *PreExecuteError) Error() string { return fmt.Sprintf("%s %s", e.Token, e.Message) }

// ExecuteError is returned by a handler itself (a normal command-level
// error reply, e.g. WRONGTYPE). Counted against FailedCalls.
type ExecuteError struct {
	Token   string
	Message string
}

func (e *ExecuteError) Error() string { return fmt.Sprintf("%s %s", e.Token, e.Message) }

// FatalError marks a condition the reactor cannot recover from inline — the
// connection must be dropped (returned by the SHUTDOWN handler; the
// HTTP-smuggling check of spec.md §4.4 step 2 returns STOP directly
// without it). The dispatcher signals STOP to its caller rather than
// writing a reply.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string { return e.Reason }
