// Package shutdown implements the two-phase shutdown coordinator of
// spec.md §4.9: Prepare (optionally wait for replicas to catch up, pausing
// writes meanwhile) then Finalize (flush and fsync the durable log, write a
// final snapshot unless NOSAVE, tear down replica/listener resources,
// remove the pid file). A direct command request and a signal-driven
// deferred request both funnel through the same Coordinator.
//
// The shape is signal cancellation, then a goroutine/select race against a
// timeout to bound how long graceful teardown may take, split here into
// two ordered phases instead of one drain step. A request arriving through
// a ctx.Done()-triggered branch is the direct-command half: the owner loop
// acts on it instead of continuing to process work.
package shutdown

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/lordbasex/kvcore/durablelog"
	"github.com/lordbasex/kvcore/replica"
)

// ErrReplicaWaitFailed is returned by Prepare when not every replica caught
// up within ShutdownTimeout and the request did not pass NOW (spec.md §4.9
// "If the wait fails and the caller did not pass NOW, return an error —
// cron will revisit").
var ErrReplicaWaitFailed = errors.New("shutdown: replicas did not catch up in time")

// Pauser is the subset of dispatch.Dispatcher that Prepare needs to pause
// client writes during the replica-catch-up wait. A narrow interface here
// (rather than importing dispatch) keeps shutdown decoupled from the
// command-execution core, the way replica.Sink keeps propagation decoupled
// from transport.
type Pauser interface {
	Pause(deadline time.Time, writeOnly bool)
	Unpause()
}

// Request describes one shutdown ask, direct or signal-deferred.
type Request struct {
	NOW    bool // skip the replica-catch-up wait
	NOSAVE bool // skip the final snapshot
	FORCE  bool // finalize even if Prepare failed, logging instead of aborting
}

// Options wires a Coordinator to the resources it tears down. Replica,
// Listeners, and PIDFilePath may be left zero-valued when not in use.
type Options struct {
	DurableLog      durablelog.Sink
	Replica         replica.Sink
	Pause           Pauser
	ShutdownTimeout time.Duration
	PIDFilePath     string
	Listeners       []io.Closer
	// Snapshot writes a final point-in-time snapshot (the BGSAVE-equivalent
	// rewrite); nil disables the snapshot step regardless of NOSAVE.
	Snapshot func() error
	// ReplicasCaughtUp reports whether every replica has acknowledged the
	// primary's current offset. nil means "no replica acknowledgment
	// channel exists" (replica.Sink is fire-and-forget publish, not a
	// request/ack protocol), so the wait step is skipped entirely rather
	// than approximated against a signal that isn't there.
	ReplicasCaughtUp func() bool
}

// Coordinator runs the shutdown sequence of spec.md §4.9. Exactly one
// shutdown may be pending at a time; a second RequestShutdown before the
// first resolves replaces the pending request (the caller asked again,
// presumably with different flags).
type Coordinator struct {
	opts Options

	mu      sync.Mutex
	pending *Request
}

// New builds a Coordinator wired to opts.
func New(opts Options) *Coordinator {
	return &Coordinator{opts: opts}
}

// RequestShutdown records a pending shutdown for the signal-driven deferred
// path: a signal handler calls this to set the flag, and cron later calls
// Pending/Run to act on it (spec.md §4.9 "a signal-driven deferred request
// (signal handler sets a flag; cron picks it up)").
func (c *Coordinator) RequestShutdown(req Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := req
	c.pending = &r
}

// Pending returns the deferred request and whether one is outstanding.
func (c *Coordinator) Pending() (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return Request{}, false
	}
	return *c.pending, true
}

// CancelShutdown clears any pending deferred request and unpauses clients
// paused during a failed Prepare wait (spec.md §4.9 "Cancel path: clear
// shutdown state, reply to WAIT-shutdown-blocked clients, unpause paused
// actions").
func (c *Coordinator) CancelShutdown() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	if c.opts.Pause != nil {
		c.opts.Pause.Unpause()
	}
}

// Run executes Prepare then Finalize for req. A non-nil error means
// shutdown did not happen (the caller — direct command or cron revisiting
// a deferred request — should report the error and may retry later),
// except when req.FORCE is set, in which case Finalize always runs and any
// Prepare error is folded into the returned error rather than aborting.
func (c *Coordinator) Run(ctx context.Context, req Request) error {
	defer c.clearPending()

	prepErr := c.prepare(ctx, req)
	if prepErr != nil && !req.FORCE {
		return prepErr
	}

	finalErr := c.finalize(req)
	if prepErr != nil {
		return errors.Join(prepErr, finalErr)
	}
	return finalErr
}

func (c *Coordinator) clearPending() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
}

// prepare is phase 1 of spec.md §4.9: optionally wait for replicas to catch
// up, pausing client writes during the wait.
func (c *Coordinator) prepare(ctx context.Context, req Request) error {
	if req.NOW || c.opts.ReplicasCaughtUp == nil {
		return nil
	}

	if c.opts.Pause != nil {
		c.opts.Pause.Pause(time.Now().Add(c.timeout()), true)
		defer c.opts.Pause.Unpause()
	}

	done := make(chan struct{})
	go func() {
		for !c.opts.ReplicasCaughtUp() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(c.timeout()):
		return ErrReplicaWaitFailed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finalize is phase 2 of spec.md §4.9: kill any persistence child (no
// fork-based persistence child exists in this tree — a background
// goroutine rewrite is the substitute, and dispatch.TriggerRewrite already
// runs it detached, so there is nothing here to kill), flush and fsync the
// durable log, write a final snapshot unless NOSAVE, free structures
// needing graceful teardown, remove the pid file, flush replica output
// (no-op — AMQPSink has no internal buffer to flush beyond Close), close
// listeners, then report readiness to exit.
func (c *Coordinator) finalize(req Request) error {
	var errs []error

	if c.opts.DurableLog != nil {
		if err := c.opts.DurableLog.Flush(); err != nil {
			errs = append(errs, err)
		}
	}

	if !req.NOSAVE && c.opts.Snapshot != nil {
		if err := c.opts.Snapshot(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.opts.DurableLog != nil {
		if err := c.opts.DurableLog.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.opts.Replica != nil {
		if err := c.opts.Replica.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.opts.PIDFilePath != "" {
		if err := os.Remove(c.opts.PIDFilePath); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}

	for _, l := range c.opts.Listeners {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	// spec.md §4.9 "If FORCE is set, log errors and exit anyway; otherwise
	// cancel shutdown on error": finalize always runs every step above
	// regardless of FORCE (there is nothing left to "cancel" once teardown
	// has started), so the two behaviors differ only in what Run does with
	// this return value — FORCE callers log it and exit, others treat it as
	// an aborted shutdown.
	return errors.Join(errs...)
}

func (c *Coordinator) timeout() time.Duration {
	if c.opts.ShutdownTimeout > 0 {
		return c.opts.ShutdownTimeout
	}
	return 10 * time.Second
}
