package transport

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	"github.com/lordbasex/kvcore/client"
	"github.com/lordbasex/kvcore/dispatch"
)

// Sleeper is the before-sleep/after-sleep pair the Reactor brackets its
// blocking wait with (spec.md §4.8) — a narrow interface here, matching
// shutdown.Pauser, so transport depends on the shape it needs rather than
// importing the sleep package's Metrics/eviction/durablelog wiring too.
type Sleeper interface {
	BeforeSleep(reentrant bool)
	AfterSleep()
}

type job struct {
	cli   *client.Client
	argv  [][]byte
	reply chan []byte
}

// Reactor is the single owner-thread event loop spec.md §5 requires:
// exactly one goroutine ever calls Dispatcher.Process. Every accepted
// connection's reader goroutine submits decoded commands here instead of
// calling Process itself.
//
// The shape is a buffered job channel drained by a worker goroutine, here
// a single goroutine by design — spec.md's single-writer keyspace
// invariant — rather than a concurrent worker fan-out.
type Reactor struct {
	dispatcher *dispatch.Dispatcher
	sleeper    Sleeper

	jobs chan job
	stop chan struct{}
	done chan struct{}
}

// NewReactor builds a Reactor. queueSize bounds how many submitted
// commands may be waiting for the owner goroutine at once.
func NewReactor(d *dispatch.Dispatcher, sleeper Sleeper, queueSize int) *Reactor {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Reactor{
		dispatcher: d,
		sleeper:    sleeper,
		jobs:       make(chan job, queueSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run is the event loop itself: BeforeSleep, block for the next ready
// command (or Stop), AfterSleep, then drain every command already queued
// before looping back to BeforeSleep — one "tick" covers a whole batch of
// ready work, not just one command, the way a real poll-driven loop wakes
// once per batch of ready file descriptors.
func (r *Reactor) Run() {
	defer close(r.done)
	for {
		r.sleeper.BeforeSleep(false)
		select {
		case <-r.stop:
			r.sleeper.AfterSleep()
			return
		case j := <-r.jobs:
			r.sleeper.AfterSleep()
			r.handle(j)
			r.drainReady()
		}
	}
}

func (r *Reactor) drainReady() {
	for {
		select {
		case j := <-r.jobs:
			r.handle(j)
		default:
			return
		}
	}
}

func (r *Reactor) handle(j job) {
	reply, verdict := r.dispatcher.Process(j.cli, j.argv)
	j.reply <- reply
	if verdict == dispatch.Stop {
		j.cli.RequestClose()
	}
}

// Submit hands argv to the owner goroutine and blocks for its reply.
// Returns nil if the Reactor is stopping before the job is accepted.
func (r *Reactor) Submit(cli *client.Client, argv [][]byte) []byte {
	reply := make(chan []byte, 1)
	select {
	case r.jobs <- job{cli: cli, argv: argv, reply: reply}:
	case <-r.stop:
		return nil
	}
	select {
	case out := <-reply:
		return out
	case <-r.stop:
		return nil
	}
}

// Stop signals Run to exit after its current batch and waits for it to do
// so.
func (r *Reactor) Stop() {
	close(r.stop)
	<-r.done
}

// Serve owns one accepted connection end to end: parse a command, submit
// it to the Reactor, write back the reply plus any out-of-band pushes
// queued for this client (spec.md §4.5 "append any pending push messages"),
// and repeat until the client disconnects or a command's Verdict is Stop.
//
// Grounded on faizanhussain2310-GoRedis's CommandHandler connection loop
// (internal/handler/handler.go): read, dispatch, write, repeat on one
// goroutine per net.Conn.
func Serve(conn net.Conn, reactor *Reactor, registry *client.Registry) {
	cli := client.New()
	registry.Add(cli)
	defer func() {
		registry.Remove(cli.ID())
		conn.Close()
	}()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		argv, err := ReadCommand(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				var perr *ErrProtocol
				if errors.As(err, &perr) {
					WriteRawError(w, perr.Error())
					w.Flush()
				}
			}
			return
		}
		if len(argv) == 0 {
			continue
		}
		cli.Touch(time.Now())

		reply := reactor.Submit(cli, argv)
		if reply != nil {
			if _, err := w.Write(reply); err != nil {
				return
			}
		}
		for _, push := range cli.DrainPending() {
			if _, err := w.Write(push); err != nil {
				return
			}
		}
		if err := w.Flush(); err != nil {
			return
		}

		if cli.CloseRequested() {
			return
		}
	}
}
