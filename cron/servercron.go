// Package cron implements the two independent periodic maintenance loops
// of spec.md §4.6/§4.7: server-cron (fixed HZ, 1-500/s) driving keyspace
// maintenance, and client-cron (self-scheduling between 1000/HZ and
// MAX_HZ) driving per-client bookkeeping.
//
// Both loops share the same shape: a ticker-driven goroutine selecting
// between a stop channel and the ticker, running one unit of periodic
// work per tick. ServerCron runs that ticker across the documented HZ
// range with keyspace responsibilities (rehash steps, active expiry,
// resize inhibition while a persistence child is alive); it does not reap
// child processes. ClientCron runs the same shape at a self-adjusting rate.
package cron

import (
	"sync"
	"time"

	"github.com/lordbasex/kvcore/clock"
	"github.com/lordbasex/kvcore/keyspace"
)

// ServerCronConfig bounds the tick frequency, per spec.md §4.6 ("Runs at
// configurable frequency (HZ) between 1 and 500 per second").
type ServerCronConfig struct {
	HZ int
}

func (c ServerCronConfig) clamped() int {
	if c.HZ < 1 {
		return 1
	}
	if c.HZ > 500 {
		return 500
	}
	return c.HZ
}

// ServerCron drives the fixed-frequency maintenance loop described in
// spec.md §4.6.
type ServerCron struct {
	cfg   ServerCronConfig
	oracle *clock.Oracle
	ks    *keyspace.Keyspace

	childActive func() bool // reports whether a persistence child is alive
	sampleSize  int         // active-expire cycle sample size per tick per DB

	// onSizeReport is invoked roughly every 5s per spec.md §4.6 "Periodically
	// log database sizes and connected-client counts".
	onSizeReport func()
	lastSizeReport time.Time

	stopCh chan struct{}
	doneCh chan struct{}
	mu     sync.Mutex
	running bool

	ticks int64
}

// NewServerCron builds a ServerCron bound to the given keyspace and time
// oracle. childActive should report whether a persistence child (fork
// equivalent) is currently alive, to suppress rehashing/active-expire per
// spec.md §4.6.
func NewServerCron(cfg ServerCronConfig, oracle *clock.Oracle, ks *keyspace.Keyspace, childActive func() bool) *ServerCron {
	if childActive == nil {
		childActive = func() bool { return false }
	}
	return &ServerCron{
		cfg:         cfg,
		oracle:      oracle,
		ks:          ks,
		childActive: childActive,
		sampleSize:  20,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// OnSizeReport registers a callback invoked roughly every 5 seconds with
// database-size/client-count information, matching spec.md §4.6's
// "Periodically log database sizes and connected-client counts".
func (s *ServerCron) OnSizeReport(fn func()) { s.onSizeReport = fn }

// Start begins the ticking loop on its own goroutine. Tick is exported so
// callers can also drive it manually in tests.
func (s *ServerCron) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.run()
}

// Stop signals the loop to exit and waits for it to finish.
func (s *ServerCron) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
}

func (s *ServerCron) run() {
	defer close(s.doneCh)

	interval := time.Second / time.Duration(s.cfg.clamped())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Tick performs exactly one server-cron unit of work, exposed directly so
// tests can drive deterministic ticks without a real ticker.
func (s *ServerCron) Tick(now time.Time) {
	s.ticks++
	s.oracle.RefreshWallClock()

	childActive := s.childActive()
	s.ks.InhibitResize(childActive)

	if !childActive {
		s.ks.Step()
		for i := 0; i < s.ks.Count(); i++ {
			s.ks.DB(i).ActiveExpireCycle(now, s.sampleSize)
		}
	}

	if s.onSizeReport != nil && now.Sub(s.lastSizeReport) >= 5*time.Second {
		s.lastSizeReport = now
		s.onSizeReport()
	}
}

// Ticks returns the number of ticks processed so far, for tests/INFO.
func (s *ServerCron) Ticks() int64 { return s.ticks }
