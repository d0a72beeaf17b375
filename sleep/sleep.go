// Package sleep implements the before-sleep/after-sleep hooks that bracket
// one iteration of the event loop (spec.md §4.8): the tick-boundary work
// that happens between finishing one batch of commands and waiting for the
// next, and the invariant that nothing touches the keyspace between the two.
//
// The loop shape is a ticker-driven run of a fixed, ordered sequence of
// housekeeping steps each iteration, here the ones spec.md §4.8 names. The
// "module advisory lock" spec.md mentions is a plain mutex scoped to the
// Coordinator rather than an actual loadable-module API (no module
// subsystem is in scope).
package sleep

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lordbasex/kvcore/client"
	"github.com/lordbasex/kvcore/clock"
	"github.com/lordbasex/kvcore/durablelog"
	"github.com/lordbasex/kvcore/eviction"
	"github.com/lordbasex/kvcore/keyspace"
)

// activeExpireSampleSize bounds each tick's active-expire pass, mirroring
// keyspace.Database.ActiveExpireCycle's own sampling contract.
const activeExpireSampleSize = 20

// Metrics records per-tick durations (spec.md §4.8 "record per-tick
// durations"), mirroring dispatch.Metrics's shape but scoped to this
// package to avoid an import cycle with dispatch.
type Metrics struct {
	TickDuration      prometheus.Histogram
	LockWaitDuration  prometheus.Histogram
	ExpiredPerTick    prometheus.Counter
	EvictedPerTick    prometheus.Counter
}

// NewMetrics registers this package's collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvcore_tick_duration_seconds",
			Help:    "Duration of one before-sleep pass.",
			Buckets: prometheus.DefBuckets,
		}),
		LockWaitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvcore_advisory_lock_wait_seconds",
			Help:    "Latency of acquiring the after-sleep advisory lock.",
			Buckets: prometheus.DefBuckets,
		}),
		ExpiredPerTick: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvcore_tick_expired_keys_total",
			Help: "Keys removed by the fast active-expire pass, across all ticks.",
		}),
		EvictedPerTick: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvcore_tick_evicted_clients_total",
			Help: "Clients evicted for exceeding their memory bucket, across all ticks.",
		}),
	}
	reg.MustRegister(m.TickDuration, m.LockWaitDuration, m.ExpiredPerTick, m.EvictedPerTick)
	return m
}

// Coordinator runs before-sleep/after-sleep for one Server. It holds no
// keyspace mutation logic of its own beyond what spec.md §4.8 assigns to
// this stage (active-expire, client eviction, durable-log flush); command
// execution itself belongs to dispatch.Dispatcher.
type Coordinator struct {
	Keyspace      *keyspace.Keyspace
	Clients       *client.Registry
	DurableLog    durablelog.Sink // nil disables the flush step
	KeyPool       *eviction.KeyPool
	ClientBuckets *eviction.ClientBuckets
	Clock         *clock.Oracle
	Metrics       *Metrics

	// MaxEvictPerTick bounds how many clients BeforeSleep will evict in one
	// pass, so a tick never spends unbounded time tearing down connections.
	MaxEvictPerTick int

	// lock is the "module advisory lock" of spec.md §4.8: held while the owner
	// thread is processing commands, released by BeforeSleep just before
	// the event loop would block waiting for I/O, and reacquired by
	// AfterSleep once it wakes (spec.md §4.8 invariant: "nothing may touch
	// the keyspace between release... and acquire...").
	lock sync.Mutex
}

// NewCoordinator builds a Coordinator wired to its collaborators, with the
// advisory lock already held — the state the owner thread is in while
// actively processing commands, which is the state every tick starts
// AfterSleep back in. durable, pool, and buckets may be nil (disabling the
// flush/eviction steps respectively).
func NewCoordinator(ks *keyspace.Keyspace, clients *client.Registry, durable durablelog.Sink, pool *eviction.KeyPool, buckets *eviction.ClientBuckets, oracle *clock.Oracle, metrics *Metrics) *Coordinator {
	c := &Coordinator{
		Keyspace:      ks,
		Clients:       clients,
		DurableLog:    durable,
		KeyPool:       pool,
		ClientBuckets: buckets,
		Clock:         oracle,
		Metrics:       metrics,
	}
	c.lock.Lock()
	return c
}

// BeforeSleep runs the end-of-tick housekeeping pass. In reentrant mode
// (invoked while a blocked script/module yields back into the event loop,
// spec.md §5 "suspension points") it performs only the minimal safe subset:
// flushing the durable log and freeing clients already marked for close.
// Normal mode runs the full ordered sequence spec.md §4.8 describes, scoped
// to the subsystems this tree actually has (no cluster, no WAIT-replication,
// no client-tracking, no TLS helper threads: each is a named no-op below).
func (c *Coordinator) BeforeSleep(reentrant bool) {
	start := c.Clock.Monotonic()
	defer func() {
		if c.Metrics != nil {
			c.Metrics.TickDuration.Observe(c.Clock.Monotonic().Sub(start).Seconds())
		}
	}()

	c.flushDurableLog()
	c.freeClosedClients()

	if reentrant {
		// A reentrant call happens mid-command, while the advisory lock is
		// already held by the owner thread's own call stack; it must not
		// touch lock state meant for the real tick boundary below.
		return
	}

	// Drain I/O reads, cluster-pre-sleep, blocked-client-pre-sleep,
	// REPLCONF GETACK, failover status, client-tracking broadcast: no
	// listener/cluster/blocking-command/tracking subsystem exists in this
	// tree to drive these steps, so they are no-ops (documented in
	// DESIGN.md rather than silently dropped).

	c.activeExpirePass()
	c.evictExpensiveClients()

	c.lock.Unlock()
}

// AfterSleep reacquires the advisory lock BeforeSleep released (sampling
// how long that took) and refreshes the cached wall clock, per spec.md
// §4.8 "refresh cached time, reset the command-time snapshot". The
// command-time snapshot itself resets implicitly: clock.Oracle only
// freezes it while Nesting() > 0, so there is nothing to reset here once
// the last command of the tick has unwound.
func (c *Coordinator) AfterSleep() {
	lockStart := c.Clock.Monotonic()
	c.lock.Lock()
	if c.Metrics != nil {
		c.Metrics.LockWaitDuration.Observe(c.Clock.Monotonic().Sub(lockStart).Seconds())
	}
	c.Clock.RefreshWallClock()
}

func (c *Coordinator) flushDurableLog() {
	if c.DurableLog == nil {
		return
	}
	_ = c.DurableLog.Flush()
}

func (c *Coordinator) freeClosedClients() {
	for _, cl := range c.Clients.All() {
		if cl.CloseRequested() {
			c.Clients.Remove(cl.ID())
		}
	}
}

func (c *Coordinator) activeExpirePass() {
	if c.Keyspace == nil {
		return
	}
	now := c.Clock.WallClock()
	for i := 0; i < c.Keyspace.Count(); i++ {
		expired := c.Keyspace.DB(i).ActiveExpireCycle(now, activeExpireSampleSize)
		if expired > 0 && c.Metrics != nil {
			c.Metrics.ExpiredPerTick.Add(float64(expired))
		}
	}
}

func (c *Coordinator) evictExpensiveClients() {
	if c.ClientBuckets == nil {
		return
	}
	max := c.MaxEvictPerTick
	if max <= 0 {
		max = 1
	}
	for i := 0; i < max; i++ {
		victim, found := c.ClientBuckets.MostExpensive()
		if !found {
			return
		}
		cl, ok := c.Clients.Get(victim)
		if !ok {
			return
		}
		cl.RequestClose()
		if c.Metrics != nil {
			c.Metrics.EvictedPerTick.Add(1)
		}
	}
}
