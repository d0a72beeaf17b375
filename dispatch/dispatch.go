package dispatch

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lordbasex/kvcore/client"
	"github.com/lordbasex/kvcore/clock"
	"github.com/lordbasex/kvcore/command"
	"github.com/lordbasex/kvcore/config"
	"github.com/lordbasex/kvcore/durablelog"
	"github.com/lordbasex/kvcore/eviction"
	"github.com/lordbasex/kvcore/info"
	"github.com/lordbasex/kvcore/keyspace"
	"github.com/lordbasex/kvcore/objx"
	"github.com/lordbasex/kvcore/propagate"
	"github.com/lordbasex/kvcore/replica"
)

// Verdict is what Process returns to the connection loop: CONTINUE means a
// reply (possibly empty, for a queued command awaiting more pipeline input)
// was written to the client and the connection stays open; STOP means the
// client has been destroyed or must be dropped (spec.md §4.4 "Output:
// either a reply enqueued on the client and CONTINUE, or the client has
// been destroyed/detached and STOP").
type Verdict int

const (
	Continue Verdict = iota
	Stop
)

// Dispatcher is the central processCommand pipeline of spec.md §4.4 and the
// call() execution envelope of spec.md §4.5. Exactly one goroutine (the
// owning reactor) calls Process at a time; Dispatcher itself holds no
// per-call mutex for that reason (spec.md §5 "single logical thread owns
// the keyspace").
//
// The dispatch shape funnels a decoded unit of work through lookup ->
// validate -> execute -> account stages; here those stages are spec.md's
// 21 named gates.
type Dispatcher struct {
	Registry *command.Registry
	Keyspace *keyspace.Keyspace
	Shared   *objx.Shared
	Clock    *clock.Oracle
	Clients  *client.Registry
	Config   *config.ServerConfig

	Propagation *propagate.Buffer
	DurableLog  durablelog.Sink // nil if persistence disabled
	Replica     replica.Sink    // nil if replica fan-out disabled

	KeyPool       *eviction.KeyPool
	ClientBuckets *eviction.ClientBuckets

	RateLimiter *RateLimiter
	Metrics     *Metrics
	Log         *info.Logger // nil disables logging entirely

	dirty             atomic.Int64 // "server.dirty": bumped by every write, compared pre/post call
	errorRepliesTotal atomic.Int64 // global error-reply counter, baseline for failed-calls accounting

	pauseMu    sync.Mutex
	paused     bool
	pauseUntil time.Time
	pauseWrite bool // true pauses write-class commands, false pauses all

	monitorMu sync.Mutex
	monitors  []*client.Client
}

// New builds a Dispatcher wired to the given collaborators. DurableLog and
// Replica may be nil (persistence/replication disabled).
func New(reg *command.Registry, ks *keyspace.Keyspace, shared *objx.Shared, oracle *clock.Oracle, clients *client.Registry, cfg *config.ServerConfig, durable durablelog.Sink, repl replica.Sink, pool *eviction.KeyPool, buckets *eviction.ClientBuckets, metrics *Metrics, log *info.Logger) *Dispatcher {
	var rl *RateLimiter
	if cfg != nil && cfg.ClientRateLimit > 0 {
		rl = NewRateLimiter(RateLimiterConfig{
			RequestsPerSecond: cfg.ClientRateLimit,
			Burst:             cfg.ClientBurst,
			CleanupInterval:   5 * time.Minute,
		})
	} else {
		rl = NewRateLimiter(RateLimiterConfig{})
	}

	return &Dispatcher{
		Registry:      reg,
		Keyspace:      ks,
		Shared:        shared,
		Clock:         oracle,
		Clients:       clients,
		Config:        cfg,
		Propagation:   propagate.New(),
		DurableLog:    durable,
		Replica:       repl,
		KeyPool:       pool,
		ClientBuckets: buckets,
		RateLimiter:   rl,
		Metrics:       metrics,
		Log:           log,
	}
}

// logf writes an Info-level log line if logging is enabled; a no-op
// otherwise, so call sites never need a nil check of their own.
func (d *Dispatcher) logf(fields map[string]any, format string, args ...any) {
	if d.Log == nil {
		return
	}
	entry := d.Log.WithFields(fields)
	entry.Infof(format, args...)
}

// MarkDirty bumps the global dirty counter. Handlers call this (via Context)
// after any keyspace mutation; call()'s propagation decision compares the
// pre/post count (spec.md §4.5 "dirty-delta > 0 means keyspace was
// modified").
func (d *Dispatcher) markDirty() { d.dirty.Add(1) }

// bumpErrorReplies bumps the global error-reply counter; handlers report an
// error reply by returning a non-nil error from call(), which does this for
// them.
func (d *Dispatcher) bumpErrorReplies() { d.errorRepliesTotal.Add(1) }

// Pause postpones non-exempt clients until deadline; writeOnly restricts the
// pause to write-class commands (CLIENT PAUSE ... WRITE), matching spec.md
// §4.4 step 20.
func (d *Dispatcher) Pause(deadline time.Time, writeOnly bool) {
	d.pauseMu.Lock()
	defer d.pauseMu.Unlock()
	d.paused = true
	d.pauseUntil = deadline
	d.pauseWrite = writeOnly
}

// Unpause clears any active CLIENT PAUSE.
func (d *Dispatcher) Unpause() {
	d.pauseMu.Lock()
	defer d.pauseMu.Unlock()
	d.paused = false
}

func (d *Dispatcher) pauseState(now time.Time) (active bool, writeOnly bool) {
	d.pauseMu.Lock()
	defer d.pauseMu.Unlock()
	if !d.paused {
		return false, false
	}
	if now.After(d.pauseUntil) {
		d.paused = false
		return false, false
	}
	return true, d.pauseWrite
}

// AddMonitor registers cli as a MONITOR subscriber (spec.md §4.5 "feed the
// sanitized command to MONITOR subscribers").
func (d *Dispatcher) AddMonitor(cli *client.Client) {
	d.monitorMu.Lock()
	defer d.monitorMu.Unlock()
	d.monitors = append(d.monitors, cli)
}

func (d *Dispatcher) feedMonitors(now time.Time, dbID int, argv [][]byte) {
	d.monitorMu.Lock()
	mons := append([]*client.Client(nil), d.monitors...)
	d.monitorMu.Unlock()
	if len(mons) == 0 {
		return
	}
	line := renderMonitorLine(now, dbID, argv)
	for _, m := range mons {
		m.Enqueue([]byte(line))
	}
}

func renderMonitorLine(now time.Time, dbID int, argv [][]byte) string {
	var sb strings.Builder
	sb.WriteString(now.Format("+2006-01-02T15:04:05.000000 "))
	sb.WriteString("[")
	sb.WriteString(itoa(dbID))
	sb.WriteString("] ")
	for i, a := range argv {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte('"')
		sb.Write(a)
		sb.WriteByte('"')
	}
	sb.WriteString("\r\n")
	return sb.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// httpSmugglePrefixes are the two token prefixes spec.md §4.4 step 2 flags
// as an attempt to smuggle HTTP traffic onto a cleartext RESP port.
var httpSmugglePrefixes = []string{"HOST:", "POST"}

// Process runs argv for cli through the full dispatch pipeline (spec.md
// §4.4, steps numbered in comments below) and returns the reply bytes plus
// a Verdict telling the caller whether to keep the connection open.
func (d *Dispatcher) Process(cli *client.Client, argv [][]byte) ([]byte, Verdict) {
	if len(argv) == 0 {
		return nil, Continue
	}

	// Step 1: reprocessing guard.
	reprocessing := cli.CurrentCommand() != nil
	if !reprocessing {
		cli.SetCurrentCommand(argv)
	}
	defer cli.ClearCurrentCommand()

	upperName := strings.ToUpper(string(argv[0]))
	for _, bad := range httpSmugglePrefixes {
		if strings.HasPrefix(upperName, bad) {
			return nil, Stop
		}
	}

	// Step 2: lookup.
	desc, isContainer, ok := d.Registry.Lookup(argv)
	if !ok {
		if cli.InMulti() {
			cli.MarkMultiDirty()
		}
		if isContainer {
			return d.Shared.EncodeError("ERR", "unknown subcommand, try "+upperName+" HELP"), Continue
		}
		return d.Shared.EncodeError("ERR", "unknown command '"+upperName+"'"), Continue
	}

	// Step 3: existence/arity.
	if !desc.CheckArity(len(argv)) {
		d.reject(desc, "arity")
		if cli.InMulti() {
			cli.MarkMultiDirty()
		}
		return d.Shared.EncodeError("ERR", "wrong number of arguments for '"+strings.ToLower(desc.Name)+"' command"), Continue
	}

	// Step 4: protected-command check.
	if desc.Flags.Has(command.FlagProtected) && !d.Config.EnableDebugCommand {
		d.reject(desc, "protected")
		base, _, _ := strings.Cut(desc.Name, "|")
		return d.Shared.EncodeError("ERR", base+" command not allowed. If the "+base+" command is disabled, enable it first by setting enable-debug-command to yes"), Continue
	}

	// Step 5: flag aggregation is not performed. EXEC runs its queued
	// commands through call() directly (see handlers.go's handleExec), so
	// the gates below see only EXEC's own flags; the flags of the queued
	// commands are not combined into them.

	// Step 6: authentication.
	if d.Config.RequirePass != "" && !cli.HasFlag(client.FlagAuthenticated) && !desc.Flags.Has(command.FlagNoAuth) {
		d.reject(desc, "noauth")
		return d.Shared.EncodeError("NOAUTH", "Authentication required."), Continue
	}

	// Step 7: transaction context.
	if cli.InMulti() {
		switch desc.Name {
		case "EXEC", "DISCARD", "MULTI", "WATCH", "UNWATCH", "QUIT", "RESET":
			// fall through to execution below.
		default:
			if desc.Flags.Has(command.FlagNoMulti) {
				cli.MarkMultiDirty()
				d.reject(desc, "nomulti-in-multi")
				return d.Shared.EncodeError("ERR", desc.Name+" is not allowed in transactions"), Continue
			}
			if !desc.CheckArity(len(argv)) {
				cli.MarkMultiDirty()
			}
			cli.QueueCommand(argv)
			return d.Shared.Queued.Data().([]byte), Continue
		}
	}

	// Step 8: cluster redirection — no cluster subsystem in scope
	// (spec.md §1 Non-goal "strong cross-node consistency"); always a
	// no-op pass-through, documented in DESIGN.md.

	// Step 9: client-side redirection (replica redirect-to-primary) — no
	// stand-alone-replica redirect subsystem in scope; pass-through.

	// Rate-limit gate: per-client token bucket, disabled (always allows)
	// when ClientRateLimit is 0.
	if d.RateLimiter != nil && !d.RateLimiter.Allow(cli.ID()) {
		d.reject(desc, "ratelimit")
		return d.Shared.EncodeError("ERR", "rate limit exceeded"), Continue
	}

	// Step 10: client eviction.
	if d.Config.MaxClientsMem > 0 && d.ClientBuckets != nil {
		if victim, found := d.ClientBuckets.MostExpensive(); found {
			bytes, _ := cli.MemoryUsage()
			if bytes >= d.Config.MaxClientsMem {
				if victim == cli.ID() {
					d.reject(desc, "client-eviction-self")
					return nil, Stop
				}
				if v, found := d.Clients.Get(victim); found {
					d.logf(map[string]any{"victim": victim}, "evicting client over maxmemory-clients")
					v.RequestClose()
				}
			}
		}
	}

	// Step 11: memory enforcement.
	if d.Config.MaxMemoryBytes > 0 && desc.Flags.Has(command.FlagDenyOOM) {
		freed := d.tryEvictForMemory()
		if !freed {
			d.reject(desc, "oom")
			return d.Shared.EncodeError("OOM", "command not allowed when used memory > 'maxmemory'."), Continue
		}
	}

	// Step 12: disk-error gate.
	if d.DurableLog != nil && d.DurableLog.Degraded() {
		if desc.Flags.Has(command.FlagWrite) || desc.Name == "PING" {
			d.reject(desc, "disk-error")
			d.logf(nil, "rejecting %s: durable log is degraded", desc.Name)
			return d.Shared.EncodeError("MISCONF", "Errors writing to the durable log. Commands that may modify the data set are disabled."), Continue
		}
	}

	// Step 13: min-good-replicas gate — no replica acknowledgment
	// tracking exists (replica.Sink only reports Connected()); pass-through.

	// Step 14: read-only replica gate — this server has no primary/replica
	// role switch of its own in scope (replica.Sink is an outbound fan-out,
	// not an inbound role); pass-through.

	// Step 15: pub/sub-mode restriction (RESP2).
	if cli.HasFlag(client.FlagPubSubMode) {
		switch desc.Name {
		case "SUBSCRIBE", "UNSUBSCRIBE", "PSUBSCRIBE", "PUNSUBSCRIBE", "PING", "QUIT", "RESET":
		default:
			d.reject(desc, "pubsub-mode")
			return d.Shared.EncodeError("ERR", "only (P|S)SUBSCRIBE / (P|S)UNSUBSCRIBE / PING / QUIT / RESET are allowed in this context"), Continue
		}
	}

	// Step 16: stale-replica gate — no stale-serving subsystem in scope;
	// pass-through.

	// Step 17: loading gate — no RDB/snapshot loading subsystem in scope;
	// pass-through.

	// Step 18: busy-script/module gate — no scripting/module subsystem in
	// scope; pass-through.

	// Step 19: replica-as-client gate — no inbound replica-link client kind
	// in scope (our replica fan-out is outbound-only); pass-through.

	// Step 20: client pause gate.
	if active, writeOnly := d.pauseState(d.Clock.WallClock()); active {
		if !writeOnly || desc.Flags.Has(command.FlagWrite) {
			d.reject(desc, "paused")
			return nil, Continue
		}
	}

	// Step 21: execute.
	reply, err := d.call(cli, desc, argv)
	if _, isFatal := err.(*FatalError); isFatal {
		return nil, Stop
	}
	return reply, Continue
}

func (d *Dispatcher) reject(desc *command.Descriptor, reason string) {
	desc.Stats().RejectedCalls.Add(1)
	if d.Metrics != nil {
		d.Metrics.RejectedTotal.WithLabelValues(reason).Inc()
	}
}

// tryEvictForMemory asks the eviction pool for a victim key and deletes it
// from database 0 (the approximation used throughout this package: a real
// multi-database maxmemory sweep would consult every database, but the
// single KeyPool here is shared process-wide, matching how maxmemory itself
// is a process-wide ceiling, not per-database).
func (d *Dispatcher) tryEvictForMemory() bool {
	if d.KeyPool == nil {
		return false
	}
	victim, ok := d.KeyPool.EvictVictim()
	if !ok {
		return false
	}
	d.Keyspace.DB(0).Delete(victim)
	return true
}

// Context is threaded through a command.Handler as the opaque ctx argument
// (command.Handler stays dependency-free of keyspace/client to avoid an
// import cycle, per command/command.go's doc comment).
type Context struct {
	Disp   *Dispatcher
	Client *client.Client
	DB     *keyspace.Database
	Now    time.Time

	ForceAOF         bool
	ForceREPL        bool
	PreventPropagate bool

	dirtyBefore int64
}

// MarkDirty records that this command modified the keyspace, for call()'s
// propagation decision (spec.md §4.5 "dirty-delta > 0 means keyspace was
// modified").
func (c *Context) MarkDirty() { c.Disp.markDirty() }

// call is the per-command execution envelope of spec.md §4.5.
func (d *Dispatcher) call(cli *client.Client, desc *command.Descriptor, argv [][]byte) ([]byte, error) {
	exit := d.Clock.EnterCommand()
	defer exit()

	ctx := &Context{
		Disp:        d,
		Client:      cli,
		DB:          d.Keyspace.DB(cli.DBID()),
		Now:         d.Clock.CommandTime(),
		dirtyBefore: d.dirty.Load(),
	}

	start := d.Clock.Monotonic()

	reply, err := desc.Handler(ctx, argv)

	elapsed := d.Clock.Monotonic().Sub(start)
	desc.Stats().Calls.Add(1)
	desc.Stats().Microseconds.Add(elapsed.Microseconds())
	if d.Metrics != nil {
		d.Metrics.CommandsTotal.WithLabelValues(desc.Name).Inc()
		d.Metrics.CommandLatency.WithLabelValues(desc.Name).Observe(elapsed.Seconds())
	}

	if err != nil {
		d.bumpErrorReplies()
		desc.Stats().FailedCalls.Add(1)
		if d.Metrics != nil {
			d.Metrics.CommandErrors.WithLabelValues(desc.Name).Inc()
		}
	}

	dirtyDelta := d.dirty.Load() - ctx.dirtyBefore
	if !ctx.PreventPropagate && desc.Name != "EXEC" {
		target := propagate.Target(0)
		if (dirtyDelta > 0 || ctx.ForceAOF) && d.Config.AppendOnly {
			target |= propagate.TargetAOF
		}
		if (dirtyDelta > 0 || ctx.ForceREPL) && d.Replica != nil {
			target |= propagate.TargetREPL
		}
		if target != 0 {
			d.Propagation.Append(target, cli.DBID(), argv)
		}
	}

	d.feedMonitorsIfApplicable(desc, cli.DBID(), argv)

	if d.Clock.Nesting() == 1 {
		d.afterCommand(desc)
	}

	return reply, err
}

func (d *Dispatcher) feedMonitorsIfApplicable(desc *command.Descriptor, dbID int, argv [][]byte) {
	if desc.Flags.Has(command.FlagAdmin) || desc.Flags.Has(command.FlagSkipMonitor) {
		return
	}
	d.feedMonitors(d.Clock.WallClock(), dbID, argv)
}

// afterCommand flushes the propagation buffer at the end of the outermost
// execution unit (spec.md §4.5 "Post-unit").
func (d *Dispatcher) afterCommand(triggeringDesc *command.Descriptor) {
	if d.Propagation.Len() == 0 {
		return
	}
	if triggeringDesc.Flags.Has(command.FlagTouchesArbitraryKeys) {
		d.Propagation.MarkTouchesArbitraryKeys()
	}
	entries := d.Propagation.Flush()
	if len(entries) == 0 {
		return
	}

	logEntries := make([]durablelog.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Target.Has(propagate.TargetAOF) {
			logEntries = append(logEntries, durablelog.Entry{Argv: e.Argv})
		}
	}
	if d.DurableLog != nil && len(logEntries) > 0 {
		_ = d.DurableLog.Append(logEntries)
	}
	if d.Replica != nil {
		for _, e := range entries {
			if e.Target.Has(propagate.TargetREPL) {
				_ = d.Replica.Publish(nil, e.Argv)
			}
		}
	}
	if d.Metrics != nil {
		d.Metrics.PropagatedTotal.Add(float64(len(entries)))
	}
}
