// Package client implements the connection-scoped Client record of
// spec.md §3: buffers, flags, subscription state, the MULTI/EXEC queue,
// memory bucket handle, and idle bookkeeping.
//
// Client generalizes "one record per connection, touched on activity,
// reaped on idle" into the fuller record spec.md §3 describes, tracking a
// connection's last activity through Touch/IdleDuration. Registry holds these
// in the client-cron rotation structure of spec.md §4.7 — a slice
// preserving arrival order, so "rotate head→tail" is meaningful, which a
// bare map cannot express.
package client

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Flag is a bit in a client's flags bitset (spec.md §3).
type Flag uint32

const (
	FlagPrimary Flag = 1 << iota
	FlagReplica
	FlagMultiInProgress
	FlagMultiDirty // a queued command was rejected; EXEC must abort with EXECABORT
	FlagTracking
	FlagDenyBlocking
	FlagCloseAfterReply
	FlagNoEvict
	FlagAuthenticated
	FlagPubSubMode
	FlagMonitor
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// QueuedCommand is one command buffered while FlagMultiInProgress is set
// (spec.md §4.4 step 7).
type QueuedCommand struct {
	Argv [][]byte
}

// Client is the connection-scoped record of spec.md §3. Exactly one
// goroutine — the reactor that owns this connection's turn — mutates a
// given Client at a time; the mutex exists so client-cron (a different
// logical pass over the same owner thread) and the connection's own
// handling never need separate synchronization primitives elsewhere.
type Client struct {
	mu sync.Mutex

	id   string
	name string

	flags Flag

	dbID int

	queryBufferPeak int

	pendingReply [][]byte

	multiQueue  []QueuedCommand
	watchedKeys map[string]struct{} // db-qualified key -> struct{}, for WATCH

	subscribedChannels map[string]struct{}
	subscribedPatterns map[string]struct{}

	currentCommand [][]byte // argv of the in-flight command, for reprocess detection (spec.md §4.4 step 1)

	lastActivity time.Time
	memoryBytes  int64
	bucketIndex  int

	closeRequested bool
}

// New creates a client record with a fresh random ID, selected database 0.
func New() *Client {
	return &Client{
		id:                 uuid.NewString(),
		dbID:               0,
		watchedKeys:        make(map[string]struct{}),
		subscribedChannels: make(map[string]struct{}),
		subscribedPatterns: make(map[string]struct{}),
		lastActivity:       time.Now(),
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// Name returns the client's CLIENT SETNAME value, or "" if unset.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// SetName sets the CLIENT SETNAME value.
func (c *Client) SetName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
}

// DBID returns the currently selected database.
func (c *Client) DBID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dbID
}

// SelectDB changes the currently selected database (SELECT).
func (c *Client) SelectDB(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dbID = id
}

// Flags returns the current flags bitset.
func (c *Client) Flags() Flag {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags
}

// SetFlag sets or clears bit depending on on.
func (c *Client) SetFlag(bit Flag, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.flags |= bit
	} else {
		c.flags &^= bit
	}
}

// HasFlag reports whether bit is set.
func (c *Client) HasFlag(bit Flag) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags&bit != 0
}

// InMulti reports whether the client is inside a MULTI/EXEC block.
func (c *Client) InMulti() bool { return c.HasFlag(FlagMultiInProgress) }

// StartMulti begins queuing for a MULTI block.
func (c *Client) StartMulti() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags |= FlagMultiInProgress
	c.multiQueue = c.multiQueue[:0]
	c.flags &^= FlagMultiDirty
}

// QueueCommand appends argv to the MULTI queue (spec.md §4.4 step 7).
func (c *Client) QueueCommand(argv [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owned := make([][]byte, len(argv))
	for i, a := range argv {
		owned[i] = append([]byte(nil), a...)
	}
	c.multiQueue = append(c.multiQueue, QueuedCommand{Argv: owned})
}

// MarkMultiDirty flags the in-progress transaction as dirty because a
// queued command was pre-execute rejected (spec.md §7 "Rejections flag an
// in-progress transaction as dirty so a later EXEC aborts with
// EXECABORT").
func (c *Client) MarkMultiDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags |= FlagMultiDirty
}

// IsMultiDirty reports whether EXEC must abort with EXECABORT.
func (c *Client) IsMultiDirty() bool { return c.HasFlag(FlagMultiDirty) }

// DrainMulti ends the MULTI block and returns the queued commands,
// clearing both the in-progress and dirty flags.
func (c *Client) DrainMulti() []QueuedCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.multiQueue
	c.multiQueue = nil
	c.flags &^= (FlagMultiInProgress | FlagMultiDirty)
	c.clearWatchesLocked()
	return out
}

// DiscardMulti ends the MULTI block without returning the queue (DISCARD).
func (c *Client) DiscardMulti() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.multiQueue = nil
	c.flags &^= (FlagMultiInProgress | FlagMultiDirty)
	c.clearWatchesLocked()
}

// Watch records a db-qualified key the client is watching (WATCH).
func (c *Client) Watch(dbID int, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchedKeys[watchKey(dbID, key)] = struct{}{}
}

// Unwatch clears all watched keys (UNWATCH, or implicitly on EXEC/DISCARD).
func (c *Client) Unwatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearWatchesLocked()
}

func (c *Client) clearWatchesLocked() {
	c.watchedKeys = make(map[string]struct{})
}

// IsWatching reports whether the client is watching the given db-qualified
// key.
func (c *Client) IsWatching(dbID int, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.watchedKeys[watchKey(dbID, key)]
	return ok
}

func watchKey(dbID int, key string) string {
	return strconv.Itoa(dbID) + ":" + key
}

// CurrentCommand returns the argv of the in-flight command, or nil if none
// is set — used by the dispatcher's reprocessing guard (spec.md §4.4 step
// 1): a non-nil value means this call is a post-unblock replay.
func (c *Client) CurrentCommand() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentCommand
}

// SetCurrentCommand records the in-flight command (push).
func (c *Client) SetCurrentCommand(argv [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentCommand = argv
}

// ClearCurrentCommand pops the in-flight command once execution completes.
func (c *Client) ClearCurrentCommand() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentCommand = nil
}

// Touch records activity, updating the idle timer used by client-cron
// (spec.md §4.7 "Apply idle timeout").
func (c *Client) Touch(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = at
}

// IdleDuration returns how long it has been since the client was last
// touched, as of now.
func (c *Client) IdleDuration(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastActivity)
}

// SetMemoryUsage records the client's current estimated memory footprint,
// feeding the eviction bucket (spec.md §4.7 "Bucketing for eviction").
func (c *Client) SetMemoryUsage(bytes int64, bucketIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memoryBytes = bytes
	c.bucketIndex = bucketIndex
}

// MemoryUsage returns the last recorded memory footprint and bucket index.
func (c *Client) MemoryUsage() (bytes int64, bucketIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memoryBytes, c.bucketIndex
}

// RequestClose marks the client for disconnection at the next safe point
// (spec.md §3 "destruction is deferred to a safe point... if requested
// while the client is on the call stack").
func (c *Client) RequestClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeRequested = true
	c.flags |= FlagCloseAfterReply
}

// CloseRequested reports whether the client should be torn down at the
// next safe point.
func (c *Client) CloseRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeRequested
}

// Subscribe adds a pub/sub channel subscription.
func (c *Client) Subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribedChannels[channel] = struct{}{}
	c.flags |= FlagPubSubMode
}

// Unsubscribe removes a channel subscription, clearing pub/sub mode if no
// subscriptions (channel or pattern) remain.
func (c *Client) Unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribedChannels, channel)
	c.maybeClearPubSubModeLocked()
}

func (c *Client) maybeClearPubSubModeLocked() {
	if len(c.subscribedChannels) == 0 && len(c.subscribedPatterns) == 0 {
		c.flags &^= FlagPubSubMode
	}
}

// SubscriptionCount returns the total channel+pattern subscription count,
// for the RESP reply to (UN)SUBSCRIBE.
func (c *Client) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribedChannels) + len(c.subscribedPatterns)
}

// Enqueue appends an out-of-band push (a MONITOR feed line, a pub/sub
// message, a deferred client-tracking invalidation) to the client's pending
// reply queue, for the connection loop to drain and write out after the
// in-flight command's own reply (spec.md §4.5 "append any pending push
// messages to the client's reply").
func (c *Client) Enqueue(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingReply = append(c.pendingReply, append([]byte(nil), payload...))
}

// DrainPending returns and clears any queued out-of-band pushes.
func (c *Client) DrainPending() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pendingReply
	c.pendingReply = nil
	return out
}
