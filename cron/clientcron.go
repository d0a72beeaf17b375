package cron

import (
	"sync"
	"time"

	"github.com/lordbasex/kvcore/client"
	"github.com/lordbasex/kvcore/eviction"
)

// ClientCronConfig bounds the self-scheduling rate of spec.md §4.7
// ("self-scheduling between 1000/HZ and a ceiling MAX_HZ").
type ClientCronConfig struct {
	HZ          int // same base HZ as server-cron
	MaxHZ       int // ceiling
	MinClients  int // minimum batch size per tick
	MaxClients  int // maximum batch size per tick
	IdleTimeout time.Duration // 0 disables idle disconnection
}

func (c ClientCronConfig) interval() time.Duration {
	hz := c.HZ
	if hz < 1 {
		hz = 1
	}
	maxHZ := c.MaxHZ
	if maxHZ < hz {
		maxHZ = hz
	}
	// "between 1000/HZ and MAX_HZ": interpret as ticking at the faster of
	// the two rates, i.e. the shorter interval, clamped to MaxHZ.
	return time.Second / time.Duration(maxHZ)
}

func (c ClientCronConfig) batchSize(numClients int) int {
	hz := c.HZ
	if hz < 1 {
		hz = 1
	}
	min, max := c.MinClients, c.MaxClients
	if min <= 0 {
		min = 1
	}
	if max <= 0 {
		max = numClients
		if max < min {
			max = min
		}
	}
	size := numClients / hz
	if size < min {
		size = min
	}
	if size > max {
		size = max
	}
	return size
}

// ClientCron drives the per-client maintenance loop of spec.md §4.7:
// idle-timeout disconnection and memory-bucket rebalancing for eviction.
// Query/reply buffer resizing (spec.md §4.7) is a transport-layer concern
// outside this package's scope; ClientCron exposes hooks so a transport
// can plug its own buffer-shrink logic into the same rotation pass instead
// of running a second, uncoordinated loop.
type ClientCron struct {
	cfg      ClientCronConfig
	registry *client.Registry
	buckets  *eviction.ClientBuckets

	onVisit func(c *client.Client) // optional, e.g. query/reply buffer resize

	stopCh chan struct{}
	doneCh chan struct{}
	mu     sync.Mutex
	running bool
}

// NewClientCron builds a ClientCron bound to the given client registry.
func NewClientCron(cfg ClientCronConfig, registry *client.Registry, buckets *eviction.ClientBuckets) *ClientCron {
	return &ClientCron{
		cfg:      cfg,
		registry: registry,
		buckets:  buckets,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// OnVisit registers a callback invoked for each client visited in a batch,
// e.g. for transport-specific query/reply buffer resizing (spec.md §4.7).
func (cc *ClientCron) OnVisit(fn func(c *client.Client)) { cc.onVisit = fn }

// Start begins the self-scheduling loop on its own goroutine.
func (cc *ClientCron) Start() {
	cc.mu.Lock()
	if cc.running {
		cc.mu.Unlock()
		return
	}
	cc.running = true
	cc.mu.Unlock()

	go cc.run()
}

// Stop signals the loop to exit and waits for it to finish.
func (cc *ClientCron) Stop() {
	cc.mu.Lock()
	if !cc.running {
		cc.mu.Unlock()
		return
	}
	cc.running = false
	cc.mu.Unlock()

	close(cc.stopCh)
	<-cc.doneCh
}

func (cc *ClientCron) run() {
	defer close(cc.doneCh)

	ticker := time.NewTicker(cc.cfg.interval())
	defer ticker.Stop()

	for {
		select {
		case <-cc.stopCh:
			return
		case now := <-ticker.C:
			cc.Tick(now)
		}
	}
}

// Tick performs exactly one client-cron batch, exposed directly so tests
// can drive deterministic ticks.
func (cc *ClientCron) Tick(now time.Time) {
	total := cc.registry.Len()
	if total == 0 {
		return
	}
	batch := cc.registry.NextBatch(cc.cfg.batchSize(total))

	for _, c := range batch {
		if cc.cfg.IdleTimeout > 0 && c.IdleDuration(now) > cc.cfg.IdleTimeout {
			c.RequestClose()
			cc.registry.Remove(c.ID())
			if cc.buckets != nil {
				cc.buckets.Remove(c.ID())
			}
			continue
		}

		if cc.buckets != nil {
			bytes, _ := c.MemoryUsage()
			cc.buckets.Move(c.ID(), bytes)
		}

		if cc.onVisit != nil {
			cc.onVisit(c)
		}
	}
}
