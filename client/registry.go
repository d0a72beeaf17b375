package client

import "sync"

// Registry tracks all connected clients in arrival order, so client-cron
// can "rotate through the client list (head→tail)" (spec.md §4.7) instead
// of iterating an unordered map, and bucket clients for eviction (spec.md
// §4.7 "Bucketing for eviction").
//
// Grounded on server/heartbeat.go's ServerHeartbeatManager.clients map,
// generalized from an unordered map[clientIP]*ClientHeartbeatInfo into an
// order-preserving structure, since rotation fairness (spec.md §8 item 4)
// requires a meaningful "head".
type Registry struct {
	mu      sync.Mutex
	order   []*Client // arrival order; index 0 is the rotation head
	byID    map[string]*Client
	cursor  int // index into order where the next client-cron batch starts
}

// NewRegistry creates an empty client registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Client)}
}

// Add registers a newly accepted client.
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, c)
	r.byID[c.ID()] = c
}

// Remove drops a client (transport closed, or eviction selected it).
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return
	}
	delete(r.byID, id)
	for i, c := range r.order {
		if c.ID() == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			if r.cursor > i {
				r.cursor--
			}
			break
		}
	}
}

// Get looks up a client by ID.
func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	return c, ok
}

// Len returns the number of connected clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// All returns a snapshot of every connected client, head first.
func (r *Registry) All() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, len(r.order))
	copy(out, r.order)
	return out
}

// NextBatch returns up to n clients starting at the rotation cursor,
// advancing the cursor (wrapping) so the next call continues where this
// one left off — the head→tail rotation of spec.md §4.7. Returning a
// non-empty batch that starts at a different client than the previous call
// (whenever there are ≥2 clients) is what gives the fairness testable
// property (spec.md §8 item 4) "the head of the client list changes at
// least once" per window.
func (r *Registry) NextBatch(n int) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := len(r.order)
	if total == 0 || n <= 0 {
		return nil
	}
	if n > total {
		n = total
	}

	batch := make([]*Client, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.cursor + i) % total
		batch = append(batch, r.order[idx])
	}
	r.cursor = (r.cursor + n) % total
	return batch
}
