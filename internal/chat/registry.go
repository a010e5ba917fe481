package chat

import (
	"log/slog"
	"sync"

	"github.com/samber/lo"
)

// Registry is the shared collection of connected clients. A single mutex
// guards membership and fan-out; per-recipient delivery is a non-blocking
// enqueue, so the lock is never held across a network write.
//
// Membership is an ordered slice: registration order is observable through
// the list command, and name lookup resolves duplicates to the first match
// in that order.
type Registry struct {
	mu      sync.Mutex
	clients []*Client

	log *slog.Logger
}

// NewRegistry constructs an empty client registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log}
}

// Add registers a client, keeping registration order. Adding a client that
// is already registered is a no-op.
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.clients {
		if existing == c {
			return
		}
	}
	r.clients = append(r.clients, c)
	sessionsActive.Set(float64(len(r.clients)))
}

// Remove unregisters a client and closes its delivery channel. Removing a
// client that is not registered is a no-op; the channel is closed only by
// the call that actually removes it.
func (r *Registry) Remove(c *Client) {
	r.mu.Lock()
	removed := false
	for i, existing := range r.clients {
		if existing == c {
			r.clients = append(r.clients[:i], r.clients[i+1:]...)
			removed = true
			break
		}
	}
	sessionsActive.Set(float64(len(r.clients)))
	r.mu.Unlock()

	if removed {
		close(c.send)
	}
}

// FindByName returns the first registered client whose current name equals
// name, or nil. The match is case-sensitive and duplicates resolve in
// registration order.
func (r *Registry) FindByName(name string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(name)
}

// Whisper enqueues msg to the first client named target and reports whether
// such a client was registered. Lookup and delivery happen under one lock,
// so the target cannot be removed in between.
func (r *Registry) Whisper(target, msg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.findLocked(target)
	if c == nil {
		return false
	}
	c.tryDeliver(msg)
	return true
}

func (r *Registry) findLocked(name string) *Client {
	client, found := lo.Find(r.clients, func(c *Client) bool {
		return c.Name() == name
	})
	if !found {
		return nil
	}
	return client
}

// Broadcast enqueues msg to every registered client except excluding. A
// recipient whose queue is full is skipped; one slow or dying peer never
// aborts delivery to the rest.
func (r *Registry) Broadcast(msg string, excluding *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.clients {
		if c == excluding {
			continue
		}
		c.tryDeliver(msg)
	}
}

// SnapshotNames returns the current display names in registration order.
func (r *Registry) SnapshotNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return lo.Map(r.clients, func(c *Client, _ int) string {
		return c.Name()
	})
}

// Len reports the number of registered clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Shutdown force-closes every registered client's connection and clears
// membership. Safe to call while sessions are terminating themselves: each
// delivery channel is closed exactly once, by whichever path removed the
// client.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	evicted := r.clients
	r.clients = nil
	sessionsActive.Set(0)
	r.mu.Unlock()

	for _, c := range evicted {
		close(c.send)
		if err := c.conn.Close(); err != nil {
			r.log.Debug("close on shutdown", "id", c.ID, "name", c.Name(), "error", err)
		}
	}
}
