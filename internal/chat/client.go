package chat

import (
	"net"
	"sync"

	"github.com/google/uuid"
)

// Client represents a connected participant in the chat.
type Client struct {
	ID string

	mu   sync.RWMutex
	name string

	conn net.Conn
	send chan string
}

func newClient(name string, conn net.Conn, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 16
	}
	return &Client{
		ID:   uuid.NewString(),
		name: name,
		conn: conn,
		send: make(chan string, sendBuffer),
	}
}

// Name returns the client's current display name.
func (c *Client) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// SetName overwrites the display name. Uniqueness is not enforced; lookups
// resolve a duplicate name to the oldest registered client.
func (c *Client) SetName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

// Send returns the delivery channel drained by the owning session.
func (c *Client) Send() <-chan string {
	return c.send
}

// tryDeliver places a message onto the delivery channel without blocking.
func (c *Client) tryDeliver(msg string) {
	select {
	case c.send <- msg:
	default:
		// Drop when the receiver is too slow; keeps fan-out responsive.
	}
}
