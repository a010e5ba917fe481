package chat

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func makeClient(t *testing.T, name string) *Client {
	t.Helper()

	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return newClient(name, server, 16)
}

func receive(t *testing.T, c *Client) string {
	t.Helper()

	select {
	case msg := <-c.Send():
		return msg
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for delivery")
		return ""
	}
}

func requireNoDelivery(t *testing.T, c *Client) {
	t.Helper()

	select {
	case msg := <-c.Send():
		t.Fatalf("unexpected delivery %q", msg)
	default:
	}
}

func TestAddIsIdempotent(t *testing.T) {
	registry := testRegistry()
	alice := makeClient(t, "alice")

	registry.Add(alice)
	registry.Add(alice)

	require.Equal(t, 1, registry.Len())
	require.Equal(t, []string{"alice"}, registry.SnapshotNames())
}

func TestRemoveIsIdempotent(t *testing.T) {
	registry := testRegistry()
	alice := makeClient(t, "alice")

	registry.Remove(alice) // not a member yet

	registry.Add(alice)
	registry.Remove(alice)
	registry.Remove(alice)

	require.Equal(t, 0, registry.Len())

	_, open := <-alice.Send()
	require.False(t, open, "delivery channel should be closed exactly once")
}

func TestSnapshotNamesKeepsRegistrationOrder(t *testing.T) {
	registry := testRegistry()
	for _, name := range []string{"alice", "bob", "carol"} {
		registry.Add(makeClient(t, name))
	}

	require.Equal(t, []string{"alice", "bob", "carol"}, registry.SnapshotNames())
}

func TestFindByNameReturnsFirstMatch(t *testing.T) {
	registry := testRegistry()
	first := makeClient(t, "alice")
	second := makeClient(t, "bob")
	registry.Add(first)
	registry.Add(second)

	// Renaming may produce duplicates; the oldest registration wins.
	second.SetName("alice")

	require.Same(t, first, registry.FindByName("alice"))
	require.Nil(t, registry.FindByName("ghost"))
}

func TestBroadcastExcludesSender(t *testing.T) {
	registry := testRegistry()
	alice := makeClient(t, "alice")
	bob := makeClient(t, "bob")
	carol := makeClient(t, "carol")
	registry.Add(alice)
	registry.Add(bob)
	registry.Add(carol)

	registry.Broadcast("alice: hi", alice)

	require.Equal(t, "alice: hi", receive(t, bob))
	require.Equal(t, "alice: hi", receive(t, carol))
	requireNoDelivery(t, alice)
}

func TestBroadcastSkipsFullQueue(t *testing.T) {
	registry := testRegistry()
	slow := newClient("slow", nil, 1)
	bob := makeClient(t, "bob")
	registry.Add(slow)
	registry.Add(bob)

	registry.Broadcast("first", nil)
	registry.Broadcast("second", nil)

	// The slow client keeps only what fit; bob got everything.
	require.Equal(t, "first", receive(t, slow))
	requireNoDelivery(t, slow)
	require.Equal(t, "first", receive(t, bob))
	require.Equal(t, "second", receive(t, bob))
}

func TestWhisperDeliversToTargetOnly(t *testing.T) {
	registry := testRegistry()
	alice := makeClient(t, "alice")
	bob := makeClient(t, "bob")
	registry.Add(alice)
	registry.Add(bob)

	require.True(t, registry.Whisper("bob", "[Whisper from alice]: psst"))

	require.Equal(t, "[Whisper from alice]: psst", receive(t, bob))
	requireNoDelivery(t, alice)
}

func TestWhisperUnknownTarget(t *testing.T) {
	registry := testRegistry()
	alice := makeClient(t, "alice")
	registry.Add(alice)

	require.False(t, registry.Whisper("ghost", "boo"))
	requireNoDelivery(t, alice)
}

func TestShutdownClearsMembershipAndClosesConnections(t *testing.T) {
	registry := testRegistry()
	alice := makeClient(t, "alice")
	bob := makeClient(t, "bob")
	registry.Add(alice)
	registry.Add(bob)

	registry.Shutdown()

	require.Equal(t, 0, registry.Len())
	for _, c := range []*Client{alice, bob} {
		_, open := <-c.Send()
		require.False(t, open)

		_, err := c.conn.Read(make([]byte, 1))
		require.Error(t, err)
	}

	// A session terminating after the forced shutdown is harmless.
	registry.Remove(alice)
	registry.Broadcast("alice has left the chat.", alice)
}

func TestConcurrentMembershipAndBroadcast(t *testing.T) {
	registry := testRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newClient(fmt.Sprintf("user-%d", i), nil, 4)
			for j := 0; j < 50; j++ {
				registry.Add(c)
				registry.Broadcast("hello", c)
				registry.SnapshotNames()
				registry.FindByName("user-0")
				registry.Remove(c)
				c = newClient(fmt.Sprintf("user-%d", i), nil, 4)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 0, registry.Len())
}
