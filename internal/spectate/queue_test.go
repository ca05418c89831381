package spectate

import (
	"net"
	"testing"

	"github.com/unixthat/beer-project/internal/protocol"
)

func newLiveTransport(t *testing.T) (*protocol.PacketStream, net.Conn) {
	t.Helper()
	conn, peer := net.Pipe()
	t.Cleanup(func() { conn.Close(); peer.Close() })
	return protocol.NewPacketStream(conn, nil, 0), peer
}

func newDeadTransport(t *testing.T) *protocol.PacketStream {
	t.Helper()
	conn, peer := net.Pipe()
	peer.Close()
	conn.Close()
	return protocol.NewPacketStream(conn, nil, 0)
}

func TestQueuePromoteFIFO(t *testing.T) {
	q := New()
	a, _ := newLiveTransport(t)
	b, _ := newLiveTransport(t)
	q.Add(a)
	q.Add(b)

	head, ok := q.Promote()
	if !ok || head != a {
		t.Fatalf("Promote() = %v, %v; want a, true", head, ok)
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}

	head, ok = q.Promote()
	if !ok || head != b {
		t.Fatalf("Promote() = %v, %v; want b, true", head, ok)
	}
	if _, ok := q.Promote(); ok {
		t.Fatal("Promote() on empty queue returned ok=true")
	}
}

func TestQueueBroadcastEvictsFailedSend(t *testing.T) {
	q := New()
	dead := newDeadTransport(t)
	q.Add(dead)

	if got := q.Len(); got != 1 {
		t.Fatalf("Len() before broadcast = %d, want 1", got)
	}

	q.Broadcast(protocol.FrameGame, map[string]string{"type": "info", "text": "hi"})

	if got := q.Len(); got != 0 {
		t.Fatalf("Len() after broadcast to a dead transport = %d, want 0 (silent eviction)", got)
	}
}

func TestQueueRemove(t *testing.T) {
	q := New()
	a, _ := newLiveTransport(t)
	b, _ := newLiveTransport(t)
	q.Add(a)
	q.Add(b)

	q.Remove(a)
	if got := q.Len(); got != 1 {
		t.Fatalf("Len() after Remove = %d, want 1", got)
	}
	head, ok := q.Promote()
	if !ok || head != b {
		t.Fatalf("Promote() after removing a = %v, %v; want b, true", head, ok)
	}
}
