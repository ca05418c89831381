// Package spectate implements the spectator queue (C3): an ordered list of
// passive observer transports that receive every broadcast event and supply
// the next occupant when a match slot needs re-filling.
package spectate

import (
	"sync"

	"github.com/unixthat/beer-project/internal/protocol"
)

// Queue is one match's spectator queue. The head of the queue is the next
// promotion candidate, per spec.md §4.3.
type Queue struct {
	mu      sync.Mutex
	members []*protocol.PacketStream
}

// New returns an empty spectator queue.
func New() *Queue {
	return &Queue{}
}

// Add appends transport to the tail of the queue.
func (q *Queue) Add(transport *protocol.PacketStream) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.members = append(q.members, transport)
}

// Len reports the current number of spectators.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.members)
}

// Broadcast sends one event to every current spectator. A spectator whose
// send fails is evicted silently — the caller is never told which
// spectators dropped, matching spec.md §4.3 ("individual send failures
// evict that spectator silently").
func (q *Queue) Broadcast(frameType protocol.FrameType, payload interface{}) {
	q.mu.Lock()
	members := append([]*protocol.PacketStream(nil), q.members...)
	q.mu.Unlock()

	var dead []*protocol.PacketStream
	for _, m := range members {
		if err := m.Send(frameType, payload); err != nil {
			dead = append(dead, m)
		}
	}
	if len(dead) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.members = filterOut(q.members, dead)
}

// Snapshot sends a single complete board/turn snapshot to transport, used on
// join and immediately after a promotion (spec.md §4.3). It does not touch
// queue membership: the caller adds the spectator separately via Add, or, if
// transport was just promoted, no longer treats it as a spectator at all.
func (q *Queue) Snapshot(transport *protocol.PacketStream, frameType protocol.FrameType, payload interface{}) error {
	return transport.Send(frameType, payload)
}

// Promote removes and returns the head spectator, if any. The caller is
// responsible for transferring the returned transport into the vacated slot
// and restarting the session from a snapshot (spec.md §4.3).
func (q *Queue) Promote() (*protocol.PacketStream, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.members) == 0 {
		return nil, false
	}
	head := q.members[0]
	q.members = q.members[1:]
	return head, true
}

// Remove evicts transport from the queue if present, e.g. when its own
// reader loop detects a disconnect independently of a broadcast failure.
func (q *Queue) Remove(transport *protocol.PacketStream) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.members = filterOut(q.members, []*protocol.PacketStream{transport})
}

func filterOut(members, drop []*protocol.PacketStream) []*protocol.PacketStream {
	if len(drop) == 0 {
		return members
	}
	skip := make(map[*protocol.PacketStream]bool, len(drop))
	for _, d := range drop {
		skip[d] = true
	}
	kept := members[:0:0]
	for _, m := range members {
		if !skip[m] {
			kept = append(kept, m)
		}
	}
	return kept
}
