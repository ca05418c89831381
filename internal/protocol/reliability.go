package protocol

import "sync"

// retransmitWindow bounds how many of the most recently sent frames a
// PacketStream keeps around in case a NAK asks for one of them again.
const retransmitWindow = 32

// replayWindow is the reorder tolerance: a sequence number at or below
// highestAccepted-replayWindow is considered a replay, per spec.md §3/§8.
const replayWindow = 32

// retransmitBuffer is a per-connection, per-direction bounded circular
// buffer of sent frame bytes keyed by sequence number. It is deliberately
// not process-wide (see spec.md §9, "Ambient global state"): every
// PacketStream owns one.
type retransmitBuffer struct {
	mu      sync.Mutex
	order   []uint32 // insertion order, oldest first
	entries map[uint32][]byte
}

func newRetransmitBuffer() *retransmitBuffer {
	return &retransmitBuffer{entries: make(map[uint32][]byte)}
}

// store records the wire bytes for seq, evicting the oldest entry once the
// buffer exceeds retransmitWindow.
func (b *retransmitBuffer) store(seq uint32, wire []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.entries[seq]; !exists {
		b.order = append(b.order, seq)
	}
	b.entries[seq] = wire

	for len(b.order) > retransmitWindow {
		oldest := b.order[0]
		b.order = b.order[1:]
		delete(b.entries, oldest)
	}
}

// ack removes seq from the buffer: the peer has confirmed receipt.
func (b *retransmitBuffer) ack(seq uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.entries[seq]; !exists {
		return
	}
	delete(b.entries, seq)
	for i, s := range b.order {
		if s == seq {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// lookup returns the buffered wire bytes for seq, if still present.
func (b *retransmitBuffer) lookup(seq uint32) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	wire, ok := b.entries[seq]
	return wire, ok
}

// receiveWindow is the receive-side replay guard: it tracks the highest
// accepted sequence number per connection and rejects anything at or below
// the reorder tolerance behind it.
type receiveWindow struct {
	mu               sync.Mutex
	highestAccepted  uint32
	hasAccepted      bool
}

func newReceiveWindow() *receiveWindow {
	return &receiveWindow{}
}

// accept reports whether seq is acceptable, and if so records it as the new
// high-water mark when it advances the window.
func (w *receiveWindow) accept(seq uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.hasAccepted && seq+replayWindow <= w.highestAccepted {
		return false
	}
	if !w.hasAccepted || seq > w.highestAccepted {
		w.highestAccepted = seq
		w.hasAccepted = true
	}
	return true
}

// consecutiveFailures counts receive-side errors on one stream so the owner
// can close the connection after the third, per spec.md §4.1/§7. A
// successful decode — including one that arrives via retransmit after a
// NAK — resets the count, matching spec.md §9's resolution of the open
// question about NAK-driven retransmits counting toward the threshold.
type consecutiveFailures struct {
	mu    sync.Mutex
	count int
}

const maxConsecutiveFailures = 3

// fail records one receive-side error and reports whether the stream should
// now be declared dead.
func (c *consecutiveFailures) fail() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return c.count >= maxConsecutiveFailures
}

// reset clears the failure count after a successful decode.
func (c *consecutiveFailures) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count = 0
}
