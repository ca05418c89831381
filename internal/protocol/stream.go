package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTransportEOF is returned by Recv once the underlying connection is
// unusable: a real I/O error, a malformed (unframeable) byte stream, or
// three consecutive receive-side errors, per spec.md §4.1/§7.
var ErrTransportEOF = errors.New("protocol: transport is dead")

// PacketStream owns one net.Conn and implements the framing layer (C1): a
// monotonic per-direction sequence counter, a bounded retransmit buffer, a
// receive-side replay window, and the ACK/NAK reliability protocol of
// spec.md §4.1. One PacketStream is created per connection — the buffers are
// never shared across connections (spec.md §9).
type PacketStream struct {
	conn net.Conn

	sendMu  sync.Mutex
	sendSeq atomic.Uint32

	outbound *retransmitBuffer
	inbound  *receiveWindow
	failures *consecutiveFailures

	cipher  *Cipher
	limiter *frameLimiter
}

// NewPacketStream wraps conn. cipher may be nil (no encryption). A
// framesPerSec of 0 disables inbound rate limiting.
func NewPacketStream(conn net.Conn, cipher *Cipher, framesPerSec float64) *PacketStream {
	return &PacketStream{
		conn:     conn,
		outbound: newRetransmitBuffer(),
		inbound:  newReceiveWindow(),
		failures: &consecutiveFailures{},
		cipher:   cipher,
		limiter:  newFrameLimiter(framesPerSec),
	}
}

// Close closes the underlying connection.
func (s *PacketStream) Close() error { return s.conn.Close() }

// RemoteAddr exposes the underlying connection's remote address for logging.
func (s *PacketStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Send marshals v to JSON, encrypts it if a cipher is configured, frames it
// under the next sequence number for this direction, writes it, and keeps a
// copy in the retransmit buffer in case the peer NAKs it.
func (s *PacketStream) Send(t FrameType, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: marshaling payload: %w", err)
	}
	seq := s.sendSeq.Add(1)

	if s.cipher != nil {
		payload = s.cipher.Transform(seq, payload)
	}
	wire := encode(t, seq, payload)

	s.sendMu.Lock()
	_, err = s.conn.Write(wire)
	s.sendMu.Unlock()
	if err != nil {
		return err
	}

	s.outbound.store(seq, wire)
	return nil
}

// sendAck replies ACK for seq: the header's sequence field carries the
// acknowledged sequence number, not a value from this direction's own
// counter, per spec.md §4.1/§6.1 (control frames carry an empty payload).
func (s *PacketStream) sendAck(seq uint32) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return writeFrame(s.conn, FrameAck, seq, nil)
}

func (s *PacketStream) sendNak(seq uint32) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return writeFrame(s.conn, FrameNak, seq, nil)
}

// retransmit resends the buffered wire bytes for seq, if still present.
func (s *PacketStream) retransmit(seq uint32) error {
	wire, ok := s.outbound.lookup(seq)
	if !ok {
		return nil
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	_, err := s.conn.Write(wire)
	return err
}

// Recv blocks for the next application frame (GAME or CHAT), transparently
// consuming and acting on any ACK/NAK control frames that arrive first. It
// acknowledges successfully decoded data frames, NAKs CRC failures, and
// returns ErrTransportEOF once the stream is declared dead. If ctx carries a
// deadline, a read still blocked when it passes returns context.DeadlineExceeded.
func (s *PacketStream) Recv(ctx context.Context) (FrameType, []byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(deadline)
		defer s.conn.SetReadDeadline(time.Time{})
	}
	for {
		if err := s.limiter.wait(ctx); err != nil {
			if errors.Is(err, ErrRateLimited) {
				if s.failures.fail() {
					return 0, nil, ErrTransportEOF
				}
				continue
			}
			return 0, nil, err
		}

		frame, err := readFrame(s.conn)
		if err != nil {
			if errors.Is(err, ErrCRCError) {
				_ = s.sendNak(frame.Seq)
				if s.failures.fail() {
					return 0, nil, ErrTransportEOF
				}
				continue
			}
			if errors.Is(err, ErrFrameError) {
				if s.failures.fail() {
					return 0, nil, ErrTransportEOF
				}
				continue
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return 0, nil, context.DeadlineExceeded
			}
			// A real transport error (EOF, reset, closed listener, ...).
			if errors.Is(err, io.EOF) {
				return 0, nil, ErrTransportEOF
			}
			return 0, nil, fmt.Errorf("%w: %v", ErrTransportEOF, err)
		}

		switch frame.Type {
		case FrameAck:
			s.outbound.ack(frame.Seq)
			continue
		case FrameNak:
			_ = s.retransmit(frame.Seq)
			continue
		}

		payload := frame.Payload
		if s.cipher != nil {
			payload = s.cipher.Transform(frame.Seq, payload)
		}

		if len(payload) > 0 && !json.Valid(payload) {
			if s.failures.fail() {
				return 0, nil, ErrTransportEOF
			}
			continue
		}

		if !s.inbound.accept(frame.Seq) {
			if s.failures.fail() {
				return 0, nil, ErrTransportEOF
			}
			continue
		}

		s.failures.reset()
		_ = s.sendAck(frame.Seq)
		return frame.Type, payload, nil
	}
}
