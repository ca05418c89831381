package protocol

import (
	"context"
	"errors"
	"net"
	"testing"
)

func TestPacketStreamSendRecvRoundTrip(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	sender := NewPacketStream(connA, nil, 0)
	receiver := NewPacketStream(connB, nil, 0)

	recvErr := make(chan error, 1)
	var gotType FrameType
	var gotPayload []byte
	go func() {
		var err error
		gotType, gotPayload, err = receiver.Recv(context.Background())
		recvErr <- err
	}()

	// Drain the ACK the receiver writes back so sendAck's blocking write on
	// the unbuffered pipe doesn't stall the test.
	ackErr := make(chan error, 1)
	go func() {
		_, _, err := sender.Recv(context.Background())
		ackErr <- err
	}()

	if err := sender.Send(FrameGame, NewPrompt()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := <-recvErr; err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if gotType != FrameGame {
		t.Fatalf("got type %v, want GAME", gotType)
	}
	typ, err := MessageType(gotPayload)
	if err != nil || typ != "prompt" {
		t.Fatalf("MessageType(%q) = %q, %v", gotPayload, typ, err)
	}
}

func TestPacketStreamRecvCRCFailureNaksThenAcceptsRetransmit(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	s := NewPacketStream(connA, nil, 0)
	payload := []byte(`{"type":"prompt"}`)

	go func() {
		bad := encode(FrameGame, 5, payload)
		bad[len(bad)-1] ^= 0xFF
		connB.Write(bad)

		nak, err := readFrame(connB)
		if err != nil {
			t.Errorf("reading NAK: %v", err)
			return
		}
		if nak.Type != FrameNak || nak.Seq != 5 {
			t.Errorf("got %v seq=%d, want NAK seq=5", nak.Type, nak.Seq)
		}

		connB.Write(encode(FrameGame, 5, payload))
		if _, err := readFrame(connB); err != nil {
			t.Errorf("reading ACK after retransmit: %v", err)
		}
	}()

	typ, got, err := s.Recv(context.Background())
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if typ != FrameGame || string(got) != string(payload) {
		t.Fatalf("got type=%v payload=%q, want GAME %q", typ, got, payload)
	}
}

func TestPacketStreamThreeConsecutiveCRCFailuresDeclaresDead(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	s := NewPacketStream(connA, nil, 0)

	go func() {
		for seq := uint32(1); seq <= maxConsecutiveFailures; seq++ {
			bad := encode(FrameGame, seq, []byte("{}"))
			bad[len(bad)-1] ^= 0xFF
			connB.Write(bad)
			if _, err := readFrame(connB); err != nil {
				t.Errorf("reading NAK %d: %v", seq, err)
				return
			}
		}
	}()

	_, _, err := s.Recv(context.Background())
	if !errors.Is(err, ErrTransportEOF) {
		t.Fatalf("got %v, want ErrTransportEOF", err)
	}
}

func TestPacketStreamRecvDropsReplayedSequence(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	s := NewPacketStream(connA, nil, 0)
	payload := []byte(`{"type":"prompt"}`)

	go func() {
		connB.Write(encode(FrameGame, 100, payload))
		if _, err := readFrame(connB); err != nil {
			t.Errorf("reading ACK: %v", err)
			return
		}
		// 50 is more than replayWindow behind 100: a stale, replayed sequence.
		connB.Write(encode(FrameGame, 50, payload))
		connB.Close()
	}()

	typ, _, err := s.Recv(context.Background())
	if err != nil {
		t.Fatalf("first Recv: %v", err)
	}
	if typ != FrameGame {
		t.Fatalf("got type %v, want GAME", typ)
	}

	_, _, err = s.Recv(context.Background())
	if !errors.Is(err, ErrTransportEOF) {
		t.Fatalf("got %v, want ErrTransportEOF once the peer closes after a dropped replay", err)
	}
}

func TestPacketStreamSendEncryptsWhenCipherConfigured(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	key := make([]byte, 16)
	cipher, err := NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	s := NewPacketStream(connA, cipher, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		frame, err := readFrame(connB)
		if err != nil {
			t.Errorf("readFrame: %v", err)
			return
		}
		if string(frame.Payload) == `{"type":"prompt"}` {
			t.Error("payload on the wire is plaintext, want ciphertext")
		}
		plain := cipher.Transform(frame.Seq, frame.Payload)
		typ, err := MessageType(plain)
		if err != nil || typ != "prompt" {
			t.Errorf("decrypted MessageType = %q, %v", typ, err)
		}
	}()

	if err := s.Send(FrameGame, NewPrompt()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	<-done
}
