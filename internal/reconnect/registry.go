// Package reconnect implements the reconnect registry (C2): a process-wide
// map from a durable player token to the attach-point a suspended match slot
// is waiting on, letting a new socket bearing the right token resume a
// dropped session in place of pairing into a fresh one.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/unixthat/beer-project/internal/protocol"
)

var (
	// ErrTokenInUse is returned by Register when a token already has a
	// pending registration.
	ErrTokenInUse = errors.New("reconnect: token already registered")
	// ErrUnknownToken is returned by Attach when no pending registration
	// exists for the token — either it was never registered, or another
	// Attach already won the race and removed it.
	ErrUnknownToken = errors.New("reconnect: unknown token")
)

// Registry is a process-wide token -> pending-attach mapping. It owns no
// match state of its own: Register/Attach/Cancel move a *protocol.PacketStream
// across the channel the matching Wait call is blocked on, per spec.md §4.2.
type Registry struct {
	mu           sync.Mutex
	pending      map[string]chan *protocol.PacketStream
	registeredAt map[string]time.Time
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		pending:      make(map[string]chan *protocol.PacketStream),
		registeredAt: make(map[string]time.Time),
	}
}

// Register inserts a pending attach-point for token. The returned channel
// receives exactly one transport, from whichever Attach call wins the token,
// or is never sent to if Cancel or Wait's own timeout fires first.
func (r *Registry) Register(token string) (<-chan *protocol.PacketStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pending[token]; exists {
		return nil, fmt.Errorf("%w: %s", ErrTokenInUse, token)
	}
	ch := make(chan *protocol.PacketStream, 1)
	r.pending[token] = ch
	r.registeredAt[token] = time.Now()
	return ch, nil
}

// Attach binds transport to the pending registration for token, if any, and
// atomically removes the registration so a second, concurrent Attach for the
// same token observes ErrUnknownToken — the collision rule of spec.md §4.2:
// exactly one caller wins, the other must close its transport after sending
// a single duplicate_token error frame.
func (r *Registry) Attach(token string, transport *protocol.PacketStream) error {
	r.mu.Lock()
	ch, exists := r.pending[token]
	if exists {
		delete(r.pending, token)
		delete(r.registeredAt, token)
	}
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	ch <- transport
	return nil
}

// IsPending reports whether token currently has a pending registration. It is
// a point-in-time check only: the lobby uses it to decide whether an
// incoming handshake is a reconnect attempt, then relies on Attach's own
// atomicity to resolve any race against a concurrent winner.
func (r *Registry) IsPending(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.pending[token]
	return exists
}

// Cancel removes a pending registration without signalling anyone waiting
// on it. It is a no-op if the token has no pending registration.
func (r *Registry) Cancel(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, token)
	delete(r.registeredAt, token)
}

// StaleTokens returns tokens that have been pending for longer than maxAge,
// letting a housekeeping sweep Cancel registrations whose owning session
// exited without cleaning up after itself (e.g. a crash mid-wait).
func (r *Registry) StaleTokens(maxAge time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	var stale []string
	for token, at := range r.registeredAt {
		if at.Before(cutoff) {
			stale = append(stale, token)
		}
	}
	return stale
}

// Wait blocks on ch until a transport arrives via Attach, ctx is cancelled,
// or the context deadline set by the caller (conventionally T_reconnect,
// spec.md §4.4) elapses. On any path other than a delivered transport, the
// registration is left to the caller to Cancel.
func Wait(ctx context.Context, ch <-chan *protocol.PacketStream) (*protocol.PacketStream, error) {
	select {
	case transport := <-ch:
		return transport, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
