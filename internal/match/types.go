// Package match implements the match session (C4): the turn-based state
// machine that drives one game between two slots, suspends on disconnect,
// and resumes via reconnect or spectator promotion.
package match

import (
	"context"
	"time"

	"github.com/unixthat/beer-project/internal/boardgame"
	"github.com/unixthat/beer-project/internal/protocol"
)

// SlotID identifies one of the two roles in a match.
type SlotID int

const (
	SlotA SlotID = iota
	SlotB
)

// Other returns the opposing slot.
func (id SlotID) Other() SlotID {
	if id == SlotA {
		return SlotB
	}
	return SlotA
}

func (id SlotID) String() string {
	if id == SlotA {
		return "A"
	}
	return "B"
}

// Board is the narrow rules-engine collaborator the session invokes, per
// spec.md §6.4. internal/boardgame.Board satisfies it structurally.
type Board interface {
	PlaceShipsRandomly(oneShip bool)
	PlaceShipsManually(ctx context.Context, transport *protocol.PacketStream, oneShip bool, shipTimeout time.Duration) error
	FireAt(row, col int) (result boardgame.ShotResult, sunkName string, err error)
	AllShipsSunk() bool
	RenderSelf() []string
	RenderOpponentView() []string
	Size() int
}

// Slot holds everything the session needs for one side of a match: the
// current transport, the durable token, the owning board, and whether the
// slot is presently occupied by a live connection.
type Slot struct {
	ID        SlotID
	Token     string
	Transport *protocol.PacketStream
	Board     Board
	Alive     bool

	// Reconnectable is true while the slot's occupant still owns Token and
	// may reattach via the reconnect registry. A slot filled by a promoted
	// spectator sets this false: cascading promotion re-invokes C3.promote
	// directly on any further drop instead of waiting on C2 (spec.md §4.4).
	Reconnectable bool
}

// Outcome is a match's terminal result: the winner/loss designation and,
// where relevant, the cause (spec.md §4.4).
type Outcome struct {
	Result string // "A_win", "B_win", "ABANDONED"
	Cause  string // "", "timeout", "concession", "placement_drop"
}

// Result is what Run returns: the outcome plus each slot's final transport
// and token. A slot's transport is nil when that slot was no longer alive at
// termination; tokens are always set. Whether a live transport is requeued is
// decided by the lobby from Outcome (spec.md §4.5).
type Result struct {
	Outcome Outcome
	SlotA   *protocol.PacketStream
	SlotB   *protocol.PacketStream
	TokenA  string
	TokenB  string
}
