package match

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/unixthat/beer-project/internal/boardgame"
	"github.com/unixthat/beer-project/internal/protocol"
	"github.com/unixthat/beer-project/internal/reconnect"
	"github.com/unixthat/beer-project/internal/spectate"
)

// Clock abstracts time so tests can run a full turn-timeout/reconnect/
// promotion cycle without sleeping. Grounded on the options-pattern clock
// injection in abrahamVado-DriftPursuit's match session/flow types.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Default timeouts, per spec.md §5.
const (
	DefaultTurnTimeout      = 60 * time.Second
	DefaultPlaceTimeout     = 60 * time.Second
	DefaultReconnectTimeout = 60 * time.Second
)

// dropPollWindow is how long handleDrop waits, after one slot drops, to see
// whether the other dropped in "the same poll window" (spec.md §4.4) before
// committing to a single-slot reconnect/promotion wait.
const dropPollWindow = 50 * time.Millisecond

// Option configures a Session at construction.
type Option func(*Session)

// WithClock overrides the session's time source; tests use a fake clock to
// drive turn timeouts and reconnect windows deterministically.
func WithClock(c Clock) Option { return func(s *Session) { s.clock = c } }

// WithTimeouts overrides T_turn, T_place, and T_reconnect.
func WithTimeouts(turn, place, reconnect time.Duration) Option {
	return func(s *Session) {
		s.turnTimeout = turn
		s.placeTimeout = place
		s.reconnectTimeout = reconnect
	}
}

// WithLogger attaches a structured logger; a nil logger (the default)
// disables logging.
func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.logger = l } }

// Session runs one match's state machine (C4): placement, the turn cycle,
// suspension/reconnect/promotion, and termination.
type Session struct {
	slots      [2]*Slot
	spectators *spectate.Queue
	registry   *reconnect.Registry
	oneShip    bool

	clock            Clock
	turnTimeout      time.Duration
	placeTimeout     time.Duration
	reconnectTimeout time.Duration

	// mu guards active against a concurrent Snapshot call while dispatch
	// swaps turns. The boards Snapshot renders are not guarded: FireAt
	// updates them without taking mu (see Snapshot). Every other field is
	// touched only by the Run goroutine.
	mu       sync.Mutex
	active   SlotID
	halfTurn int

	// generation counts, per slot, how many transports have been bound to it
	// (the original plus one per reconnect/promotion). Every inbound event
	// carries the generation of the read loop that produced it, so a stale
	// error from a transport that handleDrop already closed and replaced is
	// recognized and discarded instead of being mistaken for a fresh drop of
	// the new transport.
	generation [2]int

	logger *slog.Logger

	eventsMu sync.Mutex
	events   []Event
}

// Event is one frame this match emitted, in the order it was sent. It is the
// in-memory "sequence of emitted events" a Match holds (spec.md §3); a
// per-match transcript logger mirrors the same sequence to durable storage,
// but this slice is the source of truth.
type Event struct {
	Seq     int
	Frame   protocol.FrameType
	Payload any
}

// Events returns the events emitted so far. Safe to call concurrently with
// Run.
func (s *Session) Events() []Event {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// emit records payload as the next emitted event and, if a logger is
// attached, mirrors it to the match's transcript.
func (s *Session) emit(frame protocol.FrameType, payload any) {
	s.eventsMu.Lock()
	seq := len(s.events) + 1
	s.events = append(s.events, Event{Seq: seq, Frame: frame, Payload: payload})
	s.eventsMu.Unlock()
	if s.logger != nil {
		s.logger.Info("event", "seq", seq, "payload", payload)
	}
}

// sendTo sends payload on transport and records it as an emitted event. A
// nil transport is a no-op, matching the Alive-gated call sites that already
// guard against sending on a dead slot.
func (s *Session) sendTo(transport *protocol.PacketStream, frame protocol.FrameType, payload any) {
	if transport == nil {
		return
	}
	_ = transport.Send(frame, payload)
	s.emit(frame, payload)
}

// broadcastToSpectators broadcasts payload to the spectator queue and records
// it once as an emitted event, regardless of how many spectators receive it.
func (s *Session) broadcastToSpectators(frame protocol.FrameType, payload any) {
	s.spectators.Broadcast(frame, payload)
	s.emit(frame, payload)
}

// Snapshot returns a best-effort view of both boards and whose turn is
// active, for a spectator joining mid-match (spec.md §4.5's "send a
// snapshot"). It may interleave with an in-flight FireAt by a few
// microseconds; spectators are not given a linearizability guarantee.
func (s *Session) Snapshot() (gridA, gridB []string, active SlotID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[SlotA].Board.RenderSelf(), s.slots[SlotB].Board.RenderSelf(), s.active
}

// New builds a session for slotA/slotB, which must already have Token,
// Transport, and Board populated and Reconnectable set true.
func New(slotA, slotB *Slot, spectators *spectate.Queue, registry *reconnect.Registry, oneShip bool, opts ...Option) *Session {
	slotA.ID, slotB.ID = SlotA, SlotB
	s := &Session{
		slots:            [2]*Slot{slotA, slotB},
		spectators:       spectators,
		registry:         registry,
		oneShip:          oneShip,
		clock:            realClock{},
		turnTimeout:      DefaultTurnTimeout,
		placeTimeout:     DefaultPlaceTimeout,
		reconnectTimeout: DefaultReconnectTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) log(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Session) winResultFor(id SlotID) string {
	if id == SlotA {
		return "A_win"
	}
	return "B_win"
}

// Run drives the match to completion and returns its terminal Result.
func (s *Session) Run(ctx context.Context) Result {
	for _, id := range [2]SlotID{SlotA, SlotB} {
		slot := s.slots[id]
		slot.Reconnectable = true
		if err := slot.Board.PlaceShipsManually(ctx, slot.Transport, s.oneShip, s.placeTimeout); err != nil {
			if result, terminal := s.suspendForPlacement(ctx, id); terminal {
				return result
			}
		}
	}

	events := make(chan inbound, 4)
	s.startReadLoop(ctx, SlotA, s.generation[SlotA], events)
	s.startReadLoop(ctx, SlotB, s.generation[SlotB], events)

	s.active = SlotA
	s.halfTurn = 0
	for {
		if result, terminal := s.awaitTurn(ctx, events); terminal {
			return result
		}
	}
}

// inbound is what a slot's read loop posts to the session coordinator: one
// parsed command, or the error that ended the loop. gen identifies which
// transport generation produced it, so the coordinator can recognize and
// discard a stale post from a transport handleDrop already closed and
// replaced.
type inbound struct {
	slot SlotID
	gen  int
	cmd  Command
	err  error
}

// startReadLoop runs a dedicated reader for slot id's gen'th transport, per
// spec.md §5's scheduling model. It exits after the first error; the
// coordinator is responsible for starting a fresh loop, tagged with the next
// generation, once a new transport is bound in.
func (s *Session) startReadLoop(ctx context.Context, id SlotID, gen int, events chan<- inbound) {
	slot := s.slots[id]
	transport := slot.Transport
	go func() {
		for {
			_, payload, err := transport.Recv(ctx)
			if err != nil {
				select {
				case events <- inbound{slot: id, gen: gen, err: err}:
				case <-ctx.Done():
				}
				return
			}
			cmd, perr := ParseCommand(payload)
			if perr != nil {
				_ = transport.Send(protocol.FrameGame, protocol.NewErr("bad_command", perr.Error()))
				continue
			}
			select {
			case events <- inbound{slot: id, gen: gen, cmd: cmd}:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// broadcastBoards sends the active slot's opponent-view board to the
// passive slot, and, every two half-turns, a full snapshot to spectators
// (spec.md §4.3's snapshot cadence).
func (s *Session) broadcastBoards(active, passive *Slot) {
	if active.Alive {
		s.sendTo(active.Transport, protocol.FrameGame, protocol.NewOppGrid(passive.Board.RenderOpponentView()))
		s.sendTo(active.Transport, protocol.FrameGame, protocol.NewGrid(active.Board.RenderSelf()))
	}
	if passive.Alive {
		s.sendTo(passive.Transport, protocol.FrameGame, protocol.NewOppGrid(active.Board.RenderOpponentView()))
		s.sendTo(passive.Transport, protocol.FrameGame, protocol.NewGrid(passive.Board.RenderSelf()))
	}
	if s.halfTurn%2 == 0 {
		s.broadcastToSpectators(protocol.FrameGame, protocol.NewGrid(active.Board.RenderSelf()))
		s.broadcastToSpectators(protocol.FrameGame, protocol.NewGrid(passive.Board.RenderSelf()))
	}
}

// awaitTurn runs one full turn: PROMPT, wait for exactly one command from
// the active slot (spec.md §4.4), and resolve it. It returns terminal=true
// once Run should stop, carrying the match's final Result.
func (s *Session) awaitTurn(ctx context.Context, events chan inbound) (Result, bool) {
	active := s.slots[s.active]
	passive := s.slots[s.active.Other()]

	s.sendTo(active.Transport, protocol.FrameGame, protocol.NewPrompt())
	s.broadcastBoards(active, passive)
	timer := s.clock.After(s.turnTimeout)

	for {
		select {
		case ev := <-events:
			if ev.gen != s.generation[ev.slot] {
				continue // stale post from a transport generation handleDrop already replaced
			}
			if ev.slot != s.active {
				if ev.err != nil {
					return s.handleDrop(ctx, events, ev.slot)
				}
				s.sendTo(s.slots[ev.slot].Transport, protocol.FrameGame, protocol.NewErr("bad_command", "not your turn"))
				continue
			}
			if ev.err != nil {
				return s.handleDrop(ctx, events, ev.slot)
			}
			if result, terminal, consumed := s.dispatch(ctx, events, active, passive, ev.cmd); consumed {
				return result, terminal
			}
			continue
		case <-timer:
			return s.handleDrop(ctx, events, s.active)
		case <-ctx.Done():
			return Result{Outcome: Outcome{Result: "ABANDONED"}}, true
		}
	}
}

// dispatch resolves one command from the active slot. consumed reports
// whether the turn ended (FIRE or QUIT); CHAT never consumes the turn.
func (s *Session) dispatch(ctx context.Context, events chan inbound, active, passive *Slot, cmd Command) (Result, bool, bool) {
	switch cmd.Kind {
	case CmdChat:
		msg := protocol.NewChat(active.ID.String(), cmd.Text)
		if passive.Alive {
			s.sendTo(passive.Transport, protocol.FrameChat, msg)
		}
		s.broadcastToSpectators(protocol.FrameChat, msg)
		return Result{}, false, false

	case CmdQuit:
		result, terminal := s.terminate(Outcome{Result: s.winResultFor(s.active.Other()), Cause: "concession"})
		return result, terminal, true

	case CmdFire:
		row, col, err := boardgame.ParseCoordinate(cmd.Coord, passive.Board.Size())
		if err != nil {
			s.sendTo(active.Transport, protocol.FrameGame, protocol.NewErr("bad_command", "invalid coordinate"))
			return Result{}, false, false
		}
		shotResult, sunkName, err := passive.Board.FireAt(row, col)
		if err != nil {
			s.sendTo(active.Transport, protocol.FrameGame, protocol.NewErr("bad_command", "invalid coordinate"))
			return Result{}, false, false
		}

		shot := protocol.NewShot(cmd.Coord, shotResult.String(), sunkName)
		if active.Alive {
			s.sendTo(active.Transport, protocol.FrameGame, shot)
		}
		if passive.Alive {
			s.sendTo(passive.Transport, protocol.FrameGame, shot)
		}
		s.broadcastToSpectators(protocol.FrameGame, shot)

		if passive.Board.AllShipsSunk() {
			result, terminal := s.terminate(Outcome{Result: s.winResultFor(s.active)})
			return result, terminal, true
		}
		s.mu.Lock()
		s.active = s.active.Other()
		s.mu.Unlock()
		s.halfTurn++
		return Result{}, false, true

	default:
		s.sendTo(active.Transport, protocol.FrameGame, protocol.NewErr("bad_command", "unrecognized command"))
		return Result{}, false, false
	}
}

// handleDrop enters SUSPENDED for droppedID: closes its dead transport,
// checks whether the opponent dropped in the same window (ABANDONED), and
// otherwise waits for reconnect or falls through to spectator promotion,
// per spec.md §4.4.
func (s *Session) handleDrop(ctx context.Context, events chan inbound, droppedID SlotID) (Result, bool) {
	dropped := s.slots[droppedID]
	other := s.slots[droppedID.Other()]
	dropped.Alive = false
	if dropped.Transport != nil {
		_ = dropped.Transport.Close()
	}

	select {
	case ev := <-events:
		if ev.gen == s.generation[ev.slot] && ev.slot == droppedID.Other() && ev.err != nil {
			other.Alive = false
			if other.Transport != nil {
				_ = other.Transport.Close()
			}
			return s.terminate(Outcome{Result: "ABANDONED"})
		}
	case <-time.After(dropPollWindow):
	}

	if !dropped.Reconnectable {
		return s.promote(ctx, events, droppedID, "")
	}

	ch, err := s.registry.Register(dropped.Token)
	if err != nil {
		return s.terminate(Outcome{Result: s.winResultFor(droppedID.Other()), Cause: "timeout"})
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.reconnectTimeout)
	newTransport, werr := reconnect.Wait(waitCtx, ch)
	cancel()
	if werr != nil {
		s.registry.Cancel(dropped.Token)
		return s.promote(ctx, events, droppedID, "")
	}

	dropped.Transport = newTransport
	dropped.Alive = true
	s.sendTo(newTransport, protocol.FrameGame, protocol.NewGrid(dropped.Board.RenderSelf()))
	s.sendTo(newTransport, protocol.FrameGame, protocol.NewOppGrid(other.Board.RenderOpponentView()))
	s.generation[droppedID]++
	s.startReadLoop(ctx, droppedID, s.generation[droppedID], events)
	return Result{}, false
}

// promote fills droppedID from the spectator queue, cascading (the caller's
// next handleDrop call re-enters promote directly, since Reconnectable is
// now false) until either an occupant survives or the queue empties.
func (s *Session) promote(ctx context.Context, events chan inbound, droppedID SlotID, _ string) (Result, bool) {
	dropped := s.slots[droppedID]
	newTransport, ok := s.spectators.Promote()
	if !ok {
		return s.terminate(Outcome{Result: s.winResultFor(droppedID.Other()), Cause: "timeout"})
	}

	dropped.Transport = newTransport
	dropped.Alive = true
	dropped.Reconnectable = false
	s.sendTo(newTransport, protocol.FrameGame, protocol.NewGrid(dropped.Board.RenderSelf()))
	s.sendTo(newTransport, protocol.FrameGame, protocol.NewOppGrid(s.slots[droppedID.Other()].Board.RenderOpponentView()))
	s.sendTo(newTransport, protocol.FrameGame, protocol.NewPrompt())
	s.generation[droppedID]++
	s.startReadLoop(ctx, droppedID, s.generation[droppedID], events)
	return Result{}, false
}

// suspendForPlacement handles a placement-phase drop (cause placement_drop):
// the same reconnect-then-promote ladder as handleDrop, without a live
// events channel yet.
func (s *Session) suspendForPlacement(ctx context.Context, droppedID SlotID) (Result, bool) {
	dropped := s.slots[droppedID]
	dropped.Alive = false
	if dropped.Transport != nil {
		_ = dropped.Transport.Close()
	}

	if !dropped.Reconnectable {
		return s.promoteForPlacement(ctx, droppedID)
	}

	ch, err := s.registry.Register(dropped.Token)
	if err != nil {
		return s.terminate(Outcome{Result: s.winResultFor(droppedID.Other()), Cause: "placement_drop"})
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.reconnectTimeout)
	newTransport, werr := reconnect.Wait(waitCtx, ch)
	cancel()
	if werr != nil {
		s.registry.Cancel(dropped.Token)
		return s.promoteForPlacement(ctx, droppedID)
	}

	dropped.Transport = newTransport
	dropped.Alive = true
	if err := dropped.Board.PlaceShipsManually(ctx, newTransport, s.oneShip, s.placeTimeout); err != nil {
		return s.suspendForPlacement(ctx, droppedID)
	}
	return Result{}, false
}

func (s *Session) promoteForPlacement(ctx context.Context, droppedID SlotID) (Result, bool) {
	dropped := s.slots[droppedID]
	newTransport, ok := s.spectators.Promote()
	if !ok {
		return s.terminate(Outcome{Result: s.winResultFor(droppedID.Other()), Cause: "placement_drop"})
	}
	dropped.Transport = newTransport
	dropped.Alive = true
	dropped.Reconnectable = false
	if err := dropped.Board.PlaceShipsManually(ctx, newTransport, s.oneShip, s.placeTimeout); err != nil {
		return s.suspendForPlacement(ctx, droppedID)
	}
	return Result{}, false
}

// terminate emits END to every live participant, cancels any outstanding C2
// registrations for this match, and builds the final Result (spec.md §4.4).
func (s *Session) terminate(outcome Outcome) (Result, bool) {
	s.registry.Cancel(s.slots[SlotA].Token)
	s.registry.Cancel(s.slots[SlotB].Token)

	end := protocol.NewEnd(outcome.Result, outcome.Cause)
	var result Result
	result.Outcome = outcome
	result.TokenA = s.slots[SlotA].Token
	result.TokenB = s.slots[SlotB].Token
	for _, slot := range s.slots {
		if slot.Alive && slot.Transport != nil {
			s.sendTo(slot.Transport, protocol.FrameGame, end)
		}
	}
	s.broadcastToSpectators(protocol.FrameGame, end)

	if s.slots[SlotA].Alive {
		result.SlotA = s.slots[SlotA].Transport
	}
	if s.slots[SlotB].Alive {
		result.SlotB = s.slots[SlotB].Transport
	}
	return result, true
}
