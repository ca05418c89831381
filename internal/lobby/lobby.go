// Package lobby implements the accept loop and dispatcher (C5): it owns the
// listening socket, classifies every new connection as a reconnect, a
// spectator, or a waiting player, pairs waiting players into matches, and
// owns the post-match requeue policy.
package lobby

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/unixthat/beer-project/internal/boardgame"
	"github.com/unixthat/beer-project/internal/logging"
	"github.com/unixthat/beer-project/internal/match"
	"github.com/unixthat/beer-project/internal/protocol"
	"github.com/unixthat/beer-project/internal/reconnect"
	"github.com/unixthat/beer-project/internal/spectate"
)

// Config holds everything the lobby needs to classify connections and build
// matches; it is the dispatcher's half of the process configuration.
type Config struct {
	HandshakeTimeout time.Duration
	TurnTimeout      time.Duration
	PlaceTimeout     time.Duration
	ReconnectTimeout time.Duration
	BoardSize        int
	OneShip          bool
	FramesPerSec     float64
	Cipher           *protocol.Cipher // nil disables encryption

	StatsInterval        time.Duration
	HousekeepingInterval time.Duration

	// MatchLogDir, when non-empty, makes runMatch open a per-match gzip
	// transcript via internal/logging.NewMatchLogger (SPEC_FULL §10.2). Empty
	// disables the transcript entirely.
	MatchLogDir string
}

// defaultFramesPerSec is the inbound frame-rate limit applied when no
// operator override is configured: generous enough for legitimate
// prompt/fire/chat traffic, low enough that a flooding client trips the
// limiter well before it could starve the server's CRC/JSON pipeline.
const defaultFramesPerSec = 20

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.TurnTimeout == 0 {
		c.TurnTimeout = match.DefaultTurnTimeout
	}
	if c.PlaceTimeout == 0 {
		c.PlaceTimeout = match.DefaultPlaceTimeout
	}
	if c.ReconnectTimeout == 0 {
		c.ReconnectTimeout = match.DefaultReconnectTimeout
	}
	if c.BoardSize == 0 {
		c.BoardSize = 10
	}
	if c.FramesPerSec == 0 {
		c.FramesPerSec = defaultFramesPerSec
	}
	if c.StatsInterval == 0 {
		c.StatsInterval = statsInterval
	}
	if c.HousekeepingInterval == 0 {
		c.HousekeepingInterval = 10 * time.Second
	}
	return c
}

// waitingEntry is one (transport, token) pair sitting in the waiting list,
// per spec.md §4.5.
type waitingEntry struct {
	token     string
	transport *protocol.PacketStream
}

// Lobby is the single process-wide dispatcher: one instance owns the
// waiting list, the reconnect registry, and the spectator queue for
// whichever match is currently running.
type Lobby struct {
	cfg      Config
	logger   *slog.Logger
	registry *reconnect.Registry

	mu           sync.Mutex
	waiting      []waitingEntry
	spectators   *spectate.Queue
	running      *match.Session // nil when no match is in progress
	matchRunning bool
	matchSeq     int64 // next match transcript ordinal; touched only under mu

	rngSrc rand.Source
}

// New builds a Lobby. src seeds ship placement for every match this lobby
// runs; pass rand.NewSource(time.Now().UnixNano()) in production.
func New(cfg Config, logger *slog.Logger, src rand.Source) *Lobby {
	return &Lobby{
		cfg:        cfg.withDefaults(),
		logger:     logger,
		registry:   reconnect.New(),
		spectators: spectate.New(),
		rngSrc:     src,
	}
}

// Run accepts connections on ln until ctx is cancelled, dispatching each to
// its own goroutine (spec.md §5's "dedicated scheduling unit per concurrent
// activity"). It returns nil on a clean shutdown.
func (l *Lobby) Run(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		l.logger.Info("lobby shutting down")
		ln.Close()
	}()

	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.logger.Info("lobby accept loop stopped")
				return nil
			default:
				consecutiveErrors++
				l.logger.Error("accepting connection", "error", err, "consecutive_errors", consecutiveErrors)
				if consecutiveErrors > 5 {
					delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
					if delay > 5*time.Second {
						delay = 5 * time.Second
					}
					time.Sleep(delay)
				}
				continue
			}
		}
		consecutiveErrors = 0
		go l.handleConn(ctx, conn)
	}
}

// handleConn reads the unframed handshake line, then classifies the
// connection per spec.md §4.5's accept-loop rule.
func (l *Lobby) handleConn(ctx context.Context, conn net.Conn) {
	logger := l.logger.With("remote", conn.RemoteAddr().String())

	conn.SetReadDeadline(time.Now().Add(l.cfg.HandshakeTimeout))
	token, err := readHandshake(conn)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		logger.Warn("handshake failed", "error", err)
		conn.Close()
		return
	}
	logger = logger.With("token", token)

	transport := protocol.NewPacketStream(conn, l.cfg.Cipher, l.cfg.FramesPerSec)

	if l.registry.IsPending(token) {
		if err := l.registry.Attach(token, transport); err != nil {
			logger.Info("duplicate token during reconnect window", "error", err)
			_ = transport.Send(protocol.FrameGame, protocol.NewErr("duplicate_token", "another connection already reattached this token"))
			transport.Close()
			return
		}
		logger.Info("reattached")
		return
	}

	l.mu.Lock()
	if l.matchRunning {
		running := l.running
		l.spectators.Add(transport)
		l.mu.Unlock()
		logger.Info("joined as spectator")
		if running != nil {
			gridA, gridB, active := running.Snapshot()
			_ = l.spectators.Snapshot(transport, protocol.FrameGame, protocol.NewGrid(gridA))
			_ = l.spectators.Snapshot(transport, protocol.FrameGame, protocol.NewOppGrid(gridB))
			_ = l.spectators.Snapshot(transport, protocol.FrameGame, protocol.NewInfo(fmt.Sprintf("spectating: %s to move", active)))
		}
		return
	}
	l.waiting = append(l.waiting, waitingEntry{token: token, transport: transport})
	l.mu.Unlock()
	logger.Info("joined waiting list")
	l.tryPair(ctx)
}

// readHandshake reads the unframed "TOKEN <id>\n" line per spec.md §6.2.
func readHandshake(conn net.Conn) (string, error) {
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading handshake line: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != "TOKEN" || fields[1] == "" {
		return "", fmt.Errorf("malformed handshake line %q", line)
	}
	return fields[1], nil
}

// tryPair pops the first two waiting entries, if any, and starts a match for
// them. Single-match-at-a-time: a new pairing only happens when no match is
// currently running (spec.md §4.5).
func (l *Lobby) tryPair(ctx context.Context) {
	l.mu.Lock()
	if l.matchRunning || len(l.waiting) < 2 {
		l.mu.Unlock()
		return
	}
	a := l.waiting[0]
	b := l.waiting[1]
	l.waiting = l.waiting[2:]
	l.matchRunning = true
	l.mu.Unlock()

	go l.runMatch(ctx, a, b)
}

// runMatch builds fresh boards and slots for a and b, runs the session to
// completion, and applies the requeue policy to its result.
func (l *Lobby) runMatch(ctx context.Context, a, b waitingEntry) {
	slotA := &match.Slot{
		Token:         a.token,
		Transport:     a.transport,
		Board:         boardgame.New(l.cfg.BoardSize, l.rngSrc),
		Alive:         true,
		Reconnectable: true,
	}
	slotB := &match.Slot{
		Token:         b.token,
		Transport:     b.transport,
		Board:         boardgame.New(l.cfg.BoardSize, l.rngSrc),
		Alive:         true,
		Reconnectable: true,
	}

	l.mu.Lock()
	l.matchSeq++
	matchID := fmt.Sprintf("%d-%s-%s", l.matchSeq, a.token, b.token)
	l.mu.Unlock()

	matchLogger, closer, err := logging.NewMatchLogger(l.logger, l.cfg.MatchLogDir, matchID)
	if err != nil {
		l.logger.Error("opening match transcript", "match_id", matchID, "error", err)
		matchLogger, closer = l.logger, io.NopCloser(nil)
	}
	defer closer.Close()

	spectators := spectate.New()
	session := match.New(slotA, slotB, spectators, l.registry, l.cfg.OneShip,
		match.WithTimeouts(l.cfg.TurnTimeout, l.cfg.PlaceTimeout, l.cfg.ReconnectTimeout),
		match.WithLogger(matchLogger),
	)

	l.mu.Lock()
	l.running = session
	l.spectators = spectators
	l.mu.Unlock()

	matchLogger.Info("match starting", "match_id", matchID, "token_a", a.token, "token_b", b.token)
	result := session.Run(ctx)
	matchLogger.Info("match finished", "match_id", matchID, "outcome", result.Outcome.Result, "cause", result.Outcome.Cause)

	l.mu.Lock()
	l.matchRunning = false
	l.running = nil
	l.mu.Unlock()

	l.requeue(result)
	l.tryPair(ctx)
}

// requeue applies spec.md §4.5's post-match policy: the winner goes to the
// head of the waiting list if alive; the loser goes to the tail only if
// alive and the match ended for a reason other than timeout or concession.
func (l *Lobby) requeue(result match.Result) {
	var winnerToken, loserToken string
	var winnerTransport, loserTransport *protocol.PacketStream

	switch result.Outcome.Result {
	case "A_win":
		winnerToken, winnerTransport = result.TokenA, result.SlotA
		loserToken, loserTransport = result.TokenB, result.SlotB
	case "B_win":
		winnerToken, winnerTransport = result.TokenB, result.SlotB
		loserToken, loserTransport = result.TokenA, result.SlotA
	default: // ABANDONED: neither side is requeued.
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if winnerTransport != nil {
		l.waiting = append([]waitingEntry{{token: winnerToken, transport: winnerTransport}}, l.waiting...)
	}
	if loserTransport == nil {
		return
	}
	if result.Outcome.Cause != "timeout" && result.Outcome.Cause != "concession" {
		l.waiting = append(l.waiting, waitingEntry{token: loserToken, transport: loserTransport})
		return
	}
	// Not requeued: a transport dropped by concession or timeout closes here
	// rather than leaking, per spec.md §4.5.
	_ = loserTransport.Close()
}
