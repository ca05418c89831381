// Package boardgame implements the Battleship rules engine: the Board
// collaborator invoked by a match session through the narrow interface of
// spec.md §6.4. It owns ship placement, shot resolution, and both self and
// fog-of-war renders; it knows nothing about tokens, slots, or turn order.
package boardgame

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/unixthat/beer-project/internal/protocol"
)

// ShotResult classifies the outcome of a single FireAt call.
type ShotResult int

const (
	Miss ShotResult = iota
	Hit
	AlreadyShot
)

func (r ShotResult) String() string {
	switch r {
	case Hit:
		return "HIT"
	case AlreadyShot:
		return "ALREADY_SHOT"
	default:
		return "MISS"
	}
}

// ErrPlacementTimeout is returned by PlaceShipsManually when a ship isn't
// placed within its per-ship timeout (T_place, spec.md §5).
var ErrPlacementTimeout = errors.New("boardgame: ship placement timed out")

// shipClass is one entry of the fleet a board must place.
type shipClass struct {
	Name string
	Size int
}

// classicFleet is the standard five-ship Battleship fleet.
var classicFleet = []shipClass{
	{"carrier", 5},
	{"battleship", 4},
	{"cruiser", 3},
	{"submarine", 3},
	{"destroyer", 2},
}

// oneShipFleet backs the --one-ship server variant (spec.md §6.5).
var oneShipFleet = []shipClass{
	{"ship", 5},
}

const defaultBoardSize = 10

type cell struct {
	occupied bool
	hit      bool
	shipIdx  int // index into ships, valid only when occupied
}

type ship struct {
	class      shipClass
	cells      []coord
	hitsTaken  int
}

func (s *ship) sunk() bool { return s.hitsTaken >= s.class.Size }

type coord struct{ row, col int }

// Board is one player's grid: the fleet placed on it, and the shots the
// opponent has fired against it.
type Board struct {
	size  int
	grid  [][]cell
	ships []*ship
	rng   *rand.Rand
}

// New returns an empty board of size x size cells, seeded with src (pass
// rand.NewSource(time.Now().UnixNano()) in production; a fixed source makes
// placement deterministic in tests).
func New(size int, src rand.Source) *Board {
	if size <= 0 {
		size = defaultBoardSize
	}
	grid := make([][]cell, size)
	for i := range grid {
		grid[i] = make([]cell, size)
	}
	return &Board{size: size, grid: grid, rng: rand.New(src)}
}

// Size returns the board's edge length.
func (b *Board) Size() int { return b.size }

func fleetFor(oneShip bool) []shipClass {
	if oneShip {
		return oneShipFleet
	}
	return classicFleet
}

// PlaceShipsRandomly places the fleet at random non-overlapping positions.
func (b *Board) PlaceShipsRandomly(oneShip bool) {
	b.placeFleetRandomly(fleetFor(oneShip))
}

// placeFleetRandomly places exactly the given ship classes at random
// non-overlapping positions, leaving any already-placed ships untouched.
// Used both by PlaceShipsRandomly (the whole fleet) and by
// PlaceShipsManually's "random" shortcut (whatever ships remain unplaced).
func (b *Board) placeFleetRandomly(fleet []shipClass) {
	for _, class := range fleet {
		for {
			horizontal := b.rng.Intn(2) == 0
			var rowSpan, colSpan int
			if horizontal {
				rowSpan, colSpan = 1, class.Size
			} else {
				rowSpan, colSpan = class.Size, 1
			}
			row := b.rng.Intn(b.size - rowSpan + 1)
			col := b.rng.Intn(b.size - colSpan + 1)
			cells := cellsFor(row, col, class.Size, horizontal)
			if b.fits(cells) {
				b.place(class, cells)
				break
			}
		}
	}
}

func cellsFor(row, col, size int, horizontal bool) []coord {
	cells := make([]coord, size)
	for i := 0; i < size; i++ {
		if horizontal {
			cells[i] = coord{row, col + i}
		} else {
			cells[i] = coord{row + i, col}
		}
	}
	return cells
}

func (b *Board) fits(cells []coord) bool {
	for _, c := range cells {
		if c.row < 0 || c.row >= b.size || c.col < 0 || c.col >= b.size {
			return false
		}
		if b.grid[c.row][c.col].occupied {
			return false
		}
	}
	return true
}

func (b *Board) place(class shipClass, cells []coord) {
	s := &ship{class: class, cells: cells}
	idx := len(b.ships)
	b.ships = append(b.ships, s)
	for _, c := range cells {
		b.grid[c.row][c.col] = cell{occupied: true, shipIdx: idx}
	}
}

// placeRequest is the wire shape of one manual-placement command: a ship's
// bow coordinate and orientation.
type placeRequest struct {
	Type        string `json:"type"`
	Coord       string `json:"coord"`
	Orientation string `json:"orientation"`
}

// PlaceShipsManually prompts the owner, over transport, for each ship's
// position in turn, resetting the per-ship timeout on every prompt (spec.md
// §4.4, "reset at the start of each ship placement"). It returns
// ErrPlacementTimeout if a ship isn't placed in time, and the transport's own
// error, unwrapped, if the connection dies mid-placement.
func (b *Board) PlaceShipsManually(ctx context.Context, transport *protocol.PacketStream, oneShip bool, shipTimeout time.Duration) error {
	fleet := fleetFor(oneShip)
	for i, class := range fleet {
		if err := transport.Send(protocol.FrameGame, protocol.NewInfo(
			fmt.Sprintf("place %s (%d cells): send {coord, orientation: H|V}, or {\"type\":\"random\"} to auto-place the rest", class.Name, class.Size),
		)); err != nil {
			return err
		}

		shipCtx, cancel := context.WithTimeout(ctx, shipTimeout)
		placed := false
		for !placed {
			frameType, payload, err := transport.Recv(shipCtx)
			if err != nil {
				cancel()
				if errors.Is(err, context.DeadlineExceeded) {
					return ErrPlacementTimeout
				}
				return err
			}
			if frameType != protocol.FrameGame {
				continue
			}
			typ, terr := protocol.MessageType(payload)
			if terr == nil && typ == "random" {
				cancel()
				b.placeFleetRandomly(fleet[i:])
				return nil
			}
			var req placeRequest
			if terr != nil || typ != "place" {
				_ = transport.Send(protocol.FrameGame, protocol.NewErr("bad_command", "expected a place command"))
				continue
			}
			if err := json.Unmarshal(payload, &req); err != nil {
				_ = transport.Send(protocol.FrameGame, protocol.NewErr("bad_command", "malformed place command"))
				continue
			}

			row, col, err := ParseCoordinate(req.Coord, b.size)
			horizontal := strings.EqualFold(req.Orientation, "H")
			if err != nil || (!horizontal && !strings.EqualFold(req.Orientation, "V")) {
				_ = transport.Send(protocol.FrameGame, protocol.NewErr("bad_command", "invalid coordinate or orientation"))
				continue
			}
			cells := cellsFor(row, col, class.Size, horizontal)
			if !b.fits(cells) {
				_ = transport.Send(protocol.FrameGame, protocol.NewErr("bad_command", "ship does not fit there"))
				continue
			}
			b.place(class, cells)
			placed = true
		}
		cancel()
	}
	return nil
}

// FireAt resolves a shot at (row, col). sunkName is non-empty only when the
// shot sinks a ship.
func (b *Board) FireAt(row, col int) (result ShotResult, sunkName string, err error) {
	if row < 0 || row >= b.size || col < 0 || col >= b.size {
		return Miss, "", fmt.Errorf("boardgame: coordinate (%d,%d) out of range", row, col)
	}
	c := &b.grid[row][col]
	if !c.occupied {
		return Miss, "", nil
	}
	if c.hit {
		return AlreadyShot, "", nil
	}
	c.hit = true
	s := b.ships[c.shipIdx]
	s.hitsTaken++
	if s.sunk() {
		return Hit, s.class.Name, nil
	}
	return Hit, "", nil
}

// AllShipsSunk reports whether every ship on this board has been sunk.
func (b *Board) AllShipsSunk() bool {
	for _, s := range b.ships {
		if !s.sunk() {
			return false
		}
	}
	return true
}

// RenderSelf renders this board from its owner's point of view: ships
// visible, hits and misses marked.
func (b *Board) RenderSelf() []string {
	rows := make([]string, b.size)
	for r := 0; r < b.size; r++ {
		var sb strings.Builder
		for c := 0; c < b.size; c++ {
			cell := b.grid[r][c]
			switch {
			case cell.occupied && cell.hit:
				sb.WriteByte('X')
			case cell.occupied:
				sb.WriteByte('S')
			case cell.hit:
				sb.WriteByte('o')
			default:
				sb.WriteByte('.')
			}
		}
		rows[r] = sb.String()
	}
	return rows
}

// RenderOpponentView renders this board as its opponent should see it: only
// hits and misses, no unsunk ship positions (fog of war).
func (b *Board) RenderOpponentView() []string {
	rows := make([]string, b.size)
	for r := 0; r < b.size; r++ {
		var sb strings.Builder
		for c := 0; c < b.size; c++ {
			cell := b.grid[r][c]
			switch {
			case cell.occupied && cell.hit:
				sb.WriteByte('X')
			case cell.hit:
				sb.WriteByte('o')
			default:
				sb.WriteByte('.')
			}
		}
		rows[r] = sb.String()
	}
	return rows
}

// coordPattern matches spec.md §6.4's grammar for a 10x10 board: a letter
// A-J followed by 1-10. It is used only for that size; for any other
// BOARD_SIZE, ParseCoordinate checks the letter and number against the size
// directly.
var coordPattern = regexp.MustCompile(`^[A-Ja-j](10|[1-9])$`)

// ParseCoordinate parses a coordinate string into zero-based (row, col). For
// the default 10x10 board it enforces the exact grammar of spec.md §6.4;
// for a configured larger board it accepts the wider letter range BOARD_SIZE
// implies.
func ParseCoordinate(s string, size int) (row, col int, err error) {
	if size == defaultBoardSize {
		if !coordPattern.MatchString(s) {
			return 0, 0, fmt.Errorf("boardgame: %q is not a valid coordinate", s)
		}
	}
	if len(s) < 2 {
		return 0, 0, fmt.Errorf("boardgame: %q is not a valid coordinate", s)
	}
	letter := s[0]
	if letter >= 'a' && letter <= 'z' {
		letter -= 'a' - 'A'
	}
	row = int(letter - 'A')
	if row < 0 || row >= size {
		return 0, 0, fmt.Errorf("boardgame: %q row out of range for size %d", s, size)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 1 || n > size {
		return 0, 0, fmt.Errorf("boardgame: %q column out of range for size %d", s, size)
	}
	return row, n - 1, nil
}
