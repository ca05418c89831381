package boardgame

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/unixthat/beer-project/internal/protocol"
)

func TestParseCoordinateValid(t *testing.T) {
	cases := []struct {
		in        string
		row, col int
	}{
		{"A1", 0, 0},
		{"a1", 0, 0},
		{"J10", 9, 9},
		{"E5", 4, 4},
	}
	for _, c := range cases {
		row, col, err := ParseCoordinate(c.in, defaultBoardSize)
		if err != nil {
			t.Fatalf("ParseCoordinate(%q): %v", c.in, err)
		}
		if row != c.row || col != c.col {
			t.Fatalf("ParseCoordinate(%q) = (%d,%d), want (%d,%d)", c.in, row, col, c.row, c.col)
		}
	}
}

func TestParseCoordinateInvalid(t *testing.T) {
	for _, in := range []string{"K1", "A0", "A11", "1A", "", "AA"} {
		if _, _, err := ParseCoordinate(in, defaultBoardSize); err == nil {
			t.Errorf("ParseCoordinate(%q) accepted an invalid coordinate", in)
		}
	}
}

func TestPlaceShipsRandomlyNoOverlap(t *testing.T) {
	b := New(defaultBoardSize, rand.NewSource(1))
	b.PlaceShipsRandomly(false)

	if len(b.ships) != len(classicFleet) {
		t.Fatalf("placed %d ships, want %d", len(b.ships), len(classicFleet))
	}
	seen := make(map[coord]bool)
	for _, s := range b.ships {
		for _, c := range s.cells {
			if seen[c] {
				t.Fatalf("cell %+v occupied by more than one ship", c)
			}
			seen[c] = true
		}
	}
}

func TestFireAtHitMissAlreadyShot(t *testing.T) {
	b := New(defaultBoardSize, rand.NewSource(2))
	b.PlaceShipsRandomly(true) // single 5-cell ship, easier to target deterministically

	s := b.ships[0]
	row, col := s.cells[0].row, s.cells[0].col

	result, _, err := b.FireAt(row, col)
	if err != nil || result != Hit {
		t.Fatalf("first shot on ship cell: result=%v err=%v, want Hit", result, err)
	}

	result, _, err = b.FireAt(row, col)
	if err != nil || result != AlreadyShot {
		t.Fatalf("repeat shot: result=%v err=%v, want AlreadyShot", result, err)
	}

	// Find an empty cell for a guaranteed miss.
	found := false
	for r := 0; r < defaultBoardSize && !found; r++ {
		for c := 0; c < defaultBoardSize && !found; c++ {
			if !b.grid[r][c].occupied {
				result, _, err = b.FireAt(r, c)
				if err != nil || result != Miss {
					t.Fatalf("shot on empty cell: result=%v err=%v, want Miss", result, err)
				}
				found = true
			}
		}
	}
	if !found {
		t.Fatal("board has no empty cell to test a miss against")
	}
}

func TestFireAtSinksShip(t *testing.T) {
	b := New(defaultBoardSize, rand.NewSource(3))
	b.PlaceShipsRandomly(true)

	s := b.ships[0]
	var sunkName string
	for i, c := range s.cells {
		result, name, err := b.FireAt(c.row, c.col)
		if err != nil || result != Hit {
			t.Fatalf("shot %d: result=%v err=%v, want Hit", i, result, err)
		}
		sunkName = name
	}
	if sunkName != s.class.Name {
		t.Fatalf("last shot returned sunk=%q, want %q", sunkName, s.class.Name)
	}
	if !b.AllShipsSunk() {
		t.Fatal("AllShipsSunk() = false after sinking the only ship")
	}
}

func TestRenderSelfAndOpponentView(t *testing.T) {
	b := New(defaultBoardSize, rand.NewSource(4))
	b.PlaceShipsRandomly(true)
	s := b.ships[0]
	b.FireAt(s.cells[0].row, s.cells[0].col)

	self := b.RenderSelf()
	opp := b.RenderOpponentView()
	if len(self) != defaultBoardSize || len(opp) != defaultBoardSize {
		t.Fatalf("render row counts = %d/%d, want %d", len(self), len(opp), defaultBoardSize)
	}
	if self[s.cells[0].row][s.cells[0].col] != 'X' {
		t.Fatalf("self render at hit cell = %q, want 'X'", self[s.cells[0].row][s.cells[0].col])
	}
	if opp[s.cells[0].row][s.cells[0].col] != 'X' {
		t.Fatalf("opponent render at hit cell = %q, want 'X'", opp[s.cells[0].row][s.cells[0].col])
	}
	// An unsunk, unhit ship cell must not leak through the opponent's view.
	for _, c := range s.cells[1:] {
		if opp[c.row][c.col] != '.' {
			t.Fatalf("opponent view leaks an unhit ship cell at %+v: %q", c, opp[c.row][c.col])
		}
	}
}

func TestPlaceShipsManuallyRandomShortcut(t *testing.T) {
	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	peerStream := protocol.NewPacketStream(peer, nil, 0)
	done := make(chan error, 1)
	go func() {
		for {
			typ, _, err := peerStream.Recv(context.Background())
			if err != nil {
				done <- err
				return
			}
			if typ != protocol.FrameGame {
				continue
			}
			if err := peerStream.Send(protocol.FrameGame, map[string]string{"type": "random"}); err != nil {
				done <- err
				return
			}
			done <- nil
			// Keep reading so the ACK for the random command can be written.
			for {
				if _, _, err := peerStream.Recv(context.Background()); err != nil {
					return
				}
			}
		}
	}()

	b := New(defaultBoardSize, rand.NewSource(6))
	transport := protocol.NewPacketStream(conn, nil, 0)

	if err := b.PlaceShipsManually(context.Background(), transport, false, time.Second); err != nil {
		t.Fatalf("PlaceShipsManually = %v, want nil", err)
	}
	<-done
	if len(b.ships) != len(classicFleet) {
		t.Fatalf("placed %d ships via random shortcut, want %d", len(b.ships), len(classicFleet))
	}
}

func TestPlaceShipsManuallyTimesOut(t *testing.T) {
	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	// Drain the placement prompt so Send doesn't block, then go silent.
	go func() {
		buf := make([]byte, 4096)
		peer.Read(buf)
	}()

	b := New(defaultBoardSize, rand.NewSource(5))
	transport := protocol.NewPacketStream(conn, nil, 0)

	err := b.PlaceShipsManually(context.Background(), transport, true, 10*time.Millisecond)
	if !errors.Is(err, ErrPlacementTimeout) {
		t.Fatalf("PlaceShipsManually = %v, want ErrPlacementTimeout", err)
	}
}
