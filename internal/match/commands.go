package match

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/unixthat/beer-project/internal/protocol"
)

// ErrBadCommand marks a syntactically invalid or unrecognized inbound
// command, answered locally with ERR bad_command (spec.md §4.4).
var ErrBadCommand = errors.New("match: bad command")

// CommandKind tags which variant a parsed Command holds.
type CommandKind int

const (
	CmdFire CommandKind = iota
	CmdChat
	CmdQuit
)

// Command is the tagged variant the turn cycle dispatches on: parsed once
// at the edge from the inbound frame, per spec.md §9 ("Dynamic command
// dispatch").
type Command struct {
	Kind  CommandKind
	Coord string // set when Kind == CmdFire
	Text  string // set when Kind == CmdChat
}

type fireWire struct {
	Type  string `json:"type"`
	Coord string `json:"coord"`
}

type chatWire struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

// ParseCommand decodes a GAME-frame payload from a player into a Command.
func ParseCommand(payload []byte) (Command, error) {
	typ, err := protocol.MessageType(payload)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrBadCommand, err)
	}

	switch typ {
	case "fire":
		var w fireWire
		if err := json.Unmarshal(payload, &w); err != nil || w.Coord == "" {
			return Command{}, fmt.Errorf("%w: malformed fire command", ErrBadCommand)
		}
		return Command{Kind: CmdFire, Coord: w.Coord}, nil
	case "chat":
		var w chatWire
		if err := json.Unmarshal(payload, &w); err != nil {
			return Command{}, fmt.Errorf("%w: malformed chat command", ErrBadCommand)
		}
		return Command{Kind: CmdChat, Text: w.Msg}, nil
	case "quit":
		return Command{Kind: CmdQuit}, nil
	default:
		return Command{}, fmt.Errorf("%w: unrecognized command type %q", ErrBadCommand, typ)
	}
}
