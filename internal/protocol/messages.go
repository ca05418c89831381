package protocol

import "encoding/json"

// typeEnvelope is decoded first to discover which concrete GAME payload
// follows, per spec.md §6.3 ("distinguished by a \"type\" field").
type typeEnvelope struct {
	Type string `json:"type"`
}

// MessageType returns the payload's "type" field without fully decoding it.
func MessageType(payload []byte) (string, error) {
	var env typeEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}

// Prompt is sent to the active slot at the start of AWAIT_TURN.
type Prompt struct {
	Type string `json:"type"`
}

func NewPrompt() Prompt { return Prompt{Type: "prompt"} }

// Shot reports the outcome of a FIRE command to both slots and spectators.
type Shot struct {
	Type   string `json:"type"`
	Coord  string `json:"coord"`
	Result string `json:"result"`
	Sunk   string `json:"sunk,omitempty"`
}

func NewShot(coord, result, sunk string) Shot {
	return Shot{Type: "shot", Coord: coord, Result: result, Sunk: sunk}
}

// Grid carries a slot's view of its own board.
type Grid struct {
	Type string   `json:"type"`
	Rows []string `json:"rows"`
}

func NewGrid(rows []string) Grid { return Grid{Type: "grid", Rows: rows} }

// OppGrid carries a slot's view of the opponent's board (fog-of-war render).
type OppGrid struct {
	Type string   `json:"type"`
	Rows []string `json:"rows"`
}

func NewOppGrid(rows []string) OppGrid { return OppGrid{Type: "oppgrid", Rows: rows} }

// Info carries a free-form informational message.
type Info struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func NewInfo(text string) Info { return Info{Type: "info", Text: text} }

// Err carries a local, non-escalating protocol or command error.
type Err struct {
	Type string `json:"type"`
	Code string `json:"code"`
	Text string `json:"text"`
}

func NewErr(code, text string) Err { return Err{Type: "err", Code: code, Text: text} }

// End carries a match's terminal outcome.
type End struct {
	Type    string `json:"type"`
	Outcome string `json:"outcome"`
	Cause   string `json:"cause,omitempty"`
}

func NewEnd(outcome, cause string) End { return End{Type: "end", Outcome: outcome, Cause: cause} }

// Chat is the CHAT-frame payload, per spec.md §6.3.
type Chat struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Msg  string `json:"msg"`
}

func NewChat(name, msg string) Chat { return Chat{Type: "chat", Name: name, Msg: msg} }
