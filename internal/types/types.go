package types

import "encoding/json"

// RegisterMessage asks the scoreboard to start streaming the given key paths.
type RegisterMessage struct {
	Action string   `json:"action"` // "Register"
	Paths  []string `json:"paths"`
}

const ActionRegister = "Register"

// ServerMessage is a frame written to /ws subscribers.
type ServerMessage struct {
	Type  string          `json:"type"` // "model" | "ping"
	Model json.RawMessage `json:"model,omitempty"`
}
