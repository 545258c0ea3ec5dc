package types

// Event names shared by the /sse and /ws fan-out endpoints.
const (
	EventModel = "model"
	EventPing  = "ping"
)

// Upstream -> server
// Register (sent once per connection):
//   action: "Register"
//   paths: string[]
//
// State frame:
//   { state: { "<key>": value, ... } } or { "<key>": value, ... }

// Server -> subscriber (/ws)
// model:
//   type: "model"
//   model: OverlayModel
//
// ping:
//   type: "ping"
//
// /sse carries the same payloads as "event: model" / "event: ping".
