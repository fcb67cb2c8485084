package websocket

import "github.com/stemsi/hourglass/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventMessage Event = "message"
	EventPong    Event = "pong"
)

// EventEnvelope is used by clients to peek at the event before full parsing.
type EventEnvelope struct {
	Event Event `json:"event"`
}

// MessageEvent delivers one proctor message as it is sent.
type MessageEvent struct {
	Event   Event         `json:"event"`
	Message model.Message `json:"message"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
