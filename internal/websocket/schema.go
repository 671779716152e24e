package websocket

import "github.com/stemsi/exstem-tutor/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSubmit          Action = "submit"
	ActionFetchNext       Action = "fetch_next"
	ActionExecute         Action = "execute"
	ActionFetchObjectives Action = "fetch_objectives"
	ActionPing            Action = "ping"
)

// Request is every client message. Answer is only read for ActionSubmit;
// Language and Code only for ActionExecute.
type Request struct {
	Action   Action `json:"action"`
	Answer   string `json:"answer,omitempty"`
	Language string `json:"language,omitempty"`
	Code     string `json:"code,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState Event = "state"
	EventError Event = "error"
	EventPong  Event = "pong"
)

// StateEvent carries one render pass of the session.
type StateEvent struct {
	Event Event      `json:"event"`
	View  model.View `json:"view"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
