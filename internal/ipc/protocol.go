// Package ipc carries control commands between vakil invocations over a unix socket.
package ipc

// Commands understood by the session owner.
const (
	CommandStatus = "status"
	CommandStop   = "stop"
	CommandCancel = "cancel"
	CommandSpeak  = "speak"
)

// Request is one newline-delimited JSON command.
type Request struct {
	ID      string `json:"id,omitempty"`
	Command string `json:"command"`
}

// Response echoes the request ID and reports the owner's workflow state.
type Response struct {
	ID      string `json:"id,omitempty"`
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Error   string `json:"error,omitempty"`
}
