package nanika

import (
	"fmt"
	"os"
	"path/filepath"
)

// ControlRequest is sent to the daemon's control socket, one JSON object per line.
type ControlRequest struct {
	// Action is one of "status", "reload", "click", "talk", "choice", "notify",
	// "script", "config", "defaults", "default_prompt" or "validate".
	Action string `json:"action"`
	// Surface, X, Y and Button describe a click.
	Surface int `json:"surface,omitempty"`
	X       int `json:"x,omitempty"`
	Y       int `json:"y,omitempty"`
	Button  int `json:"button,omitempty"`
	// Text is the talk prompt, the choice id or the script to show.
	Text string `json:"text,omitempty"`
	// Event and References name an event for "notify".
	Event      string   `json:"event,omitempty"`
	References []string `json:"references,omitempty"`
}

// ControlResponse is the daemon's answer to a ControlRequest.
type ControlResponse struct {
	OK bool `json:"ok"`
	// Status is set for "status" and "reload".
	Status *Status `json:"status,omitempty"`
	// Config is set for "config" and "defaults".
	Config *Config `json:"config,omitempty"`
	// Prompt is the default talk prompt template.
	Prompt string `json:"prompt,omitempty"`
	// Warnings contains configuration warnings (for "validate").
	Warnings []string `json:"warnings,omitempty"`
	Error    *Error   `json:"error,omitempty"`
}

// Status describes a running ghost.
type Status struct {
	Name    string `json:"name"`
	State   string `json:"state"`
	Backend string `json:"backend"`
	Surface int    `json:"surface"`
	Talking bool   `json:"talking"`
	// FMOID is the ghost's mailbox identity, empty when FMO is disabled.
	FMOID string   `json:"fmo_id,omitempty"`
	SSTP  []string `json:"sstp,omitempty"`
}

// Error describes a daemon-side failure.
type Error struct {
	// Code is a machine-readable error identifier (e.g. "not_running", "unknown_action").
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// SocketPath returns the control socket path.
// Resolution order: $NANIKA_SOCKET > $XDG_RUNTIME_DIR/nanika.sock > /tmp/nanika-{uid}.sock
func SocketPath() string {
	if path := os.Getenv("NANIKA_SOCKET"); path != "" {
		return path
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "nanika.sock")
	}
	return fmt.Sprintf("/tmp/nanika-%d.sock", os.Getuid())
}
