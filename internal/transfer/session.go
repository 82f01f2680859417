// Package transfer implements the warm transfer state machine: per-call
// sessions that drive the whisper-accept handshake between an AI-initiated
// transfer request and a human agent.
package transfer

import (
	"errors"
	"time"
)

// State is a warm transfer session state. Transitions:
//
//	ai_active -> transfer_requested -> whisper_playing
//	whisper_playing -> accepted  -> bridged
//	whisper_playing -> declined  -> returned_to_ai
//	whisper_playing -> timeout   -> fallback
//	whisper_playing -> caller_hangup (caller gone, agent leg dropped)
type State string

const (
	StateAIActive          State = "ai_active"
	StateTransferRequested State = "transfer_requested"
	StateWhisperPlaying    State = "whisper_playing"
	StateAccepted          State = "accepted"
	StateDeclined          State = "declined"
	StateTimeout           State = "timeout"
	StateBridged           State = "bridged"
	StateReturnedToAI      State = "returned_to_ai"
	StateFallback          State = "fallback"
	StateCallerHangup      State = "caller_hangup"
)

var (
	// ErrNoSession is returned for a callSid with no active session.
	ErrNoSession = errors.New("no active session for call")

	// ErrTransferRace is returned when a transfer is requested for a call
	// that is not ai_active, including a second request for the same call.
	ErrTransferRace = errors.New("call is not available for transfer")

	// ErrStaleCallback is returned for a webhook that arrives after the
	// wait it belongs to has already resolved. Callers treat it as an
	// idempotent no-op and log at info level.
	ErrStaleCallback = errors.New("stale callback for resolved transfer")
)

// Session is the in-memory state of one call's transfer lifecycle. All
// access goes through the owning Manager, which holds the lock.
type Session struct {
	TenantID    string
	CallSid     string
	PhoneNumber string
	CallerID    string
	StartedAt   time.Time

	// Set once a transfer has been requested.
	AgentNumber  string
	AgentCallSid string
	Summary      string
	AcceptedBy   string

	state       State
	whisperT    *time.Timer
	requestedAt time.Time
}

// State returns the session's current state. Only safe to call on
// snapshots returned by the Manager.
func (s *Session) State() State {
	return s.state
}

// Snapshot is a read-only copy of a session for metrics and the ops API.
type Snapshot struct {
	TenantID     string    `json:"tenant_id"`
	CallSid      string    `json:"call_sid"`
	PhoneNumber  string    `json:"phone_number"`
	CallerID     string    `json:"caller_id"`
	State        State     `json:"state"`
	StartedAt    time.Time `json:"started_at"`
	AgentNumber  string    `json:"agent_number,omitempty"`
	AgentCallSid string    `json:"agent_call_sid,omitempty"`
	AcceptedBy   string    `json:"accepted_by,omitempty"`
}
