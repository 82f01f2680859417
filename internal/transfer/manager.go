package transfer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxgate/voxgate/internal/audit"
)

// DefaultWhisperWindow bounds how long an answered agent has to accept or
// decline before the transfer times out.
const DefaultWhisperWindow = 15 * time.Second

// Default DTMF digits for the whisper prompt.
const (
	DefaultAcceptDigit  = "1"
	DefaultDeclineDigit = "2"
)

// Options configures the state machine's tunables.
type Options struct {
	WhisperWindow time.Duration
	AcceptDigit   string
	DeclineDigit  string

	// OnTimeout is invoked exactly once per transfer whose whisper wait
	// expires, after the session has reached fallback. The gateway uses
	// it to push the fallback document to the live call. May be nil.
	OnTimeout func(tenantID, callSid string)
}

// Resolution reports how a whisper wait ended.
type Resolution struct {
	Terminal   State  // bridged, returned_to_ai, or fallback
	AcceptedBy string // set when Terminal == bridged
}

// Manager owns every active transfer session, keyed by callSid. Sessions
// share no state with each other; the manager lock covers the map and
// each session's transitions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	recorder *audit.Recorder
	logger   *slog.Logger
	opts     Options

	// nowFunc allows overriding the current time for testing.
	nowFunc func() time.Time
}

// NewManager creates a session manager. Zero-valued options get defaults.
func NewManager(recorder *audit.Recorder, logger *slog.Logger, opts Options) *Manager {
	if opts.WhisperWindow <= 0 {
		opts.WhisperWindow = DefaultWhisperWindow
	}
	if opts.AcceptDigit == "" {
		opts.AcceptDigit = DefaultAcceptDigit
	}
	if opts.DeclineDigit == "" {
		opts.DeclineDigit = DefaultDeclineDigit
	}
	return &Manager{
		sessions: make(map[string]*Session),
		recorder: recorder,
		logger:   logger.With("subsystem", "transfer"),
		opts:     opts,
		nowFunc:  time.Now,
	}
}

// SetOnTimeout installs the whisper-timeout hook. Must be called before
// the manager starts taking calls.
func (m *Manager) SetOnTimeout(f func(tenantID, callSid string)) {
	m.opts.OnTimeout = f
}

// Register creates an ai_active session for a newly-connected call. A
// second registration for the same callSid is replaced; providers can
// retry the inbound webhook.
func (m *Manager) Register(ctx context.Context, tenantID, callSid, phoneNumber, callerID string) {
	m.mu.Lock()
	if prev, ok := m.sessions[callSid]; ok {
		stopTimer(prev)
	}
	m.sessions[callSid] = &Session{
		TenantID:    tenantID,
		CallSid:     callSid,
		PhoneNumber: phoneNumber,
		CallerID:    callerID,
		StartedAt:   m.nowFunc(),
		state:       StateAIActive,
	}
	m.mu.Unlock()

	m.recorder.Record(ctx, tenantID, callSid, "inbound", string(StateAIActive), "")
	m.logger.Info("session registered",
		"tenant_id", tenantID,
		"call_sid", callSid,
		"caller_id", callerID,
	)
}

// RequestTransfer moves an ai_active call to transfer_requested. Any other
// current state, including a prior transfer in flight, is rejected with
// ErrTransferRace so the tool caller sees an explicit conflict.
func (m *Manager) RequestTransfer(ctx context.Context, callSid, agentNumber, summary string) error {
	m.mu.Lock()
	s, ok := m.sessions[callSid]
	if !ok {
		m.mu.Unlock()
		return ErrNoSession
	}
	if s.state != StateAIActive {
		state := s.state
		m.mu.Unlock()
		m.logger.Warn("transfer request rejected",
			"call_sid", callSid,
			"state", state,
		)
		return ErrTransferRace
	}
	s.state = StateTransferRequested
	s.AgentNumber = agentNumber
	s.Summary = summary
	s.requestedAt = m.nowFunc()
	tenantID := s.TenantID
	m.mu.Unlock()

	m.recorder.Record(ctx, tenantID, callSid, string(StateAIActive), string(StateTransferRequested),
		"agent "+agentNumber)
	m.logger.Info("transfer requested",
		"tenant_id", tenantID,
		"call_sid", callSid,
		"agent", agentNumber,
	)
	return nil
}

// AttachAgentLeg records the provider call SID of the dialed agent leg
// so later transitions can drop it.
func (m *Manager) AttachAgentLeg(callSid, agentCallSid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callSid]
	if !ok {
		return ErrNoSession
	}
	if s.state != StateTransferRequested {
		return ErrStaleCallback
	}
	s.AgentCallSid = agentCallSid
	return nil
}

// AbortTransfer returns a transfer_requested session to ai_active when
// the agent leg could not be created at all.
func (m *Manager) AbortTransfer(ctx context.Context, callSid, reason string) error {
	m.mu.Lock()
	s, ok := m.sessions[callSid]
	if !ok {
		m.mu.Unlock()
		return ErrNoSession
	}
	if s.state != StateTransferRequested {
		m.mu.Unlock()
		return ErrStaleCallback
	}
	s.state = StateAIActive
	s.AgentNumber = ""
	s.AgentCallSid = ""
	s.Summary = ""
	tenantID := s.TenantID
	m.mu.Unlock()

	m.recorder.Record(ctx, tenantID, callSid, string(StateTransferRequested), string(StateAIActive), reason)
	m.logger.Warn("transfer aborted",
		"tenant_id", tenantID,
		"call_sid", callSid,
		"reason", reason,
	)
	return nil
}

// BeginWhisper marks the agent leg answered and the whisper prompt
// playing, and arms the accept-window timer. The timer is the single
// authoritative deadline for this wait: provider callbacks that arrive
// after it fires are stale.
func (m *Manager) BeginWhisper(ctx context.Context, callSid string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[callSid]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNoSession
	}
	if s.state != StateTransferRequested {
		m.mu.Unlock()
		return nil, ErrStaleCallback
	}
	s.state = StateWhisperPlaying
	s.whisperT = time.AfterFunc(m.opts.WhisperWindow, func() {
		m.expireWhisper(callSid)
	})
	tenantID := s.TenantID
	snapshot := *s
	m.mu.Unlock()

	m.recorder.Record(ctx, tenantID, callSid, string(StateTransferRequested), string(StateWhisperPlaying),
		"window "+m.opts.WhisperWindow.String())
	m.logger.Info("whisper playing",
		"tenant_id", tenantID,
		"call_sid", callSid,
		"agent", snapshot.AgentNumber,
	)
	return &snapshot, nil
}

// HandleWhisperResult applies the agent's DTMF input to a whisper wait.
// The accept digit bridges; any other digit declines and returns the
// caller to the AI leg; an empty digit means the provider's gather timed
// out and resolves to fallback. A result for a wait that already resolved
// returns ErrStaleCallback.
func (m *Manager) HandleWhisperResult(ctx context.Context, callSid, digit string) (*Resolution, error) {
	m.mu.Lock()
	s, ok := m.sessions[callSid]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNoSession
	}
	if s.state != StateWhisperPlaying {
		m.mu.Unlock()
		return nil, ErrStaleCallback
	}
	stopTimer(s)
	tenantID := s.TenantID

	var res Resolution
	switch digit {
	case m.opts.AcceptDigit:
		s.state = StateBridged
		s.AcceptedBy = s.AgentNumber
		res = Resolution{Terminal: StateBridged, AcceptedBy: s.AcceptedBy}
	case "":
		s.state = StateFallback
		res = Resolution{Terminal: StateFallback}
	default:
		s.state = StateReturnedToAI
		res = Resolution{Terminal: StateReturnedToAI}
	}
	m.mu.Unlock()

	switch res.Terminal {
	case StateBridged:
		m.recorder.Record(ctx, tenantID, callSid, string(StateWhisperPlaying), string(StateAccepted),
			"digit "+digit)
		m.recorder.Record(ctx, tenantID, callSid, string(StateAccepted), string(StateBridged),
			"accepted_by "+res.AcceptedBy)
		m.logger.Info("transfer bridged",
			"tenant_id", tenantID,
			"call_sid", callSid,
			"accepted_by", res.AcceptedBy,
		)
	case StateReturnedToAI:
		m.recorder.Record(ctx, tenantID, callSid, string(StateWhisperPlaying), string(StateDeclined),
			"digit "+digit)
		m.recorder.Record(ctx, tenantID, callSid, string(StateDeclined), string(StateReturnedToAI), "")
		m.logger.Info("transfer declined",
			"tenant_id", tenantID,
			"call_sid", callSid,
		)
	case StateFallback:
		m.recorder.Record(ctx, tenantID, callSid, string(StateWhisperPlaying), string(StateTimeout),
			"no input")
		m.recorder.Record(ctx, tenantID, callSid, string(StateTimeout), string(StateFallback), "")
		m.logger.Info("whisper wait resolved to fallback",
			"tenant_id", tenantID,
			"call_sid", callSid,
		)
	}
	return &res, nil
}

// expireWhisper fires when the accept window elapses with no result. The
// state check makes the timeout path exclusive with HandleWhisperResult,
// so fallback runs exactly once per wait.
func (m *Manager) expireWhisper(callSid string) {
	m.mu.Lock()
	s, ok := m.sessions[callSid]
	if !ok || s.state != StateWhisperPlaying {
		m.mu.Unlock()
		return
	}
	s.state = StateFallback
	tenantID := s.TenantID
	m.mu.Unlock()

	ctx := context.Background()
	m.recorder.Record(ctx, tenantID, callSid, string(StateWhisperPlaying), string(StateTimeout),
		"window elapsed")
	m.recorder.Record(ctx, tenantID, callSid, string(StateTimeout), string(StateFallback), "")
	m.logger.Info("whisper window expired",
		"tenant_id", tenantID,
		"call_sid", callSid,
	)

	if m.opts.OnTimeout != nil {
		m.opts.OnTimeout(tenantID, callSid)
	}
}

// ReturnToAI rearms a session whose transfer declined so the AI leg can
// keep serving the caller and a later transfer attempt is possible.
func (m *Manager) ReturnToAI(callSid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callSid]
	if !ok {
		return ErrNoSession
	}
	if s.state != StateReturnedToAI {
		return ErrStaleCallback
	}
	s.state = StateAIActive
	s.AgentNumber = ""
	s.Summary = ""
	return nil
}

// CallerHangup tears a session down when the caller leg ends. A hangup
// during whisper_playing is an explicit transition: the agent leg is
// dropped and no fallback runs, since there is no caller left to serve.
func (m *Manager) CallerHangup(ctx context.Context, callSid string) {
	m.mu.Lock()
	s, ok := m.sessions[callSid]
	if !ok {
		m.mu.Unlock()
		return
	}
	stopTimer(s)
	prev := s.state
	delete(m.sessions, callSid)
	tenantID := s.TenantID
	m.mu.Unlock()

	if prev == StateWhisperPlaying {
		m.recorder.Record(ctx, tenantID, callSid, string(StateWhisperPlaying), string(StateCallerHangup),
			"agent leg dropped")
	}
	m.logger.Info("session ended",
		"tenant_id", tenantID,
		"call_sid", callSid,
		"last_state", prev,
	)
}

// End removes a session once the call has fully resolved (bridged call
// completed, fallback executed). Unknown callSids are ignored.
func (m *Manager) End(callSid string) {
	m.mu.Lock()
	if s, ok := m.sessions[callSid]; ok {
		stopTimer(s)
		delete(m.sessions, callSid)
	}
	m.mu.Unlock()
}

// Get returns a snapshot of one session, or nil if none is active.
func (m *Manager) Get(callSid string) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callSid]
	if !ok {
		return nil
	}
	snap := snapshotOf(s)
	return &snap
}

// Active returns snapshots of every live session, for metrics and the
// ops API.
func (m *Manager) Active() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, snapshotOf(s))
	}
	return out
}

// ActiveSessionsByState returns live session counts grouped by state,
// for the metrics collector.
func (m *Manager) ActiveSessionsByState() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, s := range m.sessions {
		counts[string(s.state)]++
	}
	return counts
}

// Shutdown stops every pending whisper timer. Called on process exit so
// no timer fires into torn-down dependencies.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		stopTimer(s)
	}
}

func snapshotOf(s *Session) Snapshot {
	return Snapshot{
		TenantID:     s.TenantID,
		CallSid:      s.CallSid,
		PhoneNumber:  s.PhoneNumber,
		CallerID:     s.CallerID,
		State:        s.state,
		StartedAt:    s.StartedAt,
		AgentNumber:  s.AgentNumber,
		AgentCallSid: s.AgentCallSid,
		AcceptedBy:   s.AcceptedBy,
	}
}

func stopTimer(s *Session) {
	if s.whisperT != nil {
		s.whisperT.Stop()
		s.whisperT = nil
	}
}
