package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/voxgate/voxgate/internal/database/models"
	"github.com/voxgate/voxgate/internal/dial"
	"github.com/voxgate/voxgate/internal/routing"
	"github.com/voxgate/voxgate/internal/transfer"
	"github.com/voxgate/voxgate/internal/twiml"
)

// handleInbound answers a new call: it resolves the dialed number's
// routing config, runs the rule matcher, and instructs the provider to
// connect the caller to the AI runtime or to start a forwarding sequence.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callSid := r.PostFormValue("CallSid")
	from := r.PostFormValue("From")
	to := r.PostFormValue("To")
	if callSid == "" || to == "" {
		writeError(w, http.StatusBadRequest, "missing CallSid or To")
		return
	}

	cfg, err := s.routing.FindByNumber(ctx, to)
	if err != nil {
		s.logger.Error("loading routing config", "call_sid", callSid, "to", to, "error", err)
		writeDocument(w, dial.RenderFallback(dial.FallbackHangup, s.fallbackURLs()))
		return
	}

	decision := routing.Decide(cfg, time.Now())
	tenantID := ""
	if cfg != nil {
		tenantID = cfg.TenantID
	}

	s.logger.Info("inbound call routed",
		"tenant_id", tenantID,
		"call_sid", callSid,
		"to", to,
		"action", decision.Action,
		"reason", decision.Reason,
	)

	if decision.Action == routing.ActionAI {
		s.sessions.Register(ctx, tenantID, callSid, to, from)
		writeDocument(w, s.aiConnectDoc())
		return
	}

	s.recorder.Record(ctx, tenantID, callSid, "inbound", "forwarding", string(decision.Reason))
	s.startForwarding(w, r, tenantID, callSid, to, decision.TargetsOverride)
}

// startForwarding builds the call's forwarding plan and issues the first
// dial attempt. Every ring progression after this arrives via
// /voice/forward-next.
func (s *Server) startForwarding(w http.ResponseWriter, r *http.Request, tenantID, callSid, to string, override []models.Target) {
	ctx := r.Context()

	ft, err := s.targets.GetByNumber(ctx, tenantID, to)
	if err != nil {
		s.logger.Error("loading forward targets", "call_sid", callSid, "error", err)
		writeDocument(w, dial.RenderFallback(dial.FallbackHangup, s.fallbackURLs()))
		return
	}
	if ft == nil {
		// Rule override can still carry targets without a stored policy.
		ft = &models.ForwardTargets{
			TenantID:     tenantID,
			PhoneNumber:  to,
			RingStrategy: "sequential",
			Fallback:     dial.FallbackHangup,
		}
	}

	var targets []models.Target
	if len(override) > 0 {
		for _, t := range override {
			if err := dial.ValidateTarget(t); err != nil {
				s.logger.Warn("skipping invalid override target", "call_sid", callSid, "target", t.To, "error", err)
				continue
			}
			targets = append(targets, t)
		}
	} else if ft.Targets != "" {
		targets, err = dial.ParseTargets(ft, s.logger)
		if err != nil {
			s.logger.Error("parsing forward targets", "call_sid", callSid, "error", err)
		}
	}

	if len(targets) == 0 {
		s.recorder.Record(ctx, tenantID, callSid, "forwarding", "fallback_triggered", ft.Fallback)
		writeDocument(w, dial.RenderFallback(ft.Fallback, s.fallbackURLs()))
		return
	}

	perTarget := time.Duration(s.cfg.PerTargetMinSeconds) * time.Second
	plan := s.plans.Create(tenantID, callSid, ft, targets, perTarget)

	batch, _ := plan.Current()
	for _, t := range batch {
		s.recorder.Record(ctx, tenantID, callSid, "forwarding", "dial_attempt", "target "+t.To)
	}
	writeDocument(w, s.dialDoc(plan, batch))
}

// handleForwardNext resolves one dial attempt's outcome and either
// connects, advances the ring sequence, or triggers the fallback.
func (s *Server) handleForwardNext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callSid := r.PostFormValue("CallSid")
	status := r.PostFormValue("DialCallStatus")

	plan := s.plans.Get(callSid)
	if plan == nil {
		// Already resolved; callbacks can race the caller hanging up.
		s.logger.Info("stale forward progression", "call_sid", callSid)
		writeDocument(w, &twiml.Response{})
		return
	}

	if status == "completed" || status == "answered" {
		batch, _ := plan.Current()
		detail := ""
		if len(batch) > 0 {
			detail = "target " + batch[0].To
		}
		s.recorder.Record(ctx, plan.TenantID, callSid, "dial_attempt", "connected", detail)
		s.plans.Delete(callSid)
		// The bridged conversation already ran; the action callback
		// fires when it ends.
		writeDocument(w, (&twiml.Response{}).Add(twiml.Hangup{}))
		return
	}

	plan.Advance()
	batch, ok := plan.Current()
	if !ok {
		s.recorder.Record(ctx, plan.TenantID, callSid, "forwarding", "fallback_triggered", plan.Fallback)
		s.plans.Delete(callSid)
		writeDocument(w, dial.RenderFallback(plan.Fallback, s.fallbackURLs()))
		return
	}

	for _, t := range batch {
		s.recorder.Record(ctx, plan.TenantID, callSid, "forwarding", "dial_attempt", "target "+t.To)
	}
	writeDocument(w, s.dialDoc(plan, batch))
}

// handleWhisper plays the private accept prompt to a newly-answered
// agent leg and starts the accept window.
func (s *Server) handleWhisper(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callSid := r.URL.Query().Get("call_sid")

	snap, err := s.sessions.BeginWhisper(ctx, callSid)
	if err != nil {
		// The wait already resolved; drop the agent leg.
		s.logger.Info("stale whisper fetch", "call_sid", callSid, "error", err)
		writeDocument(w, (&twiml.Response{}).Add(twiml.Hangup{}))
		return
	}

	prompt := fmt.Sprintf("Incoming call for %s from %s. %s Press %s to accept, or %s to decline.",
		snap.PhoneNumber, snap.CallerID, snap.Summary, s.cfg.AcceptDigit, s.cfg.DeclineDigit)

	resultURL := s.cfg.PublicBaseURL + "/voice/whisper-result?call_sid=" + callSid
	writeDocument(w, (&twiml.Response{}).Add(
		twiml.Gather{
			Action:    resultURL,
			Method:    "POST",
			NumDigits: 1,
			Timeout:   s.cfg.WhisperWindowSeconds,
			Verbs:     []any{twiml.Say{Text: prompt}},
		},
		// Gather fell through with no input; the result handler treats
		// the empty digit as a timeout.
		twiml.Redirect{Method: "POST", URL: resultURL},
	))
}

// handleWhisperResult applies the agent's keypress to the whisper wait
// and resolves all three legs accordingly.
func (s *Server) handleWhisperResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callSid := r.URL.Query().Get("call_sid")
	digit := r.PostFormValue("Digits")

	res, err := s.sessions.HandleWhisperResult(ctx, callSid, digit)
	if err != nil {
		s.logger.Info("stale whisper result", "call_sid", callSid, "error", err)
		writeDocument(w, (&twiml.Response{}).Add(twiml.Hangup{}))
		return
	}

	switch res.Terminal {
	case transfer.StateBridged:
		// Send the caller into the bridge; this response puts the
		// agent leg there.
		s.redirectCaller(ctx, callSid, "/voice/bridge?call_sid="+callSid)
		writeDocument(w, (&twiml.Response{}).Add(
			twiml.Say{Text: "Connecting you now."},
			twiml.Dial{Conf: &twiml.Conference{
				Room:         callSid,
				StartOnEnter: true,
				EndOnExit:    true,
			}},
		))
	case transfer.StateReturnedToAI:
		if err := s.sessions.ReturnToAI(callSid); err != nil {
			s.logger.Warn("rearming session after decline", "call_sid", callSid, "error", err)
		}
		// Caller never left the AI leg; just drop the agent.
		writeDocument(w, (&twiml.Response{}).Add(twiml.Hangup{}))
	default: // fallback
		s.redirectCaller(ctx, callSid, "/voice/fallback?call_sid="+callSid)
		writeDocument(w, (&twiml.Response{}).Add(twiml.Hangup{}))
	}
}

// handleBridge joins the caller leg to its call's conference room.
func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	callSid := r.URL.Query().Get("call_sid")
	writeDocument(w, (&twiml.Response{}).Add(
		twiml.Dial{Conf: &twiml.Conference{
			Room:         callSid,
			StartOnEnter: true,
			EndOnExit:    true,
		}},
	))
}

// handleFallback renders the caller's configured fallback action. Used
// for warm transfer resolutions; ring exhaustion renders its fallback
// inline in the forward progression.
func (s *Server) handleFallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callSid := r.URL.Query().Get("call_sid")

	fallback := dial.FallbackHangup
	if snap := s.sessions.Get(callSid); snap != nil {
		if ft, err := s.targets.GetByNumber(ctx, snap.TenantID, snap.PhoneNumber); err == nil && ft != nil && ft.Fallback != "" {
			fallback = ft.Fallback
		}
		s.sessions.End(callSid)
	}

	writeDocument(w, dial.RenderFallback(fallback, s.fallbackURLs()))
}

// handleAIConnect (re)connects a caller leg to the AI runtime's media
// stream. Serves both the ai_callback fallback and explicit returns.
func (s *Server) handleAIConnect(w http.ResponseWriter, r *http.Request) {
	writeDocument(w, s.aiConnectDoc())
}

// handleStatus receives provider leg status events. Dialed-leg events
// resolve their waiting dial attempts; terminal caller events tear the
// call's state down, cancelling any in-flight agent dial.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callSid := r.PostFormValue("CallSid")
	status := r.PostFormValue("CallStatus")

	if s.waiters.Resolve(callSid, status) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch status {
	case "completed", "busy", "no-answer", "failed", "canceled":
		s.cancelAgentDial(callSid)
		if plan := s.plans.Get(callSid); plan != nil {
			s.recorder.Record(ctx, plan.TenantID, callSid, "forwarding", "caller_hangup", "")
			s.plans.Delete(callSid)
		}
		s.sessions.CallerHangup(ctx, callSid)
	}

	w.WriteHeader(http.StatusNoContent)
}

// onWhisperTimeout is the manager's deadline hook: drop the agent leg
// and send the caller to the fallback.
func (s *Server) onWhisperTimeout(tenantID, callSid string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if snap := s.sessions.Get(callSid); snap != nil && snap.AgentCallSid != "" {
		if err := s.calls.HangupCall(ctx, snap.AgentCallSid); err != nil {
			s.logger.Warn("hanging up agent leg after timeout",
				"call_sid", callSid, "agent_call_sid", snap.AgentCallSid, "error", err)
		}
	}
	s.redirectCaller(ctx, callSid, "/voice/fallback?call_sid="+callSid)
}

// redirectCaller points the caller leg at a new document, detached from
// the webhook's own deadline.
func (s *Server) redirectCaller(ctx context.Context, callSid, path string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.calls.RedirectCall(rctx, callSid, s.cfg.PublicBaseURL+path); err != nil {
		s.logger.Error("redirecting caller leg", "call_sid", callSid, "path", path, "error", err)
	}
}

// aiConnectDoc builds the document that puts a leg on the AI runtime.
func (s *Server) aiConnectDoc() *twiml.Response {
	return (&twiml.Response{}).Add(twiml.Connect{
		Stream: twiml.Stream{URL: s.cfg.AIStreamURL},
	})
}

// dialDoc builds the dial document for one ring attempt of a plan.
func (s *Server) dialDoc(plan *dial.Plan, batch []models.Target) *twiml.Response {
	d := twiml.Dial{
		Action:  s.cfg.PublicBaseURL + "/voice/forward-next",
		Method:  "POST",
		Timeout: int(plan.AttemptTimeout().Seconds()),
	}
	for _, t := range batch {
		d.Numbers = append(d.Numbers, twiml.Number{To: t.To})
	}
	return (&twiml.Response{}).Add(d)
}

// fallbackURLs carries the endpoints fallback documents point at.
func (s *Server) fallbackURLs() dial.FallbackURLs {
	return dial.FallbackURLs{
		RecordingAction: s.cfg.PublicBaseURL + "/voice/status",
		AIConnect:       s.cfg.PublicBaseURL + "/voice/ai",
	}
}
