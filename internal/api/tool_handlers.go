package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/voxgate/voxgate/internal/api/middleware"
	"github.com/voxgate/voxgate/internal/database/models"
	"github.com/voxgate/voxgate/internal/dial"
	"github.com/voxgate/voxgate/internal/transfer"
)

// agentDialTimeout bounds how long the agent leg rings before the
// transfer is aborted back to the AI.
const agentDialTimeout = 30

type warmTransferRequest struct {
	CallSid     string `json:"call_sid"`
	AgentNumber string `json:"agent_number"`
	Summary     string `json:"summary"`
}

type warmTransferResponse struct {
	CallSid string `json:"call_sid"`
	Status  string `json:"status"`
}

// handleWarmTransfer is the AI runtime's tool call: escalate a live call
// to a human agent. It moves the session to transfer_requested and kicks
// off the agent leg dial; the whisper webhooks resolve the rest.
func (s *Server) handleWarmTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.ToolTenantFromContext(ctx)

	var req warmTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.CallSid == "" || req.AgentNumber == "" {
		writeError(w, http.StatusBadRequest, "call_sid and agent_number are required")
		return
	}
	if err := dial.ValidateTarget(models.Target{To: req.AgentNumber}); err != nil {
		writeError(w, http.StatusBadRequest, "agent_number must be a valid e.164 number")
		return
	}

	snap := s.sessions.Get(req.CallSid)
	if snap == nil || snap.TenantID != tenantID {
		// A foreign tenant's call looks identical to no call at all.
		writeError(w, http.StatusNotFound, "no active call with that sid")
		return
	}

	if err := s.sessions.RequestTransfer(ctx, req.CallSid, req.AgentNumber, req.Summary); err != nil {
		switch {
		case errors.Is(err, transfer.ErrNoSession):
			writeError(w, http.StatusNotFound, "no active call with that sid")
		case errors.Is(err, transfer.ErrTransferRace):
			writeError(w, http.StatusConflict, "a transfer is already in progress for this call")
		default:
			writeError(w, http.StatusInternalServerError, "transfer request failed")
		}
		return
	}

	// Dial the agent off the request's lifecycle; a caller hangup
	// cancels it through the status webhook.
	dialCtx, cancel := context.WithCancel(context.Background())
	s.registerAgentDial(req.CallSid, cancel)
	go s.dialAgent(dialCtx, tenantID, req.CallSid, req.AgentNumber)

	writeJSON(w, http.StatusAccepted, warmTransferResponse{
		CallSid: req.CallSid,
		Status:  string(transfer.StateTransferRequested),
	})
}

// dialAgent runs the agent leg's ring sequence. An answered leg hands
// control to the whisper webhooks; anything else returns the session to
// the AI.
func (s *Server) dialAgent(ctx context.Context, tenantID, callSid, agentNumber string) {
	defer s.dropAgentDial(callSid)

	policy := &models.ForwardTargets{
		TenantID:       tenantID,
		RingStrategy:   "sequential",
		TimeoutSeconds: agentDialTimeout,
		Fallback:       "return_to_ai",
	}
	targets := []models.Target{{To: agentNumber}}

	outcome, err := s.orchestrator.Execute(ctx, tenantID, callSid, policy, targets)
	if err != nil {
		s.logger.Error("agent dial failed", "call_sid", callSid, "agent", agentNumber, "error", err)
	}
	if ctx.Err() != nil {
		// Caller hung up mid-dial; the status handler tore the session down.
		return
	}
	if err != nil || !outcome.Connected {
		abortCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if aerr := s.sessions.AbortTransfer(abortCtx, callSid, "agent unreachable"); aerr != nil {
			s.logger.Info("transfer already resolved", "call_sid", callSid, "error", aerr)
		}
	}
}
