package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/voxgate/voxgate/internal/api/middleware"
	"github.com/voxgate/voxgate/internal/transfer"
)

// handleActiveCalls lists the authenticated tenant's live call sessions.
func (s *Server) handleActiveCalls(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.ToolTenantFromContext(r.Context())

	calls := make([]transfer.Snapshot, 0)
	for _, snap := range s.sessions.Active() {
		if snap.TenantID == tenantID {
			calls = append(calls, snap)
		}
	}
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].StartedAt.Before(calls[j].StartedAt)
	})

	writeJSON(w, http.StatusOK, calls)
}

// handleTransferLog returns the ordered transition history for one call.
func (s *Server) handleTransferLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := chi.URLParam(r, "tenantID")
	callSid := chi.URLParam(r, "callSid")

	if tenantID != middleware.ToolTenantFromContext(ctx) {
		// A foreign tenant's log looks identical to an absent one.
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	entries, err := s.recorder.Read(ctx, tenantID, callSid)
	if err != nil {
		s.logger.Error("reading transfer log", "tenant_id", tenantID, "call_sid", callSid, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read transfer log")
		return
	}

	writeJSON(w, http.StatusOK, entries)
}
