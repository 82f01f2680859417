// Package audit provides the transfer log recorder: best-effort,
// append-only persistence of call state transitions.
package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/voxgate/voxgate/internal/database"
	"github.com/voxgate/voxgate/internal/database/models"
)

// appendTimeout bounds a single log write so storage trouble can never
// hold up a telephony webhook response.
const appendTimeout = 2 * time.Second

// Recorder appends transition records to a transfer log store. Writes are
// best-effort: a storage failure is counted and logged but never surfaced
// to the call path.
type Recorder struct {
	store  database.TransferLogRepository
	logger *slog.Logger

	// nowFunc allows overriding the current time for testing.
	nowFunc func() time.Time

	appendFailures atomic.Uint64
}

// NewRecorder creates a recorder over the given store.
func NewRecorder(store database.TransferLogRepository, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:   store,
		logger:  logger.With("subsystem", "audit"),
		nowFunc: time.Now,
	}
}

// Record appends one transition for a call. It never returns an error:
// on storage failure it increments the failure counter and logs at error
// level so operators see it, while the call proceeds.
func (r *Recorder) Record(ctx context.Context, tenantID, callSid, fromState, toState, detail string) {
	entry := &models.TransferLogEntry{
		TenantID:  tenantID,
		CallSid:   callSid,
		Timestamp: r.nowFunc().UTC(),
		FromState: fromState,
		ToState:   toState,
		Detail:    detail,
	}

	// Detach from the caller's context so a webhook deadline that fires
	// mid-write doesn't abort the append, but still bound the write.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()

	if err := r.store.Append(writeCtx, entry); err != nil {
		r.appendFailures.Add(1)
		r.logger.Error("transfer log append failed",
			"tenant_id", tenantID,
			"call_sid", callSid,
			"from_state", fromState,
			"to_state", toState,
			"error", err,
		)
		return
	}

	r.logger.Debug("transition recorded",
		"tenant_id", tenantID,
		"call_sid", callSid,
		"from_state", fromState,
		"to_state", toState,
		"seq", entry.Seq,
	)
}

// Read returns the ordered transition history for a call.
func (r *Recorder) Read(ctx context.Context, tenantID, callSid string) ([]models.TransferLogEntry, error) {
	return r.store.ListByCall(ctx, tenantID, callSid)
}

// AppendFailures returns the number of failed log writes since startup.
// Exposed to the metrics collector.
func (r *Recorder) AppendFailures() uint64 {
	return r.appendFailures.Load()
}
