package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxgate/voxgate/internal/database/models"
	"github.com/voxgate/voxgate/internal/dial"
)

// StatusWaiters matches provider status callbacks to in-flight dial
// attempts. A dial registers its new leg's SID; the status webhook
// resolves it with the leg's terminal status.
type StatusWaiters struct {
	mu      sync.Mutex
	waiters map[string]chan string
}

// NewStatusWaiters creates an empty waiter registry.
func NewStatusWaiters() *StatusWaiters {
	return &StatusWaiters{waiters: make(map[string]chan string)}
}

// Register adds a waiter for a leg's terminal status.
func (sw *StatusWaiters) Register(callSid string) <-chan string {
	ch := make(chan string, 1)
	sw.mu.Lock()
	sw.waiters[callSid] = ch
	sw.mu.Unlock()
	return ch
}

// Unregister drops a waiter that no longer cares.
func (sw *StatusWaiters) Unregister(callSid string) {
	sw.mu.Lock()
	delete(sw.waiters, callSid)
	sw.mu.Unlock()
}

// Resolve delivers a leg's status to its waiter, if any. Unmatched
// callbacks are the normal case for legs nothing is waiting on.
func (sw *StatusWaiters) Resolve(callSid, status string) bool {
	sw.mu.Lock()
	ch, ok := sw.waiters[callSid]
	if ok {
		delete(sw.waiters, callSid)
	}
	sw.mu.Unlock()
	if ok {
		ch <- status
	}
	return ok
}

// Dialer implements the orchestrator's dial abstraction over the REST
// client: it creates an outbound leg and blocks until the provider
// reports a terminal status or the context is cancelled. Cancellation
// hangs the leg up so the phone stops ringing.
type Dialer struct {
	client  *Client
	waiters *StatusWaiters
	baseURL string // public base URL for webhook callbacks
	logger  *slog.Logger

	// AnswerURL builds the webhook the answered leg fetches, given the
	// parent call's SID.
	AnswerURL func(callSid string) string

	// From returns the caller ID to present for a parent call, normally
	// the tenant's own number.
	From func(callSid string) string

	// OnLegCreated, when set, is told the new leg's SID before waiting.
	OnLegCreated func(callSid, legSid string)
}

// NewDialer creates a Dialer over the given client and waiter registry.
func NewDialer(client *Client, waiters *StatusWaiters, baseURL string, logger *slog.Logger) *Dialer {
	return &Dialer{
		client:  client,
		waiters: waiters,
		baseURL: baseURL,
		logger:  logger.With("subsystem", "provider"),
	}
}

// Dial rings one target on a fresh leg and waits for its terminal status.
func (d *Dialer) Dial(ctx context.Context, callSid string, target models.Target) (dial.Status, error) {
	answerURL := d.baseURL + "/voice/whisper?call_sid=" + callSid
	if d.AnswerURL != nil {
		answerURL = d.AnswerURL(callSid)
	}
	var from string
	if d.From != nil {
		from = d.From(callSid)
	}

	legSid, err := d.client.CreateCall(ctx, CallRequest{
		To:             target.To,
		From:           from,
		URL:            answerURL,
		StatusCallback: d.baseURL + "/voice/status",
	})
	if err != nil {
		return dial.StatusFailed, fmt.Errorf("dialing %s: %w", target.To, err)
	}

	if d.OnLegCreated != nil {
		d.OnLegCreated(callSid, legSid)
	}

	statusCh := d.waiters.Register(legSid)
	select {
	case status := <-statusCh:
		return mapStatus(status), nil
	case <-ctx.Done():
		d.waiters.Unregister(legSid)
		// Detached context: the caller's deadline is why we are here.
		if err := d.client.HangupCall(context.WithoutCancel(ctx), legSid); err != nil {
			d.logger.Warn("failed to hang up cancelled leg", "leg_sid", legSid, "error", err)
		}
		return dial.StatusNoAnswer, nil
	}
}

// mapStatus translates provider call statuses into dial statuses.
func mapStatus(status string) dial.Status {
	switch status {
	case "in-progress", "answered", "completed":
		return dial.StatusAnswered
	case "busy":
		return dial.StatusBusy
	case "no-answer":
		return dial.StatusNoAnswer
	default:
		return dial.StatusFailed
	}
}
