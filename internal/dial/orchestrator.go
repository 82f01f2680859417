// Package dial implements the forward orchestrator: it drives outbound
// dial attempts against a number's forward targets according to the
// configured ring strategy and timeout, and reports a single outcome.
package dial

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nyaruka/phonenumbers"
	"github.com/voxgate/voxgate/internal/audit"
	"github.com/voxgate/voxgate/internal/database/models"
)

// DefaultTimeout is the overall ring timeout applied when a forwarding
// policy doesn't set one.
const DefaultTimeout = 20 * time.Second

// DefaultPerTargetMinimum is the floor for a sequential dial attempt's
// share of the overall timeout.
const DefaultPerTargetMinimum = 5 * time.Second

// Status is the result of one dial attempt against one target.
type Status string

const (
	StatusAnswered Status = "answered"
	StatusBusy     Status = "busy"
	StatusNoAnswer Status = "no_answer"
	StatusFailed   Status = "failed"
)

// Dialer abstracts the telephony provider's outbound dial API. A dial
// attempt rings the target until it resolves or ctx is done; cancelling
// ctx must stop the target's phone ringing, not just abandon the result.
type Dialer interface {
	Dial(ctx context.Context, callSid string, target models.Target) (Status, error)
}

// Outcome is the overall result of a forwarding attempt.
type Outcome struct {
	Connected      bool
	AcceptedTarget *models.Target
	Elapsed        time.Duration
}

// Orchestrator executes ring sequences over a Dialer, logging every
// attempt and the resolution to the transfer log.
type Orchestrator struct {
	dialer   Dialer
	recorder *audit.Recorder
	logger   *slog.Logger

	// perTargetMinimum floors each sequential attempt's time budget.
	perTargetMinimum time.Duration
}

// NewOrchestrator creates an orchestrator. perTargetMinimum <= 0 applies
// the default floor.
func NewOrchestrator(dialer Dialer, recorder *audit.Recorder, logger *slog.Logger, perTargetMinimum time.Duration) *Orchestrator {
	if perTargetMinimum <= 0 {
		perTargetMinimum = DefaultPerTargetMinimum
	}
	return &Orchestrator{
		dialer:           dialer,
		recorder:         recorder,
		logger:           logger.With("subsystem", "dial"),
		perTargetMinimum: perTargetMinimum,
	}
}

// Execute rings the given targets per the policy's strategy. It returns
// Connected=false on exhaustion, leaving fallback execution to the caller.
// If ctx is cancelled (caller hung up mid-dial) all outstanding attempts
// are cancelled immediately and a caller_hangup entry is logged.
func (o *Orchestrator) Execute(ctx context.Context, tenantID, callSid string, ft *models.ForwardTargets, targets []models.Target) (*Outcome, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no dialable targets configured")
	}

	timeout := DefaultTimeout
	if ft.TimeoutSeconds > 0 {
		timeout = time.Duration(ft.TimeoutSeconds) * time.Second
	}

	start := time.Now()

	o.logger.Info("forwarding starting",
		"tenant_id", tenantID,
		"call_sid", callSid,
		"strategy", ft.RingStrategy,
		"targets", len(targets),
		"timeout", timeout,
	)

	var outcome *Outcome
	var err error
	switch ft.RingStrategy {
	case "simultaneous":
		outcome, err = o.ringSimultaneous(ctx, tenantID, callSid, targets, timeout)
	default:
		outcome, err = o.ringSequential(ctx, tenantID, callSid, targets, timeout)
	}
	if err != nil {
		return nil, err
	}
	outcome.Elapsed = time.Since(start)

	if ctx.Err() == context.Canceled {
		o.recorder.Record(ctx, tenantID, callSid, "forwarding", "caller_hangup", "")
		o.logger.Info("caller hung up mid-dial",
			"tenant_id", tenantID,
			"call_sid", callSid,
		)
		return outcome, nil
	}

	if outcome.Connected {
		o.recorder.Record(ctx, tenantID, callSid, "dial_attempt", "connected",
			"target "+outcome.AcceptedTarget.To)
		o.logger.Info("forwarding connected",
			"tenant_id", tenantID,
			"call_sid", callSid,
			"target", outcome.AcceptedTarget.To,
			"elapsed", outcome.Elapsed,
		)
	} else {
		o.recorder.Record(ctx, tenantID, callSid, "forwarding", "fallback_triggered", ft.Fallback)
		o.logger.Info("forwarding exhausted",
			"tenant_id", tenantID,
			"call_sid", callSid,
			"fallback", ft.Fallback,
			"elapsed", outcome.Elapsed,
		)
	}

	return outcome, nil
}

// ringSequential dials targets one at a time in list order. Each attempt
// gets an equal share of the overall timeout, floored at the per-target
// minimum; the overall deadline still bounds the whole sequence.
func (o *Orchestrator) ringSequential(ctx context.Context, tenantID, callSid string, targets []models.Target, timeout time.Duration) (*Outcome, error) {
	seqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	perTarget := timeout / time.Duration(len(targets))
	if perTarget < o.perTargetMinimum {
		perTarget = o.perTargetMinimum
	}

	for i := range targets {
		if seqCtx.Err() != nil {
			break
		}
		target := targets[i]

		o.recorder.Record(ctx, tenantID, callSid, "forwarding", "dial_attempt", "target "+target.To)
		o.logger.Debug("dialing target",
			"call_sid", callSid,
			"target", target.To,
			"attempt", i+1,
			"budget", perTarget,
		)

		attemptCtx, attemptCancel := context.WithTimeout(seqCtx, perTarget)
		status, err := o.dialer.Dial(attemptCtx, callSid, target)
		attemptCancel()

		if err != nil {
			// Target unreachable: advance the sequence, not fatal.
			o.logger.Warn("dial attempt failed",
				"call_sid", callSid,
				"target", target.To,
				"error", err,
			)
			continue
		}

		if status == StatusAnswered {
			return &Outcome{Connected: true, AcceptedTarget: &target}, nil
		}

		o.logger.Debug("target did not answer",
			"call_sid", callSid,
			"target", target.To,
			"status", status,
		)
	}

	return &Outcome{Connected: false}, nil
}

// legResult pairs a dial result with the target it came from.
type legResult struct {
	target models.Target
	status Status
	err    error
}

// ringSimultaneous dials all targets concurrently. The first answer wins
// and every other leg is cancelled; cancellation stops the losing phones
// ringing so the caller can never be double-connected.
func (o *Orchestrator) ringSimultaneous(ctx context.Context, tenantID, callSid string, targets []models.Target, timeout time.Duration) (*Outcome, error) {
	ringCtx, cancelRing := context.WithTimeout(ctx, timeout)
	defer cancelRing()

	resultCh := make(chan legResult, len(targets))
	var wg sync.WaitGroup

	for i := range targets {
		target := targets[i]
		o.recorder.Record(ctx, tenantID, callSid, "forwarding", "dial_attempt", "target "+target.To)

		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := o.dialer.Dial(ringCtx, callSid, target)
			resultCh <- legResult{target: target, status: status, err: err}
		}()
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var winner *models.Target
	for lr := range resultCh {
		if lr.err != nil {
			o.logger.Warn("dial leg failed",
				"call_sid", callSid,
				"target", lr.target.To,
				"error", lr.err,
			)
			continue
		}
		if lr.status == StatusAnswered && winner == nil {
			winner = &lr.target
			// First answer wins: cancel every other leg immediately.
			cancelRing()
		}
	}

	if winner == nil {
		return &Outcome{Connected: false}, nil
	}
	return &Outcome{Connected: true, AcceptedTarget: winner}, nil
}

// ParseTargets decodes a forwarding policy's Targets JSON into a dial
// order: valid E.164 numbers only, sorted by ascending priority (stable).
// Invalid entries are skipped with a warning rather than failing the
// whole policy.
func ParseTargets(ft *models.ForwardTargets, logger *slog.Logger) ([]models.Target, error) {
	var targets []models.Target
	if err := json.Unmarshal([]byte(ft.Targets), &targets); err != nil {
		return nil, fmt.Errorf("parsing targets json: %w", err)
	}

	valid := targets[:0]
	for _, t := range targets {
		if err := ValidateTarget(t); err != nil {
			logger.Warn("skipping invalid forward target",
				"tenant_id", ft.TenantID,
				"phone_number", ft.PhoneNumber,
				"target", t.To,
				"error", err,
			)
			continue
		}
		valid = append(valid, t)
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Priority < valid[j].Priority
	})

	return valid, nil
}

// ValidateTarget checks that a target is a dialable E.164 number.
func ValidateTarget(t models.Target) error {
	num, err := phonenumbers.Parse(t.To, "")
	if err != nil {
		return fmt.Errorf("parsing number %q: %w", t.To, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return fmt.Errorf("number %q is not a valid e.164 number", t.To)
	}
	return nil
}
