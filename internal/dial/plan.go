package dial

import (
	"sync"
	"time"

	"github.com/voxgate/voxgate/internal/database/models"
)

// Plan is the per-call forwarding progress for webhook-driven ring
// sequences. The provider executes one dial attempt per round-trip;
// the plan tracks which targets remain between webhooks.
type Plan struct {
	TenantID  string
	CallSid   string
	Targets   []models.Target
	Strategy  string
	Timeout   time.Duration
	Fallback  string
	PerTarget time.Duration
	NextIndex int // sequential only
	StartedAt time.Time
}

// Current returns the targets for the next dial attempt: one target for
// sequential plans, every target for simultaneous plans. ok is false when
// the plan is exhausted.
func (p *Plan) Current() (targets []models.Target, ok bool) {
	if p.Strategy == "simultaneous" {
		if p.NextIndex > 0 {
			return nil, false
		}
		return p.Targets, true
	}
	if p.NextIndex >= len(p.Targets) {
		return nil, false
	}
	return p.Targets[p.NextIndex : p.NextIndex+1], true
}

// Advance moves past the attempt Current returned. For simultaneous
// plans one attempt covers every target, so any advance exhausts it.
func (p *Plan) Advance() {
	if p.Strategy == "simultaneous" {
		p.NextIndex = len(p.Targets)
		return
	}
	p.NextIndex++
}

// AttemptTimeout returns the ring budget for one attempt: the full
// timeout for simultaneous plans, an equal share floored at the
// per-target minimum for sequential ones.
func (p *Plan) AttemptTimeout() time.Duration {
	if p.Strategy == "simultaneous" || len(p.Targets) == 0 {
		return p.Timeout
	}
	per := p.Timeout / time.Duration(len(p.Targets))
	if per < p.PerTarget {
		per = p.PerTarget
	}
	return per
}

// PlanStore holds active forwarding plans keyed by callSid.
type PlanStore struct {
	mu    sync.Mutex
	plans map[string]*Plan
}

// NewPlanStore creates an empty plan store.
func NewPlanStore() *PlanStore {
	return &PlanStore{plans: make(map[string]*Plan)}
}

// Create builds and stores a plan for a call from its forwarding policy.
// Targets must already be parsed and sorted (see ParseTargets).
func (ps *PlanStore) Create(tenantID, callSid string, ft *models.ForwardTargets, targets []models.Target, perTargetMinimum time.Duration) *Plan {
	timeout := DefaultTimeout
	if ft.TimeoutSeconds > 0 {
		timeout = time.Duration(ft.TimeoutSeconds) * time.Second
	}
	if perTargetMinimum <= 0 {
		perTargetMinimum = DefaultPerTargetMinimum
	}
	p := &Plan{
		TenantID:  tenantID,
		CallSid:   callSid,
		Targets:   targets,
		Strategy:  ft.RingStrategy,
		Timeout:   timeout,
		Fallback:  ft.Fallback,
		PerTarget: perTargetMinimum,
		StartedAt: time.Now(),
	}
	ps.mu.Lock()
	ps.plans[callSid] = p
	ps.mu.Unlock()
	return p
}

// Get returns the plan for a call, or nil.
func (ps *PlanStore) Get(callSid string) *Plan {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.plans[callSid]
}

// Delete removes a resolved plan.
func (ps *PlanStore) Delete(callSid string) {
	ps.mu.Lock()
	delete(ps.plans, callSid)
	ps.mu.Unlock()
}
