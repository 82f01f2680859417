package dial

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/voxgate/voxgate/internal/audit"
	"github.com/voxgate/voxgate/internal/database/models"
)

// memLogStore is an in-memory transfer log for asserting emitted entries.
type memLogStore struct {
	mu      sync.Mutex
	entries []models.TransferLogEntry
}

func (s *memLogStore) Append(_ context.Context, entry *models.TransferLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Seq = len(s.entries) + 1
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *memLogStore) ListByCall(_ context.Context, tenantID, callSid string) ([]models.TransferLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TransferLogEntry
	for _, e := range s.entries {
		if e.TenantID == tenantID && e.CallSid == callSid {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memLogStore) countTo(toState string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.ToState == toState {
			n++
		}
	}
	return n
}

// targetBehavior scripts a fake dialer's response for one target.
type targetBehavior struct {
	status Status
	err    error
	delay  time.Duration // answered/busy after this long; blocks on ctx otherwise
}

// fakeDialer scripts dial outcomes per target number and records
// cancellations so tests can verify losers stopped ringing.
type fakeDialer struct {
	mu        sync.Mutex
	behaviors map[string]targetBehavior
	cancelled []string
	dialed    []string
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{behaviors: make(map[string]targetBehavior)}
}

func (d *fakeDialer) set(to string, b targetBehavior) {
	d.mu.Lock()
	d.behaviors[to] = b
	d.mu.Unlock()
}

func (d *fakeDialer) Dial(ctx context.Context, _ string, target models.Target) (Status, error) {
	d.mu.Lock()
	b, ok := d.behaviors[target.To]
	d.dialed = append(d.dialed, target.To)
	d.mu.Unlock()

	if !ok {
		// Unscripted targets ring until cancelled.
		<-ctx.Done()
		d.markCancelled(target.To)
		return StatusNoAnswer, nil
	}
	if b.err != nil {
		return StatusFailed, b.err
	}

	select {
	case <-time.After(b.delay):
		return b.status, nil
	case <-ctx.Done():
		d.markCancelled(target.To)
		return StatusNoAnswer, nil
	}
}

func (d *fakeDialer) markCancelled(to string) {
	d.mu.Lock()
	d.cancelled = append(d.cancelled, to)
	d.mu.Unlock()
}

func (d *fakeDialer) wasCancelled(to string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.cancelled {
		if c == to {
			return true
		}
	}
	return false
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func policy(strategy string, timeoutSeconds int) *models.ForwardTargets {
	return &models.ForwardTargets{
		TenantID:       "tn_1",
		PhoneNumber:    "+442071234567",
		RingStrategy:   strategy,
		TimeoutSeconds: timeoutSeconds,
		Fallback:       "voicemail",
	}
}

func newTestOrchestrator(d Dialer, store *memLogStore) *Orchestrator {
	rec := audit.NewRecorder(store, testLogger())
	return NewOrchestrator(d, rec, testLogger(), 10*time.Millisecond)
}

func TestSequentialFirstTargetAnswers(t *testing.T) {
	d := newFakeDialer()
	d.set("+447700900001", targetBehavior{status: StatusAnswered})
	store := &memLogStore{}
	o := newTestOrchestrator(d, store)

	targets := []models.Target{
		{To: "+447700900001", Priority: 1},
		{To: "+447700900002", Priority: 2},
	}

	outcome, err := o.Execute(context.Background(), "tn_1", "CA0001", policy("sequential", 1), targets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Connected {
		t.Fatal("expected connected outcome")
	}
	if outcome.AcceptedTarget.To != "+447700900001" {
		t.Errorf("accepted target = %q, want first target", outcome.AcceptedTarget.To)
	}

	// Second target must never have been dialed.
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, to := range d.dialed {
		if to == "+447700900002" {
			t.Error("second target was dialed after first answered")
		}
	}
}

func TestSequentialAdvancesOnBusy(t *testing.T) {
	d := newFakeDialer()
	d.set("+447700900001", targetBehavior{status: StatusBusy})
	d.set("+447700900002", targetBehavior{status: StatusAnswered})
	store := &memLogStore{}
	o := newTestOrchestrator(d, store)

	targets := []models.Target{
		{To: "+447700900001", Priority: 1},
		{To: "+447700900002", Priority: 2},
	}

	outcome, err := o.Execute(context.Background(), "tn_1", "CA0002", policy("sequential", 1), targets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Connected || outcome.AcceptedTarget.To != "+447700900002" {
		t.Errorf("outcome = %+v, want second target connected", outcome)
	}
}

func TestSequentialExhaustionTriggersFallbackOnce(t *testing.T) {
	d := newFakeDialer()
	d.set("+447700900001", targetBehavior{status: StatusNoAnswer})
	d.set("+447700900002", targetBehavior{status: StatusNoAnswer})
	store := &memLogStore{}
	o := newTestOrchestrator(d, store)

	targets := []models.Target{
		{To: "+447700900001", Priority: 1},
		{To: "+447700900002", Priority: 2},
	}

	outcome, err := o.Execute(context.Background(), "tn_1", "CA0003", policy("sequential", 1), targets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Connected {
		t.Fatal("expected unconnected outcome")
	}
	if n := store.countTo("fallback_triggered"); n != 1 {
		t.Errorf("fallback_triggered entries = %d, want exactly 1", n)
	}
	if n := store.countTo("dial_attempt"); n != 2 {
		t.Errorf("dial_attempt entries = %d, want 2", n)
	}
}

func TestSequentialDialErrorAdvances(t *testing.T) {
	d := newFakeDialer()
	d.set("+447700900001", targetBehavior{err: errors.New("provider 502")})
	d.set("+447700900002", targetBehavior{status: StatusAnswered})
	store := &memLogStore{}
	o := newTestOrchestrator(d, store)

	targets := []models.Target{
		{To: "+447700900001", Priority: 1},
		{To: "+447700900002", Priority: 2},
	}

	outcome, err := o.Execute(context.Background(), "tn_1", "CA0004", policy("sequential", 1), targets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Connected {
		t.Error("expected connection via second target after first errored")
	}
}

func TestSimultaneousFirstAnswerWinsAndCancelsLosers(t *testing.T) {
	d := newFakeDialer()
	d.set("+447700900001", targetBehavior{status: StatusAnswered, delay: 20 * time.Millisecond})
	// 900002 is unscripted: rings until cancelled.
	store := &memLogStore{}
	o := newTestOrchestrator(d, store)

	targets := []models.Target{
		{To: "+447700900001", Priority: 1},
		{To: "+447700900002", Priority: 2},
	}

	outcome, err := o.Execute(context.Background(), "tn_1", "CA0005", policy("simultaneous", 2), targets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Connected || outcome.AcceptedTarget.To != "+447700900001" {
		t.Fatalf("outcome = %+v, want first target connected", outcome)
	}
	if !d.wasCancelled("+447700900002") {
		t.Error("losing leg was not cancelled when the winner answered")
	}
	if n := store.countTo("dial_attempt"); n != 2 {
		t.Errorf("dial_attempt entries = %d, want 2", n)
	}
	if n := store.countTo("connected"); n != 1 {
		t.Errorf("connected entries = %d, want 1", n)
	}
}

func TestSimultaneousSecondAnswerIsIgnored(t *testing.T) {
	d := newFakeDialer()
	d.set("+447700900001", targetBehavior{status: StatusAnswered, delay: 10 * time.Millisecond})
	d.set("+447700900002", targetBehavior{status: StatusAnswered, delay: 30 * time.Millisecond})
	store := &memLogStore{}
	o := newTestOrchestrator(d, store)

	targets := []models.Target{
		{To: "+447700900001", Priority: 1},
		{To: "+447700900002", Priority: 2},
	}

	outcome, err := o.Execute(context.Background(), "tn_1", "CA0006", policy("simultaneous", 2), targets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.AcceptedTarget.To != "+447700900001" {
		t.Errorf("accepted target = %q, want the faster leg", outcome.AcceptedTarget.To)
	}
	if n := store.countTo("connected"); n != 1 {
		t.Errorf("connected entries = %d, want exactly 1", n)
	}
}

func TestSimultaneousExhaustion(t *testing.T) {
	d := newFakeDialer()
	d.set("+447700900001", targetBehavior{status: StatusBusy})
	d.set("+447700900002", targetBehavior{status: StatusNoAnswer})
	store := &memLogStore{}
	o := newTestOrchestrator(d, store)

	targets := []models.Target{
		{To: "+447700900001", Priority: 1},
		{To: "+447700900002", Priority: 2},
	}

	outcome, err := o.Execute(context.Background(), "tn_1", "CA0007", policy("simultaneous", 1), targets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Connected {
		t.Fatal("expected unconnected outcome")
	}
	if n := store.countTo("fallback_triggered"); n != 1 {
		t.Errorf("fallback_triggered entries = %d, want 1", n)
	}
}

func TestCallerHangupCancelsDialing(t *testing.T) {
	d := newFakeDialer()
	// Both targets ring until cancelled.
	store := &memLogStore{}
	o := newTestOrchestrator(d, store)

	targets := []models.Target{
		{To: "+447700900001", Priority: 1},
		{To: "+447700900002", Priority: 2},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	outcome, err := o.Execute(ctx, "tn_1", "CA0008", policy("simultaneous", 30), targets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Connected {
		t.Fatal("expected unconnected outcome after caller hangup")
	}
	if n := store.countTo("caller_hangup"); n != 1 {
		t.Errorf("caller_hangup entries = %d, want 1", n)
	}
	if n := store.countTo("fallback_triggered"); n != 0 {
		t.Errorf("fallback_triggered entries = %d, want 0 after hangup", n)
	}
}

func TestExecuteNoTargets(t *testing.T) {
	o := newTestOrchestrator(newFakeDialer(), &memLogStore{})

	_, err := o.Execute(context.Background(), "tn_1", "CA0009", policy("sequential", 1), nil)
	if err == nil {
		t.Fatal("expected error for empty target list")
	}
}

func TestParseTargetsSortsAndValidates(t *testing.T) {
	ft := &models.ForwardTargets{
		TenantID:    "tn_1",
		PhoneNumber: "+442071234567",
		Targets: `[
			{"to":"+447700900002","label":"Second","priority":2},
			{"to":"not-a-number","label":"Bad","priority":0},
			{"to":"+447700900001","label":"First","priority":1}
		]`,
	}

	targets, err := ParseTargets(ft, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("got %d targets, want 2 (invalid entry dropped)", len(targets))
	}
	if targets[0].To != "+447700900001" || targets[1].To != "+447700900002" {
		t.Errorf("targets not sorted by priority: %+v", targets)
	}
}

func TestParseTargetsMalformedJSON(t *testing.T) {
	ft := &models.ForwardTargets{Targets: `{"not":"an array"`}

	if _, err := ParseTargets(ft, testLogger()); err == nil {
		t.Fatal("expected error for malformed targets json")
	}
}
