package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/ledger"
)

// SequentialTokens generates "tok-1", "tok-2", ... for deterministic session
// tokens. A custom prefix replaces "tok".
//
// Thread-safety: SequentialTokens is safe for concurrent use.
type SequentialTokens struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialTokens creates a generator with the given prefix.
// An empty prefix means "tok".
func NewSequentialTokens(prefix string) *SequentialTokens {
	if prefix == "" {
		prefix = "tok"
	}
	return &SequentialTokens{prefix: prefix}
}

// Generate returns the next token.
func (g *SequentialTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// ApplyCall records one effect application.
type ApplyCall struct {
	TargetID string
	Effect   ir.ActionKind
	Duration time.Duration
}

// FakeApplier is a scriptable effect applier.
//
// Results for a target default to success. Fail makes every later call for
// that target fail with reason; Hang makes calls block until ctx is done.
type FakeApplier struct {
	mu      sync.Mutex
	calls   []ApplyCall
	failFor map[string]ir.FailureReason
	errFor  map[string]error
	hang    bool
}

// NewFakeApplier creates an applier that applies everything.
func NewFakeApplier() *FakeApplier {
	return &FakeApplier{
		failFor: make(map[string]ir.FailureReason),
		errFor:  make(map[string]error),
	}
}

// Fail makes effects on targetID fail with reason.
func (a *FakeApplier) Fail(targetID string, reason ir.FailureReason) *FakeApplier {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failFor[targetID] = reason
	return a
}

// Error makes effects on targetID return err.
func (a *FakeApplier) Error(targetID string, err error) *FakeApplier {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errFor[targetID] = err
	return a
}

// Hang makes every call block until its context is done.
func (a *FakeApplier) Hang() *FakeApplier {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hang = true
	return a
}

// Apply records the call and returns the scripted result.
func (a *FakeApplier) Apply(ctx context.Context, targetID string, effect ir.ActionKind, duration time.Duration) (ir.EffectResult, error) {
	a.mu.Lock()
	a.calls = append(a.calls, ApplyCall{TargetID: targetID, Effect: effect, Duration: duration})
	hang := a.hang
	reason, failing := a.failFor[targetID]
	err := a.errFor[targetID]
	a.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ir.Failed(ir.ReasonUnknown), ctx.Err()
	}
	if err != nil {
		return ir.EffectResult{}, err
	}
	if failing {
		return ir.Failed(reason), nil
	}
	return ir.Applied(), nil
}

// Calls returns a copy of the recorded calls.
func (a *FakeApplier) Calls() []ApplyCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ApplyCall(nil), a.calls...)
}

// RecordingNotifier keeps every audit record, announcement and alert.
// SetFailing makes every delivery return an error after recording.
type RecordingNotifier struct {
	mu            sync.Mutex
	audits        []ir.AuditRecord
	announcements []string
	alerts        []string
	failing       bool
}

// ErrNotifierDown is returned by a failing RecordingNotifier.
var ErrNotifierDown = errors.New("notifier down")

// SetFailing toggles delivery failure.
func (n *RecordingNotifier) SetFailing(failing bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failing = failing
}

// Audit records rec.
func (n *RecordingNotifier) Audit(_ context.Context, rec ir.AuditRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.audits = append(n.audits, rec)
	if n.failing {
		return ErrNotifierDown
	}
	return nil
}

// AnnouncePublic records text.
func (n *RecordingNotifier) AnnouncePublic(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.announcements = append(n.announcements, text)
	if n.failing {
		return ErrNotifierDown
	}
	return nil
}

// Alert records text.
func (n *RecordingNotifier) Alert(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, text)
	if n.failing {
		return ErrNotifierDown
	}
	return nil
}

// Audits returns a copy of the recorded audit records.
func (n *RecordingNotifier) Audits() []ir.AuditRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ir.AuditRecord(nil), n.audits...)
}

// Announcements returns a copy of the recorded announcements.
func (n *RecordingNotifier) Announcements() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.announcements...)
}

// Alerts returns a copy of the recorded alerts.
func (n *RecordingNotifier) Alerts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.alerts...)
}

// StaticRoster is a fixed voice channel membership.
type StaticRoster struct {
	mu      sync.Mutex
	members []ir.Member
	err     error
}

// NewStaticRoster creates a roster whose members are named after their ids.
func NewStaticRoster(userIDs ...string) *StaticRoster {
	r := &StaticRoster{}
	for _, id := range userIDs {
		r.members = append(r.members, ir.Member{UserID: id, DisplayName: id})
	}
	return r
}

// SetMembers replaces the membership.
func (r *StaticRoster) SetMembers(members ...ir.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = members
}

// SetError makes VoiceMembers fail.
func (r *StaticRoster) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// VoiceMembers returns the fixed membership.
func (r *StaticRoster) VoiceMembers(context.Context) ([]ir.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return append([]ir.Member(nil), r.members...), nil
}

// LedgerOp names a ledger.Store method for FlakyLedger.
type LedgerOp string

const (
	OpBalance LedgerOp = "balance"
	OpAdjust  LedgerOp = "adjust"
	OpSet     LedgerOp = "set"
	OpDebit   LedgerOp = "debit"
	OpTake    LedgerOp = "take"
)

// ErrInjected is the cause wrapped by FlakyLedger failures.
var ErrInjected = errors.New("injected ledger failure")

// FlakyLedger wraps a ledger.Store and fails chosen operations.
//
// FailNext(op, n) makes the next n calls of op fail with
// ledger.ErrStoreUnavailable before touching the wrapped store. A negative
// n fails forever. Credits (positive Adjust) and debits (negative Adjust)
// are both counted as OpAdjust; FailCredits restricts failure to credits.
type FlakyLedger struct {
	ledger.Store

	mu          sync.Mutex
	remaining   map[LedgerOp]int
	creditsOnly bool
}

// NewFlakyLedger wraps inner.
func NewFlakyLedger(inner ledger.Store) *FlakyLedger {
	return &FlakyLedger{Store: inner, remaining: make(map[LedgerOp]int)}
}

// FailNext schedules n failures of op.
func (f *FlakyLedger) FailNext(op LedgerOp, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remaining[op] = n
}

// FailCredits makes the next n positive Adjust calls fail.
func (f *FlakyLedger) FailCredits(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remaining[OpAdjust] = n
	f.creditsOnly = true
}

// Heal clears every scheduled failure.
func (f *FlakyLedger) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remaining = make(map[LedgerOp]int)
	f.creditsOnly = false
}

func (f *FlakyLedger) shouldFail(op LedgerOp, credit bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.remaining[op]
	if n == 0 {
		return false
	}
	if op == OpAdjust && f.creditsOnly && !credit {
		return false
	}
	if n > 0 {
		f.remaining[op] = n - 1
	}
	return true
}

func (f *FlakyLedger) Balance(ctx context.Context, userID string) (ir.Amount, error) {
	if f.shouldFail(OpBalance, false) {
		return 0, ledger.Unavailable("balance", ErrInjected)
	}
	return f.Store.Balance(ctx, userID)
}

func (f *FlakyLedger) Adjust(ctx context.Context, userID string, delta ir.Amount) (ir.Amount, error) {
	if f.shouldFail(OpAdjust, delta > 0) {
		return 0, ledger.Unavailable("adjust", ErrInjected)
	}
	return f.Store.Adjust(ctx, userID, delta)
}

func (f *FlakyLedger) Set(ctx context.Context, userID string, amount ir.Amount) error {
	if f.shouldFail(OpSet, false) {
		return ledger.Unavailable("set", ErrInjected)
	}
	return f.Store.Set(ctx, userID, amount)
}

func (f *FlakyLedger) Debit(ctx context.Context, userID string, amount ir.Amount) (ir.Amount, error) {
	if f.shouldFail(OpDebit, false) {
		return 0, ledger.Unavailable("debit", ErrInjected)
	}
	return f.Store.Debit(ctx, userID, amount)
}

func (f *FlakyLedger) Take(ctx context.Context, userID string, max ir.Amount) (ir.Amount, ir.Amount, error) {
	if f.shouldFail(OpTake, false) {
		return 0, 0, ledger.Unavailable("take", ErrInjected)
	}
	return f.Store.Take(ctx, userID, max)
}

// SeedLedger sets each balance, given as "user": "amount" strings.
func SeedLedger(ctx context.Context, l ledger.Store, balances map[string]string) error {
	for user, amount := range balances {
		a, err := ir.ParseAmount(amount)
		if err != nil {
			return fmt.Errorf("seed %s: %w", user, err)
		}
		if err := l.Set(ctx, user, a); err != nil {
			return fmt.Errorf("seed %s: %w", user, err)
		}
	}
	return nil
}
