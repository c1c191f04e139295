package engine

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/ledger"
	"github.com/roach88/tokenbot/internal/pricing"
	"github.com/roach88/tokenbot/internal/testutil"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newMemoryLedger(t *testing.T, balances map[string]string) *ledger.Memory {
	t.Helper()
	l := ledger.NewMemory()
	require.NoError(t, testutil.SeedLedger(context.Background(), l, balances))
	return l
}

func balanceOf(t *testing.T, l ledger.Store, user string) ir.Amount {
	t.Helper()
	b, err := l.Balance(context.Background(), user)
	require.NoError(t, err)
	return b
}

func disconnect(token, actor, target string) ir.PendingAction {
	return ir.PendingAction{Token: token, Kind: ir.ActionDisconnect, ActorID: actor, TargetID: target}
}

func mute(token, actor, target string, seconds int) ir.PendingAction {
	return ir.PendingAction{Token: token, Kind: ir.ActionMute, ActorID: actor, TargetID: target, DurationSeconds: seconds}
}

func steal(token, actor, target string, amount int64) ir.PendingAction {
	return ir.PendingAction{Token: token, Kind: ir.ActionSteal, ActorID: actor, TargetID: target, StealAmount: amount}
}

func TestExecute_DisconnectChargesOneToken(t *testing.T) {
	l := newMemoryLedger(t, map[string]string{"alice": "5.0"})
	applier := testutil.NewFakeApplier()
	n := &testutil.RecordingNotifier{}
	c := New(l, applier, n)

	out, err := c.Execute(testCtx(t), disconnect("tok-1", "alice", "bob"))
	require.NoError(t, err)

	assert.Equal(t, ir.Tokens(1), out.Cost)
	assert.Equal(t, ir.Tokens(4), out.BalanceAfter)
	assert.Equal(t, ir.Tokens(4), balanceOf(t, l, "alice"))

	require.Len(t, applier.Calls(), 1)
	assert.Equal(t, "bob", applier.Calls()[0].TargetID)

	audits := n.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, ir.OutcomeApplied, audits[0].Outcome)
	assert.Equal(t, ir.ActionDisconnect, audits[0].Action)
	assert.Equal(t, ir.Tokens(1), audits[0].Cost)
	assert.Equal(t, int64(1), audits[0].Seq)
	assert.Equal(t, out.AuditID, audits[0].ID)
	assert.Equal(t, ir.MustAuditID(audits[0]), audits[0].ID)

	assert.Equal(t, []string{"<@alice> disconnected <@bob> from voice (1.0 tokens)."}, n.Announcements())
}

func TestExecute_MuteInsufficientFunds(t *testing.T) {
	l := newMemoryLedger(t, map[string]string{"alice": "0.5"})
	applier := testutil.NewFakeApplier()
	n := &testutil.RecordingNotifier{}
	c := New(l, applier, n)

	_, err := c.Execute(testCtx(t), mute("tok-1", "alice", "bob", 10))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeInsufficientFunds))

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ir.MustParseAmount("0.5"), e.Balance)
	assert.Equal(t, ir.Tokens(1), e.Required)

	assert.Equal(t, ir.MustParseAmount("0.5"), balanceOf(t, l, "alice"))
	assert.Empty(t, applier.Calls(), "no effect without payment")
	assert.Empty(t, n.Audits())
}

func TestExecute_ChargesRecomputedCost(t *testing.T) {
	l := newMemoryLedger(t, map[string]string{"alice": "10.0"})
	c := New(l, testutil.NewFakeApplier(), nil)

	pa := mute("tok-1", "alice", "bob", 30)
	pa.QuotedCost = ir.MustParseAmount("0.1")

	out, err := c.Execute(testCtx(t), pa)
	require.NoError(t, err)
	assert.Equal(t, ir.Tokens(3), out.Cost)
	assert.Equal(t, ir.Tokens(7), balanceOf(t, l, "alice"))
}

func TestExecute_DeafenPassesDuration(t *testing.T) {
	l := newMemoryLedger(t, map[string]string{"alice": "10.0"})
	applier := testutil.NewFakeApplier()
	c := New(l, applier, nil)

	pa := mute("tok-1", "alice", "bob", 45)
	pa.Kind = ir.ActionDeafen
	_, err := c.Execute(testCtx(t), pa)
	require.NoError(t, err)

	require.Len(t, applier.Calls(), 1)
	assert.Equal(t, testutil.ApplyCall{TargetID: "bob", Effect: ir.ActionDeafen, Duration: 45 * time.Second}, applier.Calls()[0])
	assert.Equal(t, ir.MustParseAmount("5.5"), balanceOf(t, l, "alice"))
}

func TestExecute_RejectsBadTargets(t *testing.T) {
	tests := []struct {
		name string
		pa   ir.PendingAction
	}{
		{"no target", disconnect("tok-1", "alice", "")},
		{"self", disconnect("tok-1", "alice", "alice")},
		{"self steal", steal("tok-1", "alice", "alice", 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newMemoryLedger(t, map[string]string{"alice": "5.0"})
			c := New(l, testutil.NewFakeApplier(), nil)

			_, err := c.Execute(testCtx(t), tt.pa)
			assert.True(t, IsCode(err, ErrCodeTargetInvalid), "got %v", err)
			assert.Equal(t, ir.Tokens(5), balanceOf(t, l, "alice"))
		})
	}
}

func TestExecute_RejectsBadParameters(t *testing.T) {
	tests := []struct {
		name string
		pa   ir.PendingAction
	}{
		{"zero duration", mute("tok-1", "alice", "bob", 0)},
		{"over limit", mute("tok-1", "alice", "bob", 3601)},
		{"zero steal", steal("tok-1", "alice", "bob", 0)},
		{"steal over cap", steal("tok-1", "alice", "bob", pricing.DefaultMaxStealAmount+1)},
		{"max int64 steal", steal("tok-1", "alice", "bob", math.MaxInt64)},
		{"unknown kind", ir.PendingAction{Token: "tok-1", Kind: "kick", ActorID: "alice", TargetID: "bob"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newMemoryLedger(t, map[string]string{"alice": "500.0"})
			c := New(l, testutil.NewFakeApplier(), nil)

			_, err := c.Execute(testCtx(t), tt.pa)
			assert.True(t, IsCode(err, ErrCodeInvalidInput), "got %v", err)
			assert.Equal(t, ir.Tokens(500), balanceOf(t, l, "alice"))
		})
	}
}

func TestExecute_FailedEffectIsRefunded(t *testing.T) {
	l := newMemoryLedger(t, map[string]string{"alice": "5.0"})
	applier := testutil.NewFakeApplier().Fail("bob", ir.ReasonNotInVoice)
	n := &testutil.RecordingNotifier{}
	c := New(l, applier, n)

	out, err := c.Execute(testCtx(t), mute("tok-1", "alice", "bob", 20))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeEffectFailed))

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ir.ReasonNotInVoice, e.Reason)
	assert.Equal(t, "tok-1", e.Token)

	assert.Equal(t, ir.Tokens(5), out.BalanceAfter)
	assert.Equal(t, ir.Tokens(5), balanceOf(t, l, "alice"))
	assert.Empty(t, n.Audits(), "failed effects are not audited")
	assert.Empty(t, n.Announcements())
}

func TestExecute_ApplierErrorMapsToUnknown(t *testing.T) {
	l := newMemoryLedger(t, map[string]string{"alice": "5.0"})
	applier := testutil.NewFakeApplier().Error("bob", assert.AnError)
	c := New(l, applier, nil)

	_, err := c.Execute(testCtx(t), disconnect("tok-1", "alice", "bob"))
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrCodeEffectFailed, e.Code)
	assert.Equal(t, ir.ReasonUnknown, e.Reason)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, ir.Tokens(5), balanceOf(t, l, "alice"))
}

func TestExecute_EffectTimeoutIsRefunded(t *testing.T) {
	l := newMemoryLedger(t, map[string]string{"alice": "5.0"})
	applier := testutil.NewFakeApplier().Hang()
	c := New(l, applier, nil, WithEffectTimeout(20*time.Millisecond))

	_, err := c.Execute(testCtx(t), disconnect("tok-1", "alice", "bob"))
	assert.True(t, IsCode(err, ErrCodeEffectFailed))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ir.Tokens(5), balanceOf(t, l, "alice"))
}

func TestExecute_RefundRetriesThenSucceeds(t *testing.T) {
	inner := newMemoryLedger(t, map[string]string{"alice": "5.0"})
	flaky := testutil.NewFlakyLedger(inner)
	flaky.FailCredits(2)
	applier := testutil.NewFakeApplier().Fail("bob", ir.ReasonPermissionDenied)
	n := &testutil.RecordingNotifier{}
	c := New(flaky, applier, n, WithRefundPolicy(3, 0))

	_, err := c.Execute(testCtx(t), disconnect("tok-1", "alice", "bob"))
	assert.True(t, IsCode(err, ErrCodeEffectFailed))
	assert.Equal(t, ir.Tokens(5), balanceOf(t, inner, "alice"))
	assert.Empty(t, n.Alerts())
}

func TestExecute_RefundFailureIsLoud(t *testing.T) {
	inner := newMemoryLedger(t, map[string]string{"alice": "5.0"})
	flaky := testutil.NewFlakyLedger(inner)
	flaky.FailCredits(-1)
	applier := testutil.NewFakeApplier().Fail("bob", ir.ReasonPermissionDenied)
	n := &testutil.RecordingNotifier{}
	c := New(flaky, applier, n, WithRefundPolicy(3, 0))

	_, err := c.Execute(testCtx(t), disconnect("tok-1", "alice", "bob"))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeRefundFailed), "got %v", err)
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)

	// the debit stands; reconciliation is manual
	assert.Equal(t, ir.Tokens(4), balanceOf(t, inner, "alice"))

	alerts := n.Alerts()
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "REFUND FAILED")
	assert.Contains(t, alerts[0], "<@alice>")
}

func TestExecute_DebitStoreFailure(t *testing.T) {
	inner := newMemoryLedger(t, map[string]string{"alice": "5.0"})
	flaky := testutil.NewFlakyLedger(inner)
	flaky.FailNext(testutil.OpDebit, 1)
	applier := testutil.NewFakeApplier()
	c := New(flaky, applier, nil)

	_, err := c.Execute(testCtx(t), disconnect("tok-1", "alice", "bob"))
	assert.True(t, IsCode(err, ErrCodeStoreUnavailable))
	assert.Empty(t, applier.Calls())
	assert.Equal(t, ir.Tokens(5), balanceOf(t, inner, "alice"))
}

func TestExecute_NotifierFailureKeepsCommit(t *testing.T) {
	l := newMemoryLedger(t, map[string]string{"alice": "5.0"})
	n := &testutil.RecordingNotifier{}
	n.SetFailing(true)
	c := New(l, testutil.NewFakeApplier(), n)

	out, err := c.Execute(testCtx(t), disconnect("tok-1", "alice", "bob"))
	require.NoError(t, err)
	assert.Equal(t, ir.Tokens(4), out.BalanceAfter)
	assert.Equal(t, ir.Tokens(4), balanceOf(t, l, "alice"))
	assert.Len(t, n.Audits(), 1)
}

func TestExecute_StealWonCapsAtTargetBalance(t *testing.T) {
	l := newMemoryLedger(t, map[string]string{"alice": "10.0", "bob": "3.0"})
	n := &testutil.RecordingNotifier{}
	c := New(l, nil, n, WithRoller(NewFixedRoller(0)))

	out, err := c.Execute(testCtx(t), steal("tok-1", "alice", "bob", 4))
	require.NoError(t, err)

	assert.True(t, out.Won)
	assert.Equal(t, ir.Tokens(2), out.Cost)
	assert.Equal(t, 62, out.Probability)
	assert.Equal(t, ir.Tokens(3), out.Stolen)
	assert.Equal(t, ir.Tokens(11), out.BalanceAfter)
	assert.Equal(t, ir.Tokens(0), out.TargetBalanceAfter)
	assert.Equal(t, ir.Tokens(11), balanceOf(t, l, "alice"))
	assert.Equal(t, ir.Tokens(0), balanceOf(t, l, "bob"))

	audits := n.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, ir.OutcomeStealWon, audits[0].Outcome)
	assert.Equal(t, ir.Tokens(3), audits[0].Stolen)
	assert.Equal(t, 62, audits[0].Probability)
	assert.Equal(t, 0, audits[0].Roll)

	require.Len(t, n.Announcements(), 1)
	assert.Contains(t, n.Announcements()[0], "stole 3.0 tokens")
}

func TestExecute_StealLostKeepsFee(t *testing.T) {
	l := newMemoryLedger(t, map[string]string{"alice": "10.0", "bob": "3.0"})
	n := &testutil.RecordingNotifier{}
	c := New(l, nil, n, WithRoller(NewFixedRoller(99)))

	out, err := c.Execute(testCtx(t), steal("tok-1", "alice", "bob", 4))
	require.NoError(t, err)

	assert.False(t, out.Won)
	assert.Equal(t, ir.Amount(0), out.Stolen)
	assert.Equal(t, ir.Tokens(8), balanceOf(t, l, "alice"))
	assert.Equal(t, ir.Tokens(3), balanceOf(t, l, "bob"))

	audits := n.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, ir.OutcomeStealLost, audits[0].Outcome)
	assert.Equal(t, 99, audits[0].Roll)

	require.Len(t, n.Announcements(), 1)
	assert.Contains(t, n.Announcements()[0], "failed, losing the 2.0 token fee")
}

func TestExecute_StealBoundaryRoll(t *testing.T) {
	// success iff roll < probability
	l := newMemoryLedger(t, map[string]string{"alice": "10.0", "bob": "10.0"})
	c := New(l, nil, nil, WithRoller(NewFixedRoller(62, 61)))

	out, err := c.Execute(testCtx(t), steal("tok-1", "alice", "bob", 4))
	require.NoError(t, err)
	assert.False(t, out.Won, "roll equal to probability loses")

	out, err = c.Execute(testCtx(t), steal("tok-2", "alice", "bob", 4))
	require.NoError(t, err)
	assert.True(t, out.Won)
}

func TestExecute_StealFromEmptyTarget(t *testing.T) {
	l := newMemoryLedger(t, map[string]string{"alice": "10.0"})
	c := New(l, nil, nil, WithRoller(NewFixedRoller(0)))

	out, err := c.Execute(testCtx(t), steal("tok-1", "alice", "nobody", 2))
	require.NoError(t, err)
	assert.True(t, out.Won)
	assert.Equal(t, ir.Amount(0), out.Stolen)
	assert.Equal(t, ir.Tokens(9), balanceOf(t, l, "alice"))
}

func TestExecute_StealInsufficientFee(t *testing.T) {
	l := newMemoryLedger(t, map[string]string{"alice": "1.5", "bob": "10.0"})
	c := New(l, nil, nil, WithRoller(NewFixedRoller(0)))

	_, err := c.Execute(testCtx(t), steal("tok-1", "alice", "bob", 4))
	assert.True(t, IsCode(err, ErrCodeInsufficientFunds))
	assert.Equal(t, ir.MustParseAmount("1.5"), balanceOf(t, l, "alice"))
	assert.Equal(t, ir.Tokens(10), balanceOf(t, l, "bob"))
}

func TestExecute_StealTakeFailureRefundsFee(t *testing.T) {
	inner := newMemoryLedger(t, map[string]string{"alice": "10.0", "bob": "3.0"})
	flaky := testutil.NewFlakyLedger(inner)
	flaky.FailNext(testutil.OpTake, 1)
	n := &testutil.RecordingNotifier{}
	c := New(flaky, nil, n, WithRoller(NewFixedRoller(0)), WithRefundPolicy(1, 0))

	_, err := c.Execute(testCtx(t), steal("tok-1", "alice", "bob", 4))
	assert.True(t, IsCode(err, ErrCodeStoreUnavailable), "got %v", err)
	assert.Equal(t, ir.Tokens(10), balanceOf(t, inner, "alice"))
	assert.Equal(t, ir.Tokens(3), balanceOf(t, inner, "bob"))
	assert.Empty(t, n.Audits())
}

func TestExecute_StealCreditFailureRestoresBoth(t *testing.T) {
	inner := newMemoryLedger(t, map[string]string{"alice": "10.0", "bob": "3.0"})
	flaky := testutil.NewFlakyLedger(inner)
	flaky.FailCredits(1)
	c := New(flaky, nil, nil, WithRoller(NewFixedRoller(0)), WithRefundPolicy(1, 0))

	_, err := c.Execute(testCtx(t), steal("tok-1", "alice", "bob", 4))
	assert.True(t, IsCode(err, ErrCodeStoreUnavailable), "got %v", err)
	assert.Equal(t, ir.Tokens(10), balanceOf(t, inner, "alice"))
	assert.Equal(t, ir.Tokens(3), balanceOf(t, inner, "bob"))
}

func TestExecute_ConcurrentChargesNeverOverdraw(t *testing.T) {
	l := newMemoryLedger(t, map[string]string{"alice": "10.0"})
	n := &testutil.RecordingNotifier{}
	c := New(l, testutil.NewFakeApplier(), n)
	ctx := testCtx(t)

	const attempts = 30
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Execute(ctx, disconnect("tok", "alice", "bob"))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t, IsCode(err, ErrCodeInsufficientFunds), "got %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, ir.Amount(0), balanceOf(t, l, "alice"))

	seqs := make(map[int64]bool)
	for _, rec := range n.Audits() {
		seqs[rec.Seq] = true
	}
	assert.Len(t, seqs, 10, "every audit record gets its own seq")
}

func TestExecute_StealConservesTokens(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("actor+target drops by exactly the fee", prop.ForAll(
		func(actorTenths, targetTenths, amount int64, roll int) bool {
			ctx := context.Background()
			l := ledger.NewMemory()
			if err := l.Set(ctx, "a", ir.Amount(actorTenths)); err != nil {
				return false
			}
			if err := l.Set(ctx, "t", ir.Amount(targetTenths)); err != nil {
				return false
			}
			c := New(l, nil, nil, WithRoller(NewFixedRoller(roll)))

			out, err := c.Execute(ctx, steal("tok", "a", "t", amount))
			a, _ := l.Balance(ctx, "a")
			tb, _ := l.Balance(ctx, "t")
			before := ir.Amount(actorTenths + targetTenths)

			if err != nil {
				// only an unaffordable fee may fail, and then nothing moved
				return IsCode(err, ErrCodeInsufficientFunds) && a+tb == before
			}
			if out.Stolen > ir.Tokens(amount) || out.Stolen > ir.Amount(targetTenths) {
				return false
			}
			return a+tb == before-out.Cost
		},
		gen.Int64Range(0, 500),
		gen.Int64Range(0, 500),
		gen.Int64Range(1, 60),
		gen.IntRange(0, 99),
	))

	properties.TestingRun(t)
}

func TestMetrics_RecordsRefundsAndTransactions(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)

	l := newMemoryLedger(t, map[string]string{"alice": "5.0"})
	applier := testutil.NewFakeApplier().Fail("bob", ir.ReasonNotInVoice)
	c := New(l, applier, nil, WithMetrics(m))

	_, _ = c.Execute(testCtx(t), disconnect("tok-1", "alice", "bob"))
	_, _ = c.Execute(testCtx(t), disconnect("tok-2", "alice", "carol"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	assert.Equal(t, int64(1), sumOf(t, rm, "tokenbot.refunds"))
	assert.Equal(t, int64(2), sumOf(t, rm, "tokenbot.transactions"))
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}
