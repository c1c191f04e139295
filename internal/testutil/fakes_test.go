package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/ledger"
)

func TestSequentialTokens(t *testing.T) {
	gen := NewSequentialTokens("")
	assert.Equal(t, "tok-1", gen.Generate())
	assert.Equal(t, "tok-2", gen.Generate())

	custom := NewSequentialTokens("s")
	assert.Equal(t, "s-1", custom.Generate())
}

func TestFakeApplier_Scripted(t *testing.T) {
	a := NewFakeApplier().Fail("bob", ir.ReasonNotInVoice)
	ctx := context.Background()

	res, err := a.Apply(ctx, "carol", ir.ActionMute, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = a.Apply(ctx, "bob", ir.ActionDisconnect, 0)
	require.NoError(t, err)
	assert.Equal(t, ir.Failed(ir.ReasonNotInVoice), res)

	calls := a.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, ApplyCall{TargetID: "carol", Effect: ir.ActionMute, Duration: 10 * time.Second}, calls[0])
}

func TestFakeApplier_HangHonorsContext(t *testing.T) {
	a := NewFakeApplier().Hang()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res, err := a.Apply(ctx, "bob", ir.ActionMute, time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, res.OK)
}

func TestRecordingNotifier(t *testing.T) {
	n := &RecordingNotifier{}
	ctx := context.Background()

	require.NoError(t, n.Audit(ctx, ir.AuditRecord{Token: "tok-1"}))
	require.NoError(t, n.AnnouncePublic(ctx, "hello"))

	n.SetFailing(true)
	assert.ErrorIs(t, n.Alert(ctx, "page"), ErrNotifierDown)

	assert.Len(t, n.Audits(), 1)
	assert.Equal(t, []string{"hello"}, n.Announcements())
	assert.Equal(t, []string{"page"}, n.Alerts())
}

func TestFlakyLedger_FailsScheduledOps(t *testing.T) {
	ctx := context.Background()
	f := NewFlakyLedger(ledger.NewMemory())
	require.NoError(t, SeedLedger(ctx, f, map[string]string{"alice": "5.0"}))

	f.FailNext(OpDebit, 1)
	_, err := f.Debit(ctx, "alice", ir.Tokens(1))
	assert.True(t, ledger.IsUnavailable(err))

	// second debit goes through
	bal, err := f.Debit(ctx, "alice", ir.Tokens(1))
	require.NoError(t, err)
	assert.Equal(t, ir.Tokens(4), bal)
}

func TestFlakyLedger_FailCreditsOnly(t *testing.T) {
	ctx := context.Background()
	f := NewFlakyLedger(ledger.NewMemory())
	require.NoError(t, SeedLedger(ctx, f, map[string]string{"alice": "5.0"}))

	f.FailCredits(-1)

	_, err := f.Adjust(ctx, "alice", -ir.Tokens(1))
	require.NoError(t, err, "debits are not affected")

	_, err = f.Adjust(ctx, "alice", ir.Tokens(1))
	assert.True(t, ledger.IsUnavailable(err))
	_, err = f.Adjust(ctx, "alice", ir.Tokens(1))
	assert.True(t, ledger.IsUnavailable(err), "negative count fails forever")

	f.Heal()
	bal, err := f.Adjust(ctx, "alice", ir.Tokens(1))
	require.NoError(t, err)
	assert.Equal(t, ir.Tokens(5), bal)
}

func TestStaticRoster(t *testing.T) {
	r := NewStaticRoster("alice", "bob")
	members, err := r.VoiceMembers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ir.Member{{UserID: "alice", DisplayName: "alice"}, {UserID: "bob", DisplayName: "bob"}}, members)
}
