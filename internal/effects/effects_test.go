package effects

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tokenbot/internal/ir"
)

type call struct {
	op      string
	userID  string
	enabled bool
}

type fakeVoiceAPI struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeVoiceAPI) record(c call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.err
}

func (f *fakeVoiceAPI) GuildMemberMute(_, userID string, mute bool, _ ...discordgo.RequestOption) error {
	return f.record(call{op: "mute", userID: userID, enabled: mute})
}

func (f *fakeVoiceAPI) GuildMemberDeafen(_, userID string, deaf bool, _ ...discordgo.RequestOption) error {
	return f.record(call{op: "deafen", userID: userID, enabled: deaf})
}

func (f *fakeVoiceAPI) GuildMemberMove(_, userID string, channelID *string, _ ...discordgo.RequestOption) error {
	return f.record(call{op: "move", userID: userID, enabled: channelID != nil})
}

func (f *fakeVoiceAPI) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type presenceSet map[string]bool

func (p presenceSet) InVoice(_ context.Context, userID string) (bool, error) {
	return p[userID], nil
}

func restError(status, code int) error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: status, Status: http.StatusText(status)},
		Message:  &discordgo.APIErrorMessage{Code: code, Message: "test"},
	}
}

func TestDiscord_MuteSchedulesRevert(t *testing.T) {
	api := &fakeVoiceAPI{}
	d := NewDiscord(api, presenceSet{"bob": true}, "guild", nil)

	res, err := d.Apply(context.Background(), "bob", ir.ActionMute, 20*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 1, d.Scheduler().Pending())

	require.Eventually(t, func() bool { return len(api.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []call{
		{op: "mute", userID: "bob", enabled: true},
		{op: "mute", userID: "bob", enabled: false},
	}, api.snapshot())
	assert.Equal(t, 0, d.Scheduler().Pending())
}

func TestDiscord_DisconnectMovesToNowhere(t *testing.T) {
	api := &fakeVoiceAPI{}
	d := NewDiscord(api, presenceSet{"bob": true}, "guild", nil)

	res, err := d.Apply(context.Background(), "bob", ir.ActionDisconnect, 0)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, []call{{op: "move", userID: "bob", enabled: false}}, api.snapshot())
	assert.Equal(t, 0, d.Scheduler().Pending())
}

func TestDiscord_NotInVoice(t *testing.T) {
	api := &fakeVoiceAPI{}
	d := NewDiscord(api, presenceSet{}, "guild", nil)

	res, err := d.Apply(context.Background(), "bob", ir.ActionDeafen, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ir.Failed(ir.ReasonNotInVoice), res)
	assert.Empty(t, api.snapshot())
}

func TestDiscord_UnsupportedEffect(t *testing.T) {
	d := NewDiscord(&fakeVoiceAPI{}, presenceSet{"bob": true}, "guild", nil)

	res, err := d.Apply(context.Background(), "bob", ir.ActionSteal, 0)
	require.NoError(t, err)
	assert.Equal(t, ir.Failed(ir.ReasonCapabilityUnavailable), res)
}

func TestDiscord_RESTFailureIsClassified(t *testing.T) {
	api := &fakeVoiceAPI{err: restError(http.StatusForbidden, codeMissingPermissions)}
	d := NewDiscord(api, presenceSet{"bob": true}, "guild", nil)

	res, err := d.Apply(context.Background(), "bob", ir.ActionMute, time.Minute)
	require.Error(t, err)
	assert.Equal(t, ir.Failed(ir.ReasonPermissionDenied), res)
	assert.Equal(t, 0, d.Scheduler().Pending(), "no revert for an effect that never landed")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ir.FailureReason
	}{
		{"missing permissions", restError(http.StatusForbidden, codeMissingPermissions), ir.ReasonPermissionDenied},
		{"bare 403", restError(http.StatusForbidden, 0), ir.ReasonPermissionDenied},
		{"not connected", restError(http.StatusBadRequest, codeTargetNotInVoice), ir.ReasonNotInVoice},
		{"server error", restError(http.StatusInternalServerError, 0), ir.ReasonUnknown},
		{"timeout", context.DeadlineExceeded, ir.ReasonUnknown},
		{"other", assert.AnError, ir.ReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestScheduler_RescheduleReplaces(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var mu sync.Mutex
	fired := []string{}
	revert := func(tag string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			fired = append(fired, tag)
			return nil
		}
	}

	s.Schedule("bob", ir.ActionMute, 30*time.Millisecond, revert("first"))
	s.Schedule("bob", ir.ActionMute, 60*time.Millisecond, revert("second"))
	assert.Equal(t, 1, s.Pending())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"second"}, fired)
}

func TestScheduler_CancelTarget(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	noop := func(context.Context) error { return nil }
	s.Schedule("bob", ir.ActionMute, time.Hour, noop)
	s.Schedule("bob", ir.ActionDeafen, time.Hour, noop)
	s.Schedule("carol", ir.ActionMute, time.Hour, noop)

	assert.Equal(t, 2, s.CancelTarget("bob"))
	assert.Equal(t, 1, s.Pending())
	assert.Equal(t, 0, s.CancelTarget("bob"))
}

func TestScheduler_RevertFailureIsSwallowed(t *testing.T) {
	s := NewScheduler()
	done := make(chan struct{})
	s.Schedule("bob", ir.ActionMute, time.Millisecond, func(context.Context) error {
		defer close(done)
		return assert.AnError
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("revert never ran")
	}
	assert.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 5*time.Millisecond)
}
