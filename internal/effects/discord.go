package effects

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/roach88/tokenbot/internal/ir"
)

// Discord JSON error codes that map to specific failure reasons.
const (
	codeMissingPermissions = 50013
	codeTargetNotInVoice   = 40032
	codeMissingAccess      = 50001
	codeUnknownMember      = 10007
	codeUnknownVoiceState  = 10065
)

// VoiceAPI is the part of *discordgo.Session used to apply effects.
type VoiceAPI interface {
	GuildMemberMute(guildID, userID string, mute bool, options ...discordgo.RequestOption) error
	GuildMemberDeafen(guildID, userID string, deaf bool, options ...discordgo.RequestOption) error
	GuildMemberMove(guildID, userID string, channelID *string, options ...discordgo.RequestOption) error
}

// Presence answers whether a user is connected to voice right now.
type Presence interface {
	InVoice(ctx context.Context, userID string) (bool, error)
}

// Discord applies effects through the Discord REST API.
type Discord struct {
	api       VoiceAPI
	presence  Presence
	guildID   string
	scheduler *Scheduler
}

// NewDiscord creates an applier for one guild. Timed effects are reverted
// through scheduler.
func NewDiscord(api VoiceAPI, presence Presence, guildID string, scheduler *Scheduler) *Discord {
	if scheduler == nil {
		scheduler = NewScheduler()
	}
	return &Discord{api: api, presence: presence, guildID: guildID, scheduler: scheduler}
}

// Scheduler returns the revert scheduler.
func (d *Discord) Scheduler() *Scheduler {
	return d.scheduler
}

// Apply mutes, deafens or disconnects targetID.
func (d *Discord) Apply(ctx context.Context, targetID string, effect ir.ActionKind, duration time.Duration) (ir.EffectResult, error) {
	inVoice, err := d.presence.InVoice(ctx, targetID)
	if err != nil {
		return ir.Failed(ir.ReasonUnknown), fmt.Errorf("voice state for %s: %w", targetID, err)
	}
	if !inVoice {
		return ir.Failed(ir.ReasonNotInVoice), nil
	}

	opt := discordgo.WithContext(ctx)
	switch effect {
	case ir.ActionMute:
		err = d.api.GuildMemberMute(d.guildID, targetID, true, opt)
		if err == nil {
			d.scheduler.Schedule(targetID, effect, duration, func(ctx context.Context) error {
				return d.api.GuildMemberMute(d.guildID, targetID, false, discordgo.WithContext(ctx))
			})
		}
	case ir.ActionDeafen:
		err = d.api.GuildMemberDeafen(d.guildID, targetID, true, opt)
		if err == nil {
			d.scheduler.Schedule(targetID, effect, duration, func(ctx context.Context) error {
				return d.api.GuildMemberDeafen(d.guildID, targetID, false, discordgo.WithContext(ctx))
			})
		}
	case ir.ActionDisconnect:
		err = d.api.GuildMemberMove(d.guildID, targetID, nil, opt)
	default:
		return ir.Failed(ir.ReasonCapabilityUnavailable), nil
	}

	if err != nil {
		return ir.Failed(Classify(err)), fmt.Errorf("%s %s: %w", effect, targetID, err)
	}
	return ir.Applied(), nil
}

// Classify maps a Discord API error to a failure reason.
func Classify(err error) ir.FailureReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return ir.ReasonUnknown
	}

	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return ir.ReasonUnknown
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case codeMissingPermissions, codeMissingAccess:
			return ir.ReasonPermissionDenied
		case codeTargetNotInVoice, codeUnknownMember, codeUnknownVoiceState:
			return ir.ReasonNotInVoice
		}
	}
	if rest.Response != nil && rest.Response.StatusCode == http.StatusForbidden {
		return ir.ReasonPermissionDenied
	}
	return ir.ReasonUnknown
}
