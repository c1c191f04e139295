package ir

import (
	"fmt"
	"strings"
	"time"
)

// ActionKind names something an actor can pay for.
type ActionKind string

const (
	ActionMute       ActionKind = "mute"
	ActionDeafen     ActionKind = "deafen"
	ActionDisconnect ActionKind = "disconnect"
	ActionSteal      ActionKind = "steal"
)

// ValidActionKinds defines the allowed action kinds.
var ValidActionKinds = map[ActionKind]bool{
	ActionMute:       true,
	ActionDeafen:     true,
	ActionDisconnect: true,
	ActionSteal:      true,
}

// ParseActionKind parses a lower-case action name.
func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(strings.ToLower(strings.TrimSpace(s)))
	if !ValidActionKinds[k] {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return k, nil
}

// IsEffect reports whether the action is applied to a voice participant
// through the effect applier.
func (k ActionKind) IsEffect() bool {
	return k == ActionMute || k == ActionDeafen || k == ActionDisconnect
}

// IsTimed reports whether the action needs a duration.
func (k ActionKind) IsTimed() bool {
	return k == ActionMute || k == ActionDeafen
}

// Account is one ledger entry.
type Account struct {
	UserID  string `json:"user_id"`
	Balance Amount `json:"balance"`
}

// Member is a voice participant as shown in a target picker.
type Member struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// PendingAction is an action being assembled by an actor's session.
//
// QuotedCost and QuotedProbability are what the actor was shown. They are
// display-only; the coordinator recomputes both when the action executes.
type PendingAction struct {
	Token             string     `json:"token"`
	Kind              ActionKind `json:"kind"`
	ActorID           string     `json:"actor_id"`
	TargetID          string     `json:"target_id"`
	DurationSeconds   int        `json:"duration_seconds,omitempty"`
	StealAmount       int64      `json:"steal_amount,omitempty"`
	QuotedCost        Amount     `json:"quoted_cost"`
	QuotedProbability int        `json:"quoted_probability,omitempty"`
}

// Duration returns the effect duration as a time.Duration.
func (p PendingAction) Duration() time.Duration {
	return time.Duration(p.DurationSeconds) * time.Second
}

// FailureReason explains why an effect could not be applied.
type FailureReason string

const (
	ReasonNotInVoice            FailureReason = "not_in_voice"
	ReasonPermissionDenied      FailureReason = "permission_denied"
	ReasonCapabilityUnavailable FailureReason = "capability_unavailable"
	ReasonUnknown               FailureReason = "unknown"
)

// EffectResult is the transient answer of an effect applier.
type EffectResult struct {
	OK     bool          `json:"ok"`
	Reason FailureReason `json:"reason,omitempty"`
}

// Applied is the successful EffectResult.
func Applied() EffectResult {
	return EffectResult{OK: true}
}

// Failed builds a failed EffectResult.
func Failed(reason FailureReason) EffectResult {
	return EffectResult{Reason: reason}
}

// AuditOutcome records how a paid action ended.
type AuditOutcome string

const (
	OutcomeApplied   AuditOutcome = "applied"
	OutcomeStealWon  AuditOutcome = "steal_won"
	OutcomeStealLost AuditOutcome = "steal_lost"
)

// AuditRecord is the write-once record of a committed paid action.
//
// ID is content-addressed over every field except At (see AuditID).
type AuditRecord struct {
	ID              string       `json:"id"`
	Seq             int64        `json:"seq"`
	Token           string       `json:"token"`
	ActorID         string       `json:"actor_id"`
	TargetID        string       `json:"target_id"`
	Action          ActionKind   `json:"action"`
	DurationSeconds int          `json:"duration_seconds,omitempty"`
	Cost            Amount       `json:"cost"`
	Stolen          Amount       `json:"stolen,omitempty"`
	Probability     int          `json:"probability,omitempty"`
	Roll            int          `json:"roll,omitempty"`
	Outcome         AuditOutcome `json:"outcome"`
	At              time.Time    `json:"at"`
}
