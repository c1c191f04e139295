package engine

import (
	"fmt"

	"github.com/roach88/tokenbot/internal/ir"
)

// Mention renders a user id as a chat mention.
func Mention(userID string) string {
	return "<@" + userID + ">"
}

// EffectAnnouncement is the public line posted after an effect lands.
func EffectAnnouncement(out Outcome) string {
	switch out.Kind {
	case ir.ActionMute:
		return fmt.Sprintf("%s muted %s for %ds (%s tokens).",
			Mention(out.ActorID), Mention(out.TargetID), out.DurationSeconds, out.Cost)
	case ir.ActionDeafen:
		return fmt.Sprintf("%s deafened %s for %ds (%s tokens).",
			Mention(out.ActorID), Mention(out.TargetID), out.DurationSeconds, out.Cost)
	case ir.ActionDisconnect:
		return fmt.Sprintf("%s disconnected %s from voice (%s tokens).",
			Mention(out.ActorID), Mention(out.TargetID), out.Cost)
	}
	return ""
}

// StealAnnouncement is the public line posted after a steal resolves,
// whichever way it went.
func StealAnnouncement(out Outcome, requested int64) string {
	if out.Won {
		return fmt.Sprintf("%s stole %s tokens from %s! (rolled %d, needed under %d)",
			Mention(out.ActorID), out.Stolen, Mention(out.TargetID), out.Roll, out.Probability)
	}
	return fmt.Sprintf("%s tried to steal %d tokens from %s and failed, losing the %s token fee. (rolled %d, needed under %d)",
		Mention(out.ActorID), requested, Mention(out.TargetID), out.Cost, out.Roll, out.Probability)
}

// RefundFailedAlert is the operator alert for a compensation that could not
// be written.
func RefundFailedAlert(pa ir.PendingAction, userID string, amount ir.Amount) string {
	return fmt.Sprintf("REFUND FAILED: %s tokens owed to %s for %s (token %s). Reconcile the ledger by hand.",
		amount, Mention(userID), pa.Kind, pa.Token)
}
