package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/tokenbot/internal/engine"
	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/pricing"
	"github.com/roach88/tokenbot/internal/session"
)

// ShuttingDownText answers events that arrive or wait in the queue while
// the dispatcher stops.
const ShuttingDownText = "The bot is shutting down. Try again in a moment."

func promptTarget(v session.View) string {
	return fmt.Sprintf("Pick a target (%d in voice).", len(v.Candidates))
}

func promptAction(v session.View) string {
	return fmt.Sprintf("What should happen to %s?", engine.Mention(v.TargetID))
}

func promptParameters(v session.View) string {
	if v.Kind.IsTimed() {
		return fmt.Sprintf("For how many seconds should %s be %s? Each second costs 0.1 tokens.",
			engine.Mention(v.TargetID), pastTense(v.Kind))
	}
	return promptConfirm(v)
}

func promptConfirm(v session.View) string {
	switch v.Kind {
	case ir.ActionSteal:
		return fmt.Sprintf("Steal %d tokens from %s? The %s token fee is kept either way. Chance of success: %d%%.",
			v.StealAmount, engine.Mention(v.TargetID), v.Quote.Cost, v.Quote.Probability)
	case ir.ActionDisconnect:
		return fmt.Sprintf("Disconnect %s for %s tokens?", engine.Mention(v.TargetID), v.Quote.Cost)
	default:
		return fmt.Sprintf("%s %s for %ds for %s tokens?",
			titleCase(string(v.Kind)), engine.Mention(v.TargetID), v.DurationSeconds, v.Quote.Cost)
	}
}

// OutcomeText tells the actor what their confirmed action did.
func OutcomeText(out engine.Outcome) string {
	switch {
	case out.Kind == ir.ActionSteal && out.Won:
		return fmt.Sprintf("You stole %s tokens from %s (rolled %d, needed under %d). You now have %s tokens.",
			out.Stolen, engine.Mention(out.TargetID), out.Roll, out.Probability, out.BalanceAfter)
	case out.Kind == ir.ActionSteal:
		return fmt.Sprintf("The steal failed (rolled %d, needed under %d) and the %s token fee is gone. You now have %s tokens.",
			out.Roll, out.Probability, out.Cost, out.BalanceAfter)
	case out.Kind.IsTimed():
		return fmt.Sprintf("%s is %s for %ds. You paid %s and now have %s tokens.",
			engine.Mention(out.TargetID), pastTense(out.Kind), out.DurationSeconds, out.Cost, out.BalanceAfter)
	default:
		return fmt.Sprintf("%s was disconnected. You paid %s and now have %s tokens.",
			engine.Mention(out.TargetID), out.Cost, out.BalanceAfter)
	}
}

// ErrorText explains err to the actor. out is the partial outcome of a
// confirmed action, if any.
func ErrorText(err error, out *engine.Outcome) string {
	var e *engine.Error
	if !errors.As(err, &e) {
		return "Something went wrong on our side. Nothing was charged."
	}

	switch e.Code {
	case engine.ErrCodeInsufficientFunds:
		return fmt.Sprintf("You can't afford this: it costs %s tokens and you have %s.", e.Required, e.Balance)
	case engine.ErrCodeTargetInvalid:
		return fmt.Sprintf("You can't target that user: %s.", e.Message)
	case engine.ErrCodeInvalidInput:
		return fmt.Sprintf("That input was not accepted: %s.", e.Message)
	case engine.ErrCodeEffectFailed:
		refunded := "Your tokens were refunded."
		if out != nil {
			refunded = fmt.Sprintf("Your %s tokens were refunded.", out.Cost)
		}
		return fmt.Sprintf("The action failed: %s. %s", reasonText(e.Reason), refunded)
	case engine.ErrCodeAlreadyResolved:
		return "This action was already confirmed."
	case engine.ErrCodeSessionClosed:
		return "This request expired or was cancelled. Start again with /admin."
	case engine.ErrCodeRefundFailed:
		return "Something went wrong on our side while returning your tokens. The admins have been alerted."
	default:
		return "Something went wrong on our side. Nothing was charged."
	}
}

func reasonText(r ir.FailureReason) string {
	switch r {
	case ir.ReasonNotInVoice:
		return "the target is not in a voice channel"
	case ir.ReasonPermissionDenied:
		return "the bot is not allowed to do that"
	case ir.ReasonCapabilityUnavailable:
		return "that action is not available here"
	default:
		return "the chat platform rejected the request"
	}
}

// InfoText is the help message listing commands and prices.
func InfoText(reward ir.Amount, limits pricing.Limits) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You earn %s tokens for every message you post.\n\n", reward)
	b.WriteString("Commands:\n")
	b.WriteString("/tokens - show your balance\n")
	b.WriteString("/admin - spend tokens on someone in voice\n")
	b.WriteString("/robar - try to steal tokens from someone\n")
	b.WriteString("/info - show this message\n\n")
	b.WriteString("Prices:\n")
	for _, r := range pricing.Table() {
		fmt.Fprintf(&b, "- %s: %s\n", r.Kind, r.Description)
	}
	fmt.Fprintf(&b, "\nMute and deafen last at most %d seconds.", limits.MaxDurationSeconds)
	return b.String()
}

func pastTense(k ir.ActionKind) string {
	switch k {
	case ir.ActionMute:
		return "muted"
	case ir.ActionDeafen:
		return "deafened"
	}
	return string(k)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
