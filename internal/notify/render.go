package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/tokenbot/internal/engine"
	"github.com/roach88/tokenbot/internal/ir"
)

// RenderAudit renders rec as aligned "key: value" lines.
func RenderAudit(rec ir.AuditRecord) string {
	var b strings.Builder
	line := func(k, v string) {
		fmt.Fprintf(&b, "%-14s%s\n", k+":", v)
	}

	line("seq", strconv.FormatInt(rec.Seq, 10))
	line("id", rec.ID)
	line("token", rec.Token)
	line("action", string(rec.Action))
	line("actor", rec.ActorID)
	line("target", rec.TargetID)
	if rec.DurationSeconds > 0 {
		line("duration", fmt.Sprintf("%ds", rec.DurationSeconds))
	}
	line("cost", rec.Cost.String())
	if rec.Action == ir.ActionSteal {
		line("probability", fmt.Sprintf("%d%%", rec.Probability))
		line("roll", strconv.Itoa(rec.Roll))
		line("stolen", rec.Stolen.String())
	}
	line("outcome", string(rec.Outcome))
	if !rec.At.IsZero() {
		line("at", rec.At.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// Summary is a one-line description of rec using chat mentions.
func Summary(rec ir.AuditRecord) string {
	actor, target := engine.Mention(rec.ActorID), engine.Mention(rec.TargetID)
	switch rec.Outcome {
	case ir.OutcomeStealWon:
		return fmt.Sprintf("%s stole %s from %s (fee %s, %d%%, roll %d)",
			actor, rec.Stolen, target, rec.Cost, rec.Probability, rec.Roll)
	case ir.OutcomeStealLost:
		return fmt.Sprintf("%s failed to steal from %s (fee %s, %d%%, roll %d)",
			actor, target, rec.Cost, rec.Probability, rec.Roll)
	}
	if rec.DurationSeconds > 0 {
		return fmt.Sprintf("%s used %s on %s for %ds (%s)", actor, rec.Action, target, rec.DurationSeconds, rec.Cost)
	}
	return fmt.Sprintf("%s used %s on %s (%s)", actor, rec.Action, target, rec.Cost)
}
