package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/ledger"
	"github.com/roach88/tokenbot/internal/pricing"
)

const (
	// DefaultEffectTimeout bounds one call into the effect applier.
	DefaultEffectTimeout = 10 * time.Second

	// DefaultRefundAttempts is how many times a compensation is written
	// before it is declared failed.
	DefaultRefundAttempts = 3

	// DefaultRefundBackoff is the delay before the second refund attempt.
	// Later attempts wait proportionally longer.
	DefaultRefundBackoff = 50 * time.Millisecond
)

// EffectApplier applies a moderation effect to a voice participant.
//
// Implementations must honor ctx cancellation. A non-nil error is treated
// as a failed effect with ReasonUnknown unless the result names a reason.
type EffectApplier interface {
	Apply(ctx context.Context, targetID string, effect ir.ActionKind, duration time.Duration) (ir.EffectResult, error)
}

// Notifier receives audit records and public announcements.
// Delivery is best-effort; errors are logged and never roll back a
// committed transaction.
type Notifier interface {
	Audit(ctx context.Context, rec ir.AuditRecord) error
	AnnouncePublic(ctx context.Context, text string) error
}

// Alerter is implemented by notifiers that can page an operator.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Outcome describes a committed (or compensated) paid action.
type Outcome struct {
	Token           string        `json:"token"`
	Kind            ir.ActionKind `json:"kind"`
	ActorID         string        `json:"actor_id"`
	TargetID        string        `json:"target_id"`
	DurationSeconds int           `json:"duration_seconds,omitempty"`
	Cost            ir.Amount     `json:"cost"`
	BalanceAfter    ir.Amount     `json:"balance_after"`

	// Steal only.
	Probability        int       `json:"probability,omitempty"`
	Roll               int       `json:"roll,omitempty"`
	Won                bool      `json:"won,omitempty"`
	Stolen             ir.Amount `json:"stolen,omitempty"`
	TargetBalanceAfter ir.Amount `json:"target_balance_after,omitempty"`

	AuditID      string `json:"audit_id,omitempty"`
	Announcement string `json:"announcement,omitempty"`
}

// Coordinator executes paid actions against the ledger.
//
// Thread-safety: Coordinator is safe for concurrent use. It holds no mutable
// state besides the atomic Clock.
type Coordinator struct {
	ledger   ledger.Store
	applier  EffectApplier
	notifier Notifier

	roller         Roller
	clock          Sequencer
	limits         pricing.Limits
	effectTimeout  time.Duration
	refundAttempts int
	refundBackoff  time.Duration
	metrics        *Metrics
	now            func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRoller sets the steal roller. Default: RandomRoller.
func WithRoller(r Roller) Option {
	return func(c *Coordinator) { c.roller = r }
}

// WithClock sets the audit sequence source. Default: NewClock().
func WithClock(clock Sequencer) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithLimits sets parameter bounds. Default: pricing.DefaultLimits().
func WithLimits(l pricing.Limits) Option {
	return func(c *Coordinator) { c.limits = l }
}

// WithEffectTimeout bounds each effect application.
func WithEffectTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.effectTimeout = d }
}

// WithRefundPolicy sets the number of compensation attempts and the base
// backoff between them.
func WithRefundPolicy(attempts int, backoff time.Duration) Option {
	return func(c *Coordinator) {
		if attempts < 1 {
			attempts = 1
		}
		c.refundAttempts = attempts
		c.refundBackoff = backoff
	}
}

// WithMetrics sets the instruments. Default: instruments on the global
// meter provider.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithNow overrides the wall clock used for audit timestamps.
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator. A nil notifier discards audit records.
func New(l ledger.Store, applier EffectApplier, notifier Notifier, opts ...Option) *Coordinator {
	if notifier == nil {
		notifier = discardNotifier{}
	}
	c := &Coordinator{
		ledger:         l,
		applier:        applier,
		notifier:       notifier,
		roller:         RandomRoller{},
		clock:          NewClock(),
		limits:         pricing.DefaultLimits(),
		effectTimeout:  DefaultEffectTimeout,
		refundAttempts: DefaultRefundAttempts,
		refundBackoff:  DefaultRefundBackoff,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = defaultMetrics()
	}
	return c
}

// Limits returns the parameter bounds the coordinator enforces.
func (c *Coordinator) Limits() pricing.Limits {
	return c.limits
}

// Quote prices an action without executing it.
func (c *Coordinator) Quote(kind ir.ActionKind, durationSeconds int, stealAmount int64) (pricing.Quote, error) {
	q, err := c.limits.Price(kind, durationSeconds, stealAmount)
	if err != nil {
		return pricing.Quote{}, NewInvalidInputError(err.Error())
	}
	return q, nil
}

// Execute runs a confirmed action to completion.
//
// Cost and probability are recomputed from pa's parameters; pa.QuotedCost
// is ignored. Exactly one of these holds on return:
//   - the action committed and was audited (err == nil)
//   - nothing was charged (INSUFFICIENT_FUNDS, TARGET_INVALID, INVALID_INPUT,
//     STORE_UNAVAILABLE)
//   - the charge was refunded (EFFECT_APPLICATION_FAILED, or
//     STORE_UNAVAILABLE mid-steal)
//   - a refund could not be written (REFUND_FAILED)
func (c *Coordinator) Execute(ctx context.Context, pa ir.PendingAction) (Outcome, error) {
	if pa.TargetID == "" {
		return Outcome{}, c.reject(ctx, pa, NewTargetInvalidError("no target selected"))
	}
	if pa.TargetID == pa.ActorID {
		return Outcome{}, c.reject(ctx, pa, NewTargetInvalidError("you cannot target yourself"))
	}

	quote, err := c.Quote(pa.Kind, pa.DurationSeconds, pa.StealAmount)
	if err != nil {
		return Outcome{}, c.reject(ctx, pa, err)
	}

	if pa.Kind == ir.ActionSteal {
		return c.executeSteal(ctx, pa, quote)
	}
	return c.executeEffect(ctx, pa, quote)
}

func (c *Coordinator) executeEffect(ctx context.Context, pa ir.PendingAction, quote pricing.Quote) (Outcome, error) {
	out := Outcome{
		Token:           pa.Token,
		Kind:            pa.Kind,
		ActorID:         pa.ActorID,
		TargetID:        pa.TargetID,
		DurationSeconds: pa.DurationSeconds,
		Cost:            quote.Cost,
	}

	balance, err := c.debit(ctx, pa, quote.Cost)
	if err != nil {
		return Outcome{}, c.reject(ctx, pa, err)
	}
	out.BalanceAfter = balance

	res, applyErr := c.apply(ctx, pa)
	if !res.OK {
		slog.Warn("effect not applied, refunding",
			"token", pa.Token,
			"action", pa.Kind,
			"target", pa.TargetID,
			"reason", res.Reason,
			"error", applyErr,
		)
		refunded, rerr := c.refund(ctx, pa, pa.ActorID, quote.Cost, "effect_failed")
		if rerr != nil {
			c.metrics.transaction(ctx, string(pa.Kind), string(ErrCodeRefundFailed))
			return out, rerr
		}
		out.BalanceAfter = refunded
		c.metrics.transaction(ctx, string(pa.Kind), string(ErrCodeEffectFailed))

		e := NewEffectFailedError(res.Reason, applyErr)
		e.Token = pa.Token
		e.Balance = refunded
		return out, e
	}

	rec := c.audit(ctx, ir.AuditRecord{
		Token:           pa.Token,
		ActorID:         pa.ActorID,
		TargetID:        pa.TargetID,
		Action:          pa.Kind,
		DurationSeconds: pa.DurationSeconds,
		Cost:            quote.Cost,
		Outcome:         ir.OutcomeApplied,
	})
	out.AuditID = rec.ID
	out.Announcement = EffectAnnouncement(out)
	c.announce(ctx, pa.Token, out.Announcement)

	c.metrics.transaction(ctx, string(pa.Kind), string(ir.OutcomeApplied))
	slog.Info("effect applied",
		"token", pa.Token,
		"action", pa.Kind,
		"actor", pa.ActorID,
		"target", pa.TargetID,
		"cost", quote.Cost.String(),
		"balance", balance.String(),
	)
	return out, nil
}

func (c *Coordinator) executeSteal(ctx context.Context, pa ir.PendingAction, quote pricing.Quote) (Outcome, error) {
	out := Outcome{
		Token:       pa.Token,
		Kind:        pa.Kind,
		ActorID:     pa.ActorID,
		TargetID:    pa.TargetID,
		Cost:        quote.Cost,
		Probability: quote.Probability,
	}

	balance, err := c.debit(ctx, pa, quote.Cost)
	if err != nil {
		return Outcome{}, c.reject(ctx, pa, err)
	}
	out.BalanceAfter = balance

	out.Roll = c.roller.Roll()
	out.Won = out.Roll < quote.Probability

	if out.Won {
		taken, remaining, err := c.ledger.Take(ctx, pa.TargetID, ir.Tokens(pa.StealAmount))
		if err != nil {
			return c.abortSteal(ctx, pa, out, err)
		}
		if taken > 0 {
			credited, err := c.ledger.Adjust(ctx, pa.ActorID, taken)
			if err != nil {
				if _, rerr := c.refund(ctx, pa, pa.TargetID, taken, "steal_credit_failed"); rerr != nil {
					c.metrics.transaction(ctx, string(pa.Kind), string(ErrCodeRefundFailed))
					return out, rerr
				}
				return c.abortSteal(ctx, pa, out, err)
			}
			out.BalanceAfter = credited
		}
		out.Stolen = taken
		out.TargetBalanceAfter = remaining
	}

	outcome := ir.OutcomeStealLost
	if out.Won {
		outcome = ir.OutcomeStealWon
	}
	rec := c.audit(ctx, ir.AuditRecord{
		Token:       pa.Token,
		ActorID:     pa.ActorID,
		TargetID:    pa.TargetID,
		Action:      ir.ActionSteal,
		Cost:        quote.Cost,
		Stolen:      out.Stolen,
		Probability: quote.Probability,
		Roll:        out.Roll,
		Outcome:     outcome,
	})
	out.AuditID = rec.ID
	out.Announcement = StealAnnouncement(out, pa.StealAmount)
	c.announce(ctx, pa.Token, out.Announcement)

	c.metrics.transaction(ctx, string(pa.Kind), string(outcome))
	slog.Info("steal resolved",
		"token", pa.Token,
		"actor", pa.ActorID,
		"target", pa.TargetID,
		"requested", pa.StealAmount,
		"fee", quote.Cost.String(),
		"probability", quote.Probability,
		"roll", out.Roll,
		"stolen", out.Stolen.String(),
	)
	return out, nil
}

// abortSteal refunds the fee after the ledger failed while moving stolen
// tokens. The contest is void, so the fee does not stand.
func (c *Coordinator) abortSteal(ctx context.Context, pa ir.PendingAction, out Outcome, cause error) (Outcome, error) {
	slog.Error("steal aborted by ledger failure",
		"token", pa.Token,
		"actor", pa.ActorID,
		"target", pa.TargetID,
		"error", cause,
	)
	if _, rerr := c.refund(ctx, pa, pa.ActorID, out.Cost, "steal_aborted"); rerr != nil {
		c.metrics.transaction(ctx, string(pa.Kind), string(ErrCodeRefundFailed))
		return out, rerr
	}
	c.metrics.transaction(ctx, string(pa.Kind), string(ErrCodeStoreUnavailable))
	e := NewStoreUnavailableError(cause)
	e.Token = pa.Token
	return Outcome{}, e
}

// debit charges cost atomically and maps ledger errors to coordinator codes.
func (c *Coordinator) debit(ctx context.Context, pa ir.PendingAction, cost ir.Amount) (ir.Amount, error) {
	balance, err := c.ledger.Debit(ctx, pa.ActorID, cost)
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		e := NewInsufficientFundsError(balance, cost)
		e.Token = pa.Token
		return balance, e
	case err != nil:
		e := NewStoreUnavailableError(err)
		e.Token = pa.Token
		return 0, e
	}
	return balance, nil
}

// apply calls the effect applier under the effect timeout and normalizes
// the result so that !OK always carries a reason.
func (c *Coordinator) apply(ctx context.Context, pa ir.PendingAction) (ir.EffectResult, error) {
	if c.applier == nil {
		return ir.Failed(ir.ReasonCapabilityUnavailable), nil
	}

	applyCtx := ctx
	if c.effectTimeout > 0 {
		var cancel context.CancelFunc
		applyCtx, cancel = context.WithTimeout(ctx, c.effectTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := c.applier.Apply(applyCtx, pa.TargetID, pa.Kind, pa.Duration())
	if err != nil {
		res.OK = false
	}
	if !res.OK && res.Reason == "" {
		res.Reason = ir.ReasonUnknown
	}
	c.metrics.effect(ctx, string(pa.Kind), time.Since(start), res.OK)
	return res, err
}

// refund credits amount back to userID with bounded retries. It runs on a
// context detached from the caller's cancellation: a request that was
// cancelled after the debit must still be compensated.
func (c *Coordinator) refund(ctx context.Context, pa ir.PendingAction, userID string, amount ir.Amount, cause string) (ir.Amount, error) {
	ctx = context.WithoutCancel(ctx)

	var lastErr error
	for attempt := 1; attempt <= c.refundAttempts; attempt++ {
		balance, err := c.ledger.Adjust(ctx, userID, amount)
		if err == nil {
			c.metrics.refund(ctx, string(pa.Kind))
			slog.Info("refund written",
				"token", pa.Token,
				"user", userID,
				"amount", amount.String(),
				"cause", cause,
			)
			return balance, nil
		}
		lastErr = err
		slog.Warn("refund attempt failed",
			"token", pa.Token,
			"user", userID,
			"attempt", attempt,
			"error", err,
		)
		if attempt < c.refundAttempts && c.refundBackoff > 0 {
			time.Sleep(time.Duration(attempt) * c.refundBackoff)
		}
	}

	slog.Error("refund failed, ledger needs reconciliation",
		"event", "ledger_inconsistency",
		"token", pa.Token,
		"action", pa.Kind,
		"user", userID,
		"amount", amount.String(),
		"cause", cause,
		"error", lastErr,
	)
	c.metrics.inconsistency(ctx, string(pa.Kind))
	if alerter, ok := c.notifier.(Alerter); ok {
		text := RefundFailedAlert(pa, userID, amount)
		if err := alerter.Alert(ctx, text); err != nil {
			slog.Error("alert delivery failed", "event", "notifier_failed", "token", pa.Token, "error", err)
		}
	}

	e := NewRefundFailedError(userID, amount, lastErr)
	e.Token = pa.Token
	return 0, e
}

// audit stamps seq, timestamp and content id, then hands the record to the
// notifier. Delivery failure is logged only.
func (c *Coordinator) audit(ctx context.Context, rec ir.AuditRecord) ir.AuditRecord {
	rec.Seq = c.clock.Next()
	rec.At = c.now().UTC()
	id, err := ir.AuditID(rec)
	if err != nil {
		slog.Error("audit id computation failed", "token", rec.Token, "error", err)
	}
	rec.ID = id

	if err := c.notifier.Audit(ctx, rec); err != nil {
		slog.Error("audit delivery failed",
			"event", "notifier_failed",
			"token", rec.Token,
			"seq", rec.Seq,
			"error", err,
		)
	}
	return rec
}

func (c *Coordinator) announce(ctx context.Context, token, text string) {
	if text == "" {
		return
	}
	if err := c.notifier.AnnouncePublic(ctx, text); err != nil {
		slog.Warn("announcement failed",
			"event", "notifier_failed",
			"token", token,
			"error", err,
		)
	}
}

// reject records a pre-charge failure and returns err unchanged.
func (c *Coordinator) reject(ctx context.Context, pa ir.PendingAction, err error) error {
	code := CodeOf(err)
	c.metrics.transaction(ctx, string(pa.Kind), string(code))
	slog.Debug("action rejected",
		"token", pa.Token,
		"action", pa.Kind,
		"actor", pa.ActorID,
		"code", code,
	)
	return err
}

type discardNotifier struct{}

func (discardNotifier) Audit(context.Context, ir.AuditRecord) error { return nil }
func (discardNotifier) AnnouncePublic(context.Context, string) error { return nil }
