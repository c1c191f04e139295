// Package bot turns normalized chat events into ledger and session
// operations and renders the result for the actor.
//
// Handle processes one event synchronously. Submit and Run provide the
// asynchronous form used by the gateway: every queued event is handled in
// its own goroutine, so a slow effect never delays unrelated users.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tokenbot/internal/engine"
	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/ledger"
	"github.com/roach88/tokenbot/internal/pricing"
	"github.com/roach88/tokenbot/internal/session"
)

// DefaultReward is credited for every message a human posts.
var DefaultReward = ir.Tokens(1)

// pruneInterval is how often Run forgets idle earn limiters.
const pruneInterval = time.Minute

// Result is the payload returned to the actor for one event.
type Result struct {
	OK           bool             `json:"ok"`
	BalanceAfter ir.Amount        `json:"balance_after"`
	Reason       engine.ErrorCode `json:"reason,omitempty"`
	Message      string           `json:"message,omitempty"`
	View         *session.View    `json:"view,omitempty"`
	Outcome      *engine.Outcome  `json:"outcome,omitempty"`
}

// Bot dispatches events.
//
// Thread-safety: Bot is safe for concurrent use.
type Bot struct {
	ledger   ledger.Store
	sessions *session.Manager
	limits   pricing.Limits
	reward   ir.Amount
	earn     *earnLimiter
	now      func() time.Time

	queue *eventQueue
	wg    sync.WaitGroup

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// Option configures a Bot.
type Option func(*Bot)

// WithReward sets the amount credited per message.
func WithReward(a ir.Amount) Option {
	return func(b *Bot) { b.reward = a }
}

// WithEarnLimit allows each user one reward per every, with bursts of up
// to burst messages. A zero every disables the limit.
func WithEarnLimit(every time.Duration, burst int) Option {
	return func(b *Bot) {
		if every <= 0 {
			b.earn = nil
			return
		}
		b.earn = newEarnLimiter(every, burst)
	}
}

// WithLimits sets the limits shown by the info message.
func WithLimits(l pricing.Limits) Option {
	return func(b *Bot) { b.limits = l }
}

// WithNow overrides the wall clock used by the earn limiter.
func WithNow(now func() time.Time) Option {
	return func(b *Bot) { b.now = now }
}

// New creates a Bot.
func New(l ledger.Store, sessions *session.Manager, opts ...Option) *Bot {
	b := &Bot{
		ledger:   l,
		sessions: sessions,
		limits:   pricing.DefaultLimits(),
		reward:   DefaultReward,
		now:      time.Now,
		queue:    newEventQueue(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Handle processes ev and returns the actor's result.
func (b *Bot) Handle(ctx context.Context, ev Event) Result {
	slog.Debug("handling event", "kind", ev.Name(), "actor", ev.Actor())

	switch e := ev.(type) {
	case MessagePosted:
		return b.earnReward(ctx, e)
	case BalanceQuery:
		return b.balance(ctx, e.UserID)
	case InfoRequested:
		return Result{OK: true, Message: InfoText(b.reward, b.limits)}
	case ActionRequest:
		v, err := b.sessions.Begin(ctx, e.UserID)
		return b.step(ctx, e.UserID, v, err, promptTarget)
	case TargetPicked:
		v, err := b.sessions.PickTarget(ctx, e.Token, e.UserID, e.TargetID)
		return b.step(ctx, e.UserID, v, err, promptAction)
	case ActionPicked:
		v, err := b.sessions.PickAction(ctx, e.Token, e.UserID, e.TargetID, e.Kind)
		return b.step(ctx, e.UserID, v, err, promptParameters)
	case DurationSubmitted:
		v, err := b.sessions.SubmitDuration(ctx, e.Token, e.UserID, e.TargetID, e.Kind, e.Raw)
		return b.step(ctx, e.UserID, v, err, promptConfirm)
	case StealRequested:
		v, err := b.sessions.RequestSteal(ctx, e.UserID, e.TargetID, e.Amount)
		return b.step(ctx, e.UserID, v, err, promptConfirm)
	case ConfirmRequested:
		v, err := b.sessions.Confirm(ctx, e.Token, e.UserID)
		return b.confirmed(v, err)
	case CancelRequested:
		v, err := b.sessions.Cancel(ctx, e.Token, e.UserID)
		if err != nil {
			return failure(err, nil)
		}
		return Result{OK: true, Message: "Cancelled. Nothing was charged.", View: &v}
	default:
		return failure(fmt.Errorf("unsupported event %T", ev), nil)
	}
}

// Submit queues ev for Run. reply, if non-nil, receives the result from
// the handling goroutine. Returns false once the bot is stopping.
func (b *Bot) Submit(ev Event, reply func(Result)) bool {
	return b.queue.Enqueue(job{event: ev, reply: reply})
}

// Run handles queued events until ctx is done or Stop is called. It
// waits for in-flight handlers before returning. Events still queued when
// ctx is done are answered with ShuttingDownText instead of handled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return errors.New("bot already running")
	}
	b.running = true
	b.done = make(chan struct{})
	done := b.done
	b.mu.Unlock()
	defer close(done)

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return b.refuseQueued(ctx)
		}
		b.dispatchQueued(ctx)

		select {
		case <-ctx.Done():
			return b.refuseQueued(ctx)
		case _, open := <-b.queue.Wait():
			if !open {
				b.dispatchQueued(ctx)
				b.wg.Wait()
				return nil
			}
		case <-ticker.C:
			if b.earn != nil {
				b.earn.prune(b.now())
			}
		}
	}
}

// Stop stops accepting events and waits until Run has finished the
// events already queued.
func (b *Bot) Stop() {
	b.queue.Close()

	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done != nil {
		<-done
	}
}

// refuseQueued closes the queue, replies to every job not yet dispatched
// and waits for in-flight handlers.
func (b *Bot) refuseQueued(ctx context.Context) error {
	b.queue.Close()
	refused := 0
	for {
		j, ok := b.queue.TryDequeue()
		if !ok {
			break
		}
		refused++
		if j.reply != nil {
			j.reply(Result{Message: ShuttingDownText})
		}
	}
	if refused > 0 {
		slog.Info("refused queued events on shutdown", "count", refused)
	}
	b.wg.Wait()
	return ctx.Err()
}

func (b *Bot) dispatchQueued(ctx context.Context) {
	for {
		j, ok := b.queue.TryDequeue()
		if !ok {
			return
		}
		b.wg.Add(1)
		go b.handleJob(ctx, j)
	}
}

func (b *Bot) handleJob(ctx context.Context, j job) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "event", "handler_panic", "kind", j.event.Name(), "actor", j.event.Actor(), "panic", r)
			if j.reply != nil {
				j.reply(failure(fmt.Errorf("panic: %v", r), nil))
			}
		}
	}()

	res := b.Handle(ctx, j.event)
	if j.reply != nil {
		j.reply(res)
	}
}

func (b *Bot) earnReward(ctx context.Context, e MessagePosted) Result {
	if e.IsBot || e.AuthorID == "" || b.reward <= 0 {
		return Result{}
	}
	if b.earn != nil && !b.earn.allow(e.AuthorID, b.now()) {
		slog.Debug("earn rate limited", "user", e.AuthorID)
		return Result{}
	}

	balance, err := b.ledger.Adjust(ctx, e.AuthorID, b.reward)
	if err != nil {
		return failure(engine.NewStoreUnavailableError(err), nil)
	}
	return Result{OK: true, BalanceAfter: balance}
}

func (b *Bot) balance(ctx context.Context, userID string) Result {
	balance, err := b.ledger.Balance(ctx, userID)
	if err != nil {
		return failure(engine.NewStoreUnavailableError(err), nil)
	}
	return Result{OK: true, BalanceAfter: balance, Message: fmt.Sprintf("You have %s tokens.", balance)}
}

// step renders a successful session transition with prompt, or the error.
// The actor's current balance is attached on a best-effort basis.
func (b *Bot) step(ctx context.Context, actorID string, v session.View, err error, prompt func(session.View) string) Result {
	if err != nil {
		return failure(err, nil)
	}
	res := Result{OK: true, Message: prompt(v), View: &v}
	if balance, berr := b.ledger.Balance(ctx, actorID); berr == nil {
		res.BalanceAfter = balance
	}
	return res
}

func (b *Bot) confirmed(v session.View, err error) Result {
	if err != nil {
		out := v.Outcome
		if out != nil && out.Token == "" {
			// rejected before any ledger write
			out = nil
		}
		res := failure(err, out)
		if v.Token != "" {
			res.View = &v
		}
		return res
	}
	res := Result{OK: true, View: &v, Outcome: v.Outcome}
	if v.Outcome != nil {
		res.BalanceAfter = v.Outcome.BalanceAfter
		res.Message = OutcomeText(*v.Outcome)
	}
	return res
}

// failure renders err for the actor. Unexpected errors are logged here.
func failure(err error, out *engine.Outcome) Result {
	res := Result{Reason: engine.CodeOf(err), Outcome: out, Message: ErrorText(err, out)}
	if out != nil {
		res.BalanceAfter = out.BalanceAfter
	}

	var e *engine.Error
	if errors.As(err, &e) {
		switch e.Code {
		case engine.ErrCodeInsufficientFunds, engine.ErrCodeEffectFailed:
			res.BalanceAfter = e.Balance
		case engine.ErrCodeStoreUnavailable, engine.ErrCodeRefundFailed:
			slog.Error("action failed", "code", e.Code, "token", e.Token, "error", err)
		}
		return res
	}
	slog.Error("unexpected handler error", "error", err)
	return res
}
