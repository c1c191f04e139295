package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/tokenbot/internal/bot"
	"github.com/roach88/tokenbot/internal/engine"
	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/ledger"
	"github.com/roach88/tokenbot/internal/session"
	"github.com/roach88/tokenbot/internal/testutil"
)

// Harness holds the deterministic fixture a scenario runs against.
type Harness struct {
	ledger   *ledger.Memory
	applier  *testutil.FakeApplier
	notifier *testutil.RecordingNotifier
	clock    *testutil.DeterministicClock
	bot      *bot.Bot

	// tokens maps each user to their most recent session token.
	tokens map[string]string
	seq    int64
}

// New builds a fresh fixture for scenario and seeds the ledger.
func New(ctx context.Context, scenario *Scenario) (*Harness, error) {
	h := &Harness{
		ledger:   ledger.NewMemory(),
		applier:  testutil.NewFakeApplier(),
		notifier: &testutil.RecordingNotifier{},
		clock:    testutil.NewDeterministicClock(),
		tokens:   make(map[string]string),
	}
	if err := testutil.SeedLedger(ctx, h.ledger, scenario.Balances); err != nil {
		return nil, err
	}
	for target, reason := range scenario.FailEffects {
		h.applier.Fail(target, ir.FailureReason(reason))
	}

	coord := engine.New(h.ledger, h.applier, h.notifier,
		engine.WithClock(h.clock),
		engine.WithNow(h.clock.Now),
		engine.WithRoller(engine.NewFixedRoller(scenario.Rolls...)),
	)
	sessions := session.NewManager(coord, h.ledger, testutil.NewStaticRoster(scenario.Roster...),
		session.WithTokenGenerator(testutil.NewSequentialTokens("")),
		session.WithNow(h.clock.Now),
	)

	opts := []bot.Option{bot.WithNow(h.clock.Now)}
	if scenario.Reward != "" {
		reward, err := ir.ParseAmount(scenario.Reward)
		if err != nil {
			return nil, fmt.Errorf("reward: %w", err)
		}
		opts = append(opts, bot.WithReward(reward))
	}
	h.bot = bot.New(h.ledger, sessions, opts...)
	return h, nil
}

// Run executes scenario in a fresh fixture.
//
// Step expectations and assertions that do not hold are reported in the
// Result; the returned error is for scenarios that could not run at all.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	h, err := New(ctx, scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to build fixture: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		ev, err := h.event(step)
		if err != nil {
			return nil, fmt.Errorf("flow step %d: %w", i, err)
		}
		trace, err := h.execute(ctx, ev)
		if err != nil {
			return nil, fmt.Errorf("flow step %d: %w", i, err)
		}
		result.AddTrace(trace)

		if step.Expect != nil {
			for _, msg := range checkExpect(trace, step.Expect) {
				result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Event, msg))
			}
		}
		slog.Debug("flow step completed", "step", i, "event", step.Event, "ok", trace.OK, "reason", trace.Reason)
	}

	for _, user := range scenarioUsers(scenario) {
		b, err := h.ledger.Balance(ctx, user)
		if err != nil {
			return nil, err
		}
		result.Balances[user] = b.String()
	}

	actx := &AssertionContext{
		Ctx:           ctx,
		Ledger:        h.ledger,
		Audits:        h.notifier.Audits(),
		Announcements: h.notifier.Announcements(),
		Effects:       h.applier.Calls(),
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// event converts a step into a bot event, filling in the session token.
func (h *Harness) event(step Step) (bot.Event, error) {
	token := step.Token
	if token == "" {
		token = h.tokens[step.User]
	}
	var kind ir.ActionKind
	if step.Kind != "" {
		k, err := ir.ParseActionKind(step.Kind)
		if err != nil {
			return nil, err
		}
		kind = k
	}

	switch step.Event {
	case "message_posted":
		return bot.MessagePosted{AuthorID: step.User, IsBot: step.Bot}, nil
	case "balance_query":
		return bot.BalanceQuery{UserID: step.User}, nil
	case "info_requested":
		return bot.InfoRequested{UserID: step.User}, nil
	case "action_request":
		return bot.ActionRequest{UserID: step.User}, nil
	case "target_picked":
		return bot.TargetPicked{Token: token, UserID: step.User, TargetID: step.Target}, nil
	case "action_picked":
		return bot.ActionPicked{Token: token, UserID: step.User, TargetID: step.Target, Kind: kind}, nil
	case "duration_submitted":
		return bot.DurationSubmitted{Token: token, UserID: step.User, TargetID: step.Target, Kind: kind, Raw: step.Raw}, nil
	case "confirm_requested":
		return bot.ConfirmRequested{Token: token, UserID: step.User}, nil
	case "cancel_requested":
		return bot.CancelRequested{Token: token, UserID: step.User}, nil
	case "steal_requested":
		return bot.StealRequested{UserID: step.User, TargetID: step.Target, Amount: step.Amount}, nil
	}
	return nil, fmt.Errorf("unknown event %q", step.Event)
}

// execute handles ev and traces the result.
func (h *Harness) execute(ctx context.Context, ev bot.Event) (TraceEvent, error) {
	res := h.bot.Handle(ctx, ev)

	h.seq++
	trace := TraceEvent{
		Seq:    h.seq,
		Event:  ev.Name(),
		Actor:  ev.Actor(),
		OK:     res.OK,
		Reason: string(res.Reason),
	}
	if res.View != nil {
		trace.State = string(res.View.State)
		if res.View.Quote.Cost > 0 {
			trace.Cost = res.View.Quote.Cost.String()
		}
		if res.View.Token != "" {
			h.tokens[ev.Actor()] = res.View.Token
		}
	}
	if res.OK && res.Outcome != nil {
		trace.Outcome = string(outcomeOf(*res.Outcome))
	}

	balance, err := h.ledger.Balance(ctx, ev.Actor())
	if err != nil {
		return TraceEvent{}, err
	}
	trace.Balance = balance.String()
	return trace, nil
}

func outcomeOf(out engine.Outcome) ir.AuditOutcome {
	switch {
	case out.Kind != ir.ActionSteal:
		return ir.OutcomeApplied
	case out.Won:
		return ir.OutcomeStealWon
	default:
		return ir.OutcomeStealLost
	}
}

func checkExpect(trace TraceEvent, want *Expect) []string {
	var errs []string
	mismatch := func(field, expected, actual string) {
		errs = append(errs, fmt.Sprintf("expected %s %q, got %q", field, expected, actual))
	}
	if want.OK != nil && *want.OK != trace.OK {
		errs = append(errs, fmt.Sprintf("expected ok=%t, got ok=%t (reason %q)", *want.OK, trace.OK, trace.Reason))
	}
	if want.Reason != "" && want.Reason != trace.Reason {
		mismatch("reason", want.Reason, trace.Reason)
	}
	if want.State != "" && want.State != trace.State {
		mismatch("state", want.State, trace.State)
	}
	if want.Outcome != "" && want.Outcome != trace.Outcome {
		mismatch("outcome", want.Outcome, trace.Outcome)
	}
	if want.Cost != "" && !sameAmount(want.Cost, trace.Cost) {
		mismatch("cost", want.Cost, trace.Cost)
	}
	if want.Balance != "" && !sameAmount(want.Balance, trace.Balance) {
		mismatch("balance", want.Balance, trace.Balance)
	}
	return errs
}

// sameAmount compares two amounts by value, so "4" matches "4.0".
func sameAmount(want, got string) bool {
	w, err := ir.ParseAmount(want)
	if err != nil {
		return false
	}
	g, err := ir.ParseAmount(got)
	if err != nil {
		return false
	}
	return w == g
}

// scenarioUsers lists every user a scenario mentions, sorted.
func scenarioUsers(s *Scenario) []string {
	seen := make(map[string]bool)
	add := func(u string) {
		if u != "" {
			seen[u] = true
		}
	}
	for _, u := range s.Roster {
		add(u)
	}
	for u := range s.Balances {
		add(u)
	}
	for _, step := range s.Flow {
		add(step.User)
		add(step.Target)
	}
	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}
