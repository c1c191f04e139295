// Package session tracks each actor's multi-step action flow.
//
// A session is created by Begin (target picker) or RequestSteal and is
// addressed afterwards only by its correlation token:
//
//	Idle -> TargetSelected -> ActionChosen -> ParametersPending -> Confirmed -> Resolved
//	                                      \________(disconnect, steal)_______/
//
// Any non-terminal state may move to Cancelled through Cancel or expiry.
// Steps arriving out of order are rejected and leave the session untouched.
//
// The Manager's mutex guards the session table only. It is released before
// every call into the roster, the ledger, the resolution log or the
// executor.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/width"

	"github.com/roach88/tokenbot/internal/engine"
	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/pricing"
)

// State is a session's position in the action flow.
type State string

const (
	StateIdle              State = "idle"
	StateTargetSelected    State = "target_selected"
	StateActionChosen      State = "action_chosen"
	StateParametersPending State = "parameters_pending"
	StateConfirmed         State = "confirmed"
	StateResolved          State = "resolved"
	StateCancelled         State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateCancelled
}

const (
	// DefaultTTL is how long a session may sit without input.
	DefaultTTL = 5 * time.Minute

	// DefaultRetention is how long finished sessions answer duplicates.
	DefaultRetention = 15 * time.Minute
)

// Executor runs confirmed actions. Implemented by *engine.Coordinator.
type Executor interface {
	Quote(kind ir.ActionKind, durationSeconds int, stealAmount int64) (pricing.Quote, error)
	Execute(ctx context.Context, pa ir.PendingAction) (engine.Outcome, error)
}

// BalanceReader reads balances for affordability pre-checks.
type BalanceReader interface {
	Balance(ctx context.Context, userID string) (ir.Amount, error)
}

// Roster lists who is currently connected to voice.
type Roster interface {
	VoiceMembers(ctx context.Context) ([]ir.Member, error)
}

// View is a snapshot of a session for rendering.
type View struct {
	Token           string          `json:"token"`
	ActorID         string          `json:"actor_id"`
	State           State           `json:"state"`
	Kind            ir.ActionKind   `json:"kind,omitempty"`
	TargetID        string          `json:"target_id,omitempty"`
	Candidates      []ir.Member     `json:"candidates,omitempty"`
	DurationSeconds int             `json:"duration_seconds,omitempty"`
	StealAmount     int64           `json:"steal_amount,omitempty"`
	Quote           pricing.Quote   `json:"quote"`
	Outcome         *engine.Outcome `json:"outcome,omitempty"`
}

type session struct {
	View
	updated time.Time
}

func (s *session) view() View {
	v := s.View
	v.Candidates = append([]ir.Member(nil), s.Candidates...)
	return v
}

func (s *session) pending() ir.PendingAction {
	return ir.PendingAction{
		Token:             s.Token,
		Kind:              s.Kind,
		ActorID:           s.ActorID,
		TargetID:          s.TargetID,
		DurationSeconds:   s.DurationSeconds,
		StealAmount:       s.StealAmount,
		QuotedCost:        s.Quote.Cost,
		QuotedProbability: s.Quote.Probability,
	}
}

// Manager owns every open session.
//
// Thread-safety: Manager is safe for concurrent use.
type Manager struct {
	exec        Executor
	balances    BalanceReader
	roster      Roster
	resolutions ResolutionLog
	tokens      engine.TokenGenerator
	now         func() time.Time
	ttl         time.Duration
	retention   time.Duration
	sweepEvery  time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

// Option configures a Manager.
type Option func(*Manager)

// WithResolutionLog sets the resolution log. Default: in-memory.
func WithResolutionLog(r ResolutionLog) Option {
	return func(m *Manager) { m.resolutions = r }
}

// WithTokenGenerator sets the correlation token source. Default: UUIDv7.
func WithTokenGenerator(g engine.TokenGenerator) Option {
	return func(m *Manager) { m.tokens = g }
}

// WithNow overrides the wall clock.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTTL sets the idle timeout.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

// WithRetention sets how long finished sessions are remembered.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) { m.retention = d }
}

// WithSweepInterval sets how often Run sweeps. Default: TTL/4.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) { m.sweepEvery = d }
}

// NewManager creates a Manager.
func NewManager(exec Executor, balances BalanceReader, roster Roster, opts ...Option) *Manager {
	m := &Manager{
		exec:        exec,
		balances:    balances,
		roster:      roster,
		resolutions: NewMemoryResolutions(),
		tokens:      engine.UUIDv7Generator{},
		now:         time.Now,
		ttl:         DefaultTTL,
		retention:   DefaultRetention,
		sessions:    make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sweepEvery <= 0 {
		m.sweepEvery = m.ttl / 4
	}
	return m
}

// Begin opens a session for actorID and lists the targets they may pick.
func (m *Manager) Begin(ctx context.Context, actorID string) (View, error) {
	balance, err := m.balances.Balance(ctx, actorID)
	if err != nil {
		return View{}, engine.NewStoreUnavailableError(err)
	}
	if balance < ir.Tokens(1) {
		return View{}, engine.NewInsufficientFundsError(balance, ir.Tokens(1))
	}

	members, err := m.roster.VoiceMembers(ctx)
	if err != nil {
		return View{}, fmt.Errorf("list voice members: %w", err)
	}
	candidates := make([]ir.Member, 0, len(members))
	for _, mem := range members {
		if mem.UserID != actorID {
			candidates = append(candidates, mem)
		}
	}
	if len(candidates) == 0 {
		return View{}, engine.NewTargetInvalidError("nobody else is connected to voice")
	}

	s := &session{View: View{
		Token:      m.tokens.Generate(),
		ActorID:    actorID,
		State:      StateIdle,
		Candidates: candidates,
	}}

	m.mu.Lock()
	defer m.mu.Unlock()
	s.updated = m.now()
	m.sessions[s.Token] = s
	slog.Debug("session opened", "token", s.Token, "actor", actorID, "candidates", len(candidates))
	return s.view(), nil
}

// PickTarget records the target of an Idle session.
func (m *Manager) PickTarget(ctx context.Context, token, actorID, targetID string) (View, error) {
	if _, err := m.expect(ctx, token, actorID, StateIdle); err != nil {
		return View{}, err
	}
	if targetID == "" || targetID == actorID {
		return View{}, engine.NewTargetInvalidError("pick someone other than yourself")
	}
	inVoice, err := m.inVoice(ctx, targetID)
	if err != nil {
		return View{}, err
	}
	if !inVoice {
		return View{}, engine.NewTargetInvalidError("that user is not connected to voice")
	}

	return m.transition(ctx, token, actorID, StateIdle, func(s *session) error {
		s.TargetID = targetID
		s.State = StateTargetSelected
		return nil
	})
}

// PickAction records the effect chosen for the selected target.
// Steals are opened with RequestSteal instead.
func (m *Manager) PickAction(ctx context.Context, token, actorID, targetID string, kind ir.ActionKind) (View, error) {
	if !kind.IsEffect() {
		return View{}, engine.NewInvalidInputError(fmt.Sprintf("%q cannot be picked here", kind))
	}

	var quote pricing.Quote
	if !kind.IsTimed() {
		q, err := m.exec.Quote(kind, 0, 0)
		if err != nil {
			return View{}, err
		}
		quote = q
	}

	return m.transition(ctx, token, actorID, StateTargetSelected, func(s *session) error {
		if s.TargetID != targetID {
			return engine.NewInvalidInputError("target does not match this request")
		}
		s.Kind = kind
		s.Quote = quote
		s.State = StateActionChosen
		return nil
	})
}

// SubmitDuration captures the duration of a mute or deafen. Full-width
// digits are accepted. An invalid duration leaves the session where it was.
func (m *Manager) SubmitDuration(ctx context.Context, token, actorID, targetID string, kind ir.ActionKind, raw string) (View, error) {
	s, err := m.expect(ctx, token, actorID, StateActionChosen, StateParametersPending)
	if err != nil {
		return View{}, err
	}
	if s.Kind != kind || !kind.IsTimed() || s.TargetID != targetID {
		return View{}, engine.NewInvalidInputError("duration does not match this request")
	}

	seconds, err := ParseDuration(raw)
	if err != nil {
		return View{}, engine.NewInvalidInputError(err.Error())
	}
	quote, err := m.exec.Quote(kind, seconds, 0)
	if err != nil {
		return View{}, err
	}

	return m.transition(ctx, token, actorID, s.State, func(s *session) error {
		s.DurationSeconds = seconds
		s.Quote = quote
		s.State = StateParametersPending
		return nil
	})
}

// ParseDuration parses a positive whole number of seconds, folding
// full-width digits to ASCII first.
func ParseDuration(raw string) (int, error) {
	folded := strings.TrimSpace(width.Fold.String(raw))
	if folded == "" {
		return 0, fmt.Errorf("enter a duration in seconds")
	}
	for _, r := range folded {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%q is not a whole number of seconds", raw)
		}
	}
	n, err := strconv.Atoi(folded)
	if err != nil {
		return 0, fmt.Errorf("%q is too large", raw)
	}
	if n < 1 {
		return 0, fmt.Errorf("duration must be at least 1 second")
	}
	return n, nil
}

// RequestSteal opens a steal session ready for confirmation.
func (m *Manager) RequestSteal(ctx context.Context, actorID, targetID string, amount int64) (View, error) {
	if targetID == "" || targetID == actorID {
		return View{}, engine.NewTargetInvalidError("you cannot steal from yourself")
	}
	quote, err := m.exec.Quote(ir.ActionSteal, 0, amount)
	if err != nil {
		return View{}, err
	}

	balance, err := m.balances.Balance(ctx, actorID)
	if err != nil {
		return View{}, engine.NewStoreUnavailableError(err)
	}
	if balance < quote.Cost {
		return View{}, engine.NewInsufficientFundsError(balance, quote.Cost)
	}

	s := &session{View: View{
		Token:       m.tokens.Generate(),
		ActorID:     actorID,
		State:       StateActionChosen,
		Kind:        ir.ActionSteal,
		TargetID:    targetID,
		StealAmount: amount,
		Quote:       quote,
	}}

	m.mu.Lock()
	defer m.mu.Unlock()
	s.updated = m.now()
	m.sessions[s.Token] = s
	return s.view(), nil
}

// Confirm executes the session's action exactly once.
//
// A second confirmation of the same token, concurrent or late, returns
// ALREADY_RESOLVED and executes nothing. The returned View carries the
// Outcome, which is populated even when the execution error is non-nil
// (for example the refunded balance after a failed effect).
func (m *Manager) Confirm(ctx context.Context, token, actorID string) (View, error) {
	m.mu.Lock()
	s, err := m.lookupLocked(token, actorID)
	if err != nil {
		m.mu.Unlock()
		return View{}, m.explainMissing(ctx, token, err)
	}
	switch {
	case s.State == StateConfirmed || s.State == StateResolved:
		m.mu.Unlock()
		return View{}, engine.NewAlreadyResolvedError(token)
	case s.State == StateCancelled:
		m.mu.Unlock()
		return View{}, engine.NewSessionClosedError(token)
	case !confirmable(s):
		m.mu.Unlock()
		return View{}, engine.NewInvalidInputError("this request is not ready to confirm")
	}
	prev := s.State
	s.State = StateConfirmed
	s.updated = m.now()
	pa := s.pending()
	m.mu.Unlock()

	if pa.Kind.IsEffect() {
		inVoice, err := m.inVoice(ctx, pa.TargetID)
		if err == nil && !inVoice {
			err = engine.NewTargetInvalidError("that user left voice")
		}
		if err != nil {
			m.restore(token, prev)
			return View{}, err
		}
	}

	claimed, err := m.resolutions.ClaimResolution(ctx, token, actorID, pa.Kind)
	if err != nil {
		m.restore(token, prev)
		return View{}, engine.NewStoreUnavailableError(err)
	}
	if !claimed {
		m.finish(token, nil)
		return View{}, engine.NewAlreadyResolvedError(token)
	}

	out, execErr := m.exec.Execute(ctx, pa)
	v := m.finish(token, &out)
	return v, execErr
}

// Cancel abandons a session. It never touches the ledger.
func (m *Manager) Cancel(ctx context.Context, token, actorID string) (View, error) {
	m.mu.Lock()
	s, err := m.lookupLocked(token, actorID)
	if err != nil {
		m.mu.Unlock()
		return View{}, m.explainMissing(ctx, token, err)
	}
	defer m.mu.Unlock()

	switch s.State {
	case StateConfirmed, StateResolved:
		return View{}, engine.NewAlreadyResolvedError(token)
	case StateCancelled:
		return s.view(), nil
	}
	s.State = StateCancelled
	s.updated = m.now()
	slog.Debug("session cancelled", "token", token, "actor", actorID)
	return s.view(), nil
}

// Get returns a snapshot of the session.
func (m *Manager) Get(token string) (View, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return View{}, false
	}
	return s.view(), true
}

// Len returns the number of tracked sessions, tombstones included.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep cancels sessions idle longer than the TTL and forgets finished
// sessions older than the retention window. It returns how many sessions
// expired.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := 0
	for token, s := range m.sessions {
		age := now.Sub(s.updated)
		switch {
		case s.State.Terminal():
			if age > m.retention {
				delete(m.sessions, token)
			}
		case s.State == StateConfirmed:
			// execution in flight
		case age > m.ttl:
			s.State = StateCancelled
			s.updated = now
			expired++
			slog.Info("session expired", "event", "session_expired", "token", token, "actor", s.ActorID)
		}
	}
	return expired
}

// Run sweeps periodically until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Sweep(m.now())
		}
	}
}

func confirmable(s *session) bool {
	if s.Kind.IsTimed() {
		return s.State == StateParametersPending
	}
	return s.State == StateActionChosen && s.Kind != ""
}

// expect returns a snapshot of the session if it is in one of states.
func (m *Manager) expect(ctx context.Context, token, actorID string, states ...State) (View, error) {
	m.mu.Lock()
	s, err := m.lookupLocked(token, actorID)
	if err != nil {
		m.mu.Unlock()
		return View{}, m.explainMissing(ctx, token, err)
	}
	defer m.mu.Unlock()
	if err := checkState(s, states...); err != nil {
		return View{}, err
	}
	return s.view(), nil
}

// transition re-checks the state under the lock and applies fn. fn returning
// an error leaves the session unchanged.
func (m *Manager) transition(ctx context.Context, token, actorID string, from State, fn func(*session) error) (View, error) {
	m.mu.Lock()
	s, err := m.lookupLocked(token, actorID)
	if err != nil {
		m.mu.Unlock()
		return View{}, m.explainMissing(ctx, token, err)
	}
	defer m.mu.Unlock()
	if err := checkState(s, from); err != nil {
		return View{}, err
	}

	next := *s
	if err := fn(&next); err != nil {
		return View{}, err
	}
	next.updated = m.now()
	*s = next
	return s.view(), nil
}

func checkState(s *session, states ...State) error {
	for _, st := range states {
		if s.State == st {
			return nil
		}
	}
	switch s.State {
	case StateConfirmed, StateResolved:
		return engine.NewAlreadyResolvedError(s.Token)
	case StateCancelled:
		return engine.NewSessionClosedError(s.Token)
	}
	return engine.NewInvalidInputError(fmt.Sprintf("unexpected step while %s", s.State))
}

var errUnknownToken = errors.New("unknown session token")

func (m *Manager) lookupLocked(token, actorID string) (*session, error) {
	s, ok := m.sessions[token]
	if !ok {
		return nil, errUnknownToken
	}
	if s.ActorID != actorID {
		return nil, engine.NewInvalidInputError("this request belongs to someone else")
	}
	return s, nil
}

// explainMissing distinguishes a forgotten-but-executed token from one that
// never existed or expired.
func (m *Manager) explainMissing(ctx context.Context, token string, err error) error {
	if !errors.Is(err, errUnknownToken) {
		return err
	}
	resolved, rerr := m.resolutions.IsResolved(ctx, token)
	if rerr == nil && resolved {
		return engine.NewAlreadyResolvedError(token)
	}
	return engine.NewSessionClosedError(token)
}

func (m *Manager) restore(token string, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[token]; ok && s.State == StateConfirmed {
		s.State = state
		s.updated = m.now()
	}
}

func (m *Manager) finish(token string, out *engine.Outcome) View {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return View{Token: token, State: StateResolved, Outcome: out}
	}
	s.State = StateResolved
	s.Outcome = out
	s.updated = m.now()
	return s.view()
}

func (m *Manager) inVoice(ctx context.Context, userID string) (bool, error) {
	members, err := m.roster.VoiceMembers(ctx)
	if err != nil {
		return false, fmt.Errorf("list voice members: %w", err)
	}
	for _, mem := range members {
		if mem.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}
