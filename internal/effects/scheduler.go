// Package effects applies paid moderation effects to voice participants and
// reverts timed ones when they expire.
package effects

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tokenbot/internal/ir"
)

// RevertTimeout bounds one revert call.
const RevertTimeout = 10 * time.Second

type timerKey struct {
	target string
	effect ir.ActionKind
}

type scheduled struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler runs one revert per (target, effect) after a delay.
//
// Scheduling the same target and effect again replaces the pending revert,
// so a second mute extends the first rather than unmuting early.
// Reverts are fire-and-forget: failures are logged and dropped.
//
// Thread-safety: Scheduler is safe for concurrent use.
type Scheduler struct {
	mu     sync.Mutex
	timers map[timerKey]scheduled
	gen    uint64
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[timerKey]scheduled)}
}

// Schedule arranges for revert to run after d.
func (s *Scheduler) Schedule(targetID string, effect ir.ActionKind, d time.Duration, revert func(context.Context) error) {
	key := timerKey{target: targetID, effect: effect}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[key]; ok {
		prev.timer.Stop()
	}
	s.gen++
	gen := s.gen
	timer := time.AfterFunc(d, func() { s.fire(key, gen, revert) })
	s.timers[key] = scheduled{timer: timer, gen: gen}
}

func (s *Scheduler) fire(key timerKey, gen uint64, revert func(context.Context) error) {
	s.mu.Lock()
	cur, ok := s.timers[key]
	if !ok || cur.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), RevertTimeout)
	defer cancel()
	if err := revert(ctx); err != nil {
		slog.Warn("effect revert failed",
			"target", key.target,
			"effect", key.effect,
			"error", err,
		)
		return
	}
	slog.Debug("effect reverted", "target", key.target, "effect", key.effect)
}

// CancelTarget drops every pending revert for targetID and returns how many
// were dropped. Used when the target leaves voice, where Discord rejects
// member voice edits. Server mute and deafen persist across the reconnect,
// so a target who leaves before expiry stays muted or deafened until
// someone clears it.
func (s *Scheduler) CancelTarget(targetID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, sc := range s.timers {
		if key.target == targetID {
			sc.timer.Stop()
			delete(s.timers, key)
			n++
		}
	}
	return n
}

// Pending returns the number of scheduled reverts.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending revert.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, sc := range s.timers {
		sc.timer.Stop()
		delete(s.timers, key)
	}
}
