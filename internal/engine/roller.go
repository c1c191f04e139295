package engine

import (
	"math/rand"
	"sync"
)

// Roller draws the uniform number that decides a steal.
// Roll returns an integer in [0, 100); a steal succeeds iff roll < probability.
type Roller interface {
	Roll() int
}

// RandomRoller draws from the runtime's goroutine-safe random source.
type RandomRoller struct{}

// Roll returns a uniform integer in [0, 100).
func (RandomRoller) Roll() int {
	return rand.Intn(100)
}

// FixedRoller replays predetermined rolls for tests and scenarios.
// The last roll repeats once the list is exhausted.
type FixedRoller struct {
	mu    sync.Mutex
	rolls []int
	idx   int
}

// NewFixedRoller creates a roller returning rolls in order.
func NewFixedRoller(rolls ...int) *FixedRoller {
	if len(rolls) == 0 {
		rolls = []int{0}
	}
	return &FixedRoller{rolls: rolls}
}

// Roll returns the next predetermined roll.
func (r *FixedRoller) Roll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	roll := r.rolls[r.idx]
	if r.idx < len(r.rolls)-1 {
		r.idx++
	}
	return roll
}
