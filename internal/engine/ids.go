package engine

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Sequencer hands out audit sequence numbers.
type Sequencer interface {
	Next() int64
}

// Clock is an atomic counter stamping audit records. Records are ordered by
// seq, not by wall time, so two actions resolved in the same millisecond
// still have a total order.
type Clock struct {
	seq atomic.Int64
}

// NewClock returns a clock whose first Next is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt returns a clock continuing after last, the highest seq already
// persisted.
func NewClockAt(last int64) *Clock {
	c := &Clock{}
	c.seq.Store(last)
	return c
}

// Next returns the next seq.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// TokenGenerator creates session correlation tokens.
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator issues UUIDv7 tokens. They sort by creation time, which
// keeps the resolutions table and the logs in session order.
type UUIDv7Generator struct{}

// Generate returns a hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
