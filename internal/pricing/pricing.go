// Package pricing computes what paid actions cost and how likely a steal is
// to succeed. Every function is pure.
package pricing

import (
	"fmt"

	"github.com/roach88/tokenbot/internal/ir"
)

const (
	// MinStealProbability is the floor of StealProbability, in percent.
	MinStealProbability = 10

	// BaseStealProbability is the success chance of a zero-token steal.
	BaseStealProbability = 70

	// StealDecayPerToken is how many percentage points each requested token
	// removes from the success chance.
	StealDecayPerToken = 2

	// DefaultMaxDurationSeconds caps mute/deafen durations.
	DefaultMaxDurationSeconds = 3600

	// DefaultMaxStealAmount caps how many tokens one steal may request.
	DefaultMaxStealAmount = 1_000_000

	// StealAmountCeiling is the largest steal amount whose cost and
	// transfer fit in an ir.Amount. Limits never allow more.
	StealAmountCeiling = (1 << 62) / ir.TenthsPerToken
)

// MuteCost is 0.1 tokens per second.
func MuteCost(durationSeconds int) ir.Amount {
	return ir.Amount(durationSeconds)
}

// DeafenCost is 0.1 tokens per second.
func DeafenCost(durationSeconds int) ir.Amount {
	return ir.Amount(durationSeconds)
}

// DisconnectCost is a flat 1 token.
func DisconnectCost() ir.Amount {
	return ir.Tokens(1)
}

// StealCost is the entry fee, ceil(amount / 2) tokens. amount must be in
// [1, StealAmountCeiling].
func StealCost(amount int64) ir.Amount {
	return ir.Tokens(amount/2 + amount%2)
}

// StealProbability is max(10, 70 - 2*amount) percent, never above 100.
func StealProbability(amount int64) int {
	// clamp before multiplying so large amounts cannot wrap
	switch {
	case amount >= (BaseStealProbability-MinStealProbability)/StealDecayPerToken:
		return MinStealProbability
	case amount <= (BaseStealProbability-100)/StealDecayPerToken:
		return 100
	}
	return BaseStealProbability - StealDecayPerToken*int(amount)
}

// Quote is the price of one action.
type Quote struct {
	Kind        ir.ActionKind `json:"kind"`
	Cost        ir.Amount     `json:"cost"`
	Probability int           `json:"probability,omitempty"` // steal only, percent
}

// Limits bounds user-supplied parameters.
type Limits struct {
	MaxDurationSeconds int
	// MaxStealAmount is clamped to StealAmountCeiling; zero means the ceiling.
	MaxStealAmount int64
}

// DefaultLimits returns the built-in parameter bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxDurationSeconds: DefaultMaxDurationSeconds,
		MaxStealAmount:     DefaultMaxStealAmount,
	}
}

// StealCap returns the largest steal amount Price accepts.
func (l Limits) StealCap() int64 {
	if l.MaxStealAmount <= 0 || l.MaxStealAmount > StealAmountCeiling {
		return StealAmountCeiling
	}
	return l.MaxStealAmount
}

// ParameterError reports an out-of-range action parameter.
type ParameterError struct {
	Field   string
	Message string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Price validates the parameters for kind and returns the quote.
// durationSeconds is used by mute/deafen and stealAmount by steal; the
// other is ignored.
func (l Limits) Price(kind ir.ActionKind, durationSeconds int, stealAmount int64) (Quote, error) {
	switch kind {
	case ir.ActionMute, ir.ActionDeafen:
		if durationSeconds < 1 {
			return Quote{}, &ParameterError{Field: "duration", Message: "must be a positive whole number of seconds"}
		}
		if l.MaxDurationSeconds > 0 && durationSeconds > l.MaxDurationSeconds {
			return Quote{}, &ParameterError{
				Field:   "duration",
				Message: fmt.Sprintf("must be at most %d seconds", l.MaxDurationSeconds),
			}
		}
		cost := MuteCost(durationSeconds)
		if kind == ir.ActionDeafen {
			cost = DeafenCost(durationSeconds)
		}
		return Quote{Kind: kind, Cost: cost}, nil

	case ir.ActionDisconnect:
		return Quote{Kind: kind, Cost: DisconnectCost()}, nil

	case ir.ActionSteal:
		if stealAmount < 1 {
			return Quote{}, &ParameterError{Field: "amount", Message: "must be a positive whole number of tokens"}
		}
		if limit := l.StealCap(); stealAmount > limit {
			return Quote{}, &ParameterError{
				Field:   "amount",
				Message: fmt.Sprintf("must be at most %d tokens", limit),
			}
		}
		return Quote{
			Kind:        kind,
			Cost:        StealCost(stealAmount),
			Probability: StealProbability(stealAmount),
		}, nil

	default:
		return Quote{}, &ParameterError{Field: "action", Message: fmt.Sprintf("unknown action %q", kind)}
	}
}

// Rule is one line of the public price table.
type Rule struct {
	Kind        ir.ActionKind `json:"kind"`
	Description string        `json:"description"`
}

// Table lists the pricing rules in display order.
func Table() []Rule {
	return []Rule{
		{Kind: ir.ActionMute, Description: "0.1 tokens per second"},
		{Kind: ir.ActionDeafen, Description: "0.1 tokens per second"},
		{Kind: ir.ActionDisconnect, Description: "1 token"},
		{Kind: ir.ActionSteal, Description: fmt.Sprintf(
			"half the requested amount (rounded up), non-refundable; success chance %d%% minus %d%% per token, never below %d%%",
			BaseStealProbability, StealDecayPerToken, MinStealProbability,
		)},
	}
}
