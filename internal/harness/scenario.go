package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tokenbot/internal/ir"
)

// Scenario is an economy scenario.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Roster lists the users connected to voice.
	Roster []string `yaml:"roster"`

	// Balances seeds the ledger. Values are token amounts such as "0.5".
	Balances map[string]string `yaml:"balances,omitempty"`

	// Rolls are replayed by the steal roller; the last one repeats.
	Rolls []int `yaml:"rolls,omitempty"`

	// FailEffects makes effects on a target fail with the given reason.
	FailEffects map[string]string `yaml:"fail_effects,omitempty"`

	// Reward overrides the per-message reward.
	Reward string `yaml:"reward,omitempty"`

	Flow       []Step      `yaml:"flow"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one inbound event.
type Step struct {
	Event  string `yaml:"event"`
	User   string `yaml:"user"`
	Target string `yaml:"target,omitempty"`
	Kind   string `yaml:"kind,omitempty"`
	Raw    string `yaml:"raw,omitempty"`
	Amount int64  `yaml:"amount,omitempty"`
	Bot    bool   `yaml:"bot,omitempty"`

	// Token overrides the user's most recent session token.
	Token string `yaml:"token,omitempty"`

	// Expect is checked against the traced step. Unset fields are ignored.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is a subset match on a TraceEvent.
type Expect struct {
	OK      *bool  `yaml:"ok,omitempty"`
	Reason  string `yaml:"reason,omitempty"`
	State   string `yaml:"state,omitempty"`
	Cost    string `yaml:"cost,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`
	Balance string `yaml:"balance,omitempty"`
}

// Assertion checks the final state of a scenario.
type Assertion struct {
	Type   string   `yaml:"type"`
	User   string   `yaml:"user,omitempty"`
	Target string   `yaml:"target,omitempty"`
	Event  string   `yaml:"event,omitempty"`
	Events []string `yaml:"events,omitempty"`
	Text   string   `yaml:"text,omitempty"`
	Expect string   `yaml:"expect,omitempty"`
	Count  int      `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertBalance              = "balance"
	AssertAuditCount           = "audit_count"
	AssertEffectCount          = "effect_count"
	AssertAnnouncementContains = "announcement_contains"
	AssertTraceOrder           = "trace_order"
	AssertTraceCount           = "trace_count"
)

var knownEvents = map[string]bool{
	"message_posted":     true,
	"balance_query":      true,
	"info_requested":     true,
	"action_request":     true,
	"target_picked":      true,
	"action_picked":      true,
	"duration_submitted": true,
	"confirm_requested":  true,
	"cancel_requested":   true,
	"steal_requested":    true,
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so that typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for user, amount := range s.Balances {
		if _, err := ir.ParseAmount(amount); err != nil {
			return fmt.Errorf("balances[%s]: %w", user, err)
		}
	}
	if s.Reward != "" {
		if _, err := ir.ParseAmount(s.Reward); err != nil {
			return fmt.Errorf("reward: %w", err)
		}
	}
	for _, r := range s.Rolls {
		if r < 0 || r > 99 {
			return fmt.Errorf("rolls: %d is outside [0, 100)", r)
		}
	}

	for i, step := range s.Flow {
		if !knownEvents[step.Event] {
			return fmt.Errorf("flow[%d]: unknown event %q", i, step.Event)
		}
		if step.User == "" {
			return fmt.Errorf("flow[%d]: user is required", i)
		}
		if step.Kind != "" {
			if _, err := ir.ParseActionKind(step.Kind); err != nil {
				return fmt.Errorf("flow[%d]: %w", i, err)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertBalance:
		if a.User == "" {
			return fmt.Errorf("assertions[%d]: user is required for balance", index)
		}
		if _, err := ir.ParseAmount(a.Expect); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertAuditCount, AssertEffectCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertAnnouncementContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for announcement_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
