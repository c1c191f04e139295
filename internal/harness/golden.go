package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tokenbot/internal/ir"
)

// TraceSnapshot is the golden form of a scenario run.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Balances     map[string]string
}

// canonical converts the snapshot to plain maps for ir.MarshalCanonical.
// Empty optional fields are left out.
func (s *TraceSnapshot) canonical() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"seq":     ev.Seq,
			"event":   ev.Event,
			"actor":   ev.Actor,
			"ok":      ev.OK,
			"balance": ev.Balance,
		}
		if ev.Reason != "" {
			m["reason"] = ev.Reason
		}
		if ev.State != "" {
			m["state"] = ev.State
		}
		if ev.Cost != "" {
			m["cost"] = ev.Cost
		}
		if ev.Outcome != "" {
			m["outcome"] = ev.Outcome
		}
		trace[i] = m
	}

	balances := make(map[string]any, len(s.Balances))
	for user, b := range s.Balances {
		balances[user] = b
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"balances":      balances,
	}
}

// Marshal renders the snapshot as canonical JSON followed by a newline.
func (s *TraceSnapshot) Marshal() ([]byte, error) {
	data, err := ir.MarshalCanonical(s.canonical())
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden runs scenario and compares its trace with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		Balances:     result.Balances,
	}
	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
