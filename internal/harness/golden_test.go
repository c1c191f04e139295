package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGolden_Scenarios(t *testing.T) {
	for _, name := range []string{
		"disconnect_applied",
		"mute_unaffordable",
		"steal_success",
		"steal_failure",
		"double_confirm",
		"effect_refund",
	} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestTraceSnapshot_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/mute_30s.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := (&TraceSnapshot{ScenarioName: s.Name, Trace: first.Trace, Balances: first.Balances}).Marshal()
	require.NoError(t, err)
	b, err := (&TraceSnapshot{ScenarioName: s.Name, Trace: second.Trace, Balances: second.Balances}).Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestTraceSnapshot_OmitsEmptyFields(t *testing.T) {
	snap := TraceSnapshot{
		ScenarioName: "tiny",
		Trace:        []TraceEvent{{Seq: 1, Event: "balance_query", Actor: "alice", OK: true, Balance: "1.0"}},
		Balances:     map[string]string{"alice": "1.0"},
	}
	data, err := snap.Marshal()
	require.NoError(t, err)
	assert.Equal(t,
		`{"balances":{"alice":"1.0"},"scenario_name":"tiny","trace":[{"actor":"alice","balance":"1.0","event":"balance_query","ok":true,"seq":1}]}`+"\n",
		string(data))
}
