package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_Testdata(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, p := range paths {
		t.Run(filepath.Base(p), func(t *testing.T) {
			s, err := LoadScenario(p)
			require.NoError(t, err)
			assert.NotEmpty(t, s.Name)
			assert.NotEmpty(t, s.Flow)
		})
	}
}

func TestLoadScenario_Fields(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/steal_success.yaml")
	require.NoError(t, err)

	assert.Equal(t, "steal_success", s.Name)
	assert.Equal(t, []string{"alice", "bob"}, s.Roster)
	assert.Equal(t, map[string]string{"alice": "10", "bob": "3"}, s.Balances)
	assert.Equal(t, []int{0}, s.Rolls)
	require.Len(t, s.Flow, 2)
	assert.Equal(t, "steal_requested", s.Flow[0].Event)
	assert.Equal(t, int64(4), s.Flow[0].Amount)
	require.NotNil(t, s.Flow[0].Expect)
	require.NotNil(t, s.Flow[0].Expect.OK)
	assert.True(t, *s.Flow[0].Expect.OK)
	assert.Equal(t, "2", s.Flow[0].Expect.Cost)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typo.yaml")
	doc := `
name: typo
description: "misspelled key"
flow:
  - event: balance_query
    user: alice
assertion:
  - type: audit_count
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "missing name",
			doc:     "description: d\nflow: [{event: balance_query, user: a}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			doc:     "name: n\nflow: [{event: balance_query, user: a}]\n",
			wantErr: "description is required",
		},
		{
			name:    "empty flow",
			doc:     "name: n\ndescription: d\nflow: []\n",
			wantErr: "flow list is required",
		},
		{
			name:    "unknown event",
			doc:     "name: n\ndescription: d\nflow: [{event: dance, user: a}]\n",
			wantErr: `unknown event "dance"`,
		},
		{
			name:    "missing user",
			doc:     "name: n\ndescription: d\nflow: [{event: balance_query}]\n",
			wantErr: "user is required",
		},
		{
			name:    "bad kind",
			doc:     "name: n\ndescription: d\nflow: [{event: action_picked, user: a, kind: explode}]\n",
			wantErr: "flow[0]",
		},
		{
			name:    "bad balance",
			doc:     "name: n\ndescription: d\nbalances: {a: \"0.25\"}\nflow: [{event: balance_query, user: a}]\n",
			wantErr: "balances[a]",
		},
		{
			name:    "roll out of range",
			doc:     "name: n\ndescription: d\nrolls: [100]\nflow: [{event: balance_query, user: a}]\n",
			wantErr: "outside [0, 100)",
		},
		{
			name:    "unknown assertion",
			doc:     "name: n\ndescription: d\nflow: [{event: balance_query, user: a}]\nassertions: [{type: vibes}]\n",
			wantErr: `unknown assertion type "vibes"`,
		},
		{
			name:    "balance assertion without user",
			doc:     "name: n\ndescription: d\nflow: [{event: balance_query, user: a}]\nassertions: [{type: balance, expect: \"1\"}]\n",
			wantErr: "user is required for balance",
		},
		{
			name:    "trace_order without events",
			doc:     "name: n\ndescription: d\nflow: [{event: balance_query, user: a}]\nassertions: [{type: trace_order}]\n",
			wantErr: "events list is required",
		},
		{
			name:    "announcement without text",
			doc:     "name: n\ndescription: d\nflow: [{event: balance_query, user: a}]\nassertions: [{type: announcement_contains}]\n",
			wantErr: "text is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
