package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input    string
		expected Amount
	}{
		{"0", 0},
		{"5", 50},
		{"5.0", 50},
		{"0.5", 5},
		{".5", 5},
		{"12.3", 123},
		{"-2.5", -25},
		{"+3", 30},
		{"  7 ", 70},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseAmountRejects(t *testing.T) {
	for _, input := range []string{"", "-", ".", "0.25", "1.", "abc", "1e3", "--1", "1.x"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseAmount(input)
			assert.Error(t, err)
		})
	}
}

func TestAmountString(t *testing.T) {
	assert.Equal(t, "0.0", Amount(0).String())
	assert.Equal(t, "11.0", Tokens(11).String())
	assert.Equal(t, "0.5", Amount(5).String())
	assert.Equal(t, "-0.5", Amount(-5).String())
	assert.Equal(t, "1.5", Amount(15).String())
}

func TestAmountMin(t *testing.T) {
	assert.Equal(t, Tokens(3), Tokens(4).Min(Tokens(3)))
	assert.Equal(t, Tokens(3), Tokens(3).Min(Tokens(4)))
}

func TestAmountJSONRoundTrip(t *testing.T) {
	acct := Account{UserID: "u1", Balance: MustParseAmount("4.5")}

	data, err := json.Marshal(acct)
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":"u1","balance":"4.5"}`, string(data))

	var decoded Account
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, acct, decoded)
}

func TestAmountFromYAMLScalars(t *testing.T) {
	var doc struct {
		A Amount `yaml:"a"`
		B Amount `yaml:"b"`
		C Amount `yaml:"c"`
	}
	err := yaml.Unmarshal([]byte("a: 10\nb: 0.5\nc: \"2.5\"\n"), &doc)
	require.NoError(t, err)

	assert.Equal(t, Tokens(10), doc.A)
	assert.Equal(t, Amount(5), doc.B)
	assert.Equal(t, Amount(25), doc.C)
}
