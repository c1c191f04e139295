package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// Component custom ids have the form tb:<token>:<step>[:<arg>...]. The
// correlation token is the only session state a component carries; costs
// and odds are always looked up again on the server.
const (
	customIDPrefix = "tb"
	maxCustomIDLen = 100
)

// Steps addressed by component custom ids. Action buttons use the action
// kind itself as the step.
const (
	StepTarget   = "target"
	StepDuration = "duration"
	StepConfirm  = "confirm"
	StepCancel   = "cancel"
)

// CustomID is a decoded component custom id.
type CustomID struct {
	Token string
	Step  string
	Args  []string
}

// NewCustomID builds a CustomID.
func NewCustomID(token, step string, args ...string) CustomID {
	return CustomID{Token: token, Step: step, Args: args}
}

// Arg returns the i-th argument or "".
func (c CustomID) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// String encodes c.
func (c CustomID) String() string {
	parts := append([]string{customIDPrefix, c.Token, c.Step}, c.Args...)
	return strings.Join(parts, ":")
}

// Encode returns the custom id, rejecting values Discord would not accept
// or that would not decode back to c.
func (c CustomID) Encode() (string, error) {
	if c.Token == "" || c.Step == "" {
		return "", errors.New("custom id needs a token and a step")
	}
	for _, p := range append([]string{c.Token, c.Step}, c.Args...) {
		if strings.Contains(p, ":") {
			return "", fmt.Errorf("custom id part %q contains ':'", p)
		}
	}
	s := c.String()
	if len(s) > maxCustomIDLen {
		return "", fmt.Errorf("custom id is %d characters, limit %d", len(s), maxCustomIDLen)
	}
	return s, nil
}

// ParseCustomID decodes s.
func ParseCustomID(s string) (CustomID, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 3 || parts[0] != customIDPrefix {
		return CustomID{}, fmt.Errorf("not a tokenbot custom id: %q", s)
	}
	if parts[1] == "" || parts[2] == "" {
		return CustomID{}, fmt.Errorf("custom id %q has an empty token or step", s)
	}
	c := CustomID{Token: parts[1], Step: parts[2]}
	if len(parts) > 3 {
		c.Args = parts[3:]
	}
	return c, nil
}
