package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandomRoller_InRange(t *testing.T) {
	r := RandomRoller{}
	for i := 0; i < 1000; i++ {
		roll := r.Roll()
		assert.GreaterOrEqual(t, roll, 0)
		assert.Less(t, roll, 100)
	}
}

func TestFixedRoller_RepeatsLast(t *testing.T) {
	r := NewFixedRoller(5, 50)
	assert.Equal(t, 5, r.Roll())
	assert.Equal(t, 50, r.Roll())
	assert.Equal(t, 50, r.Roll())

	assert.Equal(t, 0, NewFixedRoller().Roll())
}

func TestErrorFormatting(t *testing.T) {
	e := NewAlreadyResolvedError("tok-9")
	assert.Equal(t, "ALREADY_RESOLVED: action already confirmed (token=tok-9)", e.Error())
	assert.Equal(t, ErrCodeAlreadyResolved, CodeOf(e))
	assert.Equal(t, ErrorCode(""), CodeOf(assert.AnError))
	assert.False(t, IsCode(nil, ErrCodeAlreadyResolved))
}
