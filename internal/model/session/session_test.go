package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, Connecting.CanTransition(Active))
	assert.True(t, Connecting.CanTransition(Ended))
	assert.True(t, Active.CanTransition(Ended))

	assert.False(t, Active.CanTransition(Connecting))
	assert.False(t, Ended.CanTransition(Active))
	assert.False(t, Ended.CanTransition(Ended))
	assert.False(t, State("bogus").CanTransition(Ended))
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "00:00", FormatElapsed(0))
	assert.Equal(t, "00:09", FormatElapsed(9))
	assert.Equal(t, "02:05", FormatElapsed(125))
	assert.Equal(t, "61:01", FormatElapsed(3661))
	assert.Equal(t, "00:00", FormatElapsed(-4))
}

func TestParseVariant(t *testing.T) {
	v, ok := ParseVariant("")
	assert.True(t, ok)
	assert.Equal(t, Call, v)

	v, ok = ParseVariant("chat")
	assert.True(t, ok)
	assert.Equal(t, Chat, v)

	_, ok = ParseVariant("video")
	assert.False(t, ok)
}
