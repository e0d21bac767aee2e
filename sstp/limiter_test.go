package sstp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnLimiter(t *testing.T) {
	l := newConnLimiter(2)
	assert.True(t, l.Acquire())
	assert.True(t, l.Acquire())
	assert.False(t, l.Acquire())
	l.Release()
	assert.True(t, l.Acquire())

	var unlimited *connLimiter
	assert.True(t, unlimited.Acquire())
	unlimited.Release()
	assert.True(t, newConnLimiter(0).Acquire())
}

func TestSenderLimiter(t *testing.T) {
	l := newSenderLimiter(0.001, 1)
	defer l.Stop()

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
	assert.Equal(t, 2, l.Len())
}

func TestSenderLimiterDisabled(t *testing.T) {
	l := newSenderLimiter(0, 0)
	assert.Nil(t, l)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("a"))
	}
	assert.Zero(t, l.Len())
	l.Stop()
}
