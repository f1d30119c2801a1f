package tmux

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.False(t, b.Allow())

	state := b.State()
	assert.True(t, state.Open)
	assert.Equal(t, 3, state.RecentFailures)
	assert.False(t, state.OpenUntil.IsZero())
}

func TestBreaker_SuccessClearsWindow(t *testing.T) {
	b := NewBreaker(3, time.Minute, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.True(t, b.Allow())
}

func TestBreaker_CooldownExpires(t *testing.T) {
	b := NewBreaker(1, time.Minute, 20*time.Millisecond)

	b.RecordFailure()
	assert.False(t, b.Allow())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, b.Allow())
}

func TestBreaker_OldFailuresAgeOut(t *testing.T) {
	b := NewBreaker(3, 20*time.Millisecond, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	time.Sleep(30 * time.Millisecond)
	b.RecordFailure()

	// Only one failure is inside the window.
	assert.True(t, b.Allow())
	assert.Equal(t, 1, b.State().RecentFailures)
}
