package worker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityLog_RecordAndRecent(t *testing.T) {
	l := NewActivityLog()

	first := l.Record(ActivityStarted, "w1", "label", "proj", "started")
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.Timestamp.IsZero())

	l.Record(ActivityCompleted, "w1", "label", "proj", "completed")

	recent := l.Recent(0)
	require.Len(t, recent, 2)
	// Newest first.
	assert.Equal(t, ActivityCompleted, recent[0].Type)
	assert.Equal(t, ActivityStarted, recent[1].Type)
}

func TestActivityLog_Limit(t *testing.T) {
	l := NewActivityLog()
	for i := 0; i < 5; i++ {
		l.Record(ActivityStarted, fmt.Sprintf("w%d", i), "", "", "started")
	}

	assert.Len(t, l.Recent(3), 3)
	assert.Equal(t, "w4", l.Recent(1)[0].WorkerID)
}

func TestActivityLog_RingDiscardsOldest(t *testing.T) {
	l := NewActivityLog()
	for i := 0; i < activityCapacity+10; i++ {
		l.Record(ActivityStarted, fmt.Sprintf("w%d", i), "", "", "started")
	}

	recent := l.Recent(0)
	require.Len(t, recent, activityCapacity)
	// The ten oldest entries fell off.
	assert.Equal(t, fmt.Sprintf("w%d", activityCapacity+9), recent[0].WorkerID)
	assert.Equal(t, "w10", recent[len(recent)-1].WorkerID)
}
