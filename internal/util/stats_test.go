package util

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestFormatStatsQuiet(t *testing.T) {
	s := Snapshot{Opened: 3, Closed: 1, FramesSent: 10}
	_, active := formatStats(s, s)
	assert.False(t, active)
}

func TestFormatStatsDelta(t *testing.T) {
	prev := Snapshot{Opened: 3, Closed: 1, FramesSent: 10, FramesRecv: 4}
	cur := Snapshot{Opened: 5, Closed: 2, FramesSent: 12, FramesRecv: 9, Rejected: 1, TasksDone: 2, TasksFailed: 1}

	line, active := formatStats(prev, cur)
	assert.True(t, active)
	assert.Contains(t, line, " 2↑  1↓ (3 live)")
	assert.Contains(t, line, "   2 out    5 in  1 bad")
	assert.Contains(t, line, "Tasks:  3")
}

func TestAddTask(t *testing.T) {
	var s stats
	s.AddTask(nil)
	s.AddTask(errors.New("boom"))
	s.AddTask(nil)
	snap := s.Snapshot()
	assert.Equal(t, int64(2), snap.TasksDone)
	assert.Equal(t, int64(1), snap.TasksFailed)
}

func TestShortID(t *testing.T) {
	id := uuid.MustParse("1b4e28ba-2fa1-11d2-883f-0016d3cca427")
	assert.Equal(t, "1b4e28ba", ShortID(id))
}
