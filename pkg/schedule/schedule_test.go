package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/greenloop-systems/gardend/pkg/model"
)

func at(hour, min, sec int) time.Time {
	return time.Date(2026, 1, 1, hour, min, sec, 0, time.Local)
}

func TestAppliesNow_SimpleWindow(t *testing.T) {
	sched := &model.Schedule{Active: true, Start: 8 * 3600, End: 18 * 3600}

	require.False(t, AppliesNow(sched, at(7, 59, 59)))
	require.True(t, AppliesNow(sched, at(8, 0, 0)))
	require.True(t, AppliesNow(sched, at(17, 59, 59)))
	require.False(t, AppliesNow(sched, at(18, 0, 0)))
}

func TestAppliesNow_StartEqualsEndNeverApplies(t *testing.T) {
	sched := &model.Schedule{Active: true, Start: 3600, End: 3600}

	require.False(t, AppliesNow(sched, at(1, 0, 0)))
	require.False(t, AppliesNow(sched, at(0, 0, 0)))
	require.False(t, AppliesNow(sched, at(23, 59, 59)))
}

func TestAppliesNow_WrapsMidnight(t *testing.T) {
	// 22:00 to 06:00
	sched := &model.Schedule{Active: true, Start: 79200, End: 21600}

	require.True(t, AppliesNow(sched, at(23, 0, 0)))
	require.True(t, AppliesNow(sched, at(5, 0, 0)))
	require.False(t, AppliesNow(sched, at(7, 0, 0)))
}

func TestAppliesNow_Inactive(t *testing.T) {
	sched := &model.Schedule{Active: false, Start: 0, End: 3600}
	require.False(t, AppliesNow(sched, at(0, 30, 0)))
}

func TestAppliesNow_OutOfRangeSecondsEvaluatesFalse(t *testing.T) {
	sched := &model.Schedule{Active: true, Start: -1, End: 3600}
	require.False(t, AppliesNow(sched, at(0, 30, 0)))

	sched = &model.Schedule{Active: true, Start: 0, End: 86400}
	require.False(t, AppliesNow(sched, at(0, 30, 0)))
}

func TestValid(t *testing.T) {
	require.True(t, Valid(0, 86399))
	require.False(t, Valid(-1, 100))
	require.False(t, Valid(100, 86400))
}
