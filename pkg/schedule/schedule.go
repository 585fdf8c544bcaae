// Package schedule evaluates Schedule windows against wall-clock time.
package schedule

import (
	"time"

	"github.com/greenloop-systems/gardend/pkg/model"
)

const secondsPerDay = 24 * 60 * 60

// AppliesNow reports whether now falls within sched's daily window. The
// window is [start, end) when start <= end; when end < start it wraps
// midnight and is [start, 86400) ∪ [0, end). An inactive schedule always
// evaluates false.
func AppliesNow(sched *model.Schedule, now time.Time) bool {
	if !sched.Active {
		return false
	}
	if !Valid(sched.Start, sched.End) {
		return false
	}

	current := now.Hour()*3600 + now.Minute()*60 + now.Second()

	if sched.End < sched.Start {
		return current >= sched.Start || current < sched.End
	}
	return current >= sched.Start && current < sched.End
}

// SecondOfDay converts a time.Time to seconds-since-midnight, useful for
// constructing test fixtures and for validating configured start/end values.
func SecondOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// Valid reports whether start/end are in [0, 86400) — a ConfigurationFault
// per spec if out of range.
func Valid(start, end int) bool {
	return start >= 0 && start < secondsPerDay && end >= 0 && end < secondsPerDay
}
