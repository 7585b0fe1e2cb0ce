package storage

import (
	"errors"
	"time"

	"github.com/yourname/sleepstreak/internal"
)

// ErrAlreadyFinalized is returned alongside the stored record when a
// finalize hits a session that is already closed.
var ErrAlreadyFinalized = errors.New("storage: session already finalized")

// ErrStaleDisturbances is returned alongside the still-active record when a
// finalize was computed from an outdated disturbance count.
var ErrStaleDisturbances = errors.New("storage: disturbance count changed before finalize")

const DefaultListLimit = 30

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return DefaultListLimit
	}
	return limit
}

func cloneSession(s *internal.SleepSession) *internal.SleepSession {
	c := *s
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	if s.TotalSleepMinutes != nil {
		v := *s.TotalSleepMinutes
		c.TotalSleepMinutes = &v
	}
	if s.NetSleepMinutes != nil {
		v := *s.NetSleepMinutes
		c.NetSleepMinutes = &v
	}
	return &c
}

func applyFinalization(s *internal.SleepSession, f internal.Finalization) {
	end := f.EndTime.UTC()
	total, net := f.TotalSleepMinutes, f.NetSleepMinutes
	s.EndTime = &end
	s.Active = false
	s.TotalSleepMinutes = &total
	s.NetSleepMinutes = &net
	s.TrackingSource = f.TrackingSource
}

func inWindow(s *internal.SleepSession, from, to time.Time) bool {
	if s.Active || s.EndTime == nil {
		return false
	}
	return !s.StartTime.Before(from) && s.EndTime.Before(to)
}
