package internal

import "time"

const (
	// PenaltyMinutes is deducted from a session for every disturbed window.
	PenaltyMinutes = 15
	// QualifyingMinutes of net sleep in a day extend a streak.
	QualifyingMinutes = 420
)

// TrackingSource selects how net sleep is derived when a session closes.
type TrackingSource string

const (
	SourceDeviceMotion    TrackingSource = "device_motion"
	SourceExternalFitness TrackingSource = "external_fitness"
)

func (s TrackingSource) Valid() bool {
	return s == SourceDeviceMotion || s == SourceExternalFitness
}

type User struct {
	ID             string          `json:"id"`
	Token          string          `json:"token,omitempty"`
	Name           string          `json:"name"`
	TrackingSource TrackingSource  `json:"tracking_source"`
	Streak         UserStreakState `json:"streak"`
}

// Source returns the user's tracking preference, defaulting to device motion.
func (u *User) Source() TrackingSource {
	if u == nil || !u.TrackingSource.Valid() {
		return SourceDeviceMotion
	}
	return u.TrackingSource
}

type UserStreakState struct {
	UserID           string    `json:"user_id"`
	StreakCount      int       `json:"streak_count"`
	LastStreakUpdate time.Time `json:"last_streak_update,omitempty"`
}

// SleepSession is a single tracked night. EndTime, TotalSleepMinutes,
// NetSleepMinutes and TrackingSource stay empty while the session is active.
type SleepSession struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id"`
	StartTime         time.Time      `json:"start_time"`
	EndTime           *time.Time     `json:"end_time,omitempty"`
	Active            bool           `json:"active"`
	DisturbanceCount  int            `json:"disturbance_count"`
	TotalSleepMinutes *int           `json:"total_sleep_minutes,omitempty"`
	NetSleepMinutes   *int           `json:"net_sleep_minutes,omitempty"`
	TrackingSource    TrackingSource `json:"tracking_source,omitempty"`
}

// Duration is the wall-clock length of a closed session.
func (s *SleepSession) Duration() time.Duration {
	if s.EndTime == nil {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// Finalization carries the fields written exactly once when a session closes.
type Finalization struct {
	EndTime           time.Time
	TotalSleepMinutes int
	NetSleepMinutes   int
	TrackingSource    TrackingSource
	// DisturbanceCount is the count the net value was derived from. The store
	// closes the session only while its stored count still matches.
	DisturbanceCount int
}
