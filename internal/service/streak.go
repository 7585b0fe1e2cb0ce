package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yourname/sleepstreak/internal"
	"github.com/yourname/sleepstreak/internal/storage"
	"golang.org/x/sync/errgroup"
)

// Window is the half-open aggregation day [From, To).
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// DayWindow returns the day that closed at the most recent cutoff hour (UTC)
// at or before invokedAt.
func DayWindow(invokedAt time.Time, cutoffHour int) Window {
	t := invokedAt.UTC()
	todayStart := time.Date(t.Year(), t.Month(), t.Day(), cutoffHour, 0, 0, 0, time.UTC)
	if t.Before(todayStart) {
		todayStart = todayStart.AddDate(0, 0, -1)
	}
	return Window{From: todayStart.Add(-24 * time.Hour), To: todayStart}
}

// Report summarises one aggregation run.
type Report struct {
	Window      Window `json:"window"`
	Users       int    `json:"users"`
	Incremented int    `json:"incremented"`
	Reset       int    `json:"reset"`
	Unchanged   int    `json:"unchanged"`
	Skipped     int    `json:"skipped"`
	Failed      int    `json:"failed"`
}

type outcome int

const (
	outcomeIncremented outcome = iota
	outcomeReset
	outcomeUnchanged
	outcomeSkipped
)

// StreakAggregator applies one day of sleep to every user's streak.
type StreakAggregator struct {
	sessions    storage.SessionRepository
	users       storage.UserRepository
	cutoffHour  int
	concurrency int
	logger      internal.Logger
}

func NewStreakAggregator(sessions storage.SessionRepository, users storage.UserRepository, cutoffHour, concurrency int, logger internal.Logger) *StreakAggregator {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &StreakAggregator{
		sessions:    sessions,
		users:       users,
		cutoffHour:  cutoffHour,
		concurrency: concurrency,
		logger:      logger,
	}
}

// NetMinutes recomputes a closed session's penalized minutes from its raw
// fields, without rounding.
func NetMinutes(s internal.SleepSession) float64 {
	m := s.Duration().Minutes() - float64(s.DisturbanceCount*internal.PenaltyMinutes)
	return max(0, m)
}

// Run aggregates the day preceding invokedAt. Only the session query can fail
// the run; per-user failures are logged and counted.
func (a *StreakAggregator) Run(ctx context.Context, invokedAt time.Time) (Report, error) {
	w := DayWindow(invokedAt, a.cutoffHour)
	rep := Report{Window: w}

	sessions, err := a.sessions.ListClosedSessions(ctx, w.From, w.To)
	if err != nil {
		a.logger.Errorf("streak: listing sessions for %s..%s: %v", w.From.Format(time.RFC3339), w.To.Format(time.RFC3339), err)
		return rep, err
	}

	totals := make(map[string]float64)
	for _, s := range sessions {
		totals[s.UserID] += NetMinutes(s)
	}
	rep.Users = len(totals)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(a.concurrency)
	for userID, minutes := range totals {
		userID, minutes := userID, minutes
		g.Go(func() error {
			out, err := a.apply(ctx, userID, minutes, w, invokedAt.UTC())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.logger.Errorf("streak: updating user %s: %v", userID, err)
				rep.Failed++
				return nil
			}
			switch out {
			case outcomeIncremented:
				rep.Incremented++
			case outcomeReset:
				rep.Reset++
			case outcomeUnchanged:
				rep.Unchanged++
			case outcomeSkipped:
				rep.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	a.logger.Infof("streak: run for %s done: users=%d incremented=%d reset=%d unchanged=%d skipped=%d failed=%d",
		w.From.Format("2006-01-02"), rep.Users, rep.Incremented, rep.Reset, rep.Unchanged, rep.Skipped, rep.Failed)
	return rep, nil
}

func (a *StreakAggregator) apply(ctx context.Context, userID string, minutes float64, w Window, at time.Time) (outcome, error) {
	user, err := a.users.GetUser(ctx, userID)
	if errors.Is(err, internal.ErrNotFound) {
		a.logger.Warnf("streak: no user document for %s, skipping", userID)
		return outcomeSkipped, nil
	}
	if err != nil {
		return 0, err
	}
	st := user.Streak
	st.UserID = userID
	if !st.LastStreakUpdate.IsZero() && !st.LastStreakUpdate.Before(w.To) {
		a.logger.Infof("streak: user %s already updated at %s, skipping", userID, st.LastStreakUpdate.Format(time.RFC3339))
		return outcomeSkipped, nil
	}

	var out outcome
	switch {
	case minutes >= internal.QualifyingMinutes:
		st.StreakCount++
		out = outcomeIncremented
	case st.StreakCount > 0:
		st.StreakCount = 0
		out = outcomeReset
	default:
		return outcomeUnchanged, nil
	}
	st.LastStreakUpdate = at
	if err := a.users.UpdateStreak(ctx, st); err != nil {
		return 0, err
	}
	return out, nil
}
