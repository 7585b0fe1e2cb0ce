package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourname/sleepstreak/internal"
	"github.com/yourname/sleepstreak/internal/storage"
)

// flakyUsers fails every call for the listed user ids.
type flakyUsers struct {
	storage.UserRepository
	failing map[string]bool
}

func (f *flakyUsers) GetUser(ctx context.Context, id string) (*internal.User, error) {
	if f.failing[id] {
		return nil, internal.Transient(errors.New("connection reset"))
	}
	return f.UserRepository.GetUser(ctx, id)
}

type failingSessions struct {
	storage.SessionRepository
}

func (failingSessions) ListClosedSessions(ctx context.Context, from, to time.Time) ([]internal.SleepSession, error) {
	return nil, internal.Transient(errors.New("query timeout"))
}

var runAt = time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC)

func seedSession(t *testing.T, s *storage.MemoryStorage, userID string, start time.Time, d time.Duration, disturbances int) {
	t.Helper()
	ctx := context.Background()
	s.SetClock(func() time.Time { return start })
	sess, err := s.CreateActiveSession(ctx, userID)
	require.NoError(t, err)
	for i := 0; i < disturbances; i++ {
		_, err := s.IncrementDisturbance(ctx, sess.ID)
		require.NoError(t, err)
	}
	_, err = s.FinalizeSession(ctx, sess.ID, internal.Finalization{
		EndTime: start.Add(d), TrackingSource: internal.SourceDeviceMotion, DisturbanceCount: disturbances,
	})
	require.NoError(t, err)
}

func seedUser(t *testing.T, s *storage.MemoryStorage, id string, streak int) {
	t.Helper()
	require.NoError(t, s.SaveUser(context.Background(), &internal.User{
		ID:     id,
		Streak: internal.UserStreakState{StreakCount: streak},
	}))
}

func streakOf(t *testing.T, s *storage.MemoryStorage, id string) internal.UserStreakState {
	t.Helper()
	u, err := s.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u.Streak
}

func TestDayWindow(t *testing.T) {
	cases := []struct {
		name      string
		invokedAt time.Time
		from, to  time.Time
	}{
		{
			name:      "exactly at cutoff",
			invokedAt: runAt,
			from:      time.Date(2026, 3, 9, 5, 0, 0, 0, time.UTC),
			to:        runAt,
		},
		{
			name:      "later the same day",
			invokedAt: time.Date(2026, 3, 10, 17, 45, 0, 0, time.UTC),
			from:      time.Date(2026, 3, 9, 5, 0, 0, 0, time.UTC),
			to:        runAt,
		},
		{
			name:      "before cutoff",
			invokedAt: time.Date(2026, 3, 10, 4, 59, 59, 0, time.UTC),
			from:      time.Date(2026, 3, 8, 5, 0, 0, 0, time.UTC),
			to:        time.Date(2026, 3, 9, 5, 0, 0, 0, time.UTC),
		},
		{
			name:      "non-UTC input",
			invokedAt: runAt.In(time.FixedZone("UTC+9", 9*3600)),
			from:      time.Date(2026, 3, 9, 5, 0, 0, 0, time.UTC),
			to:        runAt,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := DayWindow(tc.invokedAt, 5)
			assert.True(t, tc.from.Equal(w.From), "from %s", w.From)
			assert.True(t, tc.to.Equal(w.To), "to %s", w.To)
		})
	}
}

func TestNetMinutes(t *testing.T) {
	start := runAt.Add(-10 * time.Hour)
	end := start.Add(480 * time.Minute)
	assert.InDelta(t, 435.0, NetMinutes(internal.SleepSession{StartTime: start, EndTime: &end, DisturbanceCount: 3}), 1e-9)
	short := start.Add(10 * time.Minute)
	assert.Equal(t, 0.0, NetMinutes(internal.SleepSession{StartTime: start, EndTime: &short, DisturbanceCount: 5}))
}

func TestStreakAggregatorRun(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	day := runAt.Add(-24 * time.Hour)

	// Two naps summing to 450 extend the streak.
	seedUser(t, store, "split", 2)
	seedSession(t, store, "split", day.Add(10*time.Hour), 250*time.Minute, 0)
	seedSession(t, store, "split", day.Add(20*time.Hour), 200*time.Minute, 0)

	// 400 minutes resets.
	seedUser(t, store, "short", 5)
	seedSession(t, store, "short", day.Add(17*time.Hour), 400*time.Minute, 0)

	// 480 minutes minus four penalties lands exactly on the threshold.
	seedUser(t, store, "edge", 0)
	seedSession(t, store, "edge", day.Add(15*time.Hour), 480*time.Minute, 4)

	// Already zero: nothing is written.
	seedUser(t, store, "zero", 0)
	seedSession(t, store, "zero", day.Add(18*time.Hour), 60*time.Minute, 0)

	// Sessions without a user document are skipped.
	seedSession(t, store, "ghost", day.Add(10*time.Hour), 500*time.Minute, 0)

	// Outside the window: starts before it, or ends at its end.
	seedUser(t, store, "outside", 7)
	seedSession(t, store, "outside", day.Add(-time.Hour), 500*time.Minute, 0)
	seedSession(t, store, "outside", runAt.Add(-time.Hour), time.Hour, 0)

	agg := NewStreakAggregator(store, store, 5, 4, internal.NopLogger())
	rep, err := agg.Run(ctx, runAt)
	require.NoError(t, err)

	assert.Equal(t, 5, rep.Users)
	assert.Equal(t, 2, rep.Incremented)
	assert.Equal(t, 1, rep.Reset)
	assert.Equal(t, 1, rep.Unchanged)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 0, rep.Failed)

	split := streakOf(t, store, "split")
	assert.Equal(t, 3, split.StreakCount)
	assert.True(t, runAt.Equal(split.LastStreakUpdate))

	short := streakOf(t, store, "short")
	assert.Equal(t, 0, short.StreakCount)
	assert.True(t, runAt.Equal(short.LastStreakUpdate))

	assert.Equal(t, 1, streakOf(t, store, "edge").StreakCount)

	zero := streakOf(t, store, "zero")
	assert.Equal(t, 0, zero.StreakCount)
	assert.True(t, zero.LastStreakUpdate.IsZero())

	assert.Equal(t, 7, streakOf(t, store, "outside").StreakCount)
}

func TestStreakAggregatorRerunDoesNotDoubleApply(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	day := runAt.Add(-24 * time.Hour)
	seedUser(t, store, "u1", 1)
	seedSession(t, store, "u1", day.Add(15*time.Hour), 8*time.Hour, 0)

	agg := NewStreakAggregator(store, store, 5, 2, internal.NopLogger())
	_, err := agg.Run(ctx, runAt)
	require.NoError(t, err)
	rep, err := agg.Run(ctx, runAt.Add(10*time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 2, streakOf(t, store, "u1").StreakCount)
}

func TestStreakAggregatorIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	day := runAt.Add(-24 * time.Hour)
	seedUser(t, store, "a", 3)
	seedUser(t, store, "b", 3)
	seedSession(t, store, "a", day.Add(15*time.Hour), 8*time.Hour, 0)
	seedSession(t, store, "b", day.Add(15*time.Hour), 8*time.Hour, 0)

	users := &flakyUsers{UserRepository: store, failing: map[string]bool{"a": true}}
	agg := NewStreakAggregator(store, users, 5, 1, internal.NopLogger())
	rep, err := agg.Run(ctx, runAt)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Incremented)
	assert.Equal(t, 3, streakOf(t, store, "a").StreakCount)
	assert.Equal(t, 4, streakOf(t, store, "b").StreakCount)
}

func TestStreakAggregatorQueryFailure(t *testing.T) {
	store := storage.NewMemoryStorage()
	agg := NewStreakAggregator(failingSessions{store}, store, 5, 1, internal.NopLogger())
	_, err := agg.Run(context.Background(), runAt)
	assert.ErrorIs(t, err, internal.ErrTransientIO)
}

func TestGetStreak(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedUser(t, store, "u1", 6)

	st, err := GetStreak(context.Background(), store, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", st.UserID)
	assert.Equal(t, 6, st.StreakCount)

	_, err = GetStreak(context.Background(), store, "nobody")
	assert.ErrorIs(t, err, internal.ErrNotFound)
}
