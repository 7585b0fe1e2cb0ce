package storage

import (
	"context"
	"time"

	"github.com/yourname/sleepstreak/internal"
)

// SessionRepository is the document store for sleep sessions.
type SessionRepository interface {
	// Now returns the store's clock; session timestamps come from here, not
	// from the caller.
	Now(ctx context.Context) (time.Time, error)
	// CreateActiveSession atomically creates an active session for userID and
	// fails with internal.ErrConflict if one already exists.
	CreateActiveSession(ctx context.Context, userID string) (*internal.SleepSession, error)
	GetActiveSession(ctx context.Context, userID string) (*internal.SleepSession, error)
	GetSession(ctx context.Context, id string) (*internal.SleepSession, error)
	// IncrementDisturbance adds one to an active session's count and returns
	// the new value; closed or unknown sessions yield internal.ErrNotFound.
	IncrementDisturbance(ctx context.Context, id string) (int, error)
	// FinalizeSession closes an active session exactly once. When the session
	// is already closed it returns the stored record and ErrAlreadyFinalized.
	// While the stored disturbance count differs from f.DisturbanceCount the
	// session stays open and ErrStaleDisturbances is returned with it.
	FinalizeSession(ctx context.Context, id string, f internal.Finalization) (*internal.SleepSession, error)
	DeleteSession(ctx context.Context, id string) error
	// ListClosedSessions returns closed sessions with from <= start and
	// end < to.
	ListClosedSessions(ctx context.Context, from, to time.Time) ([]internal.SleepSession, error)
	ListUserSessions(ctx context.Context, userID string, limit int) ([]internal.SleepSession, error)
}

// UserRepository holds user documents, including preference and streak state.
type UserRepository interface {
	GetUser(ctx context.Context, id string) (*internal.User, error)
	GetUserByToken(ctx context.Context, token string) (*internal.User, error)
	SaveUser(ctx context.Context, u *internal.User) error
	SetTrackingSource(ctx context.Context, id string, src internal.TrackingSource) error
	UpdateStreak(ctx context.Context, s internal.UserStreakState) error
}

// Store is a backend serving both repositories.
type Store interface {
	SessionRepository
	UserRepository
	Close() error
}
