package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yourname/sleepstreak/internal"
)

// MemoryStorage keeps everything in process. It backs tests and the file
// backend, which persists its state.
type MemoryStorage struct {
	mu           sync.RWMutex
	sessions     map[string]*internal.SleepSession // id -> session
	activeByUser map[string]string                 // userID -> active session id
	users        map[string]*internal.User         // id -> user
	clock        func() time.Time

	onSessions func()
	onUsers    func()
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sessions:     make(map[string]*internal.SleepSession),
		activeByUser: make(map[string]string),
		users:        make(map[string]*internal.User),
		clock:        func() time.Time { return time.Now().UTC() },
		onSessions:   func() {},
		onUsers:      func() {},
	}
}

// SetClock replaces the store clock.
func (m *MemoryStorage) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

func (m *MemoryStorage) Close() error { return nil }

// --- SessionRepository ---

func (m *MemoryStorage) Now(ctx context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clock().UTC(), nil
}

func (m *MemoryStorage) CreateActiveSession(ctx context.Context, userID string) (*internal.SleepSession, error) {
	m.mu.Lock()
	if id, ok := m.activeByUser[userID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: user %s already has active session %s", internal.ErrConflict, userID, id)
	}
	s := &internal.SleepSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		StartTime: m.clock().UTC(),
		Active:    true,
	}
	m.sessions[s.ID] = s
	m.activeByUser[userID] = s.ID
	out := cloneSession(s)
	m.mu.Unlock()

	m.onSessions()
	return out, nil
}

func (m *MemoryStorage) GetActiveSession(ctx context.Context, userID string) (*internal.SleepSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.activeByUser[userID]
	if !ok {
		return nil, nil
	}
	return cloneSession(m.sessions[id]), nil
}

func (m *MemoryStorage) GetSession(ctx context.Context, id string) (*internal.SleepSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", internal.ErrNotFound, id)
	}
	return cloneSession(s), nil
}

func (m *MemoryStorage) IncrementDisturbance(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || !s.Active {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: active session %s", internal.ErrNotFound, id)
	}
	s.DisturbanceCount++
	n := s.DisturbanceCount
	m.mu.Unlock()

	m.onSessions()
	return n, nil
}

func (m *MemoryStorage) FinalizeSession(ctx context.Context, id string, f internal.Finalization) (*internal.SleepSession, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s", internal.ErrNotFound, id)
	}
	if !s.Active {
		out := cloneSession(s)
		m.mu.Unlock()
		return out, ErrAlreadyFinalized
	}
	if s.DisturbanceCount != f.DisturbanceCount {
		out := cloneSession(s)
		m.mu.Unlock()
		return out, ErrStaleDisturbances
	}
	applyFinalization(s, f)
	delete(m.activeByUser, s.UserID)
	out := cloneSession(s)
	m.mu.Unlock()

	m.onSessions()
	return out, nil
}

func (m *MemoryStorage) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: session %s", internal.ErrNotFound, id)
	}
	if s.Active && m.activeByUser[s.UserID] == id {
		delete(m.activeByUser, s.UserID)
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	m.onSessions()
	return nil
}

func (m *MemoryStorage) ListClosedSessions(ctx context.Context, from, to time.Time) ([]internal.SleepSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []internal.SleepSession
	for _, s := range m.sessions {
		if inWindow(s, from, to) {
			out = append(out, *cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *MemoryStorage) ListUserSessions(ctx context.Context, userID string, limit int) ([]internal.SleepSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []internal.SleepSession{}
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, *cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- UserRepository ---

func (m *MemoryStorage) GetUser(ctx context.Context, id string) (*internal.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", internal.ErrNotFound, id)
	}
	c := *u
	return &c, nil
}

func (m *MemoryStorage) GetUserByToken(ctx context.Context, token string) (*internal.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if token != "" && u.Token == token {
			c := *u
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: user for token", internal.ErrNotFound)
}

func (m *MemoryStorage) SaveUser(ctx context.Context, u *internal.User) error {
	c := *u
	c.Streak.UserID = c.ID
	m.mu.Lock()
	m.users[c.ID] = &c
	m.mu.Unlock()

	m.onUsers()
	return nil
}

func (m *MemoryStorage) SetTrackingSource(ctx context.Context, id string, src internal.TrackingSource) error {
	m.mu.Lock()
	u, ok := m.users[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: user %s", internal.ErrNotFound, id)
	}
	u.TrackingSource = src
	m.mu.Unlock()

	m.onUsers()
	return nil
}

func (m *MemoryStorage) UpdateStreak(ctx context.Context, st internal.UserStreakState) error {
	m.mu.Lock()
	u, ok := m.users[st.UserID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: user %s", internal.ErrNotFound, st.UserID)
	}
	u.Streak = st
	m.mu.Unlock()

	m.onUsers()
	return nil
}

// load replaces the in-memory state, rebuilding the active index.
func (m *MemoryStorage) load(sessions []*internal.SleepSession, users []*internal.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range sessions {
		m.sessions[s.ID] = s
		if s.Active {
			m.activeByUser[s.UserID] = s.ID
		}
	}
	for _, u := range users {
		m.users[u.ID] = u
	}
}

func (m *MemoryStorage) snapshotSessions() []*internal.SleepSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*internal.SleepSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (m *MemoryStorage) snapshotUsers() []*internal.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*internal.User, 0, len(m.users))
	for _, u := range m.users {
		c := *u
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var _ Store = (*MemoryStorage)(nil)
