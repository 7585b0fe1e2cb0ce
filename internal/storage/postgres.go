package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yourname/sleepstreak/internal"
)

type PostgresStorage struct {
	pool   *pgxpool.Pool
	logger internal.Logger
}

func NewPostgresStorage(dsn string, logger internal.Logger) (*PostgresStorage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		logger.Errorf("failed to connect to postgres: %v", err)
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		logger.Errorf("failed to ping postgres: %v", err)
		return nil, err
	}
	p := &PostgresStorage{pool: pool, logger: logger}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresStorage) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresStorage) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			token TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			tracking_source TEXT NOT NULL DEFAULT 'device_motion',
			streak_count INTEGER NOT NULL DEFAULT 0 CHECK (streak_count >= 0),
			last_streak_update TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_token ON users(token)`,
		`CREATE TABLE IF NOT EXISTS sleep_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ,
			active BOOLEAN NOT NULL,
			disturbance_count INTEGER NOT NULL DEFAULT 0 CHECK (disturbance_count >= 0),
			total_sleep_minutes INTEGER,
			net_sleep_minutes INTEGER,
			tracking_source TEXT NOT NULL DEFAULT ''
		)`,
		// Enforces at most one active session per user.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sleep_sessions_one_active ON sleep_sessions(user_id) WHERE active`,
		`CREATE INDEX IF NOT EXISTS idx_sleep_sessions_user_start ON sleep_sessions(user_id, start_time DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_sleep_sessions_closed ON sleep_sessions(start_time, end_time) WHERE NOT active`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const sessionColumns = `id, user_id, start_time, end_time, active, disturbance_count, total_sleep_minutes, net_sleep_minutes, tracking_source`

func scanSession(row pgx.Row) (*internal.SleepSession, error) {
	var (
		s   internal.SleepSession
		src string
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.StartTime, &s.EndTime, &s.Active, &s.DisturbanceCount,
		&s.TotalSleepMinutes, &s.NetSleepMinutes, &src); err != nil {
		return nil, err
	}
	s.TrackingSource = internal.TrackingSource(src)
	s.StartTime = s.StartTime.UTC()
	if s.EndTime != nil {
		t := s.EndTime.UTC()
		s.EndTime = &t
	}
	return &s, nil
}

func (p *PostgresStorage) wrap(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, internal.ErrNotFound)
	}
	p.logger.Errorf("postgres: %s: %v", op, err)
	return fmt.Errorf("%s: %w", op, internal.Transient(err))
}

// --- SessionRepository ---

func (p *PostgresStorage) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := p.pool.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
		return time.Time{}, p.wrap("server time", err)
	}
	return now.UTC(), nil
}

func (p *PostgresStorage) CreateActiveSession(ctx context.Context, userID string) (*internal.SleepSession, error) {
	row := p.pool.QueryRow(ctx, `INSERT INTO sleep_sessions (id, user_id, start_time, active, disturbance_count)
		VALUES ($1, $2, now(), true, 0)
		ON CONFLICT (user_id) WHERE active DO NOTHING
		RETURNING `+sessionColumns, uuid.NewString(), userID)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s already has an active session", internal.ErrConflict, userID)
	}
	if err != nil {
		return nil, p.wrap("create session", err)
	}
	return s, nil
}

func (p *PostgresStorage) GetActiveSession(ctx context.Context, userID string) (*internal.SleepSession, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sleep_sessions
		WHERE user_id = $1 AND active ORDER BY start_time DESC LIMIT 1`, userID)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, p.wrap("get active session", err)
	}
	return s, nil
}

func (p *PostgresStorage) GetSession(ctx context.Context, id string) (*internal.SleepSession, error) {
	s, err := scanSession(p.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sleep_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, p.wrap("get session", err)
	}
	return s, nil
}

func (p *PostgresStorage) IncrementDisturbance(ctx context.Context, id string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `UPDATE sleep_sessions SET disturbance_count = disturbance_count + 1
		WHERE id = $1 AND active RETURNING disturbance_count`, id).Scan(&n)
	if err != nil {
		return 0, p.wrap("increment disturbance", err)
	}
	return n, nil
}

func (p *PostgresStorage) FinalizeSession(ctx context.Context, id string, f internal.Finalization) (*internal.SleepSession, error) {
	row := p.pool.QueryRow(ctx, `UPDATE sleep_sessions
		SET end_time = $2, active = false, total_sleep_minutes = $3, net_sleep_minutes = $4, tracking_source = $5
		WHERE id = $1 AND active AND disturbance_count = $6
		RETURNING `+sessionColumns,
		id, f.EndTime.UTC(), f.TotalSleepMinutes, f.NetSleepMinutes, string(f.TrackingSource), f.DisturbanceCount)
	s, err := scanSession(row)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, p.wrap("finalize session", err)
	}
	existing, err := p.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Active {
		return existing, ErrStaleDisturbances
	}
	return existing, ErrAlreadyFinalized
}

func (p *PostgresStorage) DeleteSession(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM sleep_sessions WHERE id = $1`, id)
	if err != nil {
		return p.wrap("delete session", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete session %s: %w", id, internal.ErrNotFound)
	}
	return nil
}

func (p *PostgresStorage) querySessions(ctx context.Context, op, sql string, args ...any) ([]internal.SleepSession, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, p.wrap(op, err)
	}
	defer rows.Close()

	out := []internal.SleepSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, p.wrap(op, err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, p.wrap(op, err)
	}
	return out, nil
}

func (p *PostgresStorage) ListClosedSessions(ctx context.Context, from, to time.Time) ([]internal.SleepSession, error) {
	return p.querySessions(ctx, "list closed sessions", `SELECT `+sessionColumns+` FROM sleep_sessions
		WHERE NOT active AND start_time >= $1 AND end_time < $2 ORDER BY start_time`, from.UTC(), to.UTC())
}

func (p *PostgresStorage) ListUserSessions(ctx context.Context, userID string, limit int) ([]internal.SleepSession, error) {
	return p.querySessions(ctx, "list user sessions", `SELECT `+sessionColumns+` FROM sleep_sessions
		WHERE user_id = $1 ORDER BY start_time DESC LIMIT $2`, userID, normalizeLimit(limit))
}

// --- UserRepository ---

const userColumns = `id, token, name, tracking_source, streak_count, last_streak_update`

func scanUser(row pgx.Row) (*internal.User, error) {
	var (
		u    internal.User
		src  string
		last *time.Time
	)
	if err := row.Scan(&u.ID, &u.Token, &u.Name, &src, &u.Streak.StreakCount, &last); err != nil {
		return nil, err
	}
	u.TrackingSource = internal.TrackingSource(src)
	u.Streak.UserID = u.ID
	if last != nil {
		u.Streak.LastStreakUpdate = last.UTC()
	}
	return &u, nil
}

func (p *PostgresStorage) GetUser(ctx context.Context, id string) (*internal.User, error) {
	u, err := scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, p.wrap("get user", err)
	}
	return u, nil
}

func (p *PostgresStorage) GetUserByToken(ctx context.Context, token string) (*internal.User, error) {
	u, err := scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE token = $1 AND token <> ''`, token))
	if err != nil {
		return nil, p.wrap("get user by token", err)
	}
	return u, nil
}

func (p *PostgresStorage) SaveUser(ctx context.Context, u *internal.User) error {
	var last *time.Time
	if !u.Streak.LastStreakUpdate.IsZero() {
		t := u.Streak.LastStreakUpdate.UTC()
		last = &t
	}
	_, err := p.pool.Exec(ctx, `INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET token = EXCLUDED.token, name = EXCLUDED.name,
			tracking_source = EXCLUDED.tracking_source, streak_count = EXCLUDED.streak_count,
			last_streak_update = EXCLUDED.last_streak_update`,
		u.ID, u.Token, u.Name, string(u.Source()), u.Streak.StreakCount, last)
	if err != nil {
		return p.wrap("save user", err)
	}
	return nil
}

func (p *PostgresStorage) SetTrackingSource(ctx context.Context, id string, src internal.TrackingSource) error {
	tag, err := p.pool.Exec(ctx, `UPDATE users SET tracking_source = $2 WHERE id = $1`, id, string(src))
	if err != nil {
		return p.wrap("set tracking source", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set tracking source for %s: %w", id, internal.ErrNotFound)
	}
	return nil
}

func (p *PostgresStorage) UpdateStreak(ctx context.Context, st internal.UserStreakState) error {
	tag, err := p.pool.Exec(ctx, `UPDATE users SET streak_count = $2, last_streak_update = $3 WHERE id = $1`,
		st.UserID, st.StreakCount, st.LastStreakUpdate.UTC())
	if err != nil {
		return p.wrap("update streak", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update streak for %s: %w", st.UserID, internal.ErrNotFound)
	}
	return nil
}

var _ Store = (*PostgresStorage)(nil)
