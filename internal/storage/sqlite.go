package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/google/uuid"
	"github.com/yourname/sleepstreak/internal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type sessionRow struct {
	ID                string     `gorm:"primaryKey;type:text"`
	UserID            string     `gorm:"type:text;not null;index:idx_sleep_sessions_user_start,priority:1"`
	StartTime         time.Time  `gorm:"not null;index:idx_sleep_sessions_user_start,priority:2;index:idx_sleep_sessions_window,priority:1"`
	EndTime           *time.Time `gorm:"index:idx_sleep_sessions_window,priority:2"`
	Active            bool       `gorm:"not null"`
	DisturbanceCount  int        `gorm:"not null;default:0"`
	TotalSleepMinutes *int
	NetSleepMinutes   *int
	TrackingSource    string `gorm:"type:text;not null;default:''"`
}

func (sessionRow) TableName() string { return "sleep_sessions" }

func (r *sessionRow) toModel() *internal.SleepSession {
	s := &internal.SleepSession{
		ID:                r.ID,
		UserID:            r.UserID,
		StartTime:         r.StartTime.UTC(),
		Active:            r.Active,
		DisturbanceCount:  r.DisturbanceCount,
		TotalSleepMinutes: r.TotalSleepMinutes,
		NetSleepMinutes:   r.NetSleepMinutes,
		TrackingSource:    internal.TrackingSource(r.TrackingSource),
	}
	if r.EndTime != nil {
		t := r.EndTime.UTC()
		s.EndTime = &t
	}
	return s
}

type userRow struct {
	ID               string `gorm:"primaryKey;type:text"`
	Token            string `gorm:"type:text;not null;default:'';index"`
	Name             string `gorm:"type:text;not null;default:''"`
	TrackingSource   string `gorm:"type:text;not null;default:'device_motion'"`
	StreakCount      int    `gorm:"not null;default:0"`
	LastStreakUpdate *time.Time
}

func (userRow) TableName() string { return "users" }

func (r *userRow) toModel() *internal.User {
	u := &internal.User{
		ID:             r.ID,
		Token:          r.Token,
		Name:           r.Name,
		TrackingSource: internal.TrackingSource(r.TrackingSource),
		Streak:         internal.UserStreakState{UserID: r.ID, StreakCount: r.StreakCount},
	}
	if r.LastStreakUpdate != nil {
		u.Streak.LastStreakUpdate = r.LastStreakUpdate.UTC()
	}
	return u
}

// SQLiteStorage is the single-node embedded backend.
type SQLiteStorage struct {
	db     *gorm.DB
	clock  func() time.Time
	logger internal.Logger
}

func NewSQLiteStorage(path string, log internal.Logger) (*SQLiteStorage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection also keeps :memory: shared.
	sqlDB.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &SQLiteStorage{
		db:     db,
		clock:  func() time.Time { return time.Now().UTC() },
		logger: log,
	}, nil
}

func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "001_core_tables",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&userRow{}, &sessionRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("sleep_sessions", "users")
			},
		},
		{
			ID: "002_one_active_session",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_sleep_sessions_one_active
					ON sleep_sessions(user_id) WHERE active`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec(`DROP INDEX IF EXISTS idx_sleep_sessions_one_active`).Error
			},
		},
	})
	return m.Migrate()
}

// SetClock replaces the store clock.
func (s *SQLiteStorage) SetClock(clock func() time.Time) { s.clock = clock }

func (s *SQLiteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStorage) wrap(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, internal.ErrNotFound)
	}
	s.logger.Errorf("sqlite: %s: %v", op, err)
	return fmt.Errorf("%s: %w", op, internal.Transient(err))
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- SessionRepository ---

func (s *SQLiteStorage) Now(ctx context.Context) (time.Time, error) {
	return s.clock().UTC(), nil
}

func (s *SQLiteStorage) CreateActiveSession(ctx context.Context, userID string) (*internal.SleepSession, error) {
	row := sessionRow{
		ID:        uuid.NewString(),
		UserID:    userID,
		StartTime: s.clock().UTC(),
		Active:    true,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&sessionRow{}).Where("user_id = ? AND active = ?", userID, true).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return internal.ErrConflict
		}
		return tx.Create(&row).Error
	})
	switch {
	case err == nil:
		return row.toModel(), nil
	case errors.Is(err, internal.ErrConflict) || isUniqueViolation(err):
		return nil, fmt.Errorf("%w: user %s already has an active session", internal.ErrConflict, userID)
	default:
		return nil, s.wrap("create session", err)
	}
}

func (s *SQLiteStorage) GetActiveSession(ctx context.Context, userID string) (*internal.SleepSession, error) {
	var rows []sessionRow
	err := s.db.WithContext(ctx).Where("user_id = ? AND active = ?", userID, true).
		Order("start_time DESC").Limit(1).Find(&rows).Error
	if err != nil {
		return nil, s.wrap("get active session", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toModel(), nil
}

func (s *SQLiteStorage) GetSession(ctx context.Context, id string) (*internal.SleepSession, error) {
	var row sessionRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, s.wrap("get session", err)
	}
	return row.toModel(), nil
}

func (s *SQLiteStorage) IncrementDisturbance(ctx context.Context, id string) (int, error) {
	var n int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&sessionRow{}).Where("id = ? AND active = ?", id, true).
			Update("disturbance_count", gorm.Expr("disturbance_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		var row sessionRow
		if err := tx.Select("disturbance_count").Where("id = ?", id).First(&row).Error; err != nil {
			return err
		}
		n = row.DisturbanceCount
		return nil
	})
	if err != nil {
		return 0, s.wrap("increment disturbance", err)
	}
	return n, nil
}

func (s *SQLiteStorage) FinalizeSession(ctx context.Context, id string, f internal.Finalization) (*internal.SleepSession, error) {
	end := f.EndTime.UTC()
	res := s.db.WithContext(ctx).Model(&sessionRow{}).Where("id = ? AND active = ? AND disturbance_count = ?", id, true, f.DisturbanceCount).
		Updates(map[string]any{
			"end_time":            end,
			"active":              false,
			"total_sleep_minutes": f.TotalSleepMinutes,
			"net_sleep_minutes":   f.NetSleepMinutes,
			"tracking_source":     string(f.TrackingSource),
		})
	if res.Error != nil {
		return nil, s.wrap("finalize session", res.Error)
	}
	stored, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		if stored.Active {
			return stored, ErrStaleDisturbances
		}
		return stored, ErrAlreadyFinalized
	}
	return stored, nil
}

func (s *SQLiteStorage) DeleteSession(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&sessionRow{})
	if res.Error != nil {
		return s.wrap("delete session", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete session %s: %w", id, internal.ErrNotFound)
	}
	return nil
}

func toSessions(rows []sessionRow) []internal.SleepSession {
	out := make([]internal.SleepSession, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toModel())
	}
	return out
}

func (s *SQLiteStorage) ListClosedSessions(ctx context.Context, from, to time.Time) ([]internal.SleepSession, error) {
	var rows []sessionRow
	err := s.db.WithContext(ctx).
		Where("active = ? AND end_time IS NOT NULL AND start_time >= ? AND end_time < ?", false, from.UTC(), to.UTC()).
		Order("start_time").Find(&rows).Error
	if err != nil {
		return nil, s.wrap("list closed sessions", err)
	}
	return toSessions(rows), nil
}

func (s *SQLiteStorage) ListUserSessions(ctx context.Context, userID string, limit int) ([]internal.SleepSession, error) {
	var rows []sessionRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("start_time DESC").Limit(normalizeLimit(limit)).Find(&rows).Error
	if err != nil {
		return nil, s.wrap("list user sessions", err)
	}
	return toSessions(rows), nil
}

// --- UserRepository ---

func (s *SQLiteStorage) GetUser(ctx context.Context, id string) (*internal.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, s.wrap("get user", err)
	}
	return row.toModel(), nil
}

func (s *SQLiteStorage) GetUserByToken(ctx context.Context, token string) (*internal.User, error) {
	if token == "" {
		return nil, fmt.Errorf("get user by token: %w", internal.ErrNotFound)
	}
	var row userRow
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&row).Error; err != nil {
		return nil, s.wrap("get user by token", err)
	}
	return row.toModel(), nil
}

func (s *SQLiteStorage) SaveUser(ctx context.Context, u *internal.User) error {
	row := userRow{
		ID:             u.ID,
		Token:          u.Token,
		Name:           u.Name,
		TrackingSource: string(u.Source()),
		StreakCount:    u.Streak.StreakCount,
	}
	if !u.Streak.LastStreakUpdate.IsZero() {
		t := u.Streak.LastStreakUpdate.UTC()
		row.LastStreakUpdate = &t
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return s.wrap("save user", err)
	}
	return nil
}

func (s *SQLiteStorage) SetTrackingSource(ctx context.Context, id string, src internal.TrackingSource) error {
	res := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", id).Update("tracking_source", string(src))
	if res.Error != nil {
		return s.wrap("set tracking source", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("set tracking source for %s: %w", id, internal.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) UpdateStreak(ctx context.Context, st internal.UserStreakState) error {
	last := st.LastStreakUpdate.UTC()
	res := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", st.UserID).
		Updates(map[string]any{"streak_count": st.StreakCount, "last_streak_update": &last})
	if res.Error != nil {
		return s.wrap("update streak", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update streak for %s: %w", st.UserID, internal.ErrNotFound)
	}
	return nil
}

var _ Store = (*SQLiteStorage)(nil)
