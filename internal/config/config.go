package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

type Config struct {
	Env      string
	LogLevel string
	HTTPAddr string

	DBType       string
	DBDSN        string
	FileSessions string
	FileUsers    string
	SQLitePath   string

	AuthMode          string
	AuthToken         string
	FirebaseProjectID string

	StreakSchedule    string
	StreakCutoffHour  int
	StreakConcurrency int

	FitnessTimeout time.Duration
	FitnessBaseURL string

	MotionWindow   time.Duration
	MotionInterval time.Duration
	MotionCadence  time.Duration
}

var (
	cfg  *Config
	once sync.Once
)

func Load() *Config {
	once.Do(func() {
		_ = loadDotEnv()
		c, err := FromEnv()
		if err != nil {
			panic("Invalid config: " + err.Error())
		}
		cfg = c
	})
	return cfg
}

// FromEnv reads the configuration from the process environment without
// caching it.
func FromEnv() (*Config, error) {
	var err error
	c := &Config{
		Env:               getEnv("APP_ENV", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8088"),
		DBType:            getEnv("STORAGE_BACKEND", "file"),
		DBDSN:             getEnv("POSTGRES_DSN", ""),
		FileSessions:      getEnv("SESSIONS_FILE", "data/sleep_sessions.json"),
		FileUsers:         getEnv("USERS_FILE", "data/users.json"),
		SQLitePath:        getEnv("SQLITE_PATH", "data/sleepstreak.db"),
		AuthMode:          getEnv("AUTH_MODE", "local"),
		AuthToken:         getEnv("AUTH_TOKEN", "MOCK-TOKEN"),
		FirebaseProjectID: getEnv("FIREBASE_PROJECT_ID", ""),
		StreakSchedule:    getEnv("STREAK_SCHEDULE", "0 5 * * *"),
		FitnessBaseURL:    getEnv("FITNESS_BASE_URL", "https://www.googleapis.com/fitness/v1"),
	}

	if c.StreakCutoffHour, err = getInt("STREAK_CUTOFF_HOUR", 5); err != nil {
		return nil, err
	}
	if c.StreakConcurrency, err = getInt("STREAK_CONCURRENCY", 8); err != nil {
		return nil, err
	}
	if c.FitnessTimeout, err = getDuration("FITNESS_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if c.MotionWindow, err = getDuration("MOTION_WINDOW", 5*time.Second); err != nil {
		return nil, err
	}
	if c.MotionInterval, err = getDuration("MOTION_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if c.MotionCadence, err = getDuration("MOTION_CADENCE", 15*time.Minute); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch c.DBType {
	case "memory":
	case "file":
		if c.FileSessions == "" || c.FileUsers == "" {
			return errors.New("File storage requires SESSIONS_FILE and USERS_FILE to be set")
		}
	case "postgres":
		if c.DBDSN == "" {
			return errors.New("POSTGRES_DSN is required when STORAGE_BACKEND=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required when STORAGE_BACKEND=sqlite")
		}
	default:
		return errors.New("STORAGE_BACKEND must be one of: memory, file, postgres, sqlite")
	}
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return errors.New("APP_ENV must be one of: development, staging, production")
	}
	if c.AuthMode == "firebase" && c.FirebaseProjectID == "" {
		return errors.New("FIREBASE_PROJECT_ID is required when AUTH_MODE=firebase")
	}
	if c.AuthMode != "local" && c.AuthMode != "firebase" {
		return errors.New("AUTH_MODE must be one of: local, firebase")
	}
	if c.StreakCutoffHour < 0 || c.StreakCutoffHour > 23 {
		return errors.New("STREAK_CUTOFF_HOUR must be between 0 and 23")
	}
	if c.StreakConcurrency < 1 {
		return errors.New("STREAK_CONCURRENCY must be at least 1")
	}
	if c.MotionInterval <= 0 || c.MotionWindow < c.MotionInterval {
		return errors.New("MOTION_WINDOW must be at least one MOTION_INTERVAL")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		data, err := os.ReadFile(".env")
		if err != nil {
			return err
		}
		for _, l := range splitLines(string(data)) {
			if len(l) == 0 || l[0] == '#' {
				continue
			}
			kv := splitKV(l)
			if len(kv) == 2 && os.Getenv(kv[0]) == "" {
				os.Setenv(kv[0], kv[1])
			}
		}
	}
	return nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' || c == '\r' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func splitKV(s string) []string {
	for i, c := range s {
		if c == '=' {
			return []string{s[:i], s[i+1:]}
		}
	}
	return nil
}
