package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("APP_ENV", "")

	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "file", c.DBType)
	assert.Equal(t, "0 5 * * *", c.StreakSchedule)
	assert.Equal(t, 5, c.StreakCutoffHour)
	assert.Equal(t, 5*time.Second, c.MotionWindow)
	assert.Equal(t, time.Second, c.MotionInterval)
	assert.Equal(t, 15*time.Minute, c.MotionCadence)
	assert.Equal(t, 10*time.Second, c.FitnessTimeout)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"postgres without dsn", map[string]string{"STORAGE_BACKEND": "postgres"}},
		{"unknown backend", map[string]string{"STORAGE_BACKEND": "mongo"}},
		{"bad env", map[string]string{"APP_ENV": "qa"}},
		{"firebase without project", map[string]string{"AUTH_MODE": "firebase"}},
		{"cutoff out of range", map[string]string{"STREAK_CUTOFF_HOUR": "24"}},
		{"bad duration", map[string]string{"FITNESS_TIMEOUT": "soon"}},
		{"window shorter than interval", map[string]string{"MOTION_WINDOW": "500ms"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestSplitKV(t *testing.T) {
	assert.Equal(t, []string{"A", "b=c"}, splitKV("A=b=c"))
	assert.Nil(t, splitKV("novalue"))
	assert.Equal(t, []string{"x", "y"}, splitLines("x\r\ny\n"))
}
