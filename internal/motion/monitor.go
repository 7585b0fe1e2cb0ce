package motion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yourname/sleepstreak/internal"
)

// TaskName is the background task registered for a user's active session.
func TaskName(userID string) string {
	return "SLEEP_TRACKING_TASK:" + userID
}

// SensorMonitor runs on the device: it owns the sensor permission and
// evaluates one window per cadence tick while a session is armed.
type SensorMonitor struct {
	sensor  Sensor
	runner  Runner
	sampler *Sampler
	cadence time.Duration
	logger  internal.Logger
}

func NewSensorMonitor(sensor Sensor, runner Runner, sampler *Sampler, cadence time.Duration, logger internal.Logger) *SensorMonitor {
	return &SensorMonitor{sensor: sensor, runner: runner, sampler: sampler, cadence: cadence, logger: logger}
}

func (m *SensorMonitor) RequestPermission(ctx context.Context, userID string) error {
	granted, err := m.sensor.RequestPermission(ctx)
	if err != nil {
		return fmt.Errorf("%w: motion sensor unavailable: %v", internal.ErrPermission, err)
	}
	if !granted {
		return fmt.Errorf("%w: motion permission not granted", internal.ErrPermission)
	}
	return nil
}

func (m *SensorMonitor) Arm(ctx context.Context, userID, sessionID string, onDisturbed func(ctx context.Context)) error {
	return m.runner.Register(TaskName(userID), m.cadence, func(ctx context.Context) {
		if v := m.sampler.EvaluateWindow(ctx); v.Disturbed {
			m.logger.Infof("motion: disturbed window for session %s", sessionID)
			onDisturbed(ctx)
		}
	})
}

func (m *SensorMonitor) Disarm(ctx context.Context, userID string) error {
	return errors.Join(m.runner.Unregister(TaskName(userID)), m.sensor.StopAll())
}

// ReportedMonitor is used when the device samples on its own and reports both
// its permission status and its windows over the API.
type ReportedMonitor struct {
	mu          sync.Mutex
	permissions map[string]bool
	armed       map[string]string
}

func NewReportedMonitor() *ReportedMonitor {
	return &ReportedMonitor{
		permissions: make(map[string]bool),
		armed:       make(map[string]string),
	}
}

func (m *ReportedMonitor) SetPermission(userID string, granted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permissions[userID] = granted
}

func (m *ReportedMonitor) RequestPermission(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.permissions[userID] {
		return fmt.Errorf("%w: device reported no motion permission", internal.ErrPermission)
	}
	return nil
}

func (m *ReportedMonitor) Arm(ctx context.Context, userID, sessionID string, _ func(ctx context.Context)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed[userID] = sessionID
	return nil
}

func (m *ReportedMonitor) Disarm(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.armed, userID)
	return nil
}

// ArmedSession reports which session, if any, is armed for the user.
func (m *ReportedMonitor) ArmedSession(userID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.armed[userID]
	return id, ok
}

// Counter is the device-local disturbance tally keyed by session. It is
// disposable; the persisted session count is authoritative.
type Counter struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewCounter() *Counter {
	return &Counter{counts: make(map[string]int)}
}

func (c *Counter) Reset(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[sessionID] = 0
}

func (c *Counter) Incr(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[sessionID]++
	return c.counts[sessionID]
}

func (c *Counter) Get(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[sessionID]
}

func (c *Counter) Clear(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, sessionID)
}
