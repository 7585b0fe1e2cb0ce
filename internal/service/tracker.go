package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourname/sleepstreak/internal"
	"github.com/yourname/sleepstreak/internal/fitness"
	"github.com/yourname/sleepstreak/internal/motion"
	"github.com/yourname/sleepstreak/internal/sleepcalc"
	"github.com/yourname/sleepstreak/internal/storage"
)

// Monitor watches a user's motion while a session is active.
type Monitor interface {
	RequestPermission(ctx context.Context, userID string) error
	Arm(ctx context.Context, userID, sessionID string, onDisturbed func(ctx context.Context)) error
	Disarm(ctx context.Context, userID string) error
}

// StopOptions carry per-request inputs to a stop.
type StopOptions struct {
	// FitnessToken authorizes the external provider on the external-fitness
	// path. Without it net sleep falls back to zero.
	FitnessToken string
}

// Tracker is the sleep session state machine: idle -> active -> closed.
type Tracker struct {
	sessions   storage.SessionRepository
	users      storage.UserRepository
	calc       *sleepcalc.Calculator
	monitor    Monitor
	counter    *motion.Counter
	fitness    fitness.Factory
	thresholds motion.Thresholds
	logger     internal.Logger
}

type TrackerDeps struct {
	Sessions   storage.SessionRepository
	Users      storage.UserRepository
	Calculator *sleepcalc.Calculator
	Monitor    Monitor
	Counter    *motion.Counter
	Fitness    fitness.Factory
	Thresholds motion.Thresholds
	Logger     internal.Logger
}

func NewTracker(d TrackerDeps) *Tracker {
	if d.Counter == nil {
		d.Counter = motion.NewCounter()
	}
	if d.Thresholds == (motion.Thresholds{}) {
		d.Thresholds = motion.DefaultThresholds()
	}
	return &Tracker{
		sessions:   d.Sessions,
		users:      d.Users,
		calc:       d.Calculator,
		monitor:    d.Monitor,
		counter:    d.Counter,
		fitness:    d.Fitness,
		thresholds: d.Thresholds,
		logger:     d.Logger,
	}
}

// Start opens a session for userID and arms the motion monitor.
func (t *Tracker) Start(ctx context.Context, userID string) (*internal.SleepSession, error) {
	active, err := t.sessions.GetActiveSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("%w: session %s is already active", internal.ErrConflict, active.ID)
	}
	if err := t.monitor.RequestPermission(ctx, userID); err != nil {
		return nil, err
	}

	sess, err := t.sessions.CreateActiveSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	t.counter.Reset(sess.ID)

	if err := t.monitor.Arm(ctx, userID, sess.ID, t.disturbedFunc(sess.ID)); err != nil {
		t.logger.Errorf("tracker: arming monitor for session %s failed, rolling back: %v", sess.ID, err)
		t.counter.Clear(sess.ID)
		if delErr := t.sessions.DeleteSession(ctx, sess.ID); delErr != nil {
			t.logger.Errorf("tracker: rollback of session %s failed: %v", sess.ID, delErr)
			return nil, errors.Join(err, delErr)
		}
		return nil, err
	}
	t.logger.Infof("tracker: session %s started for user %s", sess.ID, userID)
	return sess, nil
}

const maxFinalizeAttempts = 5

// Stop closes the user's active session.
func (t *Tracker) Stop(ctx context.Context, userID string, opts StopOptions) (*internal.SleepSession, error) {
	active, err := t.sessions.GetActiveSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, fmt.Errorf("%w: no active session for user %s", internal.ErrNotFound, userID)
	}
	return t.finalize(ctx, active, opts)
}

// StopSession closes a specific session. A session that is already closed is
// returned as stored.
func (t *Tracker) StopSession(ctx context.Context, userID, sessionID string, opts StopOptions) (*internal.SleepSession, error) {
	sess, err := t.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, fmt.Errorf("%w: session %s", internal.ErrNotFound, sessionID)
	}
	if !sess.Active {
		return sess, nil
	}
	return t.finalize(ctx, sess, opts)
}

func (t *Tracker) finalize(ctx context.Context, sess *internal.SleepSession, opts StopOptions) (*internal.SleepSession, error) {
	if err := t.monitor.Disarm(ctx, sess.UserID); err != nil {
		t.logger.Warnf("tracker: disarming monitor for session %s: %v", sess.ID, err)
	}

	end, err := t.sessions.Now(ctx)
	if err != nil {
		return nil, err
	}
	src, err := t.source(ctx, sess, opts)
	if err != nil {
		return nil, err
	}
	res := t.calc.Compute(ctx, sess.StartTime, end, src)
	fin := res.Finalization(end)
	fin.DisturbanceCount = sess.DisturbanceCount

	var closed *internal.SleepSession
	for attempt := 1; ; attempt++ {
		closed, err = t.sessions.FinalizeSession(ctx, sess.ID, fin)
		if !errors.Is(err, storage.ErrStaleDisturbances) {
			break
		}
		if attempt == maxFinalizeAttempts {
			return nil, fmt.Errorf("%w: disturbances on session %s kept changing during stop", internal.ErrConflict, sess.ID)
		}
		// A window landed after the count was read; close over the stored count.
		if _, ok := src.(sleepcalc.DeviceMotion); ok {
			src = sleepcalc.DeviceMotion{DisturbanceCount: closed.DisturbanceCount}
			res = t.calc.Compute(ctx, sess.StartTime, end, src)
			fin = res.Finalization(end)
		}
		fin.DisturbanceCount = closed.DisturbanceCount
	}
	if errors.Is(err, storage.ErrAlreadyFinalized) {
		t.logger.Infof("tracker: session %s was already closed", sess.ID)
		err = nil
	}
	if err != nil {
		return nil, err
	}
	t.counter.Clear(sess.ID)
	t.logger.Infof("tracker: session %s closed, total=%d net=%d source=%s",
		closed.ID, res.TotalSleepMinutes, res.NetSleepMinutes, res.Source)
	return closed, nil
}

// source picks the tracking variant from the user's current preference.
func (t *Tracker) source(ctx context.Context, sess *internal.SleepSession, opts StopOptions) (sleepcalc.Source, error) {
	user, err := t.users.GetUser(ctx, sess.UserID)
	if err != nil && !errors.Is(err, internal.ErrNotFound) {
		return nil, err
	}
	if user.Source() == internal.SourceExternalFitness {
		var p fitness.Provider
		if opts.FitnessToken != "" && t.fitness != nil {
			p = t.fitness.ForToken(opts.FitnessToken)
		}
		return sleepcalc.ExternalFitness{Provider: p}, nil
	}
	// The persisted count wins over the local counter.
	return sleepcalc.DeviceMotion{DisturbanceCount: sess.DisturbanceCount}, nil
}

func (t *Tracker) GetActive(ctx context.Context, userID string) (*internal.SleepSession, error) {
	return t.sessions.GetActiveSession(ctx, userID)
}

// Resume re-arms the monitor for a persisted active session, e.g. after a
// restart. It returns nil, nil when the user is idle.
func (t *Tracker) Resume(ctx context.Context, userID string) (*internal.SleepSession, error) {
	active, err := t.sessions.GetActiveSession(ctx, userID)
	if err != nil || active == nil {
		return nil, err
	}
	if t.counter.Get(active.ID) < active.DisturbanceCount {
		t.counter.Reset(active.ID)
		for i := 0; i < active.DisturbanceCount; i++ {
			t.counter.Incr(active.ID)
		}
	}
	if err := t.monitor.Arm(ctx, userID, active.ID, t.disturbedFunc(active.ID)); err != nil {
		return nil, err
	}
	t.logger.Infof("tracker: resumed session %s for user %s", active.ID, userID)
	return active, nil
}

// RecordDisturbance adds exactly one disturbed window to an active session.
func (t *Tracker) RecordDisturbance(ctx context.Context, sessionID string) (int, error) {
	n, err := t.sessions.IncrementDisturbance(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	t.counter.Incr(sessionID)
	return n, nil
}

// WindowResult reports how a pushed motion window was handled.
type WindowResult struct {
	SessionID        string         `json:"session_id"`
	Verdict          motion.Verdict `json:"verdict"`
	DisturbanceCount int            `json:"disturbance_count"`
}

// ReportWindow classifies a window sampled by the device and records it
// against the user's active session.
func (t *Tracker) ReportWindow(ctx context.Context, userID string, samples []motion.Sample) (*WindowResult, error) {
	active, err := t.sessions.GetActiveSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, fmt.Errorf("%w: no active session for user %s", internal.ErrNotFound, userID)
	}

	v := motion.Classify(samples, t.thresholds)
	res := &WindowResult{SessionID: active.ID, Verdict: v, DisturbanceCount: active.DisturbanceCount}
	if v.Empty {
		t.logger.Warnf("tracker: window for session %s had no readable samples", active.ID)
	}
	if !v.Disturbed {
		return res, nil
	}
	n, err := t.RecordDisturbance(ctx, active.ID)
	if err != nil {
		return nil, err
	}
	res.DisturbanceCount = n
	return res, nil
}

func (t *Tracker) History(ctx context.Context, userID string, limit int) ([]internal.SleepSession, error) {
	return t.sessions.ListUserSessions(ctx, userID, limit)
}

func (t *Tracker) disturbedFunc(sessionID string) func(ctx context.Context) {
	return func(ctx context.Context) {
		if _, err := t.RecordDisturbance(ctx, sessionID); err != nil {
			t.logger.Errorf("tracker: recording disturbance for session %s: %v", sessionID, err)
		}
	}
}
