package api

import (
	"time"

	"github.com/yourname/sleepstreak/internal"
	"github.com/yourname/sleepstreak/internal/fitness"
	"github.com/yourname/sleepstreak/internal/motion"
	"github.com/yourname/sleepstreak/internal/service"
	"github.com/yourname/sleepstreak/internal/storage"
)

// PermissionRecorder stores the motion permission a device reports at start.
type PermissionRecorder interface {
	SetPermission(userID string, granted bool)
}

type App interface {
	Logger() internal.Logger
	Tracker() *service.Tracker
	Users() storage.UserRepository
	Fitness() fitness.Factory
	Permissions() PermissionRecorder
	Sampling() Sampling
}

// Sampling is the motion cadence reporting clients are expected to follow.
type Sampling struct {
	Window     time.Duration
	Interval   time.Duration
	Cadence    time.Duration
	Thresholds motion.Thresholds
}

func DefaultSampling() Sampling {
	return Sampling{
		Window:     5 * time.Second,
		Interval:   time.Second,
		Cadence:    15 * time.Minute,
		Thresholds: motion.DefaultThresholds(),
	}
}

type Deps struct {
	Logger      internal.Logger
	Tracker     *service.Tracker
	Users       storage.UserRepository
	Fitness     fitness.Factory
	Permissions PermissionRecorder
	Sampling    Sampling
}

type app struct {
	d Deps
}

func NewApp(d Deps) App {
	if d.Sampling == (Sampling{}) {
		d.Sampling = DefaultSampling()
	}
	return &app{d: d}
}

func (a *app) Logger() internal.Logger         { return a.d.Logger }
func (a *app) Tracker() *service.Tracker       { return a.d.Tracker }
func (a *app) Users() storage.UserRepository   { return a.d.Users }
func (a *app) Fitness() fitness.Factory        { return a.d.Fitness }
func (a *app) Permissions() PermissionRecorder { return a.d.Permissions }
func (a *app) Sampling() Sampling              { return a.d.Sampling }
