// Package sleepcalc derives total and net sleep minutes for a closed session.
package sleepcalc

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/yourname/sleepstreak/internal"
	"github.com/yourname/sleepstreak/internal/fitness"
)

// Source is how net sleep is measured. It is chosen once when a session stops.
type Source interface {
	Kind() internal.TrackingSource
}

// DeviceMotion derives net sleep from the disturbance windows counted on the
// device.
type DeviceMotion struct {
	DisturbanceCount int
}

func (DeviceMotion) Kind() internal.TrackingSource { return internal.SourceDeviceMotion }

// ExternalFitness takes net sleep from a fitness provider's sleep samples.
// A nil Provider means the user had no usable credentials at stop time.
type ExternalFitness struct {
	Provider fitness.Provider
}

func (ExternalFitness) Kind() internal.TrackingSource { return internal.SourceExternalFitness }

type Result struct {
	TotalSleepMinutes int
	NetSleepMinutes   int
	Source            internal.TrackingSource
	// Degraded is set when the external provider could not supply data and
	// net sleep fell back to zero.
	Degraded bool
}

// Finalization converts the result into the fields written on close.
func (r Result) Finalization(end time.Time) internal.Finalization {
	return internal.Finalization{
		EndTime:           end,
		TotalSleepMinutes: r.TotalSleepMinutes,
		NetSleepMinutes:   r.NetSleepMinutes,
		TrackingSource:    r.Source,
	}
}

type Calculator struct {
	timeout time.Duration
	logger  internal.Logger
}

func NewCalculator(providerTimeout time.Duration, logger internal.Logger) *Calculator {
	return &Calculator{timeout: providerTimeout, logger: logger}
}

// TotalMinutes is the wall-clock session length rounded to whole minutes.
func TotalMinutes(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	return int(math.Round(end.Sub(start).Minutes()))
}

// PenalizedMinutes applies the disturbance penalty with a floor at zero.
func PenalizedMinutes(total, disturbances int) int {
	return max(0, total-disturbances*internal.PenaltyMinutes)
}

func (c *Calculator) Compute(ctx context.Context, start, end time.Time, src Source) Result {
	res := Result{TotalSleepMinutes: TotalMinutes(start, end), Source: src.Kind()}

	switch s := src.(type) {
	case DeviceMotion:
		res.NetSleepMinutes = PenalizedMinutes(res.TotalSleepMinutes, s.DisturbanceCount)
	case ExternalFitness:
		net, err := c.external(ctx, s.Provider, start, end)
		if err != nil {
			c.logger.Warnf("sleepcalc: external sleep data unavailable, net sleep set to 0: %v", err)
			res.Degraded = true
		}
		res.NetSleepMinutes = net
	}
	return res
}

var errNoSamples = errors.New("provider returned no sleep samples")

func (c *Calculator) external(ctx context.Context, p fitness.Provider, start, end time.Time) (int, error) {
	if p == nil {
		return 0, errors.Join(internal.ErrProvider, errors.New("no provider credentials"))
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	samples, err := p.QuerySleep(ctx, start, end)
	if err != nil {
		return 0, errors.Join(internal.ErrProvider, err)
	}
	if len(samples) == 0 {
		return 0, errors.Join(internal.ErrProvider, errNoSamples)
	}

	var total time.Duration
	for _, s := range samples {
		total += s.Duration()
	}
	return int(math.Round(total.Minutes())), nil
}
