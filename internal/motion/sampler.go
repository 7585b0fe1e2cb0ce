package motion

import (
	"context"
	"sync"
	"time"

	"github.com/yourname/sleepstreak/internal"
)

// Sensor is the platform motion provider.
type Sensor interface {
	RequestPermission(ctx context.Context) (bool, error)
	// Subscribe delivers samples at the given interval until the returned
	// function is called.
	Subscribe(interval time.Duration, fn func(Sample)) (unsubscribe func(), err error)
	StopAll() error
}

type SamplerConfig struct {
	Window     time.Duration
	Interval   time.Duration
	Thresholds Thresholds
}

func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Window:     5 * time.Second,
		Interval:   time.Second,
		Thresholds: DefaultThresholds(),
	}
}

type Sampler struct {
	sensor Sensor
	cfg    SamplerConfig
	logger internal.Logger
}

func NewSampler(sensor Sensor, cfg SamplerConfig, logger internal.Logger) *Sampler {
	return &Sampler{sensor: sensor, cfg: cfg, logger: logger}
}

// EvaluateWindow collects samples for one window and classifies them. Sensor
// failures and empty windows fail open.
func (s *Sampler) EvaluateWindow(ctx context.Context) Verdict {
	var (
		mu      sync.Mutex
		samples []Sample
	)
	unsubscribe, err := s.sensor.Subscribe(s.cfg.Interval, func(smp Sample) {
		mu.Lock()
		samples = append(samples, smp)
		mu.Unlock()
	})
	if err != nil {
		s.logger.Warnf("motion: subscribe failed, window treated as still: %v", err)
		return Verdict{Empty: true}
	}

	timer := time.NewTimer(s.cfg.Window)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}
	unsubscribe()

	mu.Lock()
	v := Classify(samples, s.cfg.Thresholds)
	mu.Unlock()

	if v.Empty {
		s.logger.Warnf("motion: no readable samples in window, treated as still")
	} else {
		s.logger.Debugf("motion: window samples=%d offending=%d disturbed=%t", v.Samples, v.Offending, v.Disturbed)
	}
	return v
}
