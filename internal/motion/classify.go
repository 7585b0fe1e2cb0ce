// Package motion turns device acceleration and rotation-rate readings into
// per-window disturbance verdicts for an active sleep session.
package motion

import "math"

const (
	// AccelerationThreshold and RotationThreshold are exclusive upper bounds
	// for a still sample.
	AccelerationThreshold = 0.2
	RotationThreshold     = 0.2
)

type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Magnitude is the Euclidean norm of the vector.
func (v Vector) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sample is one sensor reading. A nil vector means the platform delivered no
// data for that axis group and the sample is skipped.
type Sample struct {
	Acceleration *Vector `json:"acceleration"`
	RotationRate *Vector `json:"rotation_rate"`
}

type Thresholds struct {
	Acceleration float64
	Rotation     float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Acceleration: AccelerationThreshold, Rotation: RotationThreshold}
}

// Verdict is the outcome of one evaluation window.
type Verdict struct {
	Disturbed bool `json:"disturbed"`
	Samples   int  `json:"samples"`
	Offending int  `json:"offending"`
	// Empty is set when no readable sample arrived; such windows never
	// count as disturbed.
	Empty bool `json:"empty"`
}

// Classify marks a window disturbed if any readable sample exceeds either
// threshold. The number of offending samples does not change the penalty.
func Classify(samples []Sample, th Thresholds) Verdict {
	var v Verdict
	for _, s := range samples {
		if s.Acceleration == nil || s.RotationRate == nil {
			continue
		}
		v.Samples++
		if s.Acceleration.Magnitude() > th.Acceleration || s.RotationRate.Magnitude() > th.Rotation {
			v.Offending++
		}
	}
	v.Empty = v.Samples == 0
	v.Disturbed = v.Offending > 0
	return v
}
