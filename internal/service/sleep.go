package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/yourname/sleepstreak/internal"
	"github.com/yourname/sleepstreak/internal/fitness"
	"github.com/yourname/sleepstreak/internal/motion"
	"github.com/yourname/sleepstreak/internal/storage"
)

var validate = validator.New()

type StartRequest struct {
	MotionPermission string `json:"motion_permission" validate:"required,oneof=granted denied"`
}

type StopRequest struct {
	SessionID    string `json:"session_id,omitempty" validate:"omitempty,uuid"`
	FitnessToken string `json:"fitness_token,omitempty" validate:"omitempty,max=4096"`
}

type MotionSampleRequest struct {
	Acceleration *motion.Vector `json:"acceleration"`
	RotationRate *motion.Vector `json:"rotation_rate"`
}

type MotionWindowRequest struct {
	Samples []MotionSampleRequest `json:"samples" validate:"required,min=1,max=600"`
}

func (r *MotionWindowRequest) ToSamples() []motion.Sample {
	out := make([]motion.Sample, 0, len(r.Samples))
	for _, s := range r.Samples {
		out = append(out, motion.Sample{Acceleration: s.Acceleration, RotationRate: s.RotationRate})
	}
	return out
}

type TrackingRequest struct {
	Source       string `json:"source" validate:"required,oneof=device_motion external_fitness"`
	FitnessToken string `json:"fitness_token,omitempty" validate:"required_if=Source external_fitness,max=4096"`
}

func ValidateStartRequest(body *StartRequest) error {
	return validate.Struct(body)
}

func ValidateStopRequest(body *StopRequest) error {
	return validate.Struct(body)
}

func ValidateMotionWindowRequest(body *MotionWindowRequest) error {
	return validate.Struct(body)
}

func ValidateTrackingRequest(body *TrackingRequest) error {
	return validate.Struct(body)
}

// SetTrackingSource stores the user's preference. Switching to the external
// provider first checks that the supplied token is authorized for sleep data.
func SetTrackingSource(ctx context.Context, users storage.UserRepository, factory fitness.Factory, userID string, req *TrackingRequest) (*internal.User, error) {
	src := internal.TrackingSource(req.Source)
	if src == internal.SourceExternalFitness {
		if factory == nil {
			return nil, fmt.Errorf("%w: no fitness provider configured", internal.ErrProvider)
		}
		ok, err := factory.ForToken(req.FitnessToken).Authorize(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: fitness provider did not authorize sleep data access", internal.ErrPermission)
		}
	}
	if err := users.SetTrackingSource(ctx, userID, src); err != nil {
		return nil, err
	}
	return users.GetUser(ctx, userID)
}

// GetStreak returns the user's current streak state.
func GetStreak(ctx context.Context, users storage.UserRepository, userID string) (internal.UserStreakState, error) {
	u, err := users.GetUser(ctx, userID)
	if err != nil {
		return internal.UserStreakState{}, err
	}
	st := u.Streak
	st.UserID = u.ID
	return st, nil
}
