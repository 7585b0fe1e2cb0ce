package api

import (
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yourname/sleepstreak/internal"
	"github.com/yourname/sleepstreak/internal/service"
)

func currentUser(c *gin.Context) *internal.User {
	return c.MustGet("user").(*internal.User)
}

func PostStart(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)

		var body service.StartRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleError(c, app.Logger(), err, 400, "Invalid JSON")
			return
		}
		if err := service.ValidateStartRequest(&body); err != nil {
			HandleError(c, app.Logger(), err, 400, "Validation failed")
			return
		}
		if p := app.Permissions(); p != nil {
			p.SetPermission(user.ID, body.MotionPermission == "granted")
		}

		sess, err := app.Tracker().Start(c.Request.Context(), user.ID)
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to start session")
			return
		}
		HandleCreated(c, app.Logger(), sess)
	}
}

func PostStop(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)

		var body service.StopRequest
		// An empty body stops the active session.
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			HandleError(c, app.Logger(), err, 400, "Invalid JSON")
			return
		}
		if err := service.ValidateStopRequest(&body); err != nil {
			HandleError(c, app.Logger(), err, 400, "Validation failed")
			return
		}

		opts := service.StopOptions{FitnessToken: body.FitnessToken}
		var (
			sess *internal.SleepSession
			err  error
		)
		if body.SessionID != "" {
			sess, err = app.Tracker().StopSession(c.Request.Context(), user.ID, body.SessionID, opts)
		} else {
			sess, err = app.Tracker().Stop(c.Request.Context(), user.ID, opts)
		}
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to stop session")
			return
		}
		HandleSuccess(c, app.Logger(), sess, nil)
	}
}

func GetActive(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)

		sess, err := app.Tracker().GetActive(c.Request.Context(), user.ID)
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to fetch active session")
			return
		}
		HandleSuccess(c, app.Logger(), sess, map[string]any{"active": sess != nil})
	}
}

func PostMotionWindow(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)

		var body service.MotionWindowRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleError(c, app.Logger(), err, 400, "Invalid JSON")
			return
		}
		if err := service.ValidateMotionWindowRequest(&body); err != nil {
			HandleError(c, app.Logger(), err, 400, "Validation failed")
			return
		}

		res, err := app.Tracker().ReportWindow(c.Request.Context(), user.ID, body.ToSamples())
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to record motion window")
			return
		}
		HandleSuccess(c, app.Logger(), res, nil)
	}
}

func GetHistory(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)

		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				HandleError(c, app.Logger(), errors.New("limit must be a positive integer"), 400, "Invalid query")
				return
			}
			limit = n
		}

		sessions, err := app.Tracker().History(c.Request.Context(), user.ID, limit)
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to fetch history")
			return
		}
		HandleSuccess(c, app.Logger(), sessions, map[string]any{"count": len(sessions)})
	}
}

// GetSampling reports the motion window parameters clients sample with.
func GetSampling(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := app.Sampling()
		HandleSuccess(c, app.Logger(), gin.H{
			"window_seconds":         s.Window.Seconds(),
			"interval_seconds":       s.Interval.Seconds(),
			"cadence_seconds":        s.Cadence.Seconds(),
			"acceleration_threshold": s.Thresholds.Acceleration,
			"rotation_threshold":     s.Thresholds.Rotation,
		}, nil)
	}
}
