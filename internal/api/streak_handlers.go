package api

import (
	"github.com/gin-gonic/gin"
	"github.com/yourname/sleepstreak/internal"
	"github.com/yourname/sleepstreak/internal/service"
)

// Profile is the user document as returned to its owner.
type Profile struct {
	ID             string                   `json:"id"`
	Name           string                   `json:"name"`
	TrackingSource internal.TrackingSource  `json:"tracking_source"`
	Streak         internal.UserStreakState `json:"streak"`
}

func profileOf(u *internal.User) Profile {
	st := u.Streak
	st.UserID = u.ID
	return Profile{ID: u.ID, Name: u.Name, TrackingSource: u.Source(), Streak: st}
}

func GetStreak(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)

		st, err := service.GetStreak(c.Request.Context(), app.Users(), user.ID)
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to fetch streak")
			return
		}
		HandleSuccess(c, app.Logger(), st, map[string]any{"qualifying_minutes": internal.QualifyingMinutes})
	}
}

func PutTracking(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)

		var body service.TrackingRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleError(c, app.Logger(), err, 400, "Invalid JSON")
			return
		}
		if err := service.ValidateTrackingRequest(&body); err != nil {
			HandleError(c, app.Logger(), err, 400, "Validation failed")
			return
		}

		updated, err := service.SetTrackingSource(c.Request.Context(), app.Users(), app.Fitness(), user.ID, &body)
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to update tracking source")
			return
		}
		HandleSuccess(c, app.Logger(), profileOf(updated), nil)
	}
}

func GetMe(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		HandleSuccess(c, app.Logger(), profileOf(currentUser(c)), nil)
	}
}
