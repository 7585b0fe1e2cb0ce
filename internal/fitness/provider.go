// Package fitness talks to external fitness platforms that record sleep.
package fitness

import (
	"context"
	"time"
)

// Interval is one sleep sample reported by the provider.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Duration() time.Duration {
	if i.End.Before(i.Start) {
		return 0
	}
	return i.End.Sub(i.Start)
}

// Provider is an external fitness API bound to one user's credentials.
type Provider interface {
	Authorize(ctx context.Context) (bool, error)
	QuerySleep(ctx context.Context, start, end time.Time) ([]Interval, error)
}

// Factory binds a Provider to a user-supplied access token.
type Factory interface {
	ForToken(token string) Provider
}
