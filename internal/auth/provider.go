package auth

import (
	"context"
	"errors"

	"github.com/yourname/sleepstreak/internal"
)

var ErrInvalidToken = errors.New("invalid token")

// Provider resolves a bearer token to the user it belongs to.
type Provider interface {
	Authenticate(ctx context.Context, token string) (*internal.User, error)
}
