package auth

import (
	"context"
	"errors"

	"github.com/yourname/sleepstreak/internal"
	"github.com/yourname/sleepstreak/internal/storage"
)

const demoUserID = "u1"

// LocalAuthProvider accepts tokens stored on user documents, plus one
// configured development token mapped to a demo user.
type LocalAuthProvider struct {
	Token  string
	users  storage.UserRepository
	logger internal.Logger
}

func NewLocalAuthProvider(token string, users storage.UserRepository, logger internal.Logger) *LocalAuthProvider {
	return &LocalAuthProvider{Token: token, users: users, logger: logger}
}

func (a *LocalAuthProvider) Authenticate(ctx context.Context, token string) (*internal.User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	u, err := a.users.GetUserByToken(ctx, token)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, internal.ErrNotFound) {
		return nil, err
	}
	if a.Token == "" || token != a.Token {
		a.logger.Warnf("invalid token")
		return nil, ErrInvalidToken
	}
	return a.demoUser(ctx)
}

// demoUser returns the development user, creating its document on first use.
func (a *LocalAuthProvider) demoUser(ctx context.Context) (*internal.User, error) {
	u, err := a.users.GetUser(ctx, demoUserID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, internal.ErrNotFound) {
		return nil, err
	}
	u = &internal.User{ID: demoUserID, Token: a.Token, Name: "Demo User", TrackingSource: internal.SourceDeviceMotion}
	if err := a.users.SaveUser(ctx, u); err != nil {
		return nil, err
	}
	a.logger.Infof("auth: created demo user %s", demoUserID)
	return u, nil
}
