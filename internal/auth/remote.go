package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/yourname/sleepstreak/internal"
	"github.com/yourname/sleepstreak/internal/storage"
)

const (
	firebaseIssuerPrefix = "https://securetoken.google.com/"
	firebaseJWKSURL      = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
)

// IDClaims are the ID-token claims the service relies on.
type IDClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

// ClaimsVerifier checks a raw ID token and returns its claims.
type ClaimsVerifier func(ctx context.Context, rawIDToken string) (IDClaims, error)

// OIDCVerifier adapts a go-oidc verifier.
func OIDCVerifier(v *oidc.IDTokenVerifier) ClaimsVerifier {
	return func(ctx context.Context, raw string) (IDClaims, error) {
		tok, err := v.Verify(ctx, raw)
		if err != nil {
			return IDClaims{}, err
		}
		var c IDClaims
		if err := tok.Claims(&c); err != nil {
			return IDClaims{}, err
		}
		if c.Subject == "" {
			c.Subject = tok.Subject
		}
		return c, nil
	}
}

// NewFirebaseVerifier verifies Firebase Authentication ID tokens for projectID
// against Google's published signing keys.
func NewFirebaseVerifier(ctx context.Context, projectID string) ClaimsVerifier {
	keys := oidc.NewRemoteKeySet(ctx, firebaseJWKSURL)
	return OIDCVerifier(oidc.NewVerifier(firebaseIssuerPrefix+projectID, keys, &oidc.Config{ClientID: projectID}))
}

// RemoteAuthProvider authenticates ID tokens issued by the identity provider
// the mobile app signs in with. The token subject is the user id; a user
// document is created the first time a subject is seen.
type RemoteAuthProvider struct {
	verify ClaimsVerifier
	users  storage.UserRepository
	logger internal.Logger
}

func NewRemoteAuthProvider(verify ClaimsVerifier, users storage.UserRepository, logger internal.Logger) *RemoteAuthProvider {
	return &RemoteAuthProvider{verify: verify, users: users, logger: logger}
}

func (a *RemoteAuthProvider) Authenticate(ctx context.Context, token string) (*internal.User, error) {
	claims, err := a.verify(ctx, token)
	if err != nil {
		a.logger.Warnf("auth: id token rejected: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	u, err := a.users.GetUser(ctx, claims.Subject)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, internal.ErrNotFound) {
		return nil, err
	}

	name := claims.Name
	if name == "" {
		name = claims.Email
	}
	u = &internal.User{ID: claims.Subject, Name: name, TrackingSource: internal.SourceDeviceMotion}
	if err := a.users.SaveUser(ctx, u); err != nil {
		return nil, err
	}
	a.logger.Infof("auth: created user document for %s", u.ID)
	return u, nil
}
