package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// TokenValidator checks a parsed access token and extracts the employee behind it.
type TokenValidator struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Algorithm jwa.SignatureAlgorithm
}

// Validate runs the registered-claim checks at now, then requires an employee UUID
// subject and a known till role.
func (v TokenValidator) Validate(tok jwt.Token, algorithm jwa.SignatureAlgorithm, now time.Time) (Identity, error) {
	if tok == nil {
		return Identity{}, errors.New("auth: token is nil")
	}
	if v.Algorithm != "" && algorithm != v.Algorithm {
		return Identity{}, fmt.Errorf("auth: unexpected token algorithm %q", algorithm)
	}

	options := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithAcceptableSkew(v.ClockSkew),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
	}
	if v.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		options = append(options, jwt.WithAudience(v.Audience))
	}
	if err := jwt.Validate(tok, options...); err != nil {
		return Identity{}, err
	}

	if _, err := uuid.Parse(tok.Subject()); err != nil {
		return Identity{}, fmt.Errorf("auth: subject is not an employee id: %w", err)
	}
	raw, _ := tok.Get(roleClaim)
	role, _ := raw.(string)
	switch role {
	case RoleCashier, RoleManager:
	default:
		return Identity{}, fmt.Errorf("auth: unknown role claim %q", role)
	}
	return Identity{UserID: tok.Subject(), Role: role}, nil
}
