package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-kasir/internal/common"
)

const (
	defaultAccessTTL = 12 * time.Hour
	roleClaim        = "role"
)

// Employee roles.
const (
	RoleCashier = "cashier"
	RoleManager = "manager"
)

// ErrEmployeeNotFound is returned by stores when no employee matches.
var ErrEmployeeNotFound = errors.New("employee not found")

// Employee is a till operator. PINHash never leaves the package.
type Employee struct {
	ID      uuid.UUID `json:"id"`
	Code    string    `json:"code"`
	Name    string    `json:"name"`
	Role    string    `json:"role"`
	Active  bool      `json:"active"`
	PINHash string    `json:"-"`
}

// Identity is what a verified access token asserts.
type Identity struct {
	UserID string
	Role   string
}

// Store loads employees.
type Store interface {
	EmployeeByCode(ctx context.Context, code string) (Employee, error)
	EmployeeByID(ctx context.Context, id uuid.UUID) (Employee, error)
}

// Config configures the auth service.
type Config struct {
	Store          Store
	Secret         string
	AccessTokenTTL time.Duration
	Issuer         string
	Audience       string
	ClockSkew      time.Duration
}

// LoginResult bundles the token issued after a successful login.
type LoginResult struct {
	Employee     Employee  `json:"employee"`
	AccessToken  string    `json:"access_token"`
	AccessExpiry time.Time `json:"access_token_expires_at"`
}

// Service verifies cashier PINs and issues access tokens.
type Service struct {
	store     Store
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
	signer    jwa.SignatureAlgorithm
	validator TokenValidator
	issuer    string
	audience  string
	clockSkew time.Duration
}

// NewService constructs a Service instance with sane defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("auth: store is required")
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "backend-kasir"
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = "kasir-pos"
	}
	clockSkew := cfg.ClockSkew
	if clockSkew < 0 {
		clockSkew = 0
	}
	return &Service{
		store:     cfg.Store,
		secret:    []byte(secret),
		accessTTL: accessTTL,
		now:       time.Now,
		signer:    jwa.HS256,
		validator: TokenValidator{
			Issuer:    issuer,
			Audience:  audience,
			ClockSkew: clockSkew,
			Algorithm: jwa.HS256,
		},
		issuer:    issuer,
		audience:  audience,
		clockSkew: clockSkew,
	}, nil
}

// WithNow allows tests to override the time provider.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func invalidCredentials() error {
	return common.NewAppError("INVALID_CREDENTIALS", "invalid employee code or pin", http.StatusUnauthorized, nil)
}

// Login verifies the employee's PIN and issues an access token carrying the role.
func (s *Service) Login(ctx context.Context, code, pin string) (LoginResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || pin == "" {
		return LoginResult{}, invalidCredentials()
	}
	emp, err := s.store.EmployeeByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrEmployeeNotFound) {
			return LoginResult{}, invalidCredentials()
		}
		return LoginResult{}, fmt.Errorf("load employee: %w", err)
	}
	ok, err := argon2id.ComparePasswordAndHash(pin, emp.PINHash)
	if err != nil || !ok || !emp.Active {
		return LoginResult{}, invalidCredentials()
	}
	token, expiresAt, err := s.signAccessToken(emp.ID.String(), emp.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("sign access token: %w", err)
	}
	return LoginResult{Employee: emp, AccessToken: token, AccessExpiry: expiresAt}, nil
}

// Me returns the employee behind an authenticated request.
func (s *Service) Me(ctx context.Context, userID string) (Employee, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return Employee{}, common.NewAppError("UNAUTHORIZED", "invalid token subject", http.StatusUnauthorized, err)
	}
	emp, err := s.store.EmployeeByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrEmployeeNotFound) {
			return Employee{}, common.NewAppError("NOT_FOUND", "employee not found", http.StatusNotFound, err)
		}
		return Employee{}, err
	}
	return emp, nil
}

// HashPIN returns the argon2id hash stored in employees.pin_hash.
func HashPIN(pin string) (string, error) {
	if len(pin) < 4 {
		return "", errors.New("auth: pin must be at least 4 characters")
	}
	return argon2id.CreateHash(pin, argon2id.DefaultParams)
}

// ParseAccessToken validates the token and returns the identity it carries.
func (s *Service) ParseAccessToken(token string) (Identity, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Identity{}, common.NewAppError("UNAUTHORIZED", "missing token", http.StatusUnauthorized, nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return Identity{}, common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
	}
	if s.validator.Algorithm != "" && algorithm != s.validator.Algorithm {
		return Identity{}, common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, s.secret), jwt.WithValidate(false))
	if err != nil {
		return Identity{}, common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
	}
	id, err := s.validator.Validate(parsed, algorithm, s.now())
	if err != nil {
		return Identity{}, common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
	}
	return id, nil
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) != 1 {
		return "", errors.New("auth: expected exactly one signature")
	}
	headers := signatures[0].ProtectedHeaders()
	if headers == nil {
		return "", errors.New("auth: token missing protected headers")
	}
	alg := headers.Algorithm()
	switch alg {
	case "":
		return "", errors.New("auth: token missing algorithm")
	case jwa.NoSignature:
		return "", errors.New("auth: token uses none algorithm")
	}
	return alg, nil
}

func (s *Service) signAccessToken(userID, role string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.accessTTL)
	token, err := jwt.NewBuilder().
		Subject(userID).
		Issuer(s.issuer).
		Audience([]string{s.audience}).
		IssuedAt(now).
		NotBefore(now.Add(-s.clockSkew)).
		Expiration(expiresAt).
		Claim(roleClaim, role).
		Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(s.signer, s.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}
