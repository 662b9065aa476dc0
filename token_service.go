package provision

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// SessionClaims is the JWT payload minted after a successful login.
type SessionClaims struct {
	jwt.RegisteredClaims
	UID         string      `json:"uid"`
	Role        ProfileRole `json:"role"`
	AccountCode string      `json:"account_code,omitempty"`
}

// TokenService signs and validates session tokens.
type TokenService interface {
	Generate(profile *Profile) (string, error)
	Validate(raw string) (*SessionClaims, error)
}

type tokenService struct {
	signingKey      []byte
	tokenExpiration int
	issuer          string
	audience        jwt.ClaimStrings
	logger          Logger
}

// NewTokenService creates a TokenService from the shared Config.
func NewTokenService(cfg Config, logger Logger) TokenService {
	if logger == nil {
		logger = defLogger{}
	}
	return &tokenService{
		signingKey:      []byte(cfg.GetSigningKey()),
		tokenExpiration: cfg.GetTokenExpiration(),
		issuer:          cfg.GetIssuer(),
		audience:        cfg.GetAudience(),
		logger:          logger,
	}
}

func (ts *tokenService) Generate(profile *Profile) (string, error) {
	if profile == nil {
		return "", goerrors.New("profile must not be nil", goerrors.CategoryInternal)
	}

	now := time.Now()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   profile.ID.String(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ts.tokenExpiration) * time.Hour)),
		},
		UID:         profile.ID.String(),
		Role:        profile.Role,
		AccountCode: profile.AccountCode,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign session token")
	}

	return signed, nil
}

func (ts *tokenService) Validate(raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}

	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, goerrors.New("unexpected signing method", goerrors.CategoryAuth)
		}
		return ts.signingKey, nil
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "invalid session token")
	}

	if !token.Valid {
		return nil, goerrors.New("invalid session token", goerrors.CategoryAuth)
	}

	return claims, nil
}
