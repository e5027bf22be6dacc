package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/c-pro/geche"
	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultTokenExpiry = 12 * time.Hour
	DefaultCacheTTL    = 10 * time.Minute

	TokenCookie = "token"
	TokenQuery  = "token"
)

var (
	ErrNoToken      = errors.New("no token provided")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the identity carried by an access token.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret      string        `json:"secret"`
	secretBytes []byte        `json:"-"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
	CacheTTL    time.Duration `json:"cacheTTL"`
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}
	c.secretBytes = []byte(c.Secret)

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	return nil
}

// AuthService verifies HS256 access tokens. Verified tokens are remembered
// for CacheTTL.
type AuthService struct {
	Config
	verified geche.Geche[string, Claims]
	now      func() time.Time
}

func NewAuthService(ctx context.Context, config Config) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &AuthService{
		Config:   config,
		verified: geche.NewMapTTLCache[string, Claims](ctx, config.CacheTTL, time.Minute),
		now:      time.Now,
	}, nil
}

// Issue signs a token for the given identity. Used by tooling and tests;
// end users obtain tokens from the platform's login service.
func (as *AuthService) Issue(userID, email, role string) (string, error) {
	now := as.now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(as.TokenExpiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(as.secretBytes)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify validates the token and returns its claims.
func (as *AuthService) Verify(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrNoToken
	}

	if claims, err := as.verified.Get(token); err == nil {
		if claims.ExpiresAt == nil || as.now().Before(claims.ExpiresAt.Time) {
			return claims, nil
		}
		_ = as.verified.Del(token)
		return Claims{}, fmt.Errorf("%w: token expired", ErrInvalidToken)
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return as.secretBytes, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(as.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.UserID == "" {
		return Claims{}, ErrInvalidToken
	}

	as.verified.Set(token, claims)
	return claims, nil
}

// Authenticate extracts the token from the request and verifies it. The
// token is looked up in the Authorization header, the token query parameter
// and the token cookie, in that order.
func (as *AuthService) Authenticate(r *http.Request) (Claims, error) {
	claims, err := as.Verify(TokenFromRequest(r))
	if err != nil {
		slog.Debug("authentication failed", "path", r.URL.Path, "error", err)
		return Claims{}, err
	}
	return claims, nil
}

func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if token := r.URL.Query().Get(TokenQuery); token != "" {
		return token
	}
	if cookie, err := r.Cookie(TokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}

type ctxKey struct{}

func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, claims)
}

func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(ctxKey{}).(Claims)
	return claims, ok
}

// Middleware rejects requests without a valid token and stores the claims
// in the request context.
func (as *AuthService) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := as.Authenticate(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}
