// Package hookauth guards the hook HTTP surface. When DISCODE_HOOK_TOKEN is
// configured, every POST must carry a matching "Authorization: Bearer ..."
// header. A second, internal check layers on top of that: when
// Router dispatches into /runtime/* on behalf of a user turn it attaches a
// short-lived signed service token, so the runtime control surface can tell
// "this call originated from our own Router" apart from "this call came
// straight off the loopback hook POST" without standing up a second
// authentication system.
package hookauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingHeader = errors.New("hookauth: missing or malformed authorization header")
	ErrTokenMismatch = errors.New("hookauth: bearer token mismatch")
	ErrInvalidToken  = errors.New("hookauth: invalid service token")
)

// Middleware enforces the shared bearer token on incoming hook POSTs.
// A zero-value token disables the check entirely: the bearer check is
// only enforced when DISCODE_HOOK_TOKEN is set.
type Middleware struct {
	token  string
	logger *slog.Logger
}

// New creates a Middleware. token may be empty to disable auth.
func New(token string, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{token: token, logger: logger}
}

// Enabled reports whether a bearer token is configured.
func (m *Middleware) Enabled() bool {
	return m.token != ""
}

// Wrap enforces the bearer check on next. Safe to call even when disabled.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if !m.Enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only mutating calls are guarded; the read-only GET surface
		// stays open on loopback.
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		if err := m.checkBearer(r.Header.Get("Authorization")); err != nil {
			m.logger.Warn("hook auth rejected request", "path", r.URL.Path, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) checkBearer(header string) error {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ErrMissingHeader
	}
	presented := strings.TrimPrefix(header, prefix)

	if subtle.ConstantTimeCompare([]byte(presented), []byte(m.token)) != 1 {
		return ErrTokenMismatch
	}
	return nil
}

// ServiceClaims identifies a Router-originated internal call into
// /runtime/*.
type ServiceClaims struct {
	jwt.RegisteredClaims
	ChannelID string `json:"channel_id"`
}

// ServiceSigner mints and verifies the short-lived internal service token
// Router attaches to its own /runtime/* calls.
type ServiceSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewServiceSigner creates a signer. ttl defaults to 30s if zero.
func NewServiceSigner(secret []byte, ttl time.Duration) *ServiceSigner {
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return &ServiceSigner{secret: secret, ttl: ttl}
}

// Sign mints a token scoped to channelID, valid for the signer's TTL.
func (s *ServiceSigner) Sign(channelID string) (string, error) {
	now := time.Now()
	claims := ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "discode-router",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		ChannelID: channelID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify validates a token minted by Sign and returns the channel it was
// scoped to.
func (s *ServiceSigner) Verify(ctx context.Context, tokenString string) (string, error) {
	claims := &ServiceClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, t.Method)
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.ChannelID, nil
}
