package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskmate/internal/models"
)

const defaultTokenTTL = 24 * time.Hour

// Issuer signs and verifies HS256 bearer tokens whose subject is the user's
// email.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Issuer{secret: secret, ttl: ttl, now: time.Now}
}

func (i *Issuer) Issue(user models.UserProfile) (string, error) {
	now := i.now()
	claims := jwt.MapClaims{
		"sub":  user.Email,
		"role": string(user.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(i.ttl).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Subject verifies the signature and expiry and returns the email subject.
func (i *Issuer) Subject(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return "", err
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

type ctxKey struct{}

func currentUser(r *http.Request) (models.UserProfile, bool) {
	u, ok := r.Context().Value(ctxKey{}).(models.UserProfile)
	return u, ok
}

// requireAuth resolves the bearer token to a stored user. With roles set, the
// user must hold one of them.
func (s *Server) requireAuth(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearer(r)
			if token == "" {
				writeError(w, errUnauthorized("Missing bearer token"))
				return
			}
			email, err := s.issuer.Subject(token)
			if err != nil {
				s.log.WithError(err).Debug("rejected token")
				writeError(w, errUnauthorized("Invalid or expired token"))
				return
			}
			user, err := s.store.UserByEmail(email)
			if err != nil {
				writeError(w, errUnauthorized("Unknown token subject"))
				return
			}
			if len(roles) > 0 && !hasRole(user.Role, roles) {
				writeError(w, errForbidden("Access denied"))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
		})
	}
}

func hasRole(r models.Role, roles []models.Role) bool {
	for _, want := range roles {
		if r == want {
			return true
		}
	}
	return false
}
