package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"taskmate/internal/files"
	"taskmate/internal/models"
	"taskmate/internal/utils"
)

var (
	// ErrNoSession is returned when there is no usable session.
	ErrNoSession = errors.New("no session")
	// ErrStaleSession is returned when the session changed while a call was
	// in flight and its result was discarded.
	ErrStaleSession = errors.New("session changed while request was in flight")
	// ErrTokenExpired is returned by Restore for a stored token past its exp.
	ErrTokenExpired = errors.New("stored token expired")
)

// Authenticator is the part of the gateway the store drives.
type Authenticator interface {
	Authenticate(ctx context.Context, creds models.Credentials) (string, error)
	Register(ctx context.Context, role models.Role, reg models.Registration) (string, error)
	FetchProfile(ctx context.Context, email string) (models.UserProfile, error)
}

// Session is an immutable snapshot of the store.
type Session struct {
	Token      string
	User       *models.UserProfile
	Generation uint64
}

func (s Session) Active() bool { return s.Token != "" }

// Hydrated reports whether the profile is known, which role-scoped views need.
func (s Session) Hydrated() bool { return s.Token != "" && s.User != nil }

// Store owns the current token and profile. A non-nil user always implies a
// non-empty token.
type Store struct {
	api    Authenticator
	tokens files.TokenStore
	log    *logrus.Entry
	now    func() time.Time

	mu       sync.RWMutex
	token    string
	user     *models.UserProfile
	gen      uint64
	onLogout []func()
}

type Option func(*Store)

func WithLogger(log *logrus.Entry) Option {
	return func(s *Store) { s.log = log }
}

// WithClock replaces time.Now for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(api Authenticator, tokens files.TokenStore, opts ...Option) *Store {
	s := &Store{
		api:    api,
		tokens: tokens,
		log:    logrus.NewEntry(utils.NewDiscardLogger()),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Token implements gateway.TokenSource.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Store) User() (models.UserProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return models.UserProfile{}, false
	}
	return *s.user, true
}

func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Session{Token: s.token, Generation: s.gen}
	if s.user != nil {
		u := *s.user
		out.User = &u
	}
	return out
}

func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// IsCurrent reports whether gen is still the active session generation.
// Completion handlers call it before applying a result.
func (s *Store) IsCurrent(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen == gen && s.token != ""
}

// OnLogout registers fn to run synchronously on every logout.
func (s *Store) OnLogout(fn func()) {
	s.mu.Lock()
	s.onLogout = append(s.onLogout, fn)
	s.mu.Unlock()
}

// Login authenticates, stores the token durably and hydrates the profile.
func (s *Store) Login(ctx context.Context, creds models.Credentials) (Session, error) {
	token, err := s.api.Authenticate(ctx, creds)
	if err != nil {
		return Session{}, err
	}
	return s.establish(ctx, token, creds.Email)
}

// Register creates the account and signs in with the returned token.
func (s *Store) Register(ctx context.Context, role models.Role, reg models.Registration) (Session, error) {
	token, err := s.api.Register(ctx, role, reg)
	if err != nil {
		return Session{}, err
	}
	return s.establish(ctx, token, reg.Email)
}

// Restore resumes a session from the durable token. The profile is hydrated
// before returning; any failure clears the session.
func (s *Store) Restore(ctx context.Context) (Session, error) {
	token, err := s.tokens.Load()
	if err != nil {
		if !errors.Is(err, files.ErrNoToken) {
			s.log.WithError(err).Warn("stored token unreadable, discarding")
			_ = s.tokens.Clear()
		}
		return Session{}, ErrNoSession
	}
	email, err := s.subjectOf(token)
	if err != nil {
		s.log.WithError(err).Info("stored token unusable, discarding")
		_ = s.tokens.Clear()
		return Session{}, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	sess, err := s.establish(ctx, token, email)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	return sess, nil
}

// Hydrate fetches the profile for email with the current token.
func (s *Store) Hydrate(ctx context.Context, email string) (models.UserProfile, error) {
	gen := s.Generation()
	if s.Token() == "" {
		return models.UserProfile{}, ErrNoSession
	}
	profile, err := s.api.FetchProfile(ctx, email)
	if err != nil {
		return models.UserProfile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.token == "" {
		return models.UserProfile{}, ErrStaleSession
	}
	s.user = &profile
	return profile, nil
}

// Logout clears the durable token and the profile and runs the logout hooks.
// It always succeeds and is idempotent.
func (s *Store) Logout() {
	s.mu.Lock()
	wasActive := s.token != ""
	s.token = ""
	s.user = nil
	s.gen++
	hooks := append([]func(){}, s.onLogout...)
	s.mu.Unlock()

	if err := s.tokens.Clear(); err != nil {
		s.log.WithError(err).Warn("failed to clear stored token")
	}
	for _, fn := range hooks {
		fn()
	}
	if wasActive {
		s.log.Info("logged out")
	}
}

// establish installs token as a new session generation and hydrates it.
// Hydration failure is treated as no session.
func (s *Store) establish(ctx context.Context, token, email string) (Session, error) {
	s.mu.Lock()
	s.token = token
	s.user = nil
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	if err := s.tokens.Save(token); err != nil {
		s.log.WithError(err).Warn("failed to persist token")
	}

	if _, err := s.Hydrate(ctx, email); err != nil {
		if !errors.Is(err, ErrStaleSession) {
			s.dropIfCurrent(gen)
		}
		return Session{}, err
	}
	snap := s.Snapshot()
	if snap.Generation != gen {
		return Session{}, ErrStaleSession
	}
	s.log.WithFields(logrus.Fields{
		"user_id": snap.User.ID,
		"role":    snap.User.Role,
	}).Info("session established")
	return snap, nil
}

func (s *Store) dropIfCurrent(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.token = ""
	s.user = nil
	s.gen++
	s.mu.Unlock()
	_ = s.tokens.Clear()
}

// subjectOf reads the email subject of a stored token without verifying it;
// the backend verifies the token on every call.
func (s *Store) subjectOf(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && !exp.After(s.now()) {
		return "", ErrTokenExpired
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}
