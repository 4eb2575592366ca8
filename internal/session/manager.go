package session

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/observability"
)

type Store interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// LoginResult is what the backend answers to a successful sign-in.
type LoginResult struct {
	Token  string
	UserID string
	Roles  []domain.Role
}

type Authenticator interface {
	Login(ctx context.Context, creds domain.Credentials) (LoginResult, error)
	Logout(ctx context.Context) error
}

type ProfileFetcher interface {
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
}

type Manager struct {
	auth     Authenticator
	profiles ProfileFetcher
	store    Store
	ttl      time.Duration
	logger   observability.Logger
	now      func() time.Time
}

func NewManager(auth Authenticator, profiles ProfileFetcher, store Store, ttl time.Duration, logger observability.Logger) *Manager {
	return &Manager{
		auth:     auth,
		profiles: profiles,
		store:    store,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

func (m *Manager) Login(ctx context.Context, creds domain.Credentials) (*Session, error) {
	res, err := m.auth.Login(ctx, creds)
	if err != nil {
		return nil, errors.Wrap(err, "login")
	}

	roles := knownRoles(res.Roles)
	if len(roles) == 0 {
		return nil, errors.Wrapf(domain.ErrForbidden, "user %s has no usable role", res.UserID)
	}

	now := m.now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		UserID:    res.UserID,
		Token:     res.Token,
		Roles:     roles,
		CreatedAt: now,
		ExpiresAt: m.expiry(res.Token, now),
	}

	if err := m.RefreshProfile(ctx, s); err != nil {
		// the profile is cosmetic; a session without one is still usable
		m.logger.WithField("user_id", s.UserID).Warn("failed to fetch profile: ", err)
	}

	if err := m.store.Save(ctx, s); err != nil {
		return nil, errors.Wrap(err, "save session")
	}
	m.logger.WithField("user_id", s.UserID).Info("session created")
	return s, nil
}

// Logout ends the session locally even when the backend call fails.
func (m *Manager) Logout(ctx context.Context, id string) error {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := m.auth.Logout(NewContext(ctx, s)); err != nil {
		m.logger.WithField("user_id", s.UserID).Warn("backend logout failed: ", err)
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete session")
	}
	m.logger.WithField("user_id", s.UserID).Info("session destroyed")
	return nil
}

// Resolve loads a live session by id.
func (m *Manager) Resolve(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, domain.ErrUnauthorized
	}
	s, err := m.store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if s.Expired(m.now()) {
		_ = m.store.Delete(ctx, id)
		return nil, errors.Wrap(domain.ErrUnauthorized, "session expired")
	}
	return s, nil
}

func (m *Manager) RefreshProfile(ctx context.Context, s *Session) error {
	p, err := m.profiles.GetProfile(NewContext(ctx, s), s.UserID)
	if err != nil {
		return err
	}
	s.Profile = p
	return nil
}

// Save persists changes made to a live session, e.g. a refreshed profile.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	return m.store.Save(ctx, s)
}

// expiry prefers the backend token's own exp claim. The signature is not
// checked here; the backend verifies its tokens on every call.
func (m *Manager) expiry(token string, now time.Time) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return now.Add(m.ttl)
}

func knownRoles(in []domain.Role) []domain.Role {
	var out []domain.Role
	for _, r := range in {
		if r == domain.RolePassenger || r == domain.RoleDriver {
			out = append(out, r)
		}
	}
	return out
}
