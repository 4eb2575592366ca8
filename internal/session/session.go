package session

import (
	"context"
	"time"

	"github.com/robertarktes/busticket/internal/domain"
)

// Session is the logged-in user's state. It is created by Manager.Login and
// destroyed by Manager.Logout; everything that needs the user or the backend
// credential receives it explicitly.
type Session struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Token     string         `json:"token"`
	Roles     []domain.Role  `json:"roles"`
	Profile   domain.Profile `json:"profile"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

func (s *Session) HasRole(role domain.Role) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type ctxKey struct{}

func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}
