package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/session"
)

// SessionStore keeps sessions as JSON until they expire.
type SessionStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client, now: time.Now}
}

func (s *SessionStore) Save(ctx context.Context, sess *session.Session) error {
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.Wrapf(domain.ErrUnauthorized, "session %s already expired", sess.ID)
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	return errors.Wrap(s.client.Set(ctx, sessionKey(sess.ID), data, ttl).Err(), "save session")
}

func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	val, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get session")
	}
	var sess session.Session
	if err := json.Unmarshal(val, &sess); err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	return &sess, nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return errors.Wrap(s.client.Del(ctx, sessionKey(id)).Err(), "delete session")
}

func sessionKey(id string) string {
	return "session:" + id
}
