// Package session provides storage for the short-lived pseudo-auth
// sessions resolved from a tax ID.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Identity is the record resolved for a tax ID by the identity collaborator.
type Identity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Unit  string `json:"unit"`
}

// Session is what the store persists per token. A session is valid iff
// now < ExpiresAt; it is never renewed automatically.
type Session struct {
	Subject   string    `json:"subject"`
	Role      string    `json:"role"`
	Identity  Identity  `json:"identity"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s Session) Expired(now time.Time) bool {
	return s.ExpiresAt.IsZero() || !now.Before(s.ExpiresAt)
}

// RedisStore keeps sessions in Redis with a TTL matching the session's
// remaining lifetime, so an expired session disappears wholesale.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "sess:",
	}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + token
}

// Save persists the session under the token until it expires.
func (s *RedisStore) Save(ctx context.Context, token string, sess Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("save session: already expired")
	}

	jsonData, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := s.client.Set(ctx, s.key(token), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Lookup returns the session for the token. An absent or expired session
// reports ok=false with no error; reading an expired record clears it.
func (s *RedisStore) Lookup(ctx context.Context, token string) (Session, bool, error) {
	jsonData, err := s.client.Get(ctx, s.key(token)).Result()
	if err == redis.Nil {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("lookup session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(jsonData), &sess); err != nil {
		return Session{}, false, fmt.Errorf("unmarshal session: %w", err)
	}

	// The TTL normally handles this; the payload check covers clock
	// drift and records written without a deadline.
	if sess.Expired(time.Now()) {
		_ = s.client.Del(ctx, s.key(token)).Err()
		return Session{}, false, nil
	}

	return sess, true, nil
}

// Clear removes the session unconditionally; clearing a missing session
// is not an error.
func (s *RedisStore) Clear(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
