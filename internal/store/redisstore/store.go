// Package redisstore keeps the login session in Redis with a TTL that ends
// when the session expires.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/VINIA6/CHATAI/internal/auth"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "chatai:session:"

type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects and pings Redis.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// Store is an auth.Store for one profile.
type Store struct {
	rdb     *redis.Client
	profile string
	now     func() time.Time
}

var _ auth.Store = (*Store)(nil)

func New(rdb *redis.Client, profile string) *Store {
	return &Store{rdb: rdb, profile: profile, now: time.Now}
}

func (s *Store) key() string { return keyPrefix + s.profile }

func (s *Store) Load(ctx context.Context) (*auth.Session, error) {
	raw, err := s.rdb.Get(ctx, s.key()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, auth.ErrNoSession
		}
		return nil, err
	}
	var sess auth.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// Save stores s until it expires. An already expired session is removed.
func (s *Store) Save(ctx context.Context, sess *auth.Session) error {
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return s.Delete(ctx)
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(), raw, ttl).Err()
}

func (s *Store) Delete(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key()).Err()
}
