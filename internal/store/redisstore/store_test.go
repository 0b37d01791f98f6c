package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/VINIA6/CHATAI/internal/auth"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("CHATAI_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHATAI_TEST_REDIS_ADDR not set")
	}
	rdb, err := NewClient(context.Background(), Options{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "test-"+t.Name())
}

func TestRoundTripWithTTL(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	t.Cleanup(func() { _ = s.Delete(ctx) })

	_, err := s.Load(ctx)
	require.ErrorIs(t, err, auth.ErrNoSession)

	exp := time.Now().Add(time.Hour).Truncate(time.Second).UTC()
	require.NoError(t, s.Save(ctx, &auth.Session{Token: "tok", ExpiresAt: exp, User: auth.User{Email: "a@b.co"}}))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "tok", got.Token)
	require.True(t, exp.Equal(got.ExpiresAt))

	ttl, err := s.rdb.TTL(ctx, s.key()).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, 59*time.Minute)
}

func TestSaveExpiredDeletes(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &auth.Session{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, s.Save(ctx, &auth.Session{Token: "old", ExpiresAt: time.Now().Add(-time.Second)}))

	_, err := s.Load(ctx)
	require.ErrorIs(t, err, auth.ErrNoSession)
}
