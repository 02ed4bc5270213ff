package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docchat/internal/config"
	"github.com/xxxsen/docchat/internal/model"
)

func TestHistoryCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := NewRedisClient(config.RedisConfig{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	c := NewHistoryCache(client, time.Minute)
	sid := uuid.NewString()
	_, ok, err := c.Get(ctx, sid)
	require.NoError(t, err)
	require.False(t, ok)

	msgs := []model.Message{
		{ID: "1", SessionID: sid, Role: model.RoleUser, Content: "q", Ctime: 1},
		{ID: "2", SessionID: sid, Role: model.RoleAI, Content: "a", Ctime: 2},
	}
	require.NoError(t, c.Set(ctx, sid, msgs))
	got, ok, err := c.Get(ctx, sid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, msgs, got)

	require.NoError(t, c.Invalidate(ctx, sid))
	_, ok, err = c.Get(ctx, sid)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHistoryKey(t *testing.T) {
	require.Equal(t, "docchat:history:abc", historyKey("abc"))
}
