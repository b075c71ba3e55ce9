package cache

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCacheFromClient(client), srv
}

func TestNamespace_IsolatesDevices(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	phone := NewNamespace(c, "phone", 0)
	tablet := NewNamespace(c, "tablet", 0)

	require.NoError(t, phone.Set(ctx, KeyUserID, "stu-1"))

	got, err := phone.Get(ctx, KeyUserID)
	require.NoError(t, err)
	assert.Equal(t, "stu-1", got)

	_, err = tablet.Get(ctx, KeyUserID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.True(t, srv.Exists("device:phone:userId"))
}

func TestNamespace_JSONRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	ns := NewNamespace(c, "d1", 0)

	type entry struct {
		Key  string `json:"key"`
		Time int64  `json:"time"`
	}
	require.NoError(t, ns.SetJSON(ctx, KeyChatsCache, []entry{{"a", 1}, {"b", 2}}))

	var out []entry
	require.NoError(t, ns.GetJSON(ctx, KeyChatsCache, &out))
	assert.Equal(t, []entry{{"a", 1}, {"b", 2}}, out)
}

func TestNamespace_HashSkipsCorruptFields(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()
	ns := NewNamespace(c, "d1", 0)

	require.NoError(t, ns.HSetJSON(ctx, KeyDownloads, "ch1", map[string]int{"pages": 3}))
	srv.HSet("device:d1:downloads", "ch2", "{not json")

	seen := map[string]int{}
	err := ns.HGetAllJSON(ctx, KeyDownloads, func(field string, raw []byte) error {
		var v map[string]int
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		seen[field] = v["pages"]
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"ch1": 3}, seen)

	require.NoError(t, ns.HDel(ctx, KeyDownloads, "ch1"))
	require.NoError(t, ns.Delete(ctx, KeyDownloads))
	assert.False(t, srv.Exists("device:d1:downloads"))
}
