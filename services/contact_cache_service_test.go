package services

import (
	"context"
	"testing"
	"time"

	"github.com/sahilchouksey/school-connect/model"
	"github.com/sahilchouksey/school-connect/utils/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeContacts_NewerSideSuppliesMessageFields(t *testing.T) {
	cases := []struct {
		name       string
		cachedTime int64
		serverTime int64
		wantText   string
	}{
		{"cache ahead", 200, 100, "cached"},
		{"server ahead", 100, 200, "server"},
		{"tie keeps server", 150, 150, "server"},
		{"never messaged on server", 50, 0, "cached"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cached := []model.Contact{{Key: "k", Name: "Old", LastMessageText: "cached", LastMessageTime: tc.cachedTime, LastSenderID: "c", UnreadCount: 7}}
			server := []model.Contact{{Key: "k", Name: "New", LastMessageText: "server", LastMessageTime: tc.serverTime, LastSenderID: "s", UnreadCount: 1}}

			merged := MergeContacts(cached, server)
			require.Len(t, merged, 1)

			newest := tc.cachedTime
			if tc.serverTime > newest {
				newest = tc.serverTime
			}
			assert.Equal(t, newest, merged[0].LastMessageTime)
			assert.Equal(t, tc.wantText, merged[0].LastMessageText)
			assert.Equal(t, "New", merged[0].Name)
			if tc.wantText == "cached" {
				assert.Equal(t, "c", merged[0].LastSenderID)
				assert.Equal(t, 7, merged[0].UnreadCount)
			} else {
				assert.Equal(t, "s", merged[0].LastSenderID)
				assert.Equal(t, 1, merged[0].UnreadCount)
			}
		})
	}
}

func TestMergeContacts_ProfileFallsBackToCache(t *testing.T) {
	cached := []model.Contact{
		{Key: "a", Name: "Meera", ProfileImage: "a.png"},
		{Key: "b", Name: "Rohan", ProfileImage: "b.png"},
	}
	server := []model.Contact{
		{Key: "a", Name: "", ProfileImage: ""},
		{Key: "b", Name: PlaceholderName, ProfileImage: "b2.png"},
	}

	merged := MergeContacts(cached, server)
	require.Len(t, merged, 2)
	assert.Equal(t, "Meera", merged[0].Name)
	assert.Equal(t, "a.png", merged[0].ProfileImage)
	assert.Equal(t, "Rohan", merged[1].Name)
	assert.Equal(t, "b2.png", merged[1].ProfileImage)
}

func TestMergeContacts_UnmatchedCacheAppendedAndKeysUnique(t *testing.T) {
	cached := []model.Contact{
		{Key: "gone", Name: "Former teacher", LastMessageTime: 10},
		{Key: "a", Name: "A"},
		{Key: "gone", Name: "dup"},
	}
	server := []model.Contact{
		{Key: "b", Name: "B"},
		{Key: "a", Name: "A2"},
		{Key: "b", Name: "B dup"},
	}

	merged := MergeContacts(cached, server)
	assert.Equal(t, []string{"a", "b", "gone"}, contactKeys(merged))
	assert.Equal(t, "B", merged[1].Name)
	assert.Equal(t, "Former teacher", merged[2].Name)
}

func TestMergeContacts_ResortsWhenCacheIsNewer(t *testing.T) {
	// The device saw a newer message from x than the server reports
	cached := []model.Contact{{Key: "x", Name: "Xavier", UnreadCount: 3, LastMessageTime: 900, LastMessageText: "new"}}
	server := []model.Contact{
		{Key: "y", Name: "Yara", UnreadCount: 1, LastMessageTime: 500},
		{Key: "x", Name: "Xavier", UnreadCount: 0, LastMessageTime: 100},
	}

	merged := MergeContacts(cached, server)
	assert.Equal(t, []string{"x", "y"}, contactKeys(merged))
	assert.Equal(t, 3, merged[0].UnreadCount)
	assert.Equal(t, "new", merged[0].LastMessageText)
}

func TestMergeContacts_CacheOnlyEntriesStayLast(t *testing.T) {
	cached := []model.Contact{{Key: "gone", Name: "Former teacher", UnreadCount: 9, LastMessageTime: 1000}}
	server := []model.Contact{
		{Key: "b", Name: "bela", LastMessageTime: 10},
		{Key: "a", Name: "Arjun", LastMessageTime: 10},
	}

	merged := MergeContacts(cached, server)
	assert.Equal(t, []string{"a", "b", "gone"}, contactKeys(merged))
}

func TestMergeAndPersist_RoundTrip(t *testing.T) {
	ctx := context.Background()
	device := newTestDevice(t)
	svc := NewContactCacheService(device)
	fixed := time.UnixMilli(1_700_000_000_000)
	svc.now = func() time.Time { return fixed }

	snap, err := svc.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Contacts)

	first, err := svc.MergeAndPersist(ctx, []model.Contact{{Key: "a", Name: "A", LastMessageTime: 500, LastMessageText: "sent just now"}})
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Server has not caught up with the send yet
	second, err := svc.MergeAndPersist(ctx, []model.Contact{{Key: "a", Name: "A", LastMessageTime: 400, LastMessageText: "older"}})
	require.NoError(t, err)
	assert.Equal(t, "sent just now", second[0].LastMessageText)

	snap, err = svc.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, snap.Contacts)
	assert.Equal(t, fixed.UnixMilli(), snap.FetchedAt.UnixMilli())
}

func TestLoad_CorruptCacheIsEmpty(t *testing.T) {
	ctx := context.Background()
	device := newTestDevice(t)
	require.NoError(t, device.Set(ctx, cache.KeyChatsCache, "{broken"))

	snap, err := NewContactCacheService(device).Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Contacts)
}
