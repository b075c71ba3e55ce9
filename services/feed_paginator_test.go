package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sahilchouksey/school-connect/database"
	"github.com/sahilchouksey/school-connect/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var feedEpoch = time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)

// seedPosts writes n posts one minute apart; post-n is the newest
func seedPosts(t *testing.T, store database.DocumentStore, n int) {
	t.Helper()
	records := make([]interface{}, 0, n)
	for i := 1; i <= n; i++ {
		records = append(records, &model.Post{
			PostID:  fmt.Sprintf("post-%02d", i),
			AdminID: "a1",
			Time:    model.FormatPostTime(feedEpoch.Add(time.Duration(i) * time.Minute)),
			Message: fmt.Sprintf("notice %d", i),
		})
	}
	upsert(t, store, records...)
}

func newTestPaginator(t *testing.T, viewer string, posts int) (*FeedPaginator, *database.MemoryStore, *opCounter) {
	t.Helper()
	store, hub, ops := newTestStore(t)
	seedPosts(t, store, posts)

	p := NewFeedPaginator(store, hub, viewer, 20)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Close)
	return p, store, ops
}

func postIDs(views []PostView) []string {
	ids := make([]string, 0, len(views))
	for _, v := range views {
		ids = append(ids, v.PostID)
	}
	return ids
}

func assertDisjoint(t *testing.T, snap FeedSnapshot) {
	t.Helper()
	seen := map[string]bool{}
	for _, id := range append(postIDs(snap.Latest), postIDs(snap.Older)...) {
		assert.False(t, seen[id], "post %s listed twice", id)
		seen[id] = true
	}
}

func TestFeedPaginator_PagesThroughHistory(t *testing.T) {
	p, _, _ := newTestPaginator(t, "stu", 45)
	ctx := context.Background()

	snap := p.Snapshot()
	require.Len(t, snap.Latest, 20)
	assert.Equal(t, "post-45", snap.Latest[0].PostID)
	assert.Equal(t, "post-26", snap.Latest[19].PostID)
	assert.True(t, snap.HasMore)

	require.NoError(t, p.LoadMore(ctx))
	snap = p.Snapshot()
	require.Len(t, snap.Older, 20)
	assert.Equal(t, "post-25", snap.Older[0].PostID)
	assert.Equal(t, "post-06", snap.Older[19].PostID)
	assert.True(t, snap.HasMore)

	require.NoError(t, p.LoadMore(ctx))
	snap = p.Snapshot()
	assert.Len(t, snap.Older, 25)
	assert.Equal(t, "post-01", snap.Older[24].PostID)
	assert.False(t, snap.HasMore)
	assertDisjoint(t, snap)
}

func TestFeedPaginator_PagesThroughSharedTimestamps(t *testing.T) {
	store, hub, _ := newTestStore(t)
	// A bulk import stamped every notice with the same minute
	records := make([]interface{}, 0, 12)
	for i := 1; i <= 12; i++ {
		records = append(records, &model.Post{
			PostID:  fmt.Sprintf("bulk-%02d", i),
			AdminID: "a1",
			Time:    model.FormatPostTime(feedEpoch),
			Message: fmt.Sprintf("notice %d", i),
		})
	}
	upsert(t, store, records...)

	p := NewFeedPaginator(store, hub, "stu", 5)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Close)
	ctx := context.Background()

	assert.Equal(t, []string{"bulk-12", "bulk-11", "bulk-10", "bulk-09", "bulk-08"}, postIDs(p.Snapshot().Latest))

	require.NoError(t, p.LoadMore(ctx))
	snap := p.Snapshot()
	assert.Equal(t, []string{"bulk-07", "bulk-06", "bulk-05", "bulk-04", "bulk-03"}, postIDs(snap.Older))
	assert.True(t, snap.HasMore)

	require.NoError(t, p.LoadMore(ctx))
	snap = p.Snapshot()
	assert.Len(t, snap.Older, 7)
	assert.Equal(t, "bulk-01", snap.Older[6].PostID)
	assert.False(t, snap.HasMore)
	assertDisjoint(t, snap)
}

func TestFeedPaginator_ShortFeedEndsAfterFirstLoadMore(t *testing.T) {
	p, _, ops := newTestPaginator(t, "stu", 15)

	snap := p.Snapshot()
	assert.Len(t, snap.Latest, 15)
	assert.True(t, snap.HasMore)

	require.NoError(t, p.LoadMore(context.Background()))
	snap = p.Snapshot()
	assert.Empty(t, snap.Older)
	assert.False(t, snap.HasMore)
	assert.Equal(t, 1, ops.count("PostsAtOrBefore"))

	// Further calls do nothing
	require.NoError(t, p.LoadMore(context.Background()))
	assert.Equal(t, 1, ops.count("PostsAtOrBefore"))
}

func TestFeedPaginator_NullOldestTimeStopsWithoutQuery(t *testing.T) {
	store, hub, ops := newTestStore(t)
	seedPosts(t, store, 3)
	upsert(t, store, &model.Post{PostID: "undated", AdminID: "a1", Message: "no time"})

	p := NewFeedPaginator(store, hub, "stu", 20)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Close)

	snap := p.Snapshot()
	require.Len(t, snap.Latest, 4)
	assert.Equal(t, "undated", snap.Latest[3].PostID)

	require.NoError(t, p.LoadMore(context.Background()))
	assert.False(t, p.Snapshot().HasMore)
	assert.Zero(t, ops.count("PostsAtOrBefore"))
}

func TestFeedPaginator_EmptyFeed(t *testing.T) {
	p, _, ops := newTestPaginator(t, "stu", 0)

	snap := p.Snapshot()
	assert.Empty(t, snap.Latest)
	assert.False(t, snap.HasMore)

	require.NoError(t, p.LoadMore(context.Background()))
	assert.Zero(t, ops.count("PostsAtOrBefore"))
}

func TestFeedPaginator_NewPostsEvictFromOlder(t *testing.T) {
	store, hub, _ := newTestStore(t)
	seedPosts(t, store, 30)

	// A window of 5 keeps the test readable
	p := NewFeedPaginator(store, hub, "stu", 5)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Close)
	require.NoError(t, p.LoadMore(context.Background()))

	snap := p.Snapshot()
	assert.Equal(t, []string{"post-30", "post-29", "post-28", "post-27", "post-26"}, postIDs(snap.Latest))
	assert.Equal(t, []string{"post-25", "post-24", "post-23", "post-22", "post-21"}, postIDs(snap.Older))

	// Two older posts move to the top of the feed
	upsert(t, store,
		&model.Post{PostID: "post-25", AdminID: "a1", Time: model.FormatPostTime(feedEpoch.Add(time.Hour)), Message: "bumped"},
		&model.Post{PostID: "post-24", AdminID: "a1", Time: model.FormatPostTime(feedEpoch.Add(2 * time.Hour)), Message: "bumped"},
	)

	require.Eventually(t, func() bool {
		latest := p.Snapshot().Latest
		return len(latest) > 0 && latest[0].PostID == "post-24"
	}, 2*time.Second, 10*time.Millisecond)

	snap = p.Snapshot()
	assertDisjoint(t, snap)
	assert.NotContains(t, postIDs(snap.Older), "post-24")
	assert.NotContains(t, postIDs(snap.Older), "post-25")
}

func TestFeedPaginator_MarksLatestSeen(t *testing.T) {
	p, store, _ := newTestPaginator(t, "stu", 3)

	require.Eventually(t, func() bool {
		for _, id := range []string{"post-01", "post-02", "post-03"} {
			post, err := store.GetPost(context.Background(), id)
			if err != nil || !post.SeenBy.Has("stu") {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, v := range p.Snapshot().Latest {
			if !v.SeenByViewer {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFeedPaginator_DoubleToggleRestoresLike(t *testing.T) {
	store, hub, _ := newTestStore(t)
	count := 3
	upsert(t, store, &model.Post{
		PostID:    "p1",
		AdminID:   "a1",
		Time:      model.FormatPostTime(feedEpoch),
		Likes:     model.BoolSet{"t1": true, "t2": true, "a2": true},
		LikeCount: &count,
	})

	p := NewFeedPaginator(store, hub, "stu", 20)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Close)
	ctx := context.Background()

	first, err := p.ToggleLike(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, first.LikedByViewer)
	assert.Equal(t, 4, first.LikeCount)

	second, err := p.ToggleLike(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, second.LikedByViewer)
	assert.Equal(t, 3, second.LikeCount)

	post, err := store.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, post.DisplayLikeCount())
	assert.False(t, post.Likes.Has("stu"))
}

func TestFeedPaginator_ConcurrentDoubleToggleSettles(t *testing.T) {
	store, hub, _ := newTestStore(t)
	count := 3
	upsert(t, store, &model.Post{
		PostID:    "p1",
		AdminID:   "a1",
		Time:      model.FormatPostTime(feedEpoch),
		Likes:     model.BoolSet{"t1": true, "t2": true, "a2": true},
		LikeCount: &count,
	})

	p := NewFeedPaginator(store, hub, "stu", 20)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Close)
	ctx := context.Background()

	for round := 0; round < 10; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := p.ToggleLike(ctx, "p1")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		post, err := store.GetPost(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 3, post.DisplayLikeCount(), "round %d", round)
		assert.Equal(t, model.BoolSet{"t1": true, "t2": true, "a2": true}, post.Likes, "round %d", round)
	}

	require.Eventually(t, func() bool {
		snap := p.Snapshot()
		return len(snap.Latest) == 1 && snap.Latest[0].LikeCount == 3 && !snap.Latest[0].LikedByViewer
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFeedPaginator_FailedLikeRollsBack(t *testing.T) {
	store, hub, ops := newTestStore(t)
	upsert(t, store, &model.Post{PostID: "p1", AdminID: "a1", Time: model.FormatPostTime(feedEpoch)})

	p := NewFeedPaginator(store, hub, "stu", 20)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Close)

	ops.failWith("TogglePostLike", errors.New("permission denied"))
	view, err := p.ToggleLike(context.Background(), "p1")
	require.Error(t, err)
	assert.False(t, view.LikedByViewer)
	assert.Zero(t, view.LikeCount)

	snap := p.Snapshot()
	require.Len(t, snap.Latest, 1)
	assert.False(t, snap.Latest[0].LikedByViewer)
}

func TestFeedPaginator_ToggleLikeErrors(t *testing.T) {
	p, _, _ := newTestPaginator(t, "stu", 1)
	_, err := p.ToggleLike(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPostNotLoaded)

	anon, _, _ := newTestPaginator(t, "", 1)
	_, err = anon.ToggleLike(context.Background(), "post-01")
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestFeedPaginator_WatchStreamsChanges(t *testing.T) {
	p, store, _ := newTestPaginator(t, "stu", 2)

	updates, stop := p.Watch()
	defer stop()

	first := <-updates
	assert.Len(t, first.Latest, 2)

	upsert(t, store, &model.Post{PostID: "post-new", AdminID: "a1", Time: model.FormatPostTime(feedEpoch.Add(time.Hour))})

	require.Eventually(t, func() bool {
		select {
		case snap := <-updates:
			return len(snap.Latest) == 3 && snap.Latest[0].PostID == "post-new"
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	p.Close()
	for range updates {
		// drain until Close closes the channel
	}
}
