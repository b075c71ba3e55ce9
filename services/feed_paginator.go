package services

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/sahilchouksey/school-connect/database"
	"github.com/sahilchouksey/school-connect/model"
	"github.com/sahilchouksey/school-connect/services/realtime"
)

// DefaultFeedPageSize is the size of the live window and of each older page
const DefaultFeedPageSize = 20

// PostView is a post as one viewer sees it
type PostView struct {
	PostID        string `json:"postId"`
	AdminID       string `json:"adminId"`
	Time          string `json:"time"`
	Message       string `json:"message"`
	PostURL       string `json:"postUrl,omitempty"`
	LikeCount     int    `json:"likeCount"`
	LikedByViewer bool   `json:"likedByViewer"`
	SeenByViewer  bool   `json:"seenByViewer"`
}

// FeedSnapshot is the paginator state: the live window, the older pages and whether more exist
type FeedSnapshot struct {
	Latest  []PostView `json:"latest"`
	Older   []PostView `json:"older"`
	HasMore bool       `json:"hasMore"`
}

// FeedPaginator keeps the newest posts live and pages older ones in on demand.
// Latest and older never share a post id.
type FeedPaginator struct {
	store    database.PostStore
	hub      realtime.Hub
	viewerID string
	pageSize int

	mu      sync.Mutex
	latest  []model.Post
	older   []model.Post
	hasMore bool
	loading bool
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}

	watchers map[chan FeedSnapshot]struct{}
}

// NewFeedPaginator creates a paginator for viewerID
func NewFeedPaginator(store database.PostStore, hub realtime.Hub, viewerID string, pageSize int) *FeedPaginator {
	if pageSize <= 0 {
		pageSize = DefaultFeedPageSize
	}
	return &FeedPaginator{
		store:    store,
		hub:      hub,
		viewerID: viewerID,
		pageSize: pageSize,
		hasMore:  true,
		watchers: map[chan FeedSnapshot]struct{}{},
	}
}

// Start loads the live window and keeps it in sync until Close. Calling it again is a no-op.
func (p *FeedPaginator) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	liveCtx, cancel := context.WithCancel(context.Background())
	sub, err := p.hub.Subscribe(liveCtx, realtime.PostsTopic)
	if err != nil {
		cancel()
		p.mu.Lock()
		p.started = false
		p.mu.Unlock()
		return fmt.Errorf("failed to subscribe to posts: %w", err)
	}

	if err := p.refresh(ctx); err != nil {
		log.Printf("Warning: initial feed load failed: %v", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel()
		sub.Close()
		return nil
	}
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		defer sub.Close()
		for {
			select {
			case <-liveCtx.Done():
				return
			case <-sub.Done():
				return
			case <-sub.C():
				if err := p.refresh(liveCtx); err != nil && liveCtx.Err() == nil {
					log.Printf("Warning: feed refresh failed: %v", err)
				}
			}
		}
	}()
	return nil
}

// refresh replaces the live window wholesale and evicts its ids from the older pages
func (p *FeedPaginator) refresh(ctx context.Context) error {
	posts, err := p.store.LatestPosts(ctx, p.pageSize)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.latest = posts
	inLatest := make(map[string]bool, len(posts))
	for _, post := range posts {
		inLatest[post.PostID] = true
	}
	older := p.older[:0]
	for _, post := range p.older {
		if !inLatest[post.PostID] {
			older = append(older, post)
		}
	}
	p.older = older
	if len(p.latest) == 0 && len(p.older) == 0 {
		p.hasMore = false
	}
	p.broadcastLocked()
	p.mu.Unlock()

	p.markSeen(posts)
	return nil
}

func (p *FeedPaginator) markSeen(posts []model.Post) {
	if p.viewerID == "" {
		return
	}
	for _, post := range posts {
		if post.SeenBy.Has(p.viewerID) {
			continue
		}
		postID := post.PostID
		bestEffort("mark_post_seen", func(ctx context.Context) error {
			return p.store.MarkPostSeen(ctx, postID, p.viewerID)
		})
	}
}

// oldestLocked is the last post of older, else of latest
func (p *FeedPaginator) oldestLocked() *model.Post {
	if n := len(p.older); n > 0 {
		return &p.older[n-1]
	}
	if n := len(p.latest); n > 0 {
		return &p.latest[n-1]
	}
	return nil
}

// LoadMore appends the next older page, read from the oldest known post by (time, id) so
// posts sharing a timestamp are not skipped. It does nothing when nothing more exists or a
// load is already running. A page with fewer than pageSize new posts ends the feed.
func (p *FeedPaginator) LoadMore(ctx context.Context) error {
	p.mu.Lock()
	if !p.hasMore || p.loading || p.closed {
		p.mu.Unlock()
		return nil
	}
	oldest := p.oldestLocked()
	if oldest == nil || !oldest.HasValidTime() {
		p.hasMore = false
		p.broadcastLocked()
		p.mu.Unlock()
		return nil
	}
	boundary := database.CursorOf(*oldest)
	p.loading = true
	p.mu.Unlock()

	posts, err := p.store.PostsAtOrBefore(ctx, boundary, p.pageSize+1)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.loading = false
	if err != nil {
		return fmt.Errorf("failed to load older posts: %w", err)
	}
	if p.closed {
		return nil
	}

	known := make(map[string]bool, len(p.latest)+len(p.older))
	for _, post := range p.latest {
		known[post.PostID] = true
	}
	for _, post := range p.older {
		known[post.PostID] = true
	}

	added := 0
	for _, post := range posts {
		if post.PostID == boundary.PostID || known[post.PostID] {
			continue
		}
		known[post.PostID] = true
		p.older = append(p.older, post)
		added++
	}
	if added < p.pageSize {
		p.hasMore = false
	}
	p.broadcastLocked()
	return nil
}

// ToggleLike flips the viewer's like locally, then applies it to the store.
// On failure the post is re-read and overwrites the local copy; there is no retry.
func (p *FeedPaginator) ToggleLike(ctx context.Context, postID string) (PostView, error) {
	if p.viewerID == "" {
		return PostView{}, ErrNoIdentity
	}

	p.mu.Lock()
	post := p.findLocked(postID)
	if post == nil {
		p.mu.Unlock()
		return PostView{}, ErrPostNotLoaded
	}
	liked := post.Likes.Has(p.viewerID)
	count := post.DisplayLikeCount()
	likes := post.Likes.Clone()
	if liked {
		delete(likes, p.viewerID)
		count--
	} else {
		likes[p.viewerID] = true
		count++
	}
	if count < 0 {
		count = 0
	}
	post.Likes = likes
	post.LikeCount = &count
	optimistic := p.viewLocked(*post)
	p.broadcastLocked()
	p.mu.Unlock()

	direction := "like"
	if liked {
		direction = "unlike"
	}
	likeToggles.WithLabelValues(direction).Inc()

	if _, err := p.store.TogglePostLike(ctx, postID, p.viewerID); err != nil {
		likeRollbacks.Inc()
		p.rollback(postID)
		return p.viewOf(postID, optimistic), fmt.Errorf("failed to toggle like: %w", err)
	}
	return optimistic, nil
}

func (p *FeedPaginator) rollback(postID string) {
	ctx, cancel := context.WithTimeout(context.Background(), bestEffortTimeout)
	defer cancel()

	fresh, err := p.store.GetPost(ctx, postID)
	if err != nil {
		log.Printf("Warning: failed to re-read post %s after failed like: %v", postID, err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if post := p.findLocked(postID); post != nil {
		*post = *fresh
		p.broadcastLocked()
	}
}

func (p *FeedPaginator) findLocked(postID string) *model.Post {
	for i := range p.latest {
		if p.latest[i].PostID == postID {
			return &p.latest[i]
		}
	}
	for i := range p.older {
		if p.older[i].PostID == postID {
			return &p.older[i]
		}
	}
	return nil
}

func (p *FeedPaginator) viewOf(postID string, fallback PostView) PostView {
	p.mu.Lock()
	defer p.mu.Unlock()
	if post := p.findLocked(postID); post != nil {
		return p.viewLocked(*post)
	}
	return fallback
}

func (p *FeedPaginator) viewLocked(post model.Post) PostView {
	return PostView{
		PostID:        post.PostID,
		AdminID:       post.AdminID,
		Time:          post.Time,
		Message:       post.Message,
		PostURL:       post.PostURL,
		LikeCount:     post.DisplayLikeCount(),
		LikedByViewer: post.Likes.Has(p.viewerID),
		SeenByViewer:  post.SeenBy.Has(p.viewerID),
	}
}

// Snapshot returns the current state
func (p *FeedPaginator) Snapshot() FeedSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *FeedPaginator) snapshotLocked() FeedSnapshot {
	snap := FeedSnapshot{
		Latest:  make([]PostView, 0, len(p.latest)),
		Older:   make([]PostView, 0, len(p.older)),
		HasMore: p.hasMore,
	}
	for _, post := range p.latest {
		snap.Latest = append(snap.Latest, p.viewLocked(post))
	}
	for _, post := range p.older {
		snap.Older = append(snap.Older, p.viewLocked(post))
	}
	return snap
}

// broadcastLocked replaces any unread snapshot in each watcher with the current one
func (p *FeedPaginator) broadcastLocked() {
	if len(p.watchers) == 0 {
		return
	}
	snap := p.snapshotLocked()
	for ch := range p.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Watch streams snapshots, starting with the current one, until stop or Close
func (p *FeedPaginator) Watch() (<-chan FeedSnapshot, func()) {
	ch := make(chan FeedSnapshot, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	p.watchers[ch] = struct{}{}
	ch <- p.snapshotLocked()
	p.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if _, ok := p.watchers[ch]; ok {
				delete(p.watchers, ch)
				close(ch)
			}
		})
	}
	return ch, stop
}

// Close stops live updates
func (p *FeedPaginator) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancel, done := p.cancel, p.done
	for ch := range p.watchers {
		close(ch)
	}
	p.watchers = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
