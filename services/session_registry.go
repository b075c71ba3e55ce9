package services

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sahilchouksey/school-connect/database"
	"github.com/sahilchouksey/school-connect/model"
	"github.com/sahilchouksey/school-connect/services/realtime"
	"github.com/sahilchouksey/school-connect/utils/cache"
)

// Viewer is the authenticated caller as carried by the access token
type Viewer struct {
	NodeKey        string
	UserID         string
	StudentNodeKey string
	Role           model.Role
	DeviceID       string
}

// DeviceKey names the device store namespace of the viewer
func (v Viewer) DeviceKey() string {
	if v.DeviceID != "" {
		return v.DeviceID
	}
	return v.NodeKey
}

// SessionDeps are the collaborators shared by all sessions
type SessionDeps struct {
	Store          database.DocumentStore
	Hub            realtime.Hub
	Cache          *cache.RedisCache
	Blobs          BlobUploader
	HTTPClient     *resty.Client
	Resolver       *IdentityResolver
	Location       *time.Location
	DownloadDir    string
	ReconcileDelay time.Duration
	FeedPageSize   int
	IdleTimeout    time.Duration
}

// Session is the per-viewer state that a device would keep between screens
type Session struct {
	Viewer Viewer
	// UserID is the resolved logical id, "" when the device holds no identity
	UserID string

	Device    cache.DeviceStore
	Directory *DirectoryService
	Contacts  *ContactCacheService
	Downloads *DownloadManager

	deps     *SessionDeps
	viewDeps ViewDeps

	mu       sync.Mutex
	feed     *FeedPaginator
	view     *ConversationView
	lastUsed time.Time
	closed   bool
}

// Feed returns the viewer's paginator, starting it on first use
func (s *Session) Feed(ctx context.Context) (*FeedPaginator, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	feed := s.feed
	if feed == nil {
		feed = NewFeedPaginator(s.deps.Store, s.deps.Hub, s.UserID, s.deps.FeedPageSize)
		s.feed = feed
	}
	s.mu.Unlock()

	if err := feed.Start(ctx); err != nil {
		return nil, err
	}
	return feed, nil
}

// OpenConversation makes peerID the open chat. The previous view, if any other peer, is closed.
func (s *Session) OpenConversation(ctx context.Context, peerID string) (*ConversationView, error) {
	if s.UserID == "" {
		return nil, ErrNoIdentity
	}

	s.mu.Lock()
	if s.view != nil && s.view.PeerID == peerID {
		view := s.view
		s.mu.Unlock()
		return view, nil
	}
	previous := s.view
	s.view = nil
	s.mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	view, err := OpenConversationView(ctx, s.viewDeps, s.UserID, peerID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Lost a race with another open or with Close: keep the winner
	if s.closed || s.view != nil {
		view.Close()
		if s.closed {
			return nil, ErrSessionClosed
		}
		return s.view, nil
	}
	s.view = view
	return view, nil
}

// WatchConversation opens peerID and attaches a stream to it. stop detaches the stream
// and closes the view once nothing else holds it.
func (s *Session) WatchConversation(ctx context.Context, peerID string) (*ConversationView, <-chan FeedUpdate, func(), error) {
	for attempt := 0; attempt < 3; attempt++ {
		view, err := s.OpenConversation(ctx, peerID)
		if err != nil {
			return nil, nil, nil, err
		}

		// Registering under s.mu keeps a concurrent release from closing the view in between
		s.mu.Lock()
		if s.view != view {
			s.mu.Unlock()
			continue
		}
		updates, detach := view.Watch()
		s.mu.Unlock()

		stop := func() {
			detach()
			s.ReleaseConversation(view)
		}
		return view, updates, stop, nil
	}
	return nil, nil, nil, fmt.Errorf("conversation with %s was closed while opening", peerID)
}

// ReleaseConversation ends a one-shot use of view. The view is closed unless a stream
// is still attached, so replies arriving later stay unread.
func (s *Session) ReleaseConversation(view *ConversationView) {
	s.mu.Lock()
	if s.view != view || view.Watching() {
		s.mu.Unlock()
		return
	}
	s.view = nil
	s.mu.Unlock()

	view.Close()
}

// CloseConversation closes the open chat with peerID, attached streams included.
// It reports whether that chat was open.
func (s *Session) CloseConversation(peerID string) bool {
	s.mu.Lock()
	view := s.view
	if view == nil || view.PeerID != peerID {
		s.mu.Unlock()
		return false
	}
	s.view = nil
	s.mu.Unlock()

	view.Close()
	return true
}

// CurrentConversation returns the open view, if any
func (s *Session) CurrentConversation() *ConversationView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// StudentContext returns the directory input for this session
func (s *Session) StudentContext() StudentContext {
	return StudentContext{ViewerUserID: s.UserID, StudentNodeKey: s.Viewer.StudentNodeKey}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Close releases the live subscriptions and cancels downloads
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	feed, view := s.feed, s.view
	s.feed, s.view = nil, nil
	s.mu.Unlock()

	if feed != nil {
		feed.Close()
	}
	if view != nil {
		view.Close()
	}
	s.Downloads.CancelAll()
}

// SessionRegistry holds one session per device
type SessionRegistry struct {
	deps     SessionDeps
	feed     *MessageFeedService
	convs    *ConversationService
	now      func() time.Time
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionRegistry creates an empty registry
func NewSessionRegistry(deps SessionDeps) *SessionRegistry {
	if deps.Resolver == nil {
		deps.Resolver = NewIdentityResolver(deps.Store)
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = resty.New()
	}
	if deps.ReconcileDelay <= 0 {
		deps.ReconcileDelay = 1500 * time.Millisecond
	}
	if deps.IdleTimeout <= 0 {
		deps.IdleTimeout = 30 * time.Minute
	}
	return &SessionRegistry{
		deps:     deps,
		feed:     NewMessageFeedService(deps.Store, deps.Hub, deps.Location),
		convs:    NewConversationService(deps.Store),
		now:      time.Now,
		sessions: map[string]*Session{},
	}
}

// Conversations exposes the shared locator
func (r *SessionRegistry) Conversations() *ConversationService {
	return r.convs
}

// Get returns the viewer's session, creating it on first use. Creation seeds the device's
// identity keys from the token and resolves the user id once.
func (r *SessionRegistry) Get(ctx context.Context, viewer Viewer) (*Session, error) {
	key := viewer.DeviceKey()

	r.mu.Lock()
	if s, ok := r.sessions[key]; ok && s.Viewer == viewer {
		r.mu.Unlock()
		s.touch(r.now())
		return s, nil
	}
	r.mu.Unlock()

	s, err := r.newSession(ctx, viewer)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	existing, ok := r.sessions[key]
	if ok && existing.Viewer == viewer {
		r.mu.Unlock()
		s.Close()
		existing.touch(r.now())
		return existing, nil
	}
	r.sessions[key] = s
	activeSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	// Another account signed in on the same device
	if ok {
		existing.Close()
	}
	return s, nil
}

func (r *SessionRegistry) newSession(ctx context.Context, viewer Viewer) (*Session, error) {
	device := cache.NewNamespace(r.deps.Cache, viewer.DeviceKey(), 0)

	if viewer.UserID != "" {
		if err := device.Set(ctx, cache.KeyUserID, viewer.UserID); err != nil {
			return nil, err
		}
	} else if err := device.Delete(ctx, cache.KeyUserID); err != nil {
		return nil, err
	}
	if viewer.NodeKey != "" {
		if err := device.Set(ctx, cache.KeyUserNodeKey, viewer.NodeKey); err != nil {
			return nil, err
		}
	}

	userID, ok := r.deps.Resolver.ResolveCurrentUserID(ctx, device)
	if !ok {
		log.Printf("Warning: no identity for device %s", viewer.DeviceKey())
	}

	s := &Session{
		Viewer:    viewer,
		UserID:    userID,
		Device:    device,
		Directory: NewDirectoryService(r.deps.Store, 0),
		Contacts:  NewContactCacheService(device),
		Downloads: NewDownloadManager(r.deps.HTTPClient, filepath.Join(r.deps.DownloadDir, safeFileName(viewer.DeviceKey())), device),
		deps:      &r.deps,
		viewDeps: ViewDeps{
			Feed:           r.feed,
			Conversations:  r.convs,
			Store:          r.deps.Store,
			Blobs:          r.deps.Blobs,
			ReconcileDelay: r.deps.ReconcileDelay,
		},
		lastUsed: r.now(),
	}
	return s, nil
}

// Reap closes sessions idle longer than the idle timeout and returns how many it closed
func (r *SessionRegistry) Reap(now time.Time) int {
	r.mu.Lock()
	var stale []*Session
	for key, s := range r.sessions {
		if now.Sub(s.idleSince()) > r.deps.IdleTimeout {
			stale = append(stale, s)
			delete(r.sessions, key)
		}
	}
	activeSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	return len(stale)
}

// Remove closes the viewer's session, used on sign-out. Reports whether one existed.
func (r *SessionRegistry) Remove(viewer Viewer) bool {
	key := viewer.DeviceKey()

	r.mu.Lock()
	s, ok := r.sessions[key]
	if ok && s.Viewer == viewer {
		delete(r.sessions, key)
		activeSessions.Set(float64(len(r.sessions)))
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		s.Close()
	}
	return ok
}

// Len returns the number of live sessions
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every session, used on shutdown
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = map[string]*Session{}
	activeSessions.Set(0)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// DownloadRoot is the directory holding every device's downloads
func (r *SessionRegistry) DownloadRoot() string {
	return r.deps.DownloadDir
}
