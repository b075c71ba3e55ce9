package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sahilchouksey/school-connect/database"
	"github.com/sahilchouksey/school-connect/model"
	"github.com/sahilchouksey/school-connect/services/storage"
)

// ImageMessageText is the preview text stored for image messages
const ImageMessageText = "Photo"

// BlobUploader stores binary content and returns its public URL
type BlobUploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) (string, error)
}

// ConversationView is the one open chat of a session: the live list plus optimistic sends
type ConversationView struct {
	ViewerID string
	PeerID   string

	feed           *MessageFeedService
	convs          *ConversationService
	store          database.ConversationStore
	blobs          BlobUploader
	reconcileDelay time.Duration

	mu       sync.Mutex
	convID   string
	server   []model.Message
	pending  map[string]model.Message
	closed   bool
	sub      *MessageSubscription
	timers   []*time.Timer
	watchers map[chan FeedUpdate]struct{}
}

// ViewDeps are the collaborators shared by every view of a session
type ViewDeps struct {
	Feed           *MessageFeedService
	Conversations  *ConversationService
	Store          database.ConversationStore
	Blobs          BlobUploader
	ReconcileDelay time.Duration
}

// OpenConversationView locates the conversation without creating it and, if it exists,
// starts following it. A missing conversation is created by the first send.
func OpenConversationView(ctx context.Context, deps ViewDeps, viewerID, peerID string) (*ConversationView, error) {
	if viewerID == "" {
		return nil, ErrNoIdentity
	}

	v := &ConversationView{
		ViewerID:       viewerID,
		PeerID:         peerID,
		feed:           deps.Feed,
		convs:          deps.Conversations,
		store:          deps.Store,
		blobs:          deps.Blobs,
		reconcileDelay: deps.ReconcileDelay,
		pending:        map[string]model.Message{},
		watchers:       map[chan FeedUpdate]struct{}{},
	}

	id, err := deps.Conversations.Locate(ctx, viewerID, peerID, false)
	if err != nil {
		return nil, err
	}
	if id != "" {
		if err := v.follow(id); err != nil {
			return nil, err
		}
		// Serve the first read synchronously
		if update, err := v.feed.Fetch(ctx, id); err == nil {
			v.apply(update)
		}
	}
	return v, nil
}

// follow subscribes to id. The subscription outlives the request that opened the view.
func (v *ConversationView) follow(id string) error {
	sub, err := v.feed.Subscribe(context.Background(), id, v.ViewerID)
	if err != nil {
		return err
	}

	v.mu.Lock()
	if v.closed || v.convID != "" {
		v.mu.Unlock()
		sub.Close()
		return nil
	}
	v.convID = id
	v.sub = sub
	v.mu.Unlock()

	go func() {
		for update := range sub.Updates() {
			v.apply(update)
		}
	}()
	return nil
}

// apply takes a live update. Optimistic messages not yet confirmed stay in the list.
func (v *ConversationView) apply(update FeedUpdate) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed || update.ConversationID != v.convID {
		return
	}

	v.server = update.Messages
	for _, m := range update.Messages {
		delete(v.pending, m.MessageID)
	}
	v.broadcastLocked()
}

// ConversationID returns "" until the conversation exists
func (v *ConversationView) ConversationID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.convID
}

// Snapshot returns the merged server and optimistic list with its day sections
func (v *ConversationView) Snapshot() FeedUpdate {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *ConversationView) snapshotLocked() FeedUpdate {
	messages := make([]model.Message, 0, len(v.server)+len(v.pending))
	messages = append(messages, v.server...)
	for _, m := range v.pending {
		messages = append(messages, m)
	}
	model.SortMessages(messages)

	return FeedUpdate{
		ConversationID: v.convID,
		Messages:       messages,
		Sections:       GroupByDay(messages, v.feed.now(), v.feed.location),
	}
}

func (v *ConversationView) broadcastLocked() {
	if len(v.watchers) == 0 {
		return
	}
	snap := v.snapshotLocked()
	for ch := range v.watchers {
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

// Watch streams snapshots, starting with the current one. Call stop when done.
func (v *ConversationView) Watch() (<-chan FeedUpdate, func()) {
	ch := make(chan FeedUpdate, 1)

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	v.watchers[ch] = struct{}{}
	ch <- v.snapshotLocked()
	v.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			if _, ok := v.watchers[ch]; ok {
				delete(v.watchers, ch)
				close(ch)
			}
		})
	}
	return ch, stop
}

// Watching reports whether any stream is attached
func (v *ConversationView) Watching() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.watchers) > 0
}

// MarkSeen marks the peer's messages in the current list as seen by the viewer and
// resets the viewer's unread counter. It is for one-shot reads that close the view
// before a live update would do the same.
func (v *ConversationView) MarkSeen() {
	v.mu.Lock()
	id, messages := v.convID, v.server
	v.mu.Unlock()
	if id == "" {
		return
	}
	v.feed.markSeen(id, v.ViewerID, messages)
}

// SendText writes a text message. The message is visible locally before the write
// and stays visible if the write fails.
func (v *ConversationView) SendText(ctx context.Context, text string) (model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, ErrEmptyMessage
	}

	msg, err := v.prepare(ctx, model.MessageTypeText, text, "")
	if err != nil {
		return model.Message{}, err
	}
	return msg, v.write(ctx, msg)
}

// SendImage shows localURI immediately, uploads the image, then writes the remote URL
func (v *ConversationView) SendImage(ctx context.Context, localURI, filename string, data io.Reader) (model.Message, error) {
	if v.blobs == nil {
		return model.Message{}, fmt.Errorf("image upload is not configured")
	}

	msg, err := v.prepare(ctx, model.MessageTypeImage, ImageMessageText, localURI)
	if err != nil {
		return model.Message{}, err
	}

	key := storage.MessageImageKey(msg.ConversationID, msg.MessageID, filename, time.UnixMilli(msg.TimeStamp))
	url, err := v.blobs.Upload(ctx, key, data, storage.ContentType(filename))
	if err != nil {
		messageSendFailures.WithLabelValues("upload").Inc()
		return msg, fmt.Errorf("failed to upload image: %w", err)
	}

	msg.ImageURL = url
	v.mu.Lock()
	if _, ok := v.pending[msg.MessageID]; ok {
		v.pending[msg.MessageID] = msg
		v.broadcastLocked()
	}
	v.mu.Unlock()

	return msg, v.write(ctx, msg)
}

// prepare resolves or creates the conversation and appends the optimistic message
func (v *ConversationView) prepare(ctx context.Context, typ model.MessageType, text, imageURL string) (model.Message, error) {
	if v.ViewerID == "" {
		return model.Message{}, ErrNoIdentity
	}

	convID := v.ConversationID()
	if convID == "" {
		var err error
		if convID, err = v.ensureConversation(ctx); err != nil {
			return model.Message{}, err
		}
	}

	msgID, err := uuid.NewV7()
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to generate message id: %w", err)
	}

	msg := model.Message{
		MessageID:      msgID.String(),
		ConversationID: convID,
		SenderID:       v.ViewerID,
		ReceiverID:     v.PeerID,
		Text:           text,
		TimeStamp:      v.feed.now().UnixMilli(),
		Type:           typ,
		ImageURL:       imageURL,
	}

	v.mu.Lock()
	if !v.closed {
		v.pending[msg.MessageID] = msg
		v.broadcastLocked()
	}
	v.mu.Unlock()

	return msg, nil
}

// ensureConversation creates the conversation on the first send and follows it
func (v *ConversationView) ensureConversation(ctx context.Context) (string, error) {
	id, err := v.convs.Locate(ctx, v.ViewerID, v.PeerID, true)
	if err != nil {
		messageSendFailures.WithLabelValues("locate").Inc()
		return "", err
	}
	if err := v.follow(id); err != nil {
		return "", err
	}
	return id, nil
}

// write performs the single store write and schedules the reconcile re-fetch
func (v *ConversationView) write(ctx context.Context, msg model.Message) error {
	if err := v.store.WriteMessage(ctx, msg); err != nil {
		messageSendFailures.WithLabelValues("write").Inc()
		return err
	}
	messagesSent.WithLabelValues(string(msg.Type)).Inc()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.timers = append(v.timers, time.AfterFunc(v.reconcileDelay, v.reconcile))
	return nil
}

// reconcile overwrites local state with a fresh read of the whole list
func (v *ConversationView) reconcile() {
	v.mu.Lock()
	if v.closed || v.convID == "" {
		v.mu.Unlock()
		return
	}
	id := v.convID
	v.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), bestEffortTimeout)
	defer cancel()

	update, err := v.feed.Fetch(ctx, id)
	if err != nil {
		log.Printf("Warning: failed to reconcile conversation %s: %v", id, err)
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.convID != id {
		return
	}
	v.server = update.Messages
	v.pending = map[string]model.Message{}
	v.broadcastLocked()
}

// Close tears down the live subscription. Late results are dropped.
func (v *ConversationView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	for _, t := range v.timers {
		t.Stop()
	}
	for ch := range v.watchers {
		close(ch)
	}
	v.watchers = nil
	sub := v.sub
	v.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}
