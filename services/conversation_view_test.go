package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sahilchouksey/school-connect/database"
	"github.com/sahilchouksey/school-connect/model"
	"github.com/sahilchouksey/school-connect/services/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	mu      sync.Mutex
	keys    []string
	err     error
	release chan struct{}
}

func (f *fakeUploader) Upload(ctx context.Context, key string, data io.Reader, contentType string) (string, error) {
	if f.release != nil {
		<-f.release
	}
	if _, err := io.ReadAll(data); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "https://cdn.example.com/" + key, nil
}

func testViewDeps(store *database.MemoryStore, hub *realtime.LocalHub, blobs BlobUploader) ViewDeps {
	return ViewDeps{
		Feed:           NewMessageFeedService(store, hub, time.UTC),
		Conversations:  NewConversationService(store),
		Store:          store,
		Blobs:          blobs,
		ReconcileDelay: 20 * time.Millisecond,
	}
}

func openTestView(t *testing.T, store *database.MemoryStore, hub *realtime.LocalHub, blobs BlobUploader, viewer, peer string) *ConversationView {
	t.Helper()
	view, err := OpenConversationView(context.Background(), testViewDeps(store, hub, blobs), viewer, peer)
	require.NoError(t, err)
	t.Cleanup(view.Close)
	return view
}

func hasMessage(update FeedUpdate, id string) bool {
	for _, m := range update.Messages {
		if m.MessageID == id {
			return true
		}
	}
	return false
}

func TestSendText_OptimisticThenReconciled(t *testing.T) {
	store, hub, _ := newTestStore(t)
	ctx := context.Background()
	view := openTestView(t, store, hub, nil, "stu", "t1")

	assert.Empty(t, view.ConversationID())

	sent, err := view.SendText(ctx, "  Is the test on Monday?  ")
	require.NoError(t, err)
	assert.Equal(t, "Is the test on Monday?", sent.Text)
	assert.Equal(t, "stu_t1", sent.ConversationID)
	assert.True(t, hasMessage(view.Snapshot(), sent.MessageID))

	// The re-fetch reproduces the same message
	require.Eventually(t, func() bool {
		view.mu.Lock()
		defer view.mu.Unlock()
		if len(view.pending) != 0 {
			return false
		}
		for _, m := range view.server {
			if m.MessageID == sent.MessageID {
				return m.SenderID == "stu" && m.Text == sent.Text && m.TimeStamp == sent.TimeStamp
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	conv, err := store.GetConversation(ctx, "stu_t1")
	require.NoError(t, err)
	assert.Equal(t, sent.Text, conv.Last().Text)
	assert.Equal(t, 1, conv.Unread["t1"])
	assert.Equal(t, 0, conv.Unread["stu"])
}

func TestSendText_FailedWriteKeepsOptimisticMessage(t *testing.T) {
	store, hub, ops := newTestStore(t)
	ctx := context.Background()
	view := openTestView(t, store, hub, nil, "stu", "t1")

	ops.failWith("WriteMessage", errors.New("offline"))
	sent, err := view.SendText(ctx, "hello")
	require.Error(t, err)

	time.Sleep(60 * time.Millisecond)
	assert.True(t, hasMessage(view.Snapshot(), sent.MessageID))

	msgs, err := store.ListMessages(ctx, "stu_t1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSendText_Validation(t *testing.T) {
	store, hub, ops := newTestStore(t)
	view := openTestView(t, store, hub, nil, "stu", "t1")

	_, err := view.SendText(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Zero(t, ops.count("PutConversation"))

	_, err = OpenConversationView(context.Background(), testViewDeps(store, hub, nil), "", "t1")
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestSendImage_ShowsLocalURIThenStoresRemoteURL(t *testing.T) {
	store, hub, _ := newTestStore(t)
	ctx := context.Background()
	uploader := &fakeUploader{release: make(chan struct{})}
	view := openTestView(t, store, hub, uploader, "stu", "t1")

	type result struct {
		msg model.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := view.SendImage(ctx, "file:///sdcard/DCIM/1.jpg", "1.jpg", strings.NewReader("jpeg bytes"))
		done <- result{msg, err}
	}()

	require.Eventually(t, func() bool {
		for _, m := range view.Snapshot().Messages {
			if m.Type == model.MessageTypeImage && m.ImageURL == "file:///sdcard/DCIM/1.jpg" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	close(uploader.release)
	res := <-done
	require.NoError(t, res.err)
	assert.True(t, strings.HasPrefix(res.msg.ImageURL, "https://cdn.example.com/chat/stu_t1/"))

	msgs, err := store.ListMessages(ctx, "stu_t1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, res.msg.ImageURL, msgs[0].ImageURL)
	assert.Equal(t, ImageMessageText, msgs[0].Text)
}

func TestConversationView_ClosedViewIgnoresUpdates(t *testing.T) {
	store, hub, _ := newTestStore(t)
	ctx := context.Background()
	upsert(t, store, &model.Conversation{ID: "t1_stu", Participants: model.BoolSet{"t1": true, "stu": true}})

	view := openTestView(t, store, hub, nil, "stu", "t1")
	assert.Equal(t, "t1_stu", view.ConversationID())

	updates, stop := view.Watch()
	defer stop()
	<-updates

	view.Close()
	require.NoError(t, store.WriteMessage(ctx, model.Message{MessageID: "late", ConversationID: "t1_stu", SenderID: "t1", ReceiverID: "stu", Text: "late", TimeStamp: 1}))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, hasMessage(view.Snapshot(), "late"))

	for range updates {
		// drain; Close closed the channel
	}
}

func TestConversationView_LiveUpdatesKeepPendingSends(t *testing.T) {
	store, hub, _ := newTestStore(t)
	view := openTestView(t, store, hub, nil, "stu", "t1")

	view.mu.Lock()
	view.convID = "stu_t1"
	view.pending["optimistic"] = model.Message{MessageID: "optimistic", ConversationID: "stu_t1", TimeStamp: 5}
	view.mu.Unlock()

	view.apply(FeedUpdate{ConversationID: "stu_t1", Messages: []model.Message{{MessageID: "server", TimeStamp: 1}}})
	snap := view.Snapshot()
	assert.True(t, hasMessage(snap, "server"))
	assert.True(t, hasMessage(snap, "optimistic"))

	// Updates for another conversation are stale and dropped
	view.apply(FeedUpdate{ConversationID: "other", Messages: nil})
	assert.True(t, hasMessage(view.Snapshot(), "server"))
}

func TestSendText_ConcurrentFirstSendsShareConversation(t *testing.T) {
	store, hub, ops := newTestStore(t)
	ctx := context.Background()
	view := openTestView(t, store, hub, nil, "stu", "t1")

	sent := make([]model.Message, 2)
	var wg sync.WaitGroup
	for i := range sent {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg, err := view.SendText(ctx, "hello")
			assert.NoError(t, err)
			sent[i] = msg
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, ops.count("PutConversation"))
	assert.Equal(t, "stu_t1", sent[0].ConversationID)
	assert.Equal(t, sent[0].ConversationID, sent[1].ConversationID)

	conv, err := store.GetConversation(ctx, "stu_t1")
	require.NoError(t, err)
	assert.Equal(t, 2, conv.Unread["t1"])

	msgs, err := store.ListMessages(ctx, "stu_t1")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestConversationView_ClosedViewLeavesRepliesUnread(t *testing.T) {
	store, hub, _ := newTestStore(t)
	ctx := context.Background()
	upsert(t, store, &model.Conversation{ID: "stu_t1", Participants: model.BoolSet{"stu": true, "t1": true}})

	view := openTestView(t, store, hub, nil, "stu", "t1")
	view.Close()
	// Let the reset issued by the opening read land first
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, store.WriteMessage(ctx, model.Message{MessageID: "reply", ConversationID: "stu_t1", SenderID: "t1", ReceiverID: "stu", Text: "Yes", TimeStamp: 1}))
	time.Sleep(50 * time.Millisecond)

	conv, err := store.GetConversation(ctx, "stu_t1")
	require.NoError(t, err)
	assert.Equal(t, 1, conv.Unread["stu"])

	msgs, err := store.ListMessages(ctx, "stu_t1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Seen)
}

func TestConversationView_OpenViewMarksRepliesSeen(t *testing.T) {
	store, hub, _ := newTestStore(t)
	ctx := context.Background()
	upsert(t, store, &model.Conversation{ID: "stu_t1", Participants: model.BoolSet{"stu": true, "t1": true}})

	openTestView(t, store, hub, nil, "stu", "t1")
	require.NoError(t, store.WriteMessage(ctx, model.Message{MessageID: "reply", ConversationID: "stu_t1", SenderID: "t1", ReceiverID: "stu", Text: "Yes", TimeStamp: 1}))

	require.Eventually(t, func() bool {
		conv, err := store.GetConversation(ctx, "stu_t1")
		return err == nil && conv.Unread["stu"] == 0
	}, time.Second, 10*time.Millisecond)
}

func TestConversationView_MarkSeenAfterOneShotRead(t *testing.T) {
	store, hub, _ := newTestStore(t)
	ctx := context.Background()
	upsert(t, store, &model.Conversation{ID: "stu_t1", Participants: model.BoolSet{"stu": true, "t1": true}})
	require.NoError(t, store.WriteMessage(ctx, model.Message{MessageID: "m1", ConversationID: "stu_t1", SenderID: "t1", ReceiverID: "stu", Text: "Homework?", TimeStamp: 1}))

	view := openTestView(t, store, hub, nil, "stu", "t1")
	require.True(t, hasMessage(view.Snapshot(), "m1"))
	view.Close()
	view.MarkSeen()

	require.Eventually(t, func() bool {
		conv, err := store.GetConversation(ctx, "stu_t1")
		if err != nil || conv.Unread["stu"] != 0 {
			return false
		}
		msgs, err := store.ListMessages(ctx, "stu_t1")
		return err == nil && len(msgs) == 1 && msgs[0].Seen
	}, time.Second, 10*time.Millisecond)
}
