package services

import (
	"context"
	"testing"
	"time"

	"github.com/sahilchouksey/school-connect/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupByDay(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, loc)
	at := func(d time.Time) int64 { return d.UnixMilli() }

	messages := []model.Message{
		{MessageID: "1", TimeStamp: at(time.Date(2024, 3, 1, 9, 0, 0, 0, loc))},
		{MessageID: "2", TimeStamp: at(time.Date(2024, 3, 14, 23, 59, 0, 0, loc))},
		{MessageID: "3", TimeStamp: at(time.Date(2024, 3, 15, 0, 1, 0, 0, loc))},
		{MessageID: "4", TimeStamp: at(time.Date(2024, 3, 15, 9, 0, 0, 0, loc))},
	}

	sections := GroupByDay(messages, now, loc)
	require.Len(t, sections, 3)
	assert.Equal(t, "March 1, 2024", sections[0].Title)
	assert.Equal(t, "Yesterday", sections[1].Title)
	assert.Equal(t, "Today", sections[2].Title)
	assert.Len(t, sections[2].Messages, 2)
	assert.Equal(t, "2024-03-14", sections[1].Date)
}

func TestGroupByDay_UsesViewerCalendar(t *testing.T) {
	// 20:00 UTC on the 14th is already the 15th in IST
	ts := time.Date(2024, 3, 14, 20, 0, 0, 0, time.UTC).UnixMilli()
	now := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)

	utc := GroupByDay([]model.Message{{MessageID: "1", TimeStamp: ts}}, now, time.UTC)
	ist := GroupByDay([]model.Message{{MessageID: "1", TimeStamp: ts}}, now, time.FixedZone("IST", 5*3600+1800))

	assert.Equal(t, "Yesterday", utc[0].Title)
	assert.Equal(t, "Today", ist[0].Title)
}

func TestSubscribe_EmitsSortedAndMarksSeen(t *testing.T) {
	store, hub, _ := newTestStore(t)
	ctx := context.Background()

	conv := &model.Conversation{ID: "t1_stu", Participants: model.BoolSet{"t1": true, "stu": true}, Unread: model.CountMap{"stu": 2}}
	conv.SetLast(model.LastMessage{SenderID: "t1", Text: "b", TimeStamp: 2000})
	upsert(t, store, conv,
		&model.Message{MessageID: "m2", ConversationID: "t1_stu", SenderID: "t1", ReceiverID: "stu", Text: "b", TimeStamp: 2000},
		&model.Message{MessageID: "m1", ConversationID: "t1_stu", SenderID: "t1", ReceiverID: "stu", Text: "a", TimeStamp: 1000},
		&model.Message{MessageID: "m0", ConversationID: "t1_stu", SenderID: "stu", ReceiverID: "t1", Text: "hi", TimeStamp: 500},
	)

	feed := NewMessageFeedService(store, hub, time.UTC)
	sub, err := feed.Subscribe(ctx, "t1_stu", "stu")
	require.NoError(t, err)
	defer sub.Close()

	select {
	case update := <-sub.Updates():
		require.Len(t, update.Messages, 3)
		assert.Equal(t, []string{"m0", "m1", "m2"}, []string{update.Messages[0].MessageID, update.Messages[1].MessageID, update.Messages[2].MessageID})
	case <-time.After(2 * time.Second):
		t.Fatal("no initial update")
	}

	require.Eventually(t, func() bool {
		msgs, err := store.ListMessages(ctx, "t1_stu")
		if err != nil {
			return false
		}
		for _, m := range msgs {
			if m.ReceiverID == "stu" && !m.Seen {
				return false
			}
		}
		c, err := store.GetConversation(ctx, "t1_stu")
		return err == nil && c.Unread["stu"] == 0 && c.Last().Seen
	}, 2*time.Second, 10*time.Millisecond)

	// The message sent by the viewer is not theirs to mark
	msgs, err := store.ListMessages(ctx, "t1_stu")
	require.NoError(t, err)
	assert.False(t, msgs[0].Seen)
}

func TestSubscribe_FollowsNewMessagesAndStopsOnClose(t *testing.T) {
	store, hub, _ := newTestStore(t)
	ctx := context.Background()
	upsert(t, store, &model.Conversation{ID: "a_b", Participants: model.BoolSet{"a": true, "b": true}})

	sub, err := NewMessageFeedService(store, hub, nil).Subscribe(ctx, "a_b", "a")
	require.NoError(t, err)

	first := <-sub.Updates()
	assert.Empty(t, first.Messages)

	require.NoError(t, store.WriteMessage(ctx, model.Message{MessageID: "m1", ConversationID: "a_b", SenderID: "a", ReceiverID: "b", Text: "hey", TimeStamp: 1}))

	require.Eventually(t, func() bool {
		select {
		case u := <-sub.Updates():
			return len(u.Messages) == 1
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	sub.Close()
	for range sub.Updates() {
		// drain whatever was buffered; the loop ends because the channel is closed
	}
}
