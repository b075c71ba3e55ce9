package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sahilchouksey/school-connect/database"
	"github.com/sahilchouksey/school-connect/model"
	"github.com/sahilchouksey/school-connect/services/realtime"
)

// DaySection groups the messages of one calendar day in the viewer's location
type DaySection struct {
	Title    string          `json:"title"`
	Date     string          `json:"date"`
	Messages []model.Message `json:"messages"`
}

// FeedUpdate is one emission of a conversation's message list
type FeedUpdate struct {
	ConversationID string          `json:"conversationId"`
	Messages       []model.Message `json:"messages"`
	Sections       []DaySection    `json:"sections"`
}

// MessageFeedService turns store change signals into sorted, grouped message lists
type MessageFeedService struct {
	store    database.ConversationStore
	hub      realtime.Hub
	location *time.Location
	now      func() time.Time
}

// NewMessageFeedService creates a feed service. loc is the viewer calendar; nil means UTC.
func NewMessageFeedService(store database.ConversationStore, hub realtime.Hub, loc *time.Location) *MessageFeedService {
	if loc == nil {
		loc = time.UTC
	}
	return &MessageFeedService{store: store, hub: hub, location: loc, now: time.Now}
}

// MessageSubscription is a live message list for one conversation
type MessageSubscription struct {
	ConversationID string

	updates chan FeedUpdate
	cancel  context.CancelFunc
	done    chan struct{}
}

// Updates delivers the latest list. Slow readers only ever see the newest update.
// Closed after Close.
func (m *MessageSubscription) Updates() <-chan FeedUpdate {
	return m.updates
}

// Close stops the subscription and waits for it to wind down
func (m *MessageSubscription) Close() {
	m.cancel()
	<-m.done
}

// Subscribe emits the current list immediately and again after every change. Each emission
// marks messages addressed to viewerID as seen and resets the viewer's unread counter,
// both fire-and-forget.
func (s *MessageFeedService) Subscribe(ctx context.Context, conversationID, viewerID string) (*MessageSubscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	sub, err := s.hub.Subscribe(ctx, realtime.ConversationTopic(conversationID))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to conversation %s: %w", conversationID, err)
	}

	ms := &MessageSubscription{
		ConversationID: conversationID,
		updates:        make(chan FeedUpdate, 1),
		cancel:         cancel,
		done:           make(chan struct{}),
	}

	go s.run(ctx, ms, sub, viewerID)
	return ms, nil
}

func (s *MessageFeedService) run(ctx context.Context, ms *MessageSubscription, sub *realtime.Subscription, viewerID string) {
	defer close(ms.done)
	defer close(ms.updates)
	defer sub.Close()

	emit := func() {
		update, err := s.Fetch(ctx, ms.ConversationID)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("Warning: failed to read messages of %s: %v", ms.ConversationID, err)
			}
			return
		}

		// Replace any unread pending update
		select {
		case <-ms.updates:
		default:
		}
		ms.updates <- update

		s.markSeen(ms.ConversationID, viewerID, update.Messages)
	}

	emit()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case <-sub.C():
			emit()
		}
	}
}

// Fetch reads, sorts and groups a conversation's messages once
func (s *MessageFeedService) Fetch(ctx context.Context, conversationID string) (FeedUpdate, error) {
	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return FeedUpdate{}, err
	}
	model.SortMessages(messages)

	return FeedUpdate{
		ConversationID: conversationID,
		Messages:       messages,
		Sections:       GroupByDay(messages, s.now(), s.location),
	}, nil
}

func (s *MessageFeedService) markSeen(conversationID, viewerID string, messages []model.Message) {
	if viewerID == "" {
		return
	}
	for _, m := range messages {
		if m.ReceiverID == viewerID && !m.Seen {
			messageID := m.MessageID
			bestEffort("mark_message_seen", func(ctx context.Context) error {
				return s.store.MarkMessageSeen(ctx, conversationID, messageID)
			})
		}
	}
	bestEffort("reset_unread", func(ctx context.Context) error {
		return s.store.ResetUnread(ctx, conversationID, viewerID)
	})
}

// GroupByDay splits sorted messages into calendar-day sections titled
// "Today", "Yesterday" or the date.
func GroupByDay(messages []model.Message, now time.Time, loc *time.Location) []DaySection {
	if loc == nil {
		loc = time.UTC
	}
	today := now.In(loc).Format(time.DateOnly)
	yesterday := now.In(loc).AddDate(0, 0, -1).Format(time.DateOnly)

	var sections []DaySection
	for _, m := range messages {
		t := time.UnixMilli(m.TimeStamp).In(loc)
		day := t.Format(time.DateOnly)

		if n := len(sections); n == 0 || sections[n-1].Date != day {
			title := t.Format("January 2, 2006")
			switch day {
			case today:
				title = "Today"
			case yesterday:
				title = "Yesterday"
			}
			sections = append(sections, DaySection{Title: title, Date: day})
		}
		last := &sections[len(sections)-1]
		last.Messages = append(last.Messages, m)
	}
	return sections
}
