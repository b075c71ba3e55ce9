package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sahilchouksey/school-connect/database"
	"github.com/sahilchouksey/school-connect/model"
	"golang.org/x/sync/singleflight"
)

// ConversationID is the deterministic id of the conversation opened by a with b
func ConversationID(a, b string) string {
	return a + "_" + b
}

// ConversationService locates conversations under either participant ordering
type ConversationService struct {
	store    database.ConversationStore
	now      func() time.Time
	creating singleflight.Group
}

// NewConversationService creates a locator
func NewConversationService(store database.ConversationStore) *ConversationService {
	return &ConversationService{store: store, now: time.Now}
}

// Locate looks up a_b then b_a. When neither exists it returns "" unless createIfMissing,
// in which case the conversation is created under a_b. Creates for the same pair are
// collapsed within this process; two servers creating at once may both write and the
// last write wins.
func (s *ConversationService) Locate(ctx context.Context, a, b string, createIfMissing bool) (string, error) {
	if a == "" || b == "" || a == b {
		return "", ErrInvalidParticipants
	}

	id, err := s.lookup(ctx, a, b)
	if err != nil || id != "" || !createIfMissing {
		return id, err
	}

	v, err, _ := s.creating.Do(pairKey(a, b), func() (interface{}, error) {
		// A create that finished before this call joined the group is found here
		if id, err := s.lookup(ctx, a, b); err != nil || id != "" {
			return id, err
		}
		return s.create(ctx, a, b)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *ConversationService) lookup(ctx context.Context, a, b string) (string, error) {
	for _, id := range []string{ConversationID(a, b), ConversationID(b, a)} {
		_, err := s.store.GetConversation(ctx, id)
		if err == nil {
			return id, nil
		}
		// Anything but a clean miss must not fall through to creation
		if !errors.Is(err, database.ErrNotFound) {
			return "", fmt.Errorf("failed to look up conversation %s: %w", id, err)
		}
	}
	return "", nil
}

func (s *ConversationService) create(ctx context.Context, a, b string) (string, error) {
	id := ConversationID(a, b)
	conv := &model.Conversation{
		ID:           id,
		Participants: model.BoolSet{a: true, b: true},
		Unread:       model.CountMap{a: 0, b: 0},
	}
	conv.SetLast(model.LastMessage{
		Text:      "",
		TimeStamp: s.now().UnixMilli(),
		Type:      model.MessageTypeSystem,
	})

	if err := s.store.PutConversation(ctx, conv); err != nil {
		return "", fmt.Errorf("failed to create conversation %s: %w", id, err)
	}
	return id, nil
}

// pairKey is the same for both orderings of a and b
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}
