package services

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/sahilchouksey/school-connect/model"
	"github.com/sahilchouksey/school-connect/utils/cache"
)

// ContactSnapshot is the contact list last persisted on the device
type ContactSnapshot struct {
	Contacts  []model.Contact `json:"contacts"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// ContactCacheService merges freshly built contacts with the device cache
type ContactCacheService struct {
	device cache.DeviceStore
	now    func() time.Time
}

// NewContactCacheService creates a reconciler over one device store
func NewContactCacheService(device cache.DeviceStore) *ContactCacheService {
	return &ContactCacheService{device: device, now: time.Now}
}

// Load returns the persisted snapshot. A missing or unreadable cache is an empty snapshot.
func (s *ContactCacheService) Load(ctx context.Context) (ContactSnapshot, error) {
	var snap ContactSnapshot
	if err := ctx.Err(); err != nil {
		return snap, err
	}

	if err := s.device.GetJSON(ctx, cache.KeyChatsCache, &snap.Contacts); err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			log.Printf("Warning: ignoring unreadable contact cache: %v", err)
		}
		return ContactSnapshot{}, nil
	}

	if raw, err := s.device.Get(ctx, cache.KeyChatsCacheFetchedAt); err == nil {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			snap.FetchedAt = time.UnixMilli(ms)
		}
	}
	return snap, nil
}

// MergeAndPersist merges serverContacts over the cached list and saves the result.
// Per key, whichever side has the strictly newer last message time supplies the message
// fields. The merged server entries are re-sorted; cache entries with no server
// counterpart are appended unchanged after them.
func (s *ContactCacheService) MergeAndPersist(ctx context.Context, serverContacts []model.Contact) ([]model.Contact, error) {
	snap, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}

	merged := MergeContacts(snap.Contacts, serverContacts)

	if err := s.device.SetJSON(ctx, cache.KeyChatsCache, merged); err != nil {
		log.Printf("Warning: failed to persist contact cache: %v", err)
		return merged, nil
	}
	fetchedAt := strconv.FormatInt(s.now().UnixMilli(), 10)
	if err := s.device.Set(ctx, cache.KeyChatsCacheFetchedAt, fetchedAt); err != nil {
		log.Printf("Warning: failed to persist contact cache timestamp: %v", err)
	}

	return merged, nil
}

// MergeContacts is the pure merge behind MergeAndPersist
func MergeContacts(cached, server []model.Contact) []model.Contact {
	pending := make(map[string]int, len(cached))
	for i, c := range cached {
		if _, dup := pending[c.Key]; !dup {
			pending[c.Key] = i
		}
	}

	out := make([]model.Contact, 0, len(server)+len(cached))
	emitted := make(map[string]bool, len(server)+len(cached))

	for _, sc := range server {
		if emitted[sc.Key] {
			continue
		}
		emitted[sc.Key] = true

		idx, ok := pending[sc.Key]
		if !ok {
			out = append(out, sc)
			continue
		}
		delete(pending, sc.Key)
		out = append(out, mergeContact(cached[idx], sc))
	}
	// Cached message fields may have changed the order
	SortContacts(out)

	for _, c := range cached {
		if _, ok := pending[c.Key]; ok && !emitted[c.Key] {
			emitted[c.Key] = true
			out = append(out, c)
		}
	}

	return out
}

func mergeContact(cached, server model.Contact) model.Contact {
	merged := server

	if cached.LastMessageTime > server.LastMessageTime {
		merged.LastMessageText = cached.LastMessageText
		merged.LastMessageTime = cached.LastMessageTime
		merged.LastSenderID = cached.LastSenderID
		merged.LastSeen = cached.LastSeen
		merged.UnreadCount = cached.UnreadCount
		if merged.ConversationID == "" {
			merged.ConversationID = cached.ConversationID
		}
	}

	if server.Name == "" || server.Name == PlaceholderName {
		if cached.Name != "" {
			merged.Name = cached.Name
		}
	}
	if server.ProfileImage == "" {
		merged.ProfileImage = cached.ProfileImage
	}

	return merged
}
