package database

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/sahilchouksey/school-connect/model"
	"github.com/sahilchouksey/school-connect/services/realtime"
)

// MemoryStore keeps every collection in process. Used with STORE_DRIVER=memory and in tests.
type MemoryStore struct {
	mu  sync.RWMutex
	hub Publisher

	users         map[string]model.User
	students      map[string]model.Student
	courses       map[string]model.Course
	assignments   map[string]model.TeacherAssignment
	teachers      map[string]model.Teacher
	admins        map[string]model.SchoolAdmin
	conversations map[string]model.Conversation
	messages      map[string]map[string]model.Message
	posts         map[string]model.Post
	textbooks     map[string]model.Textbook
	chapters      map[string]model.Chapter
	marks         map[string]model.Mark

	// Fail, when set, is consulted before every operation. Tests use it to inject failures.
	Fail func(op string) error
}

// NewMemoryStore creates an empty store. hub may be nil.
func NewMemoryStore(hub Publisher) *MemoryStore {
	return &MemoryStore{
		hub:           hub,
		users:         map[string]model.User{},
		students:      map[string]model.Student{},
		courses:       map[string]model.Course{},
		assignments:   map[string]model.TeacherAssignment{},
		teachers:      map[string]model.Teacher{},
		admins:        map[string]model.SchoolAdmin{},
		conversations: map[string]model.Conversation{},
		messages:      map[string]map[string]model.Message{},
		posts:         map[string]model.Post{},
		textbooks:     map[string]model.Textbook{},
		chapters:      map[string]model.Chapter{},
		marks:         map[string]model.Mark{},
	}
}

func (s *MemoryStore) Init() error        { return nil }
func (s *MemoryStore) Close() error       { return nil }
func (s *MemoryStore) HealthCheck() error { return nil }

func (s *MemoryStore) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Fail != nil {
		return s.Fail(op)
	}
	return nil
}

func (s *MemoryStore) publish(ctx context.Context, topic string) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Publish(ctx, topic); err != nil {
		log.Printf("Failed to publish change on %s: %v", topic, err)
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, records ...interface{}) error {
	if err := s.check(ctx, "Upsert"); err != nil {
		return err
	}

	touchedPosts := false
	touched := map[string]bool{}

	s.mu.Lock()
	for _, record := range records {
		switch r := record.(type) {
		case *model.User:
			s.users[r.NodeKey] = *r
		case *model.Student:
			s.students[r.NodeKey] = *r
		case *model.Course:
			s.courses[r.Key] = *r
		case *model.TeacherAssignment:
			s.assignments[r.Key] = *r
		case *model.Teacher:
			s.teachers[r.Key] = *r
		case *model.SchoolAdmin:
			s.admins[r.Key] = *r
		case *model.Conversation:
			s.conversations[r.ID] = cloneConversation(*r)
			touched[r.ID] = true
		case *model.Message:
			if s.messages[r.ConversationID] == nil {
				s.messages[r.ConversationID] = map[string]model.Message{}
			}
			s.messages[r.ConversationID][r.MessageID] = *r
			touched[r.ConversationID] = true
		case *model.Post:
			r.SyncSortKey()
			s.posts[r.PostID] = r.Clone()
			touchedPosts = true
		case *model.Textbook:
			book := *r
			for _, ch := range book.Chapters {
				s.chapters[ch.ID] = ch
			}
			book.Chapters = nil
			s.textbooks[book.ID] = book
		case *model.Chapter:
			s.chapters[r.ID] = *r
		case *model.Mark:
			s.marks[r.Key] = *r
		default:
			s.mu.Unlock()
			return fmt.Errorf("unsupported record type %T", record)
		}
	}
	s.mu.Unlock()

	if touchedPosts {
		s.publish(ctx, realtime.PostsTopic)
	}
	for id := range touched {
		s.publish(ctx, realtime.ConversationTopic(id))
	}
	return nil
}

func cloneConversation(c model.Conversation) model.Conversation {
	c.Participants = c.Participants.Clone()
	c.Unread = c.Unread.Clone()
	return c
}

// Directory

func (s *MemoryStore) GetUser(ctx context.Context, nodeKey string) (*model.User, error) {
	if err := s.check(ctx, "GetUser"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[nodeKey]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *MemoryStore) GetStudent(ctx context.Context, nodeKey string) (*model.Student, error) {
	if err := s.check(ctx, "GetStudent"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.students[nodeKey]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (s *MemoryStore) ListCourses(ctx context.Context) ([]model.Course, error) {
	if err := s.check(ctx, "ListCourses"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Course, 0, len(s.courses))
	for _, c := range s.courses {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) ListTeacherAssignments(ctx context.Context) ([]model.TeacherAssignment, error) {
	if err := s.check(ctx, "ListTeacherAssignments"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.TeacherAssignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) GetTeacher(ctx context.Context, key string) (*model.Teacher, error) {
	if err := s.check(ctx, "GetTeacher"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.teachers[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *MemoryStore) ListSchoolAdmins(ctx context.Context) ([]model.SchoolAdmin, error) {
	if err := s.check(ctx, "ListSchoolAdmins"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.SchoolAdmin, 0, len(s.admins))
	for _, a := range s.admins {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Conversations

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	if err := s.check(ctx, "GetConversation"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c = cloneConversation(c)
	return &c, nil
}

func (s *MemoryStore) PutConversation(ctx context.Context, conv *model.Conversation) error {
	if err := s.check(ctx, "PutConversation"); err != nil {
		return err
	}
	s.mu.Lock()
	s.conversations[conv.ID] = cloneConversation(*conv)
	s.mu.Unlock()

	s.publish(ctx, realtime.ConversationTopic(conv.ID))
	return nil
}

func (s *MemoryStore) ListConversationsForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	if err := s.check(ctx, "ListConversationsForUser"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Conversation
	for _, c := range s.conversations {
		if c.Participants.Has(userID) {
			out = append(out, cloneConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	if err := s.check(ctx, "ListMessages"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Message, 0, len(s.messages[conversationID]))
	for _, m := range s.messages[conversationID] {
		out = append(out, m)
	}
	model.SortMessages(out)
	return out, nil
}

func (s *MemoryStore) WriteMessage(ctx context.Context, msg model.Message) error {
	if err := s.check(ctx, "WriteMessage"); err != nil {
		return err
	}

	s.mu.Lock()
	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("failed to write message %s: %w", msg.MessageID, ErrNotFound)
	}
	if s.messages[msg.ConversationID] == nil {
		s.messages[msg.ConversationID] = map[string]model.Message{}
	}
	s.messages[msg.ConversationID][msg.MessageID] = msg

	conv = cloneConversation(conv)
	conv.SetLast(model.LastMessage{
		SenderID:  msg.SenderID,
		Text:      msg.Text,
		TimeStamp: msg.TimeStamp,
		Type:      msg.Type,
	})
	conv.Unread[msg.ReceiverID]++
	conv.UpdatedAt = time.Now()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()

	s.publish(ctx, realtime.ConversationTopic(msg.ConversationID))
	return nil
}

func (s *MemoryStore) MarkMessageSeen(ctx context.Context, conversationID, messageID string) error {
	if err := s.check(ctx, "MarkMessageSeen"); err != nil {
		return err
	}

	s.mu.Lock()
	m, ok := s.messages[conversationID][messageID]
	changed := ok && !m.Seen
	if changed {
		m.Seen = true
		s.messages[conversationID][messageID] = m
	}
	s.mu.Unlock()

	if changed {
		s.publish(ctx, realtime.ConversationTopic(conversationID))
	}
	return nil
}

func (s *MemoryStore) ResetUnread(ctx context.Context, conversationID, userID string) error {
	if err := s.check(ctx, "ResetUnread"); err != nil {
		return err
	}

	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	conv = cloneConversation(conv)
	changed := false
	if conv.Unread[userID] != 0 {
		conv.Unread[userID] = 0
		changed = true
	}
	if last := conv.Last(); !last.Seen && last.SenderID != "" && last.SenderID != userID {
		last.Seen = true
		conv.SetLast(last)
		changed = true
	}
	if changed {
		s.conversations[conversationID] = conv
	}
	s.mu.Unlock()

	if changed {
		s.publish(ctx, realtime.ConversationTopic(conversationID))
	}
	return nil
}

// Posts

func (s *MemoryStore) sortedPosts(cursor *PostCursor) []model.Post {
	out := make([]model.Post, 0, len(s.posts))
	for _, p := range s.posts {
		if cursor != nil && !atOrBefore(CursorOf(p), *cursor) {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return !atOrBefore(CursorOf(out[i]), CursorOf(out[j]))
	})
	return out
}

// atOrBefore reports whether a sorts at or after b in feed order
func atOrBefore(a, b PostCursor) bool {
	if a.SortKey != b.SortKey {
		return a.SortKey < b.SortKey
	}
	return a.PostID <= b.PostID
}

func limitPosts(posts []model.Post, limit int) []model.Post {
	if limit > 0 && len(posts) > limit {
		return posts[:limit]
	}
	return posts
}

func (s *MemoryStore) LatestPosts(ctx context.Context, limit int) ([]model.Post, error) {
	if err := s.check(ctx, "LatestPosts"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return limitPosts(s.sortedPosts(nil), limit), nil
}

func (s *MemoryStore) PostsAtOrBefore(ctx context.Context, cursor PostCursor, limit int) ([]model.Post, error) {
	if err := s.check(ctx, "PostsAtOrBefore"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return limitPosts(s.sortedPosts(&cursor), limit), nil
}

func (s *MemoryStore) GetPost(ctx context.Context, postID string) (*model.Post, error) {
	if err := s.check(ctx, "GetPost"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[postID]
	if !ok {
		return nil, ErrNotFound
	}
	p = p.Clone()
	return &p, nil
}

func (s *MemoryStore) TogglePostLike(ctx context.Context, postID, userID string) (*model.Post, error) {
	if err := s.check(ctx, "TogglePostLike"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	p, ok := s.posts[postID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to toggle like on %s: %w", postID, ErrNotFound)
	}
	p = p.Clone()
	applyLikeToggle(&p, userID)
	s.posts[postID] = p
	s.mu.Unlock()

	s.publish(ctx, realtime.PostsTopic)
	out := p.Clone()
	return &out, nil
}

func (s *MemoryStore) MarkPostSeen(ctx context.Context, postID, userID string) error {
	if err := s.check(ctx, "MarkPostSeen"); err != nil {
		return err
	}

	s.mu.Lock()
	p, ok := s.posts[postID]
	changed := ok && !p.SeenBy.Has(userID)
	if changed {
		p = p.Clone()
		p.SeenBy[userID] = true
		s.posts[postID] = p
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	if changed {
		s.publish(ctx, realtime.PostsTopic)
	}
	return nil
}

// Library

func (s *MemoryStore) ListTextbooks(ctx context.Context, grade model.FlexString) ([]model.Textbook, error) {
	if err := s.check(ctx, "ListTextbooks"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Textbook
	for _, b := range s.textbooks {
		if grade == "" || b.Grade.Equal(grade) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (s *MemoryStore) ListChapters(ctx context.Context, textbookID string) ([]model.Chapter, error) {
	if err := s.check(ctx, "ListChapters"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Chapter
	for _, ch := range s.chapters {
		if ch.TextbookID == textbookID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *MemoryStore) GetChapter(ctx context.Context, chapterID string) (*model.Chapter, error) {
	if err := s.check(ctx, "GetChapter"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.chapters[chapterID]
	if !ok {
		return nil, ErrNotFound
	}
	return &ch, nil
}

func (s *MemoryStore) ListMarks(ctx context.Context, studentNodeKey string) ([]model.Mark, error) {
	if err := s.check(ctx, "ListMarks"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Mark
	for _, m := range s.marks {
		if m.StudentNodeKey == studentNodeKey {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

var (
	_ DocumentStore = (*MemoryStore)(nil)
	_ DocumentStore = (*GORMStore)(nil)
)
