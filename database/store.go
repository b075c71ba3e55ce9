package database

import (
	"context"
	"errors"

	"github.com/sahilchouksey/school-connect/model"
)

// ErrNotFound is returned by point reads when the record does not exist
var ErrNotFound = errors.New("record not found")

// Publisher announces that a topic's data changed
type Publisher interface {
	Publish(ctx context.Context, topic string) error
}

// DirectoryReader reads the join sources used to build a student's contact directory
type DirectoryReader interface {
	GetUser(ctx context.Context, nodeKey string) (*model.User, error)
	GetStudent(ctx context.Context, nodeKey string) (*model.Student, error)
	ListCourses(ctx context.Context) ([]model.Course, error)
	ListTeacherAssignments(ctx context.Context) ([]model.TeacherAssignment, error)
	GetTeacher(ctx context.Context, key string) (*model.Teacher, error)
	ListSchoolAdmins(ctx context.Context) ([]model.SchoolAdmin, error)
}

// ConversationStore reads and writes conversations and their messages
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	PutConversation(ctx context.Context, conv *model.Conversation) error
	ListConversationsForUser(ctx context.Context, userID string) ([]model.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)

	// WriteMessage stores the message, replaces the conversation's last message and
	// increments the receiver's unread counter in one write.
	WriteMessage(ctx context.Context, msg model.Message) error

	// MarkMessageSeen and ResetUnread only publish when they changed something
	MarkMessageSeen(ctx context.Context, conversationID, messageID string) error
	ResetUnread(ctx context.Context, conversationID, userID string) error
}

// PostStore reads posts newest first and applies the viewer side mutations
type PostStore interface {
	LatestPosts(ctx context.Context, limit int) ([]model.Post, error)
	// PostsAtOrBefore returns the post at cursor and the posts that follow it in feed order
	PostsAtOrBefore(ctx context.Context, cursor PostCursor, limit int) ([]model.Post, error)
	GetPost(ctx context.Context, postID string) (*model.Post, error)
	TogglePostLike(ctx context.Context, postID, userID string) (*model.Post, error)
	MarkPostSeen(ctx context.Context, postID, userID string) error
}

// PostCursor is a position in feed order: sort key desc, then post id desc.
// Posts sharing a timestamp are told apart by id.
type PostCursor struct {
	SortKey int64
	PostID  string
}

// CursorOf returns the feed position of post
func CursorOf(post model.Post) PostCursor {
	return PostCursor{SortKey: post.Timestamp().UnixMilli(), PostID: post.PostID}
}

// LibraryStore reads textbooks, chapters and marks
type LibraryStore interface {
	ListTextbooks(ctx context.Context, grade model.FlexString) ([]model.Textbook, error)
	ListChapters(ctx context.Context, textbookID string) ([]model.Chapter, error)
	GetChapter(ctx context.Context, chapterID string) (*model.Chapter, error)
	ListMarks(ctx context.Context, studentNodeKey string) ([]model.Mark, error)
}

// DocumentStore is everything the service reads and writes
type DocumentStore interface {
	DirectoryReader
	ConversationStore
	PostStore
	LibraryStore

	// Upsert saves records of any model type, used by seeding and tests
	Upsert(ctx context.Context, records ...interface{}) error

	Init() error
	Close() error
	HealthCheck() error
}
