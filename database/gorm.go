package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sahilchouksey/school-connect/config"
	"github.com/sahilchouksey/school-connect/model"
	"github.com/sahilchouksey/school-connect/services/realtime"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type GORMStore struct {
	db  *gorm.DB
	hub Publisher
}

// StartGORM initializes a GORM connection to PostgreSQL. hub may be nil.
func StartGORM(hub Publisher) (*GORMStore, error) {
	getEnv, err := config.Get()
	if err != nil {
		return nil, err
	}

	// Configure GORM logger
	gormLogger := logger.Default.LogMode(logger.Info)
	if getEnv.GO_ENV == "production" {
		gormLogger = logger.Default.LogMode(logger.Error)
	}

	db, err := gorm.Open(postgres.Open(getEnv.PostgresDSN()), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: false,
		PrepareStmt:            true,
	})
	if err != nil {
		log.Println("Unable to connect to PostgreSQL with GORM:", err)
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// Connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Println("Successfully connected to PostgreSQL Database with GORM.")

	return &GORMStore{db: db, hub: hub}, nil
}

// Init runs the AutoMigrate to create/update tables
func (s *GORMStore) Init() error {
	log.Println("Running GORM AutoMigrate for all models...")

	err := s.db.AutoMigrate(
		// Directory join sources
		&model.User{},
		&model.Student{},
		&model.Course{},
		&model.TeacherAssignment{},
		&model.Teacher{},
		&model.SchoolAdmin{},

		// Chat
		&model.Conversation{},
		&model.Message{},

		// Feed
		&model.Post{},

		// Library and gradebook
		&model.Textbook{},
		&model.Chapter{},
		&model.Mark{},

		// Background jobs
		&model.CronJobLog{},
	)
	if err != nil {
		log.Println("Error running AutoMigrate:", err)
		return err
	}

	log.Println("GORM AutoMigrate completed successfully!")
	return nil
}

// Close closes the database connection
func (s *GORMStore) Close() error {
	log.Println("Closing GORM PostgreSQL connection...")
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB returns the GORM DB instance
func (s *GORMStore) GetDB() *gorm.DB {
	return s.db
}

// HealthCheck verifies the database connection is alive
func (s *GORMStore) HealthCheck() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func (s *GORMStore) publish(ctx context.Context, topic string) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Publish(ctx, topic); err != nil {
		log.Printf("Failed to publish change on %s: %v", topic, err)
	}
}

func first[T any](ctx context.Context, db *gorm.DB, query string, args ...interface{}) (*T, error) {
	var out T
	if err := db.WithContext(ctx).Where(query, args...).First(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (s *GORMStore) Upsert(ctx context.Context, records ...interface{}) error {
	touchedPosts := false
	touched := map[string]bool{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, record := range records {
			if post, ok := record.(*model.Post); ok {
				post.SyncSortKey()
			}
			if err := tx.Save(record).Error; err != nil {
				return fmt.Errorf("failed to save %T: %w", record, err)
			}
			switch r := record.(type) {
			case *model.Post:
				touchedPosts = true
			case *model.Conversation:
				touched[r.ID] = true
			case *model.Message:
				touched[r.ConversationID] = true
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if touchedPosts {
		s.publish(ctx, realtime.PostsTopic)
	}
	for id := range touched {
		s.publish(ctx, realtime.ConversationTopic(id))
	}
	return nil
}

// Directory

func (s *GORMStore) GetUser(ctx context.Context, nodeKey string) (*model.User, error) {
	return first[model.User](ctx, s.db, "node_key = ?", nodeKey)
}

func (s *GORMStore) GetStudent(ctx context.Context, nodeKey string) (*model.Student, error) {
	return first[model.Student](ctx, s.db, "node_key = ?", nodeKey)
}

func (s *GORMStore) ListCourses(ctx context.Context) ([]model.Course, error) {
	var courses []model.Course
	err := s.db.WithContext(ctx).Find(&courses).Error
	return courses, err
}

func (s *GORMStore) ListTeacherAssignments(ctx context.Context) ([]model.TeacherAssignment, error) {
	var assignments []model.TeacherAssignment
	err := s.db.WithContext(ctx).Find(&assignments).Error
	return assignments, err
}

func (s *GORMStore) GetTeacher(ctx context.Context, key string) (*model.Teacher, error) {
	return first[model.Teacher](ctx, s.db, "key = ?", key)
}

func (s *GORMStore) ListSchoolAdmins(ctx context.Context) ([]model.SchoolAdmin, error) {
	var admins []model.SchoolAdmin
	err := s.db.WithContext(ctx).Find(&admins).Error
	return admins, err
}

// Conversations

func (s *GORMStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return first[model.Conversation](ctx, s.db, "id = ?", id)
}

// PutConversation overwrites the whole record
func (s *GORMStore) PutConversation(ctx context.Context, conv *model.Conversation) error {
	if err := s.db.WithContext(ctx).Save(conv).Error; err != nil {
		return fmt.Errorf("failed to put conversation %s: %w", conv.ID, err)
	}
	s.publish(ctx, realtime.ConversationTopic(conv.ID))
	return nil
}

func (s *GORMStore) ListConversationsForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := s.db.WithContext(ctx).
		Where(datatypes.JSONQuery("participants").HasKey(userID)).
		Find(&convs).Error
	return convs, err
}

func (s *GORMStore) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var messages []model.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("time_stamp ASC, message_id ASC").
		Find(&messages).Error
	return messages, err
}

func (s *GORMStore) WriteMessage(ctx context.Context, msg model.Message) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv model.Conversation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&conv, "id = ?", msg.ConversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if err := tx.Create(&msg).Error; err != nil {
			return err
		}

		conv.SetLast(model.LastMessage{
			SenderID:  msg.SenderID,
			Text:      msg.Text,
			TimeStamp: msg.TimeStamp,
			Type:      msg.Type,
			Seen:      false,
		})
		unread := conv.Unread.Clone()
		unread[msg.ReceiverID]++

		return tx.Model(&model.Conversation{}).
			Where("id = ?", conv.ID).
			Updates(map[string]interface{}{
				"last_message": conv.LastMessage,
				"unread":       unread,
				"updated_at":   time.Now(),
			}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to write message %s: %w", msg.MessageID, err)
	}

	s.publish(ctx, realtime.ConversationTopic(msg.ConversationID))
	return nil
}

func (s *GORMStore) MarkMessageSeen(ctx context.Context, conversationID, messageID string) error {
	result := s.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("conversation_id = ? AND message_id = ? AND seen = ?", conversationID, messageID, false).
		Update("seen", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		s.publish(ctx, realtime.ConversationTopic(conversationID))
	}
	return nil
}

// ResetUnread zeroes userID's counter and marks a last message from the other side as seen
func (s *GORMStore) ResetUnread(ctx context.Context, conversationID, userID string) error {
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv model.Conversation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&conv, "id = ?", conversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		last := conv.Last()
		updates := map[string]interface{}{}
		if conv.Unread[userID] != 0 {
			unread := conv.Unread.Clone()
			unread[userID] = 0
			updates["unread"] = unread
		}
		if !last.Seen && last.SenderID != "" && last.SenderID != userID {
			last.Seen = true
			updates["last_message"] = datatypes.NewJSONType(last)
		}
		if len(updates) == 0 {
			return nil
		}

		changed = true
		return tx.Model(&model.Conversation{}).Where("id = ?", conv.ID).Updates(updates).Error
	})
	if err != nil {
		return err
	}
	if changed {
		s.publish(ctx, realtime.ConversationTopic(conversationID))
	}
	return nil
}

// Posts

func (s *GORMStore) LatestPosts(ctx context.Context, limit int) ([]model.Post, error) {
	var posts []model.Post
	err := s.db.WithContext(ctx).
		Order("sort_key DESC, post_id DESC").
		Limit(limit).
		Find(&posts).Error
	return posts, err
}

func (s *GORMStore) PostsAtOrBefore(ctx context.Context, cursor PostCursor, limit int) ([]model.Post, error) {
	var posts []model.Post
	err := s.db.WithContext(ctx).
		Where("sort_key < ? OR (sort_key = ? AND post_id <= ?)", cursor.SortKey, cursor.SortKey, cursor.PostID).
		Order("sort_key DESC, post_id DESC").
		Limit(limit).
		Find(&posts).Error
	return posts, err
}

func (s *GORMStore) GetPost(ctx context.Context, postID string) (*model.Post, error) {
	return first[model.Post](ctx, s.db, "post_id = ?", postID)
}

// TogglePostLike flips userID's membership in likes and moves the counter with a floor of zero
func (s *GORMStore) TogglePostLike(ctx context.Context, postID, userID string) (*model.Post, error) {
	var post model.Post
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&post, "post_id = ?", postID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		applyLikeToggle(&post, userID)

		return tx.Model(&model.Post{}).
			Where("post_id = ?", postID).
			Updates(map[string]interface{}{
				"likes":      post.Likes,
				"like_count": *post.LikeCount,
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to toggle like on %s: %w", postID, err)
	}

	s.publish(ctx, realtime.PostsTopic)
	return &post, nil
}

func (s *GORMStore) MarkPostSeen(ctx context.Context, postID, userID string) error {
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post model.Post
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&post, "post_id = ?", postID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if post.SeenBy.Has(userID) {
			return nil
		}

		seen := post.SeenBy.Clone()
		seen[userID] = true
		changed = true
		return tx.Model(&model.Post{}).Where("post_id = ?", postID).Update("seen_by", seen).Error
	})
	if err != nil {
		return err
	}
	if changed {
		s.publish(ctx, realtime.PostsTopic)
	}
	return nil
}

// applyLikeToggle is the read-modify-write shared by both stores
func applyLikeToggle(post *model.Post, userID string) {
	count := post.DisplayLikeCount()
	likes := post.Likes.Clone()

	if likes.Has(userID) {
		delete(likes, userID)
		count--
	} else {
		likes[userID] = true
		count++
	}
	if count < 0 {
		count = 0
	}

	post.Likes = likes
	post.LikeCount = &count
}

// Library

func (s *GORMStore) ListTextbooks(ctx context.Context, grade model.FlexString) ([]model.Textbook, error) {
	var books []model.Textbook
	if err := s.db.WithContext(ctx).Order("title ASC").Find(&books).Error; err != nil {
		return nil, err
	}
	if grade == "" {
		return books, nil
	}

	// grade is stored loosely typed, so compare normalized values in Go
	out := books[:0]
	for _, b := range books {
		if b.Grade.Equal(grade) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *GORMStore) ListChapters(ctx context.Context, textbookID string) ([]model.Chapter, error) {
	var chapters []model.Chapter
	err := s.db.WithContext(ctx).
		Where("textbook_id = ?", textbookID).
		Order("number ASC").
		Find(&chapters).Error
	return chapters, err
}

func (s *GORMStore) GetChapter(ctx context.Context, chapterID string) (*model.Chapter, error) {
	return first[model.Chapter](ctx, s.db, "id = ?", chapterID)
}

func (s *GORMStore) ListMarks(ctx context.Context, studentNodeKey string) ([]model.Mark, error) {
	var marks []model.Mark
	err := s.db.WithContext(ctx).
		Where("student_node_key = ?", studentNodeKey).
		Order("recorded_at ASC").
		Find(&marks).Error
	return marks, err
}
