package services

import (
	"context"
	"fmt"

	"github.com/sahilchouksey/school-connect/database"
	"github.com/sahilchouksey/school-connect/model"
)

// TextbookService lists the library of a grade
type TextbookService struct {
	store database.LibraryStore
}

// NewTextbookService creates a textbook service
func NewTextbookService(store database.LibraryStore) *TextbookService {
	return &TextbookService{store: store}
}

// ListTextbooks returns the books for grade, or every book when grade is empty
func (s *TextbookService) ListTextbooks(ctx context.Context, grade model.FlexString) ([]model.Textbook, error) {
	books, err := s.store.ListTextbooks(ctx, grade)
	if err != nil {
		return nil, fmt.Errorf("failed to list textbooks: %w", err)
	}
	return books, nil
}

// ListChapters returns the chapters of a book in order
func (s *TextbookService) ListChapters(ctx context.Context, textbookID string) ([]model.Chapter, error) {
	chapters, err := s.store.ListChapters(ctx, textbookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}
	return chapters, nil
}

// GetChapter returns one chapter, database.ErrNotFound when absent
func (s *TextbookService) GetChapter(ctx context.Context, chapterID string) (*model.Chapter, error) {
	return s.store.GetChapter(ctx, chapterID)
}
