package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/sahilchouksey/school-connect/database"
	"github.com/sahilchouksey/school-connect/model"
)

// CourseMarks is one course line of a report card
type CourseMarks struct {
	CourseID   string       `json:"courseId"`
	CourseName string       `json:"courseName"`
	Marks      []model.Mark `json:"marks"`
	Score      float64      `json:"score"`
	MaxScore   float64      `json:"maxScore"`
	Percentage float64      `json:"percentage"`
}

type gradeStore interface {
	ListCourses(ctx context.Context) ([]model.Course, error)
	database.LibraryStore
}

// GradeService builds report cards from class marks
type GradeService struct {
	store gradeStore
}

// NewGradeService creates a grade service
func NewGradeService(store gradeStore) *GradeService {
	return &GradeService{store: store}
}

// ReportCard groups a student's marks per course with a total percentage, sorted by course name
func (s *GradeService) ReportCard(ctx context.Context, studentNodeKey string) ([]CourseMarks, error) {
	if studentNodeKey == "" {
		return nil, ErrNoIdentity
	}

	marks, err := s.store.ListMarks(ctx, studentNodeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list marks: %w", err)
	}

	names := map[string]string{}
	if courses, err := s.store.ListCourses(ctx); err != nil {
		log.Printf("Warning: failed to list courses for report card: %v", err)
	} else {
		for _, c := range courses {
			names[c.Key] = c.Name
		}
	}

	byCourse := map[string]*CourseMarks{}
	var order []string
	for _, m := range marks {
		cm, ok := byCourse[m.CourseID]
		if !ok {
			name := names[m.CourseID]
			if name == "" {
				name = m.CourseID
			}
			cm = &CourseMarks{CourseID: m.CourseID, CourseName: name}
			byCourse[m.CourseID] = cm
			order = append(order, m.CourseID)
		}
		cm.Marks = append(cm.Marks, m)
		cm.Score += m.Score
		cm.MaxScore += m.MaxScore
	}

	out := make([]CourseMarks, 0, len(order))
	for _, id := range order {
		cm := byCourse[id]
		if cm.MaxScore > 0 {
			cm.Percentage = math.Round(cm.Score/cm.MaxScore*10000) / 100
		}
		out = append(out, *cm)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CourseName < out[j].CourseName })
	return out, nil
}
