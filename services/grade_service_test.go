package services

import (
	"context"
	"testing"

	"github.com/sahilchouksey/school-connect/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportCard(t *testing.T) {
	store, _, _ := newTestStore(t)
	seedGradeSevenA(t, store)
	upsert(t, store,
		&model.Mark{Key: "m1", StudentNodeKey: "s-1", CourseID: "c-sci", Title: "Unit 1", Score: 18, MaxScore: 20},
		&model.Mark{Key: "m2", StudentNodeKey: "s-1", CourseID: "c-math", Title: "Quiz", Score: 7, MaxScore: 10},
		&model.Mark{Key: "m3", StudentNodeKey: "s-1", CourseID: "c-math", Title: "Midterm", Score: 41, MaxScore: 50},
		&model.Mark{Key: "m4", StudentNodeKey: "s-1", CourseID: "c-gone", Title: "Old", Score: 1, MaxScore: 3},
		&model.Mark{Key: "m5", StudentNodeKey: "s-other", CourseID: "c-math", Title: "Quiz", Score: 10, MaxScore: 10},
	)

	card, err := NewGradeService(store).ReportCard(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, card, 3)

	// Unknown courses fall back to their id
	assert.Equal(t, "Math", card[0].CourseName)
	assert.Equal(t, "Science", card[1].CourseName)
	assert.Equal(t, "c-gone", card[2].CourseName)

	assert.Len(t, card[0].Marks, 2)
	assert.Equal(t, 48.0, card[0].Score)
	assert.Equal(t, 60.0, card[0].MaxScore)
	assert.Equal(t, 80.0, card[0].Percentage)
	assert.Equal(t, 90.0, card[1].Percentage)
	assert.Equal(t, 33.33, card[2].Percentage)
}

func TestReportCard_RequiresStudent(t *testing.T) {
	store, _, _ := newTestStore(t)
	_, err := NewGradeService(store).ReportCard(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoIdentity)

	card, err := NewGradeService(store).ReportCard(context.Background(), "s-none")
	require.NoError(t, err)
	assert.Empty(t, card)
}
