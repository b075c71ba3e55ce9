package services

import (
	"context"
	"errors"
	"testing"

	"github.com/sahilchouksey/school-connect/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contactKeys(contacts []model.Contact) []string {
	keys := make([]string, len(contacts))
	for i, c := range contacts {
		keys[i] = c.Key
	}
	return keys
}

func TestBuildContactDirectory_TeachersOfGradeAndAllAdmins(t *testing.T) {
	store, _, _ := newTestStore(t)
	seedGradeSevenA(t, store)

	dir := NewDirectoryService(store, 2)
	contacts, err := dir.BuildContactDirectory(context.Background(), StudentContext{ViewerUserID: "stu", StudentNodeKey: "s-1"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"n-t1", "n-t2", "n-a1", "n-a2"}, contactKeys(contacts))

	byKey := map[string]model.Contact{}
	for _, c := range contacts {
		_, dup := byKey[c.Key]
		assert.False(t, dup, "duplicate %s", c.Key)
		byKey[c.Key] = c
	}
	assert.Equal(t, model.ContactTypeTeacher, byKey["n-t1"].Type)
	assert.Equal(t, model.ContactTypeManagement, byKey["n-a1"].Type)
	assert.Equal(t, model.RoleManagement, byKey["n-a2"].Role)
	assert.Equal(t, "t1", byKey["n-t1"].UserID)
}

func TestBuildContactDirectory_TeacherWinsOverAdmin(t *testing.T) {
	store, _, _ := newTestStore(t)
	seedGradeSevenA(t, store)
	upsert(t, store, &model.SchoolAdmin{Key: "sa3", UserNodeKey: "n-t1"})

	contacts, err := NewDirectoryService(store, 0).BuildContactDirectory(context.Background(), StudentContext{ViewerUserID: "stu", StudentNodeKey: "s-1"})
	require.NoError(t, err)

	count := 0
	for _, c := range contacts {
		if c.Key == "n-t1" {
			count++
			assert.Equal(t, model.ContactTypeTeacher, c.Type)
		}
	}
	assert.Equal(t, 1, count)
}

func TestBuildContactDirectory_RequiresViewer(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, err := NewDirectoryService(store, 0).BuildContactDirectory(context.Background(), StudentContext{StudentNodeKey: "s-1"})
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestBuildContactDirectory_JoinFailuresDegrade(t *testing.T) {
	store, _, ops := newTestStore(t)
	seedGradeSevenA(t, store)
	ops.failWith("ListCourses", errors.New("timeout"))

	contacts, err := NewDirectoryService(store, 0).BuildContactDirectory(context.Background(), StudentContext{ViewerUserID: "stu", StudentNodeKey: "s-1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n-a1", "n-a2"}, contactKeys(contacts))

	ops.failWith("ListCourses", nil)
	ops.failWith("ListSchoolAdmins", errors.New("timeout"))

	contacts, err = NewDirectoryService(store, 0).BuildContactDirectory(context.Background(), StudentContext{ViewerUserID: "stu", StudentNodeKey: "s-1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n-t1", "n-t2"}, contactKeys(contacts))
}

func TestBuildContactDirectory_FailedProfileIsPlaceholder(t *testing.T) {
	store, _, _ := newTestStore(t)
	seedGradeSevenA(t, store)
	// Admin pointing at a user that does not exist
	upsert(t, store, &model.SchoolAdmin{Key: "sa9", UserNodeKey: "n-missing"})

	contacts, err := NewDirectoryService(store, 0).BuildContactDirectory(context.Background(), StudentContext{ViewerUserID: "stu", StudentNodeKey: "s-1"})
	require.NoError(t, err)

	var placeholder *model.Contact
	for i := range contacts {
		if contacts[i].Key == "n-missing" {
			placeholder = &contacts[i]
		}
	}
	require.NotNil(t, placeholder)
	assert.Equal(t, PlaceholderName, placeholder.Name)
	assert.Equal(t, model.RoleAdmin, placeholder.Role)
	assert.Len(t, contacts, 5)
}

func TestBuildContactDirectory_OverlayAndOrder(t *testing.T) {
	store, _, _ := newTestStore(t)
	seedGradeSevenA(t, store)
	ctx := context.Background()

	withT2 := &model.Conversation{ID: "stu_t2", Participants: model.BoolSet{"stu": true, "t2": true}, Unread: model.CountMap{"stu": 3}}
	withT2.SetLast(model.LastMessage{SenderID: "t2", Text: "homework?", TimeStamp: 100})

	// Stored unread is stale: the viewer sent last, so it displays as zero
	withA1 := &model.Conversation{ID: "a1_stu", Participants: model.BoolSet{"stu": true, "a1": true}, Unread: model.CountMap{"stu": 5}}
	withA1.SetLast(model.LastMessage{SenderID: "stu", Text: "thanks", TimeStamp: 300, Seen: true})

	upsert(t, store, withT2, withA1)

	contacts, err := NewDirectoryService(store, 0).BuildContactDirectory(ctx, StudentContext{ViewerUserID: "stu", StudentNodeKey: "s-1"})
	require.NoError(t, err)

	// unread desc, then last time desc, then case-insensitive name
	assert.Equal(t, []string{"n-t2", "n-a1", "n-a2", "n-t1"}, contactKeys(contacts))

	assert.Equal(t, "stu_t2", contacts[0].ConversationID)
	assert.Equal(t, 3, contacts[0].UnreadCount)
	assert.Equal(t, "homework?", contacts[0].LastMessageText)

	assert.Equal(t, "a1_stu", contacts[1].ConversationID)
	assert.Equal(t, 0, contacts[1].UnreadCount)
	assert.True(t, contacts[1].LastSeen)
	assert.Equal(t, "stu", contacts[1].LastSenderID)
}

func TestBuildContactDirectory_CachesTeachersPerStudent(t *testing.T) {
	store, _, ops := newTestStore(t)
	seedGradeSevenA(t, store)
	upsert(t, store, &model.Student{NodeKey: "s-2", UserNodeKey: "n-stu", Grade: "8", Section: "B"})
	ctx := context.Background()
	dir := NewDirectoryService(store, 0)

	_, err := dir.BuildContactDirectory(ctx, StudentContext{ViewerUserID: "stu", StudentNodeKey: "s-1"})
	require.NoError(t, err)
	_, err = dir.BuildContactDirectory(ctx, StudentContext{ViewerUserID: "stu", StudentNodeKey: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, ops.count("ListCourses"))
	assert.Equal(t, 2, ops.count("ListSchoolAdmins"))

	contacts, err := dir.BuildContactDirectory(ctx, StudentContext{ViewerUserID: "stu", StudentNodeKey: "s-2"})
	require.NoError(t, err)
	assert.Equal(t, 2, ops.count("ListCourses"))
	assert.Contains(t, contactKeys(contacts), "n-t3")
	assert.NotContains(t, contactKeys(contacts), "n-t1")
}

func TestBuildContactDirectory_FailedJoinIsNotCached(t *testing.T) {
	store, _, ops := newTestStore(t)
	seedGradeSevenA(t, store)
	ctx := context.Background()
	dir := NewDirectoryService(store, 0)

	ops.failWith("ListTeacherAssignments", errors.New("timeout"))
	_, err := dir.BuildContactDirectory(ctx, StudentContext{ViewerUserID: "stu", StudentNodeKey: "s-1"})
	require.NoError(t, err)

	ops.failWith("ListTeacherAssignments", nil)
	contacts, err := dir.BuildContactDirectory(ctx, StudentContext{ViewerUserID: "stu", StudentNodeKey: "s-1"})
	require.NoError(t, err)
	assert.Contains(t, contactKeys(contacts), "n-t1")
}
