package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sahilchouksey/school-connect/database"
	"github.com/sahilchouksey/school-connect/model"
	"github.com/sahilchouksey/school-connect/services/realtime"
	"github.com/sahilchouksey/school-connect/utils/cache"
	"github.com/stretchr/testify/require"
)

// opCounter records store calls and can fail chosen operations
type opCounter struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func newOpCounter() *opCounter {
	return &opCounter{calls: map[string]int{}, fail: map[string]error{}}
}

func (c *opCounter) hook(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op]++
	return c.fail[op]
}

func (c *opCounter) count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *opCounter) failWith(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.fail, op)
		return
	}
	c.fail[op] = err
}

func newTestStore(t *testing.T) (*database.MemoryStore, *realtime.LocalHub, *opCounter) {
	t.Helper()
	hub := realtime.NewLocalHub()
	t.Cleanup(func() { _ = hub.Close() })

	store := database.NewMemoryStore(hub)
	ops := newOpCounter()
	store.Fail = ops.hook
	return store, hub, ops
}

func newTestCache(t *testing.T) *cache.RedisCache {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRedisCacheFromClient(client)
}

func newTestDevice(t *testing.T) cache.DeviceStore {
	t.Helper()
	return cache.NewNamespace(newTestCache(t), "test-device", 0)
}

func upsert(t *testing.T, store database.DocumentStore, records ...interface{}) {
	t.Helper()
	require.NoError(t, store.Upsert(context.Background(), records...))
}

// seedGradeSevenA builds a grade 7/A student with two teachers across two 7/A courses,
// an unrelated 8/B teacher and two admins
func seedGradeSevenA(t *testing.T, store database.DocumentStore) {
	t.Helper()
	upsert(t, store,
		&model.User{NodeKey: "n-stu", UserID: "stu", Name: "Student", Role: model.RoleStudent},
		&model.Student{NodeKey: "s-1", UserNodeKey: "n-stu", Grade: "7", Section: "A"},

		&model.User{NodeKey: "n-t1", UserID: "t1", Name: "bela", Role: model.RoleTeacher},
		&model.User{NodeKey: "n-t2", UserID: "t2", Name: "Arjun", Role: model.RoleTeacher},
		&model.User{NodeKey: "n-t3", UserID: "t3", Name: "Other", Role: model.RoleTeacher},
		&model.Teacher{Key: "tk1", UserNodeKey: "n-t1"},
		&model.Teacher{Key: "tk2", UserNodeKey: "n-t2"},
		&model.Teacher{Key: "tk3", UserNodeKey: "n-t3"},

		// Course grade stored as a number-like value on one side
		&model.Course{Key: "c-math", Name: "Math", Grade: "7", Section: "A"},
		&model.Course{Key: "c-sci", Name: "Science", Grade: "7.0", Section: "a"},
		&model.Course{Key: "c-eng", Name: "English", Grade: "8", Section: "B"},
		&model.TeacherAssignment{Key: "a1", CourseID: "c-math", TeacherID: "tk1"},
		&model.TeacherAssignment{Key: "a2", CourseID: "c-sci", TeacherID: "tk2"},
		&model.TeacherAssignment{Key: "a3", CourseID: "c-eng", TeacherID: "tk3"},
		&model.TeacherAssignment{Key: "a4", CourseID: "c-sci", TeacherID: "tk1"},

		&model.User{NodeKey: "n-a1", UserID: "a1", Name: "Principal", Role: model.RoleAdmin},
		&model.User{NodeKey: "n-a2", UserID: "a2", Name: "Accounts", Role: model.RoleManagement},
		&model.SchoolAdmin{Key: "sa1", UserNodeKey: "n-a1"},
		&model.SchoolAdmin{Key: "sa2", UserNodeKey: "n-a2"},
	)
}

// minimalPDF renders a well-formed PDF with the given number of blank pages
func minimalPDF(pages int) []byte {
	var buf bytes.Buffer
	offsets := []int{}
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}
