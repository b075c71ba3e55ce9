package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sahilchouksey/school-connect/model"
)

// Seeder handles demo data seeding
type Seeder struct {
	store DocumentStore
	now   func() time.Time
}

// NewSeeder creates a new seeder instance
func NewSeeder(store DocumentStore) *Seeder {
	return &Seeder{store: store, now: time.Now}
}

// SeedAll runs all seed functions
func (s *Seeder) SeedAll(ctx context.Context) error {
	log.Println("🌱 Starting database seeding...")

	// Run seeds in join order
	if err := s.SeedDirectory(ctx); err != nil {
		return fmt.Errorf("failed to seed directory: %w", err)
	}

	if err := s.SeedPosts(ctx, 45); err != nil {
		return fmt.Errorf("failed to seed posts: %w", err)
	}

	if err := s.SeedLibrary(ctx); err != nil {
		return fmt.Errorf("failed to seed library: %w", err)
	}

	if err := s.SeedMarks(ctx); err != nil {
		return fmt.Errorf("failed to seed marks: %w", err)
	}

	log.Println("✅ Database seeding completed successfully!")
	return nil
}

// SeedDirectory creates one grade 7/A student, three teachers (two teaching 7/A) and two admins
func (s *Seeder) SeedDirectory(ctx context.Context) error {
	existing, err := s.store.GetUser(ctx, "node-student-1")
	if err == nil && existing != nil {
		log.Println("⏭️  Directory already seeded, skipping...")
		return nil
	}

	records := []interface{}{
		&model.User{NodeKey: "node-student-1", UserID: "stu-1001", Name: "Aarav Sharma", Username: "aarav", Role: model.RoleStudent, IsActive: true},
		&model.Student{NodeKey: "student-1", UserNodeKey: "node-student-1", Grade: "7", Section: "A"},

		&model.User{NodeKey: "node-teacher-1", UserID: "tch-2001", Name: "Meera Iyer", Username: "meera", Role: model.RoleTeacher, IsActive: true},
		&model.User{NodeKey: "node-teacher-2", UserID: "tch-2002", Name: "Rohan Das", Username: "rohan", Role: model.RoleTeacher, IsActive: true},
		&model.User{NodeKey: "node-teacher-3", UserID: "tch-2003", Name: "Kavya Nair", Username: "kavya", Role: model.RoleTeacher, IsActive: true},
		&model.Teacher{Key: "teacher-1", UserNodeKey: "node-teacher-1"},
		&model.Teacher{Key: "teacher-2", UserNodeKey: "node-teacher-2"},
		&model.Teacher{Key: "teacher-3", UserNodeKey: "node-teacher-3"},

		&model.Course{Key: "course-math-7a", Name: "Mathematics", Grade: "7", Section: "A"},
		&model.Course{Key: "course-sci-7a", Name: "Science", Grade: "7", Section: "A"},
		&model.Course{Key: "course-eng-8b", Name: "English", Grade: "8", Section: "B"},
		&model.TeacherAssignment{Key: "assign-1", CourseID: "course-math-7a", TeacherID: "teacher-1"},
		&model.TeacherAssignment{Key: "assign-2", CourseID: "course-sci-7a", TeacherID: "teacher-2"},
		&model.TeacherAssignment{Key: "assign-3", CourseID: "course-eng-8b", TeacherID: "teacher-3"},

		&model.User{NodeKey: "node-admin-1", UserID: "adm-3001", Name: "Principal Office", Username: "principal", Role: model.RoleAdmin, IsActive: true},
		&model.User{NodeKey: "node-admin-2", UserID: "adm-3002", Name: "Accounts Desk", Username: "accounts", Role: model.RoleManagement, IsActive: true},
		&model.SchoolAdmin{Key: "admin-1", UserNodeKey: "node-admin-1"},
		&model.SchoolAdmin{Key: "admin-2", UserNodeKey: "node-admin-2"},
	}

	if err := s.store.Upsert(ctx, records...); err != nil {
		return err
	}

	log.Printf("✅ Created %d directory records\n", len(records))
	return nil
}

// SeedPosts creates n announcements one hour apart, newest now
func (s *Seeder) SeedPosts(ctx context.Context, n int) error {
	latest, err := s.store.LatestPosts(ctx, 1)
	if err != nil {
		return err
	}
	if len(latest) > 0 {
		log.Println("⏭️  Posts already exist, skipping...")
		return nil
	}

	now := s.now()
	records := make([]interface{}, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, &model.Post{
			PostID:  uuid.NewString(),
			AdminID: "adm-3001",
			Time:    model.FormatPostTime(now.Add(-time.Duration(i) * time.Hour)),
			Message: fmt.Sprintf("Announcement #%d", n-i),
		})
	}

	if err := s.store.Upsert(ctx, records...); err != nil {
		return err
	}

	log.Printf("✅ Created %d posts\n", n)
	return nil
}

// SeedLibrary creates textbooks with chapters for grade 7
func (s *Seeder) SeedLibrary(ctx context.Context) error {
	books, err := s.store.ListTextbooks(ctx, "")
	if err != nil {
		return err
	}
	if len(books) > 0 {
		log.Println("⏭️  Textbooks already exist, skipping...")
		return nil
	}

	records := []interface{}{
		&model.Textbook{ID: "book-math-7", Title: "Mathematics for Class 7", Subject: "Mathematics", Grade: "7"},
		&model.Textbook{ID: "book-sci-7", Title: "Science for Class 7", Subject: "Science", Grade: "7"},
	}
	for _, book := range []string{"book-math-7", "book-sci-7"} {
		for n := 1; n <= 3; n++ {
			records = append(records, &model.Chapter{
				ID:         fmt.Sprintf("%s-ch%d", book, n),
				TextbookID: book,
				Number:     n,
				Title:      fmt.Sprintf("Chapter %d", n),
				FileURL:    fmt.Sprintf("https://files.example.com/textbooks/%s/chapter-%d.pdf", book, n),
			})
		}
	}

	if err := s.store.Upsert(ctx, records...); err != nil {
		return err
	}

	log.Printf("✅ Created %d library records\n", len(records))
	return nil
}

// SeedMarks creates marks for the demo student
func (s *Seeder) SeedMarks(ctx context.Context) error {
	marks, err := s.store.ListMarks(ctx, "student-1")
	if err != nil {
		return err
	}
	if len(marks) > 0 {
		log.Println("⏭️  Marks already exist, skipping...")
		return nil
	}

	now := s.now()
	records := []interface{}{
		&model.Mark{Key: "mark-1", StudentNodeKey: "student-1", CourseID: "course-math-7a", Title: "Unit Test 1", Score: 18, MaxScore: 20, RecordedAt: now.AddDate(0, -2, 0)},
		&model.Mark{Key: "mark-2", StudentNodeKey: "student-1", CourseID: "course-math-7a", Title: "Half Yearly", Score: 71, MaxScore: 80, RecordedAt: now.AddDate(0, -1, 0)},
		&model.Mark{Key: "mark-3", StudentNodeKey: "student-1", CourseID: "course-sci-7a", Title: "Unit Test 1", Score: 15, MaxScore: 20, RecordedAt: now.AddDate(0, -2, 0)},
	}

	if err := s.store.Upsert(ctx, records...); err != nil {
		return err
	}

	log.Printf("✅ Created %d marks\n", len(records))
	return nil
}
