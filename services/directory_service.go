package services

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/sahilchouksey/school-connect/database"
	"github.com/sahilchouksey/school-connect/model"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
)

// PlaceholderName is shown for contacts whose profile could not be read
const PlaceholderName = "Unknown"

const defaultProfileFetchLimit = 8

// StudentContext identifies whose directory is being built
type StudentContext struct {
	ViewerUserID   string
	StudentNodeKey string
}

type directoryStore interface {
	database.DirectoryReader
	ListConversationsForUser(ctx context.Context, userID string) ([]model.Conversation, error)
}

// DirectoryService builds the list of people a student may message. One instance
// belongs to one session; it remembers the teachers of the last resolved student.
type DirectoryService struct {
	store        directoryStore
	fetchLimit   int
	teacherMu    sync.Mutex
	teacherFor   string
	teacherUsers []string
}

// NewDirectoryService creates a directory builder. fetchLimit bounds parallel profile reads.
func NewDirectoryService(store directoryStore, fetchLimit int) *DirectoryService {
	if fetchLimit <= 0 {
		fetchLimit = defaultProfileFetchLimit
	}
	return &DirectoryService{
		store:      store,
		fetchLimit: fetchLimit,
	}
}

type contactSource struct {
	nodeKey string
	typ     model.ContactType
	role    model.Role
}

// BuildContactDirectory joins the student's teachers and every administrator, overlays
// conversation metadata and sorts the result. Join read failures degrade to empty steps.
func (s *DirectoryService) BuildContactDirectory(ctx context.Context, sc StudentContext) ([]model.Contact, error) {
	if sc.ViewerUserID == "" {
		return nil, ErrNoIdentity
	}

	// Teachers win over admins for a user reachable both ways
	var sources []contactSource
	seen := map[string]bool{}
	for _, nodeKey := range s.teacherUserKeys(ctx, sc.StudentNodeKey) {
		if !seen[nodeKey] {
			seen[nodeKey] = true
			sources = append(sources, contactSource{nodeKey, model.ContactTypeTeacher, model.RoleTeacher})
		}
	}
	for _, nodeKey := range s.adminUserKeys(ctx) {
		if !seen[nodeKey] {
			seen[nodeKey] = true
			sources = append(sources, contactSource{nodeKey, model.ContactTypeManagement, model.RoleAdmin})
		}
	}

	contacts := s.fetchProfiles(ctx, sources)

	// The viewer never lists themselves
	out := contacts[:0]
	for _, c := range contacts {
		if c.UserID != sc.ViewerUserID {
			out = append(out, c)
		}
	}

	s.overlayConversations(ctx, sc.ViewerUserID, out)
	SortContacts(out)
	return out, nil
}

// teacherUserKeys runs steps 2-4 and caches a clean result for the student
func (s *DirectoryService) teacherUserKeys(ctx context.Context, studentNodeKey string) []string {
	if studentNodeKey == "" {
		return nil
	}

	s.teacherMu.Lock()
	if s.teacherFor == studentNodeKey {
		keys := append([]string(nil), s.teacherUsers...)
		s.teacherMu.Unlock()
		return keys
	}
	s.teacherMu.Unlock()

	keys, complete := s.resolveTeachers(ctx, studentNodeKey)
	if complete {
		s.teacherMu.Lock()
		s.teacherFor = studentNodeKey
		s.teacherUsers = append([]string(nil), keys...)
		s.teacherMu.Unlock()
	}
	return keys
}

// resolveTeachers reports complete=false when any read failed, so the result is not cached
func (s *DirectoryService) resolveTeachers(ctx context.Context, studentNodeKey string) ([]string, bool) {
	student, err := s.store.GetStudent(ctx, studentNodeKey)
	if err != nil {
		log.Printf("Warning: failed to read student %s: %v", studentNodeKey, err)
		return nil, false
	}

	courses, err := s.store.ListCourses(ctx)
	if err != nil {
		log.Printf("Warning: failed to list courses: %v", err)
		return nil, false
	}
	matched := map[string]bool{}
	for i := range courses {
		if courses[i].Matches(student.Grade, student.Section) {
			matched[courses[i].Key] = true
		}
	}
	if len(matched) == 0 {
		return nil, true
	}

	assignments, err := s.store.ListTeacherAssignments(ctx)
	if err != nil {
		log.Printf("Warning: failed to list teacher assignments: %v", err)
		return nil, false
	}
	var teacherIDs []string
	seen := map[string]bool{}
	for _, a := range assignments {
		if matched[a.CourseID] && a.TeacherID != "" && !seen[a.TeacherID] {
			seen[a.TeacherID] = true
			teacherIDs = append(teacherIDs, a.TeacherID)
		}
	}

	userKeys := make([]string, len(teacherIDs))
	complete := true
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.fetchLimit)
	for i, id := range teacherIDs {
		g.Go(func() error {
			teacher, err := s.store.GetTeacher(ctx, id)
			if err != nil {
				log.Printf("Warning: failed to read teacher %s: %v", id, err)
				mu.Lock()
				complete = false
				mu.Unlock()
				return nil
			}
			userKeys[i] = teacher.UserNodeKey
			return nil
		})
	}
	_ = g.Wait()

	out := userKeys[:0]
	for _, k := range userKeys {
		if k != "" {
			out = append(out, k)
		}
	}
	return out, complete
}

func (s *DirectoryService) adminUserKeys(ctx context.Context) []string {
	admins, err := s.store.ListSchoolAdmins(ctx)
	if err != nil {
		log.Printf("Warning: failed to list school admins: %v", err)
		return nil
	}
	keys := make([]string, 0, len(admins))
	for _, a := range admins {
		if a.UserNodeKey != "" {
			keys = append(keys, a.UserNodeKey)
		}
	}
	return keys
}

// fetchProfiles reads every user in parallel. A failed read yields a placeholder contact.
func (s *DirectoryService) fetchProfiles(ctx context.Context, sources []contactSource) []model.Contact {
	contacts := make([]model.Contact, len(sources))

	g := new(errgroup.Group)
	g.SetLimit(s.fetchLimit)
	for i, src := range sources {
		g.Go(func() error {
			contact := model.Contact{
				Key:    src.nodeKey,
				UserID: src.nodeKey,
				Name:   PlaceholderName,
				Role:   src.role,
				Type:   src.typ,
			}

			user, err := s.store.GetUser(ctx, src.nodeKey)
			if err != nil {
				log.Printf("Warning: failed to read profile %s: %v", src.nodeKey, err)
				contacts[i] = contact
				return nil
			}

			contact.UserID = user.EffectiveUserID()
			if user.Name != "" {
				contact.Name = user.Name
			}
			if user.Role != "" {
				contact.Role = user.Role
			}
			contact.ProfileImage = user.ProfileImage
			contacts[i] = contact
			return nil
		})
	}
	_ = g.Wait()

	return contacts
}

// overlayConversations attaches conversation metadata by the other participant's id
func (s *DirectoryService) overlayConversations(ctx context.Context, viewerID string, contacts []model.Contact) {
	convs, err := s.store.ListConversationsForUser(ctx, viewerID)
	if err != nil {
		log.Printf("Warning: failed to list conversations for %s: %v", viewerID, err)
		return
	}

	byUser := make(map[string]int, len(contacts))
	for i, c := range contacts {
		byUser[c.UserID] = i
	}

	for i := range convs {
		conv := &convs[i]
		other, ok := conv.OtherParticipant(viewerID)
		if !ok {
			continue
		}
		idx, ok := byUser[other]
		if !ok {
			continue
		}

		last := conv.Last()
		contact := &contacts[idx]
		// A forked A_B/B_A pair keeps the more recent thread
		if contact.ConversationID != "" && contact.LastMessageTime >= last.TimeStamp {
			continue
		}

		contact.ConversationID = conv.ID
		contact.LastMessageText = last.Text
		contact.LastMessageTime = last.TimeStamp
		contact.LastSenderID = last.SenderID
		contact.LastSeen = last.Seen
		contact.UnreadCount = conv.Unread[viewerID]
		if last.SenderID == viewerID {
			contact.UnreadCount = 0
		}
	}
}

// SortContacts orders by unread desc, last message time desc, then case-folded name
func SortContacts(contacts []model.Contact) {
	fold := cases.Fold()
	folded := make(map[string]string, len(contacts))
	for _, c := range contacts {
		folded[c.Key] = fold.String(c.Name)
	}

	sort.SliceStable(contacts, func(i, j int) bool {
		a, b := contacts[i], contacts[j]
		if a.UnreadCount != b.UnreadCount {
			return a.UnreadCount > b.UnreadCount
		}
		if a.LastMessageTime != b.LastMessageTime {
			return a.LastMessageTime > b.LastMessageTime
		}
		return folded[a.Key] < folded[b.Key]
	})
}
