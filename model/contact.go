package model

// ContactType is the category a contact is listed under
type ContactType string

const (
	ContactTypeTeacher    ContactType = "teacher"
	ContactTypeManagement ContactType = "management"
	// ContactTypeParent is accepted by filters but nothing builds it yet
	ContactTypeParent  ContactType = "parent"
	ContactTypeUnknown ContactType = "unknown"
)

// Contact is a person the viewer may message, with the conversation preview overlaid.
// Built per session, never stored server side; cached verbatim in the device store.
type Contact struct {
	Key             string      `json:"key"`
	UserID          string      `json:"userId"`
	Name            string      `json:"name"`
	Role            Role        `json:"role"`
	ProfileImage    string      `json:"profileImage"`
	Type            ContactType `json:"type"`
	ConversationID  string      `json:"conversationId,omitempty"`
	LastMessageText string      `json:"lastMessage,omitempty"`
	LastMessageTime int64       `json:"lastMessageTime"`
	LastSenderID    string      `json:"lastSenderId,omitempty"`
	LastSeen        bool        `json:"lastSeen"`
	UnreadCount     int         `json:"unreadCount"`
}
