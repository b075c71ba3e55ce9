package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"gorm.io/datatypes"
)

// MessageType represents the kind of a chat message
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeSystem MessageType = "system"
)

// BoolSet is a JSON object of id -> true, stored as JSONB
type BoolSet map[string]bool

// Has reports whether id is a member with a true value
func (s BoolSet) Has(id string) bool {
	return s != nil && s[id]
}

// Count returns the number of members with a true value
func (s BoolSet) Count() int {
	n := 0
	for _, v := range s {
		if v {
			n++
		}
	}
	return n
}

// Clone returns a copy that is safe to mutate
func (s BoolSet) Clone() BoolSet {
	out := make(BoolSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Scan implements the sql.Scanner interface for reading from database
func (s *BoolSet) Scan(value interface{}) error {
	bytes, err := jsonBytes(value)
	if err != nil {
		return err
	}
	out := BoolSet{}
	if len(bytes) > 0 && string(bytes) != "null" {
		if err := json.Unmarshal(bytes, &out); err != nil {
			return err
		}
	}
	*s = out
	return nil
}

// Value implements the driver.Valuer interface for writing to database
func (s BoolSet) Value() (driver.Value, error) {
	if len(s) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]bool(s))
}

// CountMap is a JSON object of id -> counter, stored as JSONB
type CountMap map[string]int

// Clone returns a copy that is safe to mutate
func (m CountMap) Clone() CountMap {
	out := make(CountMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Scan implements the sql.Scanner interface for reading from database
func (m *CountMap) Scan(value interface{}) error {
	bytes, err := jsonBytes(value)
	if err != nil {
		return err
	}
	out := CountMap{}
	if len(bytes) > 0 && string(bytes) != "null" {
		if err := json.Unmarshal(bytes, &out); err != nil {
			return err
		}
	}
	*m = out
	return nil
}

// Value implements the driver.Valuer interface for writing to database
func (m CountMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]int(m))
}

func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("failed to unmarshal JSON value")
	}
}

// LastMessage is the conversation preview shown in the contact list
type LastMessage struct {
	SenderID  string      `json:"senderId"`
	Text      string      `json:"text"`
	TimeStamp int64       `json:"timeStamp"`
	Type      MessageType `json:"type"`
	Seen      bool        `json:"seen"`
}

// Conversation is a two-participant thread addressed by a deterministic id
type Conversation struct {
	ID           string                          `gorm:"primaryKey;type:varchar(160)" json:"id"`
	CreatedAt    time.Time                       `json:"createdAt"`
	UpdatedAt    time.Time                       `json:"updatedAt"`
	Participants BoolSet                         `gorm:"type:jsonb" json:"participants"`
	LastMessage  datatypes.JSONType[LastMessage] `gorm:"type:jsonb" json:"lastMessage"`
	Unread       CountMap                        `gorm:"type:jsonb" json:"unread"`
}

// Last returns the decoded last message
func (c *Conversation) Last() LastMessage {
	return c.LastMessage.Data()
}

// SetLast replaces the last message
func (c *Conversation) SetLast(last LastMessage) {
	c.LastMessage = datatypes.NewJSONType(last)
}

// OtherParticipant returns the participant that is not userID
func (c *Conversation) OtherParticipant(userID string) (string, bool) {
	if !c.Participants.Has(userID) {
		return "", false
	}
	for id, member := range c.Participants {
		if member && id != userID {
			return id, true
		}
	}
	return "", false
}

// Message is one entry of a conversation. Only Seen, Edited and Deleted change after write.
type Message struct {
	MessageID      string      `gorm:"primaryKey;type:varchar(64)" json:"messageId"`
	ConversationID string      `gorm:"type:varchar(160);index" json:"conversationId"`
	SenderID       string      `gorm:"type:varchar(64)" json:"senderId"`
	ReceiverID     string      `gorm:"type:varchar(64);index" json:"receiverId"`
	Text           string      `gorm:"type:text" json:"text"`
	TimeStamp      int64       `gorm:"index" json:"timeStamp"`
	Type           MessageType `gorm:"type:varchar(20)" json:"type"`
	Seen           bool        `json:"seen"`
	Edited         bool        `json:"edited"`
	Deleted        bool        `json:"deleted"`
	ImageURL       string      `gorm:"type:varchar(1024)" json:"imageUrl,omitempty"`
}

// SortMessages orders messages by timestamp, ties by message id
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].TimeStamp != messages[j].TimeStamp {
			return messages[i].TimeStamp < messages[j].TimeStamp
		}
		return messages[i].MessageID < messages[j].MessageID
	})
}
