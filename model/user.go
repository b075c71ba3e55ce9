package model

import (
	"strings"
	"time"
)

// Role is the account role stored on a user record
type Role string

const (
	RoleStudent    Role = "student"
	RoleTeacher    Role = "teacher"
	RoleAdmin      Role = "admin"
	RoleManagement Role = "management"
)

// User represents a school account. NodeKey is the storage-assigned id, UserID is the
// logical id used as the participant key in conversations.
type User struct {
	NodeKey      string    `gorm:"primaryKey;type:varchar(64)" json:"nodeKey"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	UserID       string    `gorm:"type:varchar(64);index" json:"userId"`
	Name         string    `gorm:"type:varchar(255)" json:"name"`
	Username     string    `gorm:"type:varchar(120);index" json:"username"`
	Role         Role      `gorm:"type:varchar(20)" json:"role"`
	ProfileImage string    `gorm:"type:varchar(512)" json:"profileImage"`
	IsActive     bool      `json:"isActive"`
}

// EffectiveUserID returns the logical id, falling back to the node key when the
// record carries none.
func (u *User) EffectiveUserID() string {
	if id := strings.TrimSpace(u.UserID); id != "" {
		return id
	}
	return u.NodeKey
}
