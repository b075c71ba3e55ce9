package model

import "time"

// Textbook is a book assigned to a grade
type Textbook struct {
	ID        string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	CreatedAt time.Time  `json:"createdAt"`
	Title     string     `gorm:"type:varchar(255);not null" json:"title"`
	Subject   string     `gorm:"type:varchar(120)" json:"subject"`
	Grade     FlexString `gorm:"type:varchar(20);index" json:"grade"`

	Chapters []Chapter `gorm:"foreignKey:TextbookID;constraint:OnDelete:CASCADE" json:"chapters,omitempty"`
}

// Chapter is a downloadable part of a textbook
type Chapter struct {
	ID         string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	TextbookID string `gorm:"type:varchar(64);index" json:"textbookId"`
	Number     int    `json:"number"`
	Title      string `gorm:"type:varchar(255)" json:"title"`
	FileURL    string `gorm:"type:varchar(1024)" json:"fileUrl"`
	SizeBytes  int64  `json:"sizeBytes"`
}

// Mark is one graded assessment of a student in a course
type Mark struct {
	Key            string    `gorm:"primaryKey;type:varchar(64)" json:"key"`
	StudentNodeKey string    `gorm:"type:varchar(64);index" json:"studentNodeKey"`
	CourseID       string    `gorm:"type:varchar(64);index" json:"courseId"`
	Title          string    `gorm:"type:varchar(255)" json:"title"`
	Score          float64   `json:"score"`
	MaxScore       float64   `json:"maxScore"`
	RecordedAt     time.Time `json:"recordedAt"`
}
