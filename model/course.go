package model

// Student links a user account to the grade and section it belongs to
type Student struct {
	NodeKey     string     `gorm:"primaryKey;type:varchar(64)" json:"nodeKey"`
	UserNodeKey string     `gorm:"type:varchar(64);index" json:"userNodeKey"`
	Grade       FlexString `gorm:"type:varchar(20)" json:"grade"`
	Section     FlexString `gorm:"type:varchar(20)" json:"section"`
}

// Course is a subject taught to one grade/section pair
type Course struct {
	Key     string     `gorm:"primaryKey;type:varchar(64)" json:"key"`
	Name    string     `gorm:"type:varchar(255)" json:"name"`
	Grade   FlexString `gorm:"type:varchar(20);index" json:"grade"`
	Section FlexString `gorm:"type:varchar(20)" json:"section"`
}

// Matches reports whether the course is taught to the given grade and section.
func (c *Course) Matches(grade, section FlexString) bool {
	return c.Grade.Equal(grade) && c.Section.Equal(section)
}

// TeacherAssignment is the many-to-many join between courses and teachers
type TeacherAssignment struct {
	Key       string `gorm:"primaryKey;type:varchar(64)" json:"key"`
	CourseID  string `gorm:"type:varchar(64);index" json:"courseId"`
	TeacherID string `gorm:"type:varchar(64);index" json:"teacherId"`
}

// Teacher points at the user account owning a teacher record
type Teacher struct {
	Key         string `gorm:"primaryKey;type:varchar(64)" json:"key"`
	UserNodeKey string `gorm:"type:varchar(64);index" json:"userNodeKey"`
}

// SchoolAdmin points at the user account of an administrator
type SchoolAdmin struct {
	Key         string `gorm:"primaryKey;type:varchar(64)" json:"key"`
	UserNodeKey string `gorm:"type:varchar(64);index" json:"userNodeKey"`
}
