package models

import (
	"strconv"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleTeacher UserRole = "teacher"
	RoleAdmin   UserRole = "admin"
)

type User struct {
	ID       string   `json:"id" gorm:"primaryKey;size:255"`
	FullName string   `json:"full_name" gorm:"not null;size:100"`
	Email    string   `json:"email" gorm:"uniqueIndex;not null;size:255"`
	Role     UserRole `json:"role" gorm:"not null;index;size:20"`

	// Students belong to exactly one grade. Nil for teachers and admins.
	GradeID *uint `json:"grade_id" gorm:"index"`

	// Teacher associations: subjects they author in, grades they teach.
	SubjectIDs       datatypes.JSON `json:"subject_ids" gorm:"type:jsonb"`        // []uint
	TeachingGradeIDs datatypes.JSON `json:"teaching_grade_ids" gorm:"type:jsonb"` // []uint

	// Profile info
	ProfileImageRef *string `json:"profile_image_ref" gorm:"size:500"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Grade *Grade `json:"grade,omitempty" gorm:"foreignKey:GradeID"`
}

func (User) TableName() string {
	return "users"
}

type Subject struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"not null;uniqueIndex;size:100" validate:"required,max=100"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Subject) TableName() string {
	return "subjects"
}

// Grade is a school class, e.g. number 7 with letter "B".
type Grade struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	Number int    `json:"number" gorm:"not null" validate:"required,min=1,max=12"`
	Letter string `json:"letter" gorm:"not null;size:4" validate:"required,max=4"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Grade) TableName() string {
	return "grades"
}

// FullName renders the display form used in rankings and reports, e.g. "7B".
func (g Grade) FullName() string {
	return strconv.Itoa(g.Number) + g.Letter
}
