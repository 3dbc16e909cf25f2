package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type QuestionType string

const (
	SingleChoice   QuestionType = "single_choice"
	MultipleChoice QuestionType = "multiple_choice"
	FreeText       QuestionType = "free_text"
)

type Test struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	Title     string `json:"title" gorm:"not null;size:200;index" validate:"required,min=1,max=200"`
	CreatedBy string `json:"created_by" gorm:"not null;index;size:255"`
	SubjectID uint   `json:"subject_id" gorm:"not null;index" validate:"required"`

	// Grades the test is visible to. []uint
	TargetGradeIDs datatypes.JSON `json:"target_grade_ids" gorm:"type:jsonb"`

	// 0 means unlimited attempts per student.
	MaxAttempts int `json:"max_attempts" gorm:"default:1" validate:"min=0,max=10"`

	// Retired tests are hidden from new attempts but keep their history.
	Active bool `json:"active" gorm:"default:true;index"`

	// Opaque blob reference for reference materials, owned by blob storage.
	ReferenceMaterialRef  *string `json:"reference_material_ref" gorm:"size:500"`
	ReferenceMaterialName *string `json:"reference_material_name" gorm:"size:255"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Subject   Subject    `json:"subject" gorm:"foreignKey:SubjectID"`
	Questions []Question `json:"questions" gorm:"foreignKey:TestID"`
	Creator   User       `json:"creator" gorm:"foreignKey:CreatedBy"`
}

func (Test) TableName() string {
	return "tests"
}

type Question struct {
	ID       uint         `json:"id" gorm:"primaryKey"`
	TestID   uint         `json:"test_id" gorm:"not null;index"`
	Position int          `json:"position" gorm:"not null"`
	Text     string       `json:"text" gorm:"type:text;not null" validate:"required,max=2000"`
	Type     QuestionType `json:"type" gorm:"not null" validate:"required,oneof=single_choice multiple_choice free_text"`
	Points   int          `json:"points" gorm:"default:1" validate:"min=1,max=100"`

	// Ordered answer options for choice types. []QuestionOption
	Options datatypes.JSON `json:"options" gorm:"type:jsonb"`

	// Correct option ids, never exposed to students. []string
	CorrectOptionIDs datatypes.JSON `json:"-" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Question) TableName() string {
	return "questions"
}

type QuestionOption struct {
	ID       string `json:"id" validate:"required"`
	Text     string `json:"text" validate:"required,max=500"`
	Position int    `json:"position"`
}
