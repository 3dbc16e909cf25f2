package models

import (
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
	// Archived attempts were cleared by a teacher reactivation. They are kept
	// for audit but excluded from statistics and attempt numbering.
	AttemptArchived AttemptStatus = "archived"
)

type TestAttempt struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	TestID    uint   `json:"test_id" gorm:"not null;index:idx_attempts_test"`
	StudentID string `json:"student_id" gorm:"not null;index:idx_attempts_student;size:255"`

	// 1-based, gap-free per (student, test). Resets to 1 when a teacher
	// reactivates the test with attempt clearing; archived rows keep their
	// old numbers, so uniqueness is enforced by a partial index that skips
	// them (see migrateSchema).
	AttemptNumber int `json:"attempt_number" gorm:"not null"`

	Status AttemptStatus `json:"status" gorm:"not null;default:in_progress;index"`

	StartedAt   time.Time  `json:"started_at" gorm:"not null"`
	CompletedAt *time.Time `json:"completed_at"`

	// Scoring, filled at finalization.
	Score      int `json:"score"`
	MaxScore   int `json:"max_score"`
	Percentage int `json:"percentage"`

	// Frozen copy of the question set taken at start so that later edits to
	// the test never alter an in-flight or historical attempt. []QuestionSnapshot
	QuestionSnapshot datatypes.JSON `json:"-" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Test    Test            `json:"test" gorm:"foreignKey:TestID"`
	Student User            `json:"student" gorm:"foreignKey:StudentID"`
	Answers []StudentAnswer `json:"answers" gorm:"foreignKey:AttemptID"`
}

func (TestAttempt) TableName() string {
	return "test_attempts"
}

type StudentAnswer struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	AttemptID  uint `json:"attempt_id" gorm:"not null;index"`
	QuestionID uint `json:"question_id" gorm:"not null;index"`

	// Selected option ids for choice questions. []string
	SelectedOptionIDs datatypes.JSON `json:"selected_option_ids" gorm:"type:jsonb"`
	// Raw text for free-text questions.
	TextAnswer *string `json:"text_answer" gorm:"type:text"`

	// Derived by the scoring engine, never supplied by the client.
	IsCorrect     bool `json:"is_correct"`
	AwardedPoints int  `json:"awarded_points"`
	// Free-text answers are excluded from automatic scoring.
	NeedsManualReview bool `json:"needs_manual_review"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (StudentAnswer) TableName() string {
	return "student_answers"
}

// QuestionSnapshot is the frozen per-question scoring material stored on an
// attempt at start time.
type QuestionSnapshot struct {
	QuestionID       uint             `json:"question_id"`
	Position         int              `json:"position"`
	Text             string           `json:"text"`
	Type             QuestionType     `json:"type"`
	Points           int              `json:"points"`
	Options          []QuestionOption `json:"options,omitempty"`
	CorrectOptionIDs []string         `json:"correct_option_ids,omitempty"`
}
