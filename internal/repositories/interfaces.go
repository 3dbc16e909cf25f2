package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ineydlis/school-test-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type TestFilters struct {
	SubjectID *uint   `json:"subject_id"`
	GradeID   *uint   `json:"grade_id"`
	CreatedBy *string `json:"created_by"`
	Active    *bool   `json:"active"`
	Limit     int     `json:"limit"`
	Offset    int     `json:"offset"`
	SortBy    string  `json:"sort_by"`    // "created_at", "title"
	SortOrder string  `json:"sort_order"` // "asc", "desc"
}

type AttemptFilters struct {
	Status    *models.AttemptStatus `json:"status"`
	StudentID *string               `json:"student_id"`
	TestID    *uint                 `json:"test_id"`
	DateFrom  *time.Time            `json:"date_from"`
	DateTo    *time.Time            `json:"date_to"`
	Limit     int                   `json:"limit"`
	Offset    int                   `json:"offset"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

// ===== STATISTICS ROW STRUCTS =====

// CompletedAttemptRow is the flattened join the aggregator works from: one row
// per finalized attempt with the grouping metadata already attached.
type CompletedAttemptRow struct {
	AttemptID     uint      `json:"attempt_id"`
	TestID        uint      `json:"test_id"`
	TestTitle     string    `json:"test_title"`
	SubjectID     uint      `json:"subject_id"`
	SubjectName   string    `json:"subject_name"`
	StudentID     string    `json:"student_id"`
	StudentName   string    `json:"student_name"`
	GradeID       uint      `json:"grade_id"`
	GradeName     string    `json:"grade_name"`
	AttemptNumber int       `json:"attempt_number"`
	Score         int       `json:"score"`
	MaxScore      int       `json:"max_score"`
	Percentage    int       `json:"percentage"`
	CompletedAt   time.Time `json:"completed_at"`
}

// StatsScope narrows the completed-attempt query to one grouping dimension.
// Zero-value fields are not applied.
type StatsScope struct {
	TestID    *uint
	SubjectID *uint
	GradeID   *uint
	StudentID *string
}

// ===== REPOSITORY INTERFACES =====

// Repository methods accept an optional transaction handle. A nil tx means the
// repository's own connection is used.

type TestRepository interface {
	Create(ctx context.Context, tx *gorm.DB, test *models.Test) error
	Update(ctx context.Context, tx *gorm.DB, test *models.Test) error
	ReplaceQuestions(ctx context.Context, tx *gorm.DB, testID uint, questions []models.Question) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Test, error)
	GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Test, error)
	List(ctx context.Context, tx *gorm.DB, filters TestFilters) ([]*models.Test, int64, error)
	SetActive(ctx context.Context, tx *gorm.DB, id uint, active bool) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error
	HasFinalizedAttempts(ctx context.Context, tx *gorm.DB, id uint) (bool, error)
}

type AttemptRepository interface {
	Create(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error
	// Finalize persists the scored, completed state of an attempt. It only
	// touches rows still in progress and returns ErrAttemptFinalized when a
	// concurrent submit got there first.
	Finalize(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.TestAttempt, error)
	GetByIDWithAnswers(ctx context.Context, tx *gorm.DB, id uint) (*models.TestAttempt, error)
	GetActiveAttempt(ctx context.Context, tx *gorm.DB, studentID string, testID uint) (*models.TestAttempt, error)
	MaxAttemptNumber(ctx context.Context, tx *gorm.DB, studentID string, testID uint) (int, error)
	CountFinalized(ctx context.Context, tx *gorm.DB, studentID string, testID uint) (int, error)
	List(ctx context.Context, tx *gorm.DB, filters AttemptFilters) ([]*models.TestAttempt, int64, error)
	CreateAnswers(ctx context.Context, tx *gorm.DB, answers []*models.StudentAnswer) error
	ArchiveByTest(ctx context.Context, tx *gorm.DB, testID uint) error
	DeleteByTest(ctx context.Context, tx *gorm.DB, testID uint) error
}

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	ListByGrade(ctx context.Context, gradeID uint) ([]*models.User, error)
}

type SubjectRepository interface {
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Subject, error)
	List(ctx context.Context, tx *gorm.DB) ([]*models.Subject, error)
}

type GradeRepository interface {
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Grade, error)
	List(ctx context.Context, tx *gorm.DB) ([]*models.Grade, error)
}

// StatsRepository serves the hot aggregation paths: all finalized attempts in
// one grouping scope, joined with naming metadata.
type StatsRepository interface {
	CompletedAttempts(ctx context.Context, tx *gorm.DB, scope StatsScope) ([]CompletedAttemptRow, error)
	RecentTestIDs(ctx context.Context, tx *gorm.DB, limit int) ([]uint, error)
}
