package services

import (
	"context"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ineydlis/school-test-service/internal/models"
)

// ===== CATALOG DTOs =====

type OptionRequest struct {
	ID      string `json:"id" validate:"omitempty,max=64"`
	Text    string `json:"text" validate:"required,max=500"`
	Correct bool   `json:"correct"`
}

type QuestionRequest struct {
	Text    string              `json:"text" validate:"required,max=2000"`
	Type    models.QuestionType `json:"type" validate:"required,oneof=single_choice multiple_choice free_text"`
	Points  int                 `json:"points" validate:"min=1,max=100"`
	Options []OptionRequest     `json:"options" validate:"dive"`
}

type CreateTestRequest struct {
	Title          string            `json:"title" validate:"required,min=1,max=200"`
	SubjectID      uint              `json:"subject_id" validate:"required"`
	TargetGradeIDs []uint            `json:"target_grade_ids" validate:"required,min=1"`
	MaxAttempts    int               `json:"max_attempts" validate:"min=0,max=10"`
	Questions      []QuestionRequest `json:"questions" validate:"required,min=1,dive"`
}

type UpdateTestRequest struct {
	Title          *string           `json:"title" validate:"omitempty,min=1,max=200"`
	TargetGradeIDs []uint            `json:"target_grade_ids"`
	MaxAttempts    *int              `json:"max_attempts" validate:"omitempty,min=0,max=10"`
	Questions      []QuestionRequest `json:"questions" validate:"omitempty,min=1,dive"`
}

type TestResponse struct {
	*models.Test
	QuestionCount int  `json:"question_count"`
	CanEdit       bool `json:"can_edit"`
	CanDelete     bool `json:"can_delete"`
	CanTake       bool `json:"can_take"`
}

type TestListResponse struct {
	Tests []*TestResponse `json:"tests"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Size  int             `json:"size"`
}

type ReferenceMaterial struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// ===== ATTEMPT DTOs =====

type StartAttemptRequest struct {
	TestID uint `json:"test_id" validate:"required"`
}

// AttemptQuestion is the student-facing view of a snapshot question. Correct
// option ids never leave the service.
type AttemptQuestion struct {
	QuestionID uint                    `json:"question_id"`
	Position   int                     `json:"position"`
	Text       string                  `json:"text"`
	Type       models.QuestionType     `json:"type"`
	Points     int                     `json:"points"`
	Options    []models.QuestionOption `json:"options,omitempty"`
}

type AttemptResponse struct {
	ID            uint                 `json:"id"`
	TestID        uint                 `json:"test_id"`
	TestTitle     string               `json:"test_title"`
	AttemptNumber int                  `json:"attempt_number"`
	Status        models.AttemptStatus `json:"status"`
	StartedAt     time.Time            `json:"started_at"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
	Questions     []AttemptQuestion    `json:"questions,omitempty"`

	// Resumed is true when Start returned an existing in-progress attempt
	// instead of opening a new one.
	Resumed bool `json:"resumed"`
}

type AnswerSubmission struct {
	QuestionID        uint     `json:"question_id" validate:"required"`
	SelectedOptionIDs []string `json:"selected_option_ids"`
	TextAnswer        *string  `json:"text_answer"`
}

type SubmitAttemptRequest struct {
	Answers []AnswerSubmission `json:"answers" validate:"dive"`
}

type QuestionResult struct {
	QuestionID        uint `json:"question_id"`
	IsCorrect         bool `json:"is_correct"`
	AwardedPoints     int  `json:"awarded_points"`
	MaxPoints         int  `json:"max_points"`
	NeedsManualReview bool `json:"needs_manual_review"`
}

type AttemptResult struct {
	AttemptID     uint             `json:"attempt_id"`
	TestID        uint             `json:"test_id"`
	AttemptNumber int              `json:"attempt_number"`
	Score         int              `json:"score"`
	MaxScore      int              `json:"max_score"`
	Percentage    int              `json:"percentage"`
	CompletedAt   time.Time        `json:"completed_at"`
	Questions     []QuestionResult `json:"questions"`
}

type AttemptSummary struct {
	AttemptID     uint       `json:"attempt_id"`
	TestID        uint       `json:"test_id"`
	TestTitle     string     `json:"test_title"`
	AttemptNumber int        `json:"attempt_number"`
	Status        models.AttemptStatus `json:"status"`
	Score         int        `json:"score"`
	MaxScore      int        `json:"max_score"`
	Percentage    int        `json:"percentage"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ===== STATISTICS DTOs =====

// RankingEntry is one student in a best-attempt ranking. Ordered by
// percentage descending, earlier completion winning ties, then name.
type RankingEntry struct {
	Rank          int       `json:"rank"`
	StudentID     string    `json:"student_id"`
	StudentName   string    `json:"student_name"`
	GradeName     string    `json:"grade_name"`
	AttemptID     uint      `json:"attempt_id"`
	AttemptNumber int       `json:"attempt_number"`
	AttemptCount  int       `json:"attempt_count"`
	Score         int       `json:"score"`
	MaxScore      int       `json:"max_score"`
	Percentage    int       `json:"percentage"`
	CompletedAt   time.Time `json:"completed_at"`
}

type TestStatistics struct {
	TestID            uint           `json:"test_id"`
	Title             string         `json:"title"`
	SubjectName       string         `json:"subject_name"`
	Participants      int            `json:"participants"`
	AttemptCount      int            `json:"attempt_count"`
	AveragePercentage int            `json:"average_percentage"`
	Ranking           []RankingEntry `json:"ranking"`
}

type TestSummary struct {
	TestID            uint   `json:"test_id"`
	Title             string `json:"title"`
	SubjectName       string `json:"subject_name"`
	Participants      int    `json:"participants"`
	AveragePercentage int    `json:"average_percentage"`
}

// GradeStatistics ranks each student in the class by their single best
// attempt within the class's tests. TotalStudents counts ranked students,
// AveragePercentage is the mean of the selected bests.
type GradeStatistics struct {
	GradeID           uint           `json:"grade_id"`
	GradeName         string         `json:"grade_name"`
	TotalStudents     int            `json:"total_students"`
	AveragePercentage int            `json:"average_percentage"`
	Tests             []TestSummary  `json:"tests"`
	Ranking           []RankingEntry `json:"ranking"`
}

// SubjectStatistics carries the same shape for one subject's tests.
type SubjectStatistics struct {
	SubjectID         uint           `json:"subject_id"`
	SubjectName       string         `json:"subject_name"`
	TotalStudents     int            `json:"total_students"`
	AveragePercentage int            `json:"average_percentage"`
	Tests             []TestSummary  `json:"tests"`
	Ranking           []RankingEntry `json:"ranking"`
}

type StudentTestStanding struct {
	TestID         uint             `json:"test_id"`
	Title          string           `json:"title"`
	BestPercentage int              `json:"best_percentage"`
	BestAttemptID  uint             `json:"best_attempt_id"`
	Attempts       []AttemptSummary `json:"attempts"`
}

type StudentSubjectStatistics struct {
	StudentID         string                `json:"student_id"`
	StudentName       string                `json:"student_name"`
	SubjectID         uint                  `json:"subject_id"`
	SubjectName       string                `json:"subject_name"`
	AveragePercentage int                   `json:"average_percentage"`
	Tests             []StudentTestStanding `json:"tests"`
}

type SubjectPerformance struct {
	SubjectID         uint   `json:"subject_id"`
	SubjectName       string `json:"subject_name"`
	TestsTaken        int    `json:"tests_taken"`
	AveragePercentage int    `json:"average_percentage"`
}

type StudentPerformance struct {
	StudentID         string               `json:"student_id"`
	StudentName       string               `json:"student_name"`
	GradeName         string               `json:"grade_name"`
	OverallPercentage int                  `json:"overall_percentage"`
	Subjects          []SubjectPerformance `json:"subjects"`
}

// SchoolRankEntry ranks a student school-wide by the average of their
// per-subject best percentages.
type SchoolRankEntry struct {
	Rank              int    `json:"rank"`
	StudentID         string `json:"student_id"`
	StudentName       string `json:"student_name"`
	GradeName         string `json:"grade_name"`
	AveragePercentage int    `json:"average_percentage"`
	SubjectsCounted   int    `json:"subjects_counted"`
}

// ===== PROFILE DTOs =====

type ProfileResponse struct {
	*models.User
	GradeName string `json:"grade_name,omitempty"`
}

type UpdateProfileRequest struct {
	FullName *string `json:"full_name" validate:"omitempty,min=1,max=100"`
}

type ProfileImage struct {
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// ===== SERVICE INTERFACES =====

type CatalogService interface {
	Create(ctx context.Context, req *CreateTestRequest, userID string) (*TestResponse, error)
	Update(ctx context.Context, testID uint, req *UpdateTestRequest, userID string) (*TestResponse, error)
	GetByID(ctx context.Context, testID uint, userID string) (*TestResponse, error)
	GetWithQuestions(ctx context.Context, testID uint, userID string) (*models.Test, error)
	List(ctx context.Context, userID string, page, size int) (*TestListResponse, error)
	Deactivate(ctx context.Context, testID uint, userID string) error
	// Reactivate re-opens a retired test. With clearAttempts the existing
	// history is archived and attempt numbering restarts at 1.
	Reactivate(ctx context.Context, testID uint, clearAttempts bool, userID string) error
	// Delete permanently removes a test. When finalized attempts exist the
	// caller must pass ack, otherwise ErrHistoryAckRequired is returned.
	Delete(ctx context.Context, testID uint, ack bool, userID string) error

	AttachReferenceMaterial(ctx context.Context, testID uint, fileName string, data []byte, userID string) error
	GetReferenceMaterial(ctx context.Context, testID uint, userID string) (*ReferenceMaterial, error)
}

type AttemptService interface {
	// Start opens a new attempt or resumes the in-progress one.
	Start(ctx context.Context, req *StartAttemptRequest, studentID string) (*AttemptResponse, error)
	GetInProgress(ctx context.Context, studentID string) ([]*AttemptResponse, error)
	Submit(ctx context.Context, attemptID uint, req *SubmitAttemptRequest, studentID string) (*AttemptResult, error)
	GetByID(ctx context.Context, attemptID uint, userID string) (*AttemptResponse, error)
	GetResult(ctx context.Context, attemptID uint, userID string) (*AttemptResult, error)
	ListByStudent(ctx context.Context, studentID string, requesterID string) ([]*AttemptSummary, error)
	ListByTest(ctx context.Context, testID uint, requesterID string) ([]*AttemptSummary, error)
}

type StatisticsService interface {
	TestStatistics(ctx context.Context, testID uint, userID string) (*TestStatistics, error)
	GradeStatistics(ctx context.Context, gradeID uint, userID string) (*GradeStatistics, error)
	SubjectStatistics(ctx context.Context, subjectID uint, userID string) (*SubjectStatistics, error)
	StudentSubjectStatistics(ctx context.Context, studentID string, subjectID uint, userID string) (*StudentSubjectStatistics, error)
	StudentPerformance(ctx context.Context, studentID string, userID string) (*StudentPerformance, error)
	SchoolTopStudents(ctx context.Context, limit int, userID string) ([]SchoolRankEntry, error)
	// RecentTests summarizes the most recently created tests, newest first.
	RecentTests(ctx context.Context, limit int, userID string) ([]TestSummary, error)
}

type ReportService interface {
	ExportTestStatistics(ctx context.Context, testID uint, userID string) (*excelize.File, error)
	ExportGradeStatistics(ctx context.Context, gradeID uint, userID string) (*excelize.File, error)
	ExportSchoolTopStudents(ctx context.Context, limit int, userID string) (*excelize.File, error)
	// ExportSchoolStatistics is the full school workbook: leaderboard plus
	// recent tests.
	ExportSchoolStatistics(ctx context.Context, userID string) (*excelize.File, error)
	// ExportStudentPerformance is one student's workbook, a sheet per subject.
	ExportStudentPerformance(ctx context.Context, studentID string, userID string) (*excelize.File, error)
}

type ProfileService interface {
	Get(ctx context.Context, userID string) (*ProfileResponse, error)
	Update(ctx context.Context, req *UpdateProfileRequest, userID string) (*ProfileResponse, error)
	UploadImage(ctx context.Context, userID string, contentType string, data []byte) error
	GetImage(ctx context.Context, userID string) (*ProfileImage, error)
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	Catalog() CatalogService
	Attempt() AttemptService
	Statistics() StatisticsService
	Report() ReportService
	Profile() ProfileService

	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	HealthCheck(ctx context.Context) error
}
