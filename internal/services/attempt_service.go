package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/ineydlis/school-test-service/internal/models"
	"github.com/ineydlis/school-test-service/internal/repositories"
	"github.com/ineydlis/school-test-service/internal/validator"
)

// startRetries bounds the duplicate-key retry loop when two starts race.
const startRetries = 3

type attemptService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	events    EventPublisher
}

func NewAttemptService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, events EventPublisher) AttemptService {
	return &attemptService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		events:    events,
	}
}

// ===== START / RESUME =====

func (s *attemptService) Start(ctx context.Context, req *StartAttemptRequest, studentID string) (*AttemptResponse, error) {
	s.logger.Info("Starting test attempt",
		"test_id", req.TestID,
		"student_id", studentID)

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	student, err := s.getStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	test, err := s.repo.Test().GetByIDWithQuestions(ctx, nil, req.TestID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to get test: %w", err)
	}

	if !test.Active {
		return nil, ErrTestNotActive
	}
	if !testVisibleToStudent(test, student.GradeID) {
		return nil, ErrTestNotAvailable
	}

	// The partial unique index arbitrates concurrent starts. Whichever
	// insert loses re-reads and resumes the attempt the winner opened.
	for i := 0; i < startRetries; i++ {
		if existing, err := s.repo.Attempt().GetActiveAttempt(ctx, nil, studentID, req.TestID); err == nil {
			s.logger.Info("Resuming existing attempt", "attempt_id", existing.ID)
			return s.toAttemptResponse(existing, test.Title, true)
		} else if !repositories.IsNotFoundError(err) {
			return nil, fmt.Errorf("failed to check active attempt: %w", err)
		}

		if test.MaxAttempts > 0 {
			finalized, err := s.repo.Attempt().CountFinalized(ctx, nil, studentID, req.TestID)
			if err != nil {
				return nil, fmt.Errorf("failed to count attempts: %w", err)
			}
			if finalized >= test.MaxAttempts {
				return nil, ErrAttemptLimitReached
			}
		}

		attempt, err := s.openAttempt(ctx, test, studentID)
		if err == nil {
			s.logger.Info("Test attempt started",
				"attempt_id", attempt.ID,
				"attempt_number", attempt.AttemptNumber,
				"test_id", req.TestID,
				"student_id", studentID)
			return s.toAttemptResponse(attempt, test.Title, false)
		}
		if !repositories.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("failed to open attempt: %w", err)
		}

		s.logger.Info("Lost attempt start race, resuming winner",
			"test_id", req.TestID,
			"student_id", studentID)
	}

	return nil, fmt.Errorf("failed to start attempt after %d tries", startRetries)
}

// openAttempt freezes the question set and inserts the next-numbered attempt.
func (s *attemptService) openAttempt(ctx context.Context, test *models.Test, studentID string) (*models.TestAttempt, error) {
	snapshot := snapshotQuestions(test.Questions)
	snapshotJSON, err := toJSON(snapshot)
	if err != nil {
		return nil, err
	}

	var attempt *models.TestAttempt
	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		number, err := s.repo.Attempt().MaxAttemptNumber(ctx, tx, studentID, test.ID)
		if err != nil {
			return err
		}

		attempt = &models.TestAttempt{
			TestID:           test.ID,
			StudentID:        studentID,
			AttemptNumber:    number + 1,
			Status:           models.AttemptInProgress,
			StartedAt:        time.Now(),
			QuestionSnapshot: snapshotJSON,
		}
		return s.repo.Attempt().Create(ctx, tx, attempt)
	})
	if err != nil {
		return nil, err
	}
	return attempt, nil
}

func (s *attemptService) GetInProgress(ctx context.Context, studentID string) ([]*AttemptResponse, error) {
	if _, err := s.getStudent(ctx, studentID); err != nil {
		return nil, err
	}

	status := models.AttemptInProgress
	attempts, _, err := s.repo.Attempt().List(ctx, nil, repositories.AttemptFilters{
		Status:    &status,
		StudentID: &studentID,
		SortBy:    "started_at",
		SortOrder: "asc",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list in-progress attempts: %w", err)
	}

	out := make([]*AttemptResponse, 0, len(attempts))
	for _, attempt := range attempts {
		resp, err := s.toAttemptResponse(attempt, attempt.Test.Title, true)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}

// ===== SUBMIT =====

func (s *attemptService) Submit(ctx context.Context, attemptID uint, req *SubmitAttemptRequest, studentID string) (*AttemptResult, error) {
	s.logger.Info("Submitting test attempt",
		"attempt_id", attemptID,
		"student_id", studentID,
		"answers", len(req.Answers))

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	if _, err := s.getStudent(ctx, studentID); err != nil {
		return nil, err
	}

	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	if attempt.StudentID != studentID {
		return nil, NewPermissionError(studentID, "submit this attempt")
	}
	if attempt.Status == models.AttemptCompleted {
		return nil, ErrAttemptAlreadySubmitted
	}
	if attempt.Status != models.AttemptInProgress {
		return nil, ErrAttemptNotActive
	}

	snapshot, err := snapshotFromJSON(attempt.QuestionSnapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to decode question snapshot: %w", err)
	}

	scored, err := ScoreAttempt(snapshot, req.Answers)
	if err != nil {
		return nil, err
	}

	completedAt := time.Now()
	answers := buildAnswerRows(attemptID, req.Answers, scored)

	attempt.Status = models.AttemptCompleted
	attempt.CompletedAt = &completedAt
	attempt.Score = scored.Score
	attempt.MaxScore = scored.MaxScore
	attempt.Percentage = scored.Percentage

	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		// Finalize is guarded on the stored status, so two racing submits
		// cannot both complete the same attempt even when the earlier read
		// was served stale.
		if err := s.repo.Attempt().Finalize(ctx, tx, attempt); err != nil {
			if errors.Is(err, repositories.ErrAttemptFinalized) {
				return ErrAttemptAlreadySubmitted
			}
			return err
		}
		return s.repo.Attempt().CreateAnswers(ctx, tx, answers)
	})
	if err != nil {
		if IsConflict(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to finalize attempt: %w", err)
	}

	s.logger.Info("Test attempt submitted",
		"attempt_id", attemptID,
		"score", scored.Score,
		"max_score", scored.MaxScore,
		"percentage", scored.Percentage,
		"needs_review", scored.NeedsManualReview)

	if s.events != nil {
		s.events.PublishAttemptCompleted(ctx, &AttemptCompletedEvent{
			AttemptID:         attempt.ID,
			TestID:            attempt.TestID,
			StudentID:         attempt.StudentID,
			AttemptNumber:     attempt.AttemptNumber,
			Score:             attempt.Score,
			MaxScore:          attempt.MaxScore,
			Percentage:        attempt.Percentage,
			NeedsManualReview: scored.NeedsManualReview,
			CompletedAt:       completedAt,
		})
	}

	return &AttemptResult{
		AttemptID:     attempt.ID,
		TestID:        attempt.TestID,
		AttemptNumber: attempt.AttemptNumber,
		Score:         attempt.Score,
		MaxScore:      attempt.MaxScore,
		Percentage:    attempt.Percentage,
		CompletedAt:   completedAt,
		Questions:     scored.Questions,
	}, nil
}

// ===== RESULTS =====

// GetByID returns one attempt in its student-facing shape. Owners see their
// own attempts, staff can see any.
func (s *attemptService) GetByID(ctx context.Context, attemptID uint, userID string) (*AttemptResponse, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	attempt, err := s.repo.Attempt().GetByIDWithAnswers(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	if user.Role == models.RoleStudent && attempt.StudentID != userID {
		return nil, NewPermissionError(userID, "view this attempt")
	}

	return s.toAttemptResponse(attempt, attempt.Test.Title, false)
}

func (s *attemptService) GetResult(ctx context.Context, attemptID uint, userID string) (*AttemptResult, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	attempt, err := s.repo.Attempt().GetByIDWithAnswers(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	if user.Role == models.RoleStudent && attempt.StudentID != userID {
		return nil, NewPermissionError(userID, "view this attempt")
	}
	if attempt.Status != models.AttemptCompleted {
		return nil, ErrAttemptNotActive
	}

	snapshot, err := snapshotFromJSON(attempt.QuestionSnapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to decode question snapshot: %w", err)
	}
	points := make(map[uint]int, len(snapshot))
	free := make(map[uint]bool, len(snapshot))
	for _, q := range snapshot {
		points[q.QuestionID] = q.Points
		free[q.QuestionID] = q.Type == models.FreeText
	}

	results := make([]QuestionResult, 0, len(attempt.Answers))
	for _, ans := range attempt.Answers {
		maxPoints := points[ans.QuestionID]
		if free[ans.QuestionID] {
			maxPoints = 0
		}
		results = append(results, QuestionResult{
			QuestionID:        ans.QuestionID,
			IsCorrect:         ans.IsCorrect,
			AwardedPoints:     ans.AwardedPoints,
			MaxPoints:         maxPoints,
			NeedsManualReview: ans.NeedsManualReview,
		})
	}

	return &AttemptResult{
		AttemptID:     attempt.ID,
		TestID:        attempt.TestID,
		AttemptNumber: attempt.AttemptNumber,
		Score:         attempt.Score,
		MaxScore:      attempt.MaxScore,
		Percentage:    attempt.Percentage,
		CompletedAt:   *attempt.CompletedAt,
		Questions:     results,
	}, nil
}

func (s *attemptService) ListByStudent(ctx context.Context, studentID string, requesterID string) ([]*AttemptSummary, error) {
	requester, err := s.getUser(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if requester.Role == models.RoleStudent && requesterID != studentID {
		return nil, NewPermissionError(requesterID, "view attempts of another student")
	}

	attempts, _, err := s.repo.Attempt().List(ctx, nil, repositories.AttemptFilters{
		StudentID: &studentID,
		SortBy:    "started_at",
		SortOrder: "desc",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	return attemptSummaries(attempts), nil
}

// ListByTest lists every student's attempts on one test. Staff only.
func (s *attemptService) ListByTest(ctx context.Context, testID uint, requesterID string) ([]*AttemptSummary, error) {
	requester, err := s.getUser(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if requester.Role == models.RoleStudent {
		return nil, NewPermissionError(requesterID, "view attempts for a test")
	}

	if _, err := s.repo.Test().GetByID(ctx, nil, testID); err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to get test: %w", err)
	}

	attempts, _, err := s.repo.Attempt().List(ctx, nil, repositories.AttemptFilters{
		TestID:    &testID,
		SortBy:    "started_at",
		SortOrder: "desc",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	return attemptSummaries(attempts), nil
}

// attemptSummaries shapes attempts for listing, dropping archived history.
func attemptSummaries(attempts []*models.TestAttempt) []*AttemptSummary {
	out := make([]*AttemptSummary, 0, len(attempts))
	for _, a := range attempts {
		if a.Status == models.AttemptArchived {
			continue
		}
		out = append(out, &AttemptSummary{
			AttemptID:     a.ID,
			TestID:        a.TestID,
			TestTitle:     a.Test.Title,
			AttemptNumber: a.AttemptNumber,
			Status:        a.Status,
			Score:         a.Score,
			MaxScore:      a.MaxScore,
			Percentage:    a.Percentage,
			StartedAt:     a.StartedAt,
			CompletedAt:   a.CompletedAt,
		})
	}
	return out
}

// ===== INTERNAL =====

func (s *attemptService) getUser(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	return user, nil
}

func (s *attemptService) getStudent(ctx context.Context, studentID string) (*models.User, error) {
	user, err := s.getUser(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if user.Role != models.RoleStudent {
		return nil, NewPermissionError(studentID, "take tests")
	}
	return user, nil
}
