package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ineydlis/school-test-service/internal/models"
	"github.com/ineydlis/school-test-service/internal/repositories"
	"github.com/ineydlis/school-test-service/internal/storage"
	"github.com/ineydlis/school-test-service/internal/validator"
)

type catalogService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	blobs     storage.BlobStore
}

func NewCatalogService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, blobs storage.BlobStore) CatalogService {
	return &catalogService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		blobs:     blobs,
	}
}

// ===== CREATE / UPDATE =====

func (s *catalogService) Create(ctx context.Context, req *CreateTestRequest, userID string) (*TestResponse, error) {
	s.logger.Info("Creating test", "title", req.Title, "user_id", userID)

	user, err := s.requireRole(ctx, userID, models.RoleTeacher, models.RoleAdmin)
	if err != nil {
		return nil, err
	}

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	if _, err := s.repo.Subject().GetByID(ctx, nil, req.SubjectID); err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSubjectNotFound
		}
		return nil, fmt.Errorf("failed to check subject: %w", err)
	}

	questions, err := buildQuestions(req.Questions)
	if err != nil {
		return nil, err
	}

	gradesJSON, err := toJSON(req.TargetGradeIDs)
	if err != nil {
		return nil, err
	}

	maxAttempts := req.MaxAttempts
	test := &models.Test{
		Title:          req.Title,
		CreatedBy:      userID,
		SubjectID:      req.SubjectID,
		TargetGradeIDs: gradesJSON,
		MaxAttempts:    maxAttempts,
		Active:         true,
	}

	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := s.repo.Test().Create(ctx, tx, test); err != nil {
			return fmt.Errorf("failed to create test: %w", err)
		}
		return s.repo.Test().ReplaceQuestions(ctx, tx, test.ID, questions)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Test created successfully", "test_id", test.ID, "questions", len(questions))

	created, err := s.repo.Test().GetByIDWithQuestions(ctx, nil, test.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload test: %w", err)
	}
	return s.toResponse(created, user), nil
}

func (s *catalogService) Update(ctx context.Context, testID uint, req *UpdateTestRequest, userID string) (*TestResponse, error) {
	s.logger.Info("Updating test", "test_id", testID, "user_id", userID)

	user, err := s.requireRole(ctx, userID, models.RoleTeacher, models.RoleAdmin)
	if err != nil {
		return nil, err
	}

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	test, err := s.getTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	if !canManageTest(user, test) {
		return nil, NewPermissionError(userID, "update this test")
	}

	var questions []models.Question
	if req.Questions != nil {
		// Scoring content is frozen once any attempt has been finalized,
		// otherwise historical percentages would silently change meaning.
		frozen, err := s.repo.Test().HasFinalizedAttempts(ctx, nil, testID)
		if err != nil {
			return nil, fmt.Errorf("failed to check attempt history: %w", err)
		}
		if frozen {
			return nil, ErrConflictingHistory
		}

		questions, err = buildQuestions(req.Questions)
		if err != nil {
			return nil, err
		}
	}

	if req.Title != nil {
		test.Title = *req.Title
	}
	if req.MaxAttempts != nil {
		test.MaxAttempts = *req.MaxAttempts
	}
	if req.TargetGradeIDs != nil {
		gradesJSON, err := toJSON(req.TargetGradeIDs)
		if err != nil {
			return nil, err
		}
		test.TargetGradeIDs = gradesJSON
	}

	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := s.repo.Test().Update(ctx, tx, test); err != nil {
			return err
		}
		if questions != nil {
			return s.repo.Test().ReplaceQuestions(ctx, tx, testID, questions)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Test updated successfully", "test_id", testID)

	updated, err := s.repo.Test().GetByIDWithQuestions(ctx, nil, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload test: %w", err)
	}
	return s.toResponse(updated, user), nil
}

// ===== READ =====

func (s *catalogService) GetByID(ctx context.Context, testID uint, userID string) (*TestResponse, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	test, err := s.getTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	if user.Role == models.RoleStudent && !testVisibleToStudent(test, user.GradeID) {
		// Students cannot learn that an unavailable test exists
		return nil, ErrTestNotFound
	}

	return s.toResponse(test, user), nil
}

// GetWithQuestions returns the full test including scoring content. Managers
// only.
func (s *catalogService) GetWithQuestions(ctx context.Context, testID uint, userID string) (*models.Test, error) {
	user, err := s.requireRole(ctx, userID, models.RoleTeacher, models.RoleAdmin)
	if err != nil {
		return nil, err
	}

	test, err := s.repo.Test().GetByIDWithQuestions(ctx, nil, testID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to get test: %w", err)
	}
	if !canManageTest(user, test) {
		return nil, NewPermissionError(userID, "view test content")
	}

	return test, nil
}

func (s *catalogService) List(ctx context.Context, userID string, page, size int) (*TestListResponse, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	filters := repositories.TestFilters{
		Limit:  size,
		Offset: (page - 1) * size,
	}

	switch user.Role {
	case models.RoleStudent:
		active := true
		filters.Active = &active
		if user.GradeID == nil {
			return &TestListResponse{Tests: []*TestResponse{}, Page: page, Size: size}, nil
		}
		filters.GradeID = user.GradeID
	case models.RoleTeacher:
		filters.CreatedBy = &user.ID
	case models.RoleAdmin:
		// no narrowing
	}

	tests, total, err := s.repo.Test().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}

	resp := &TestListResponse{
		Tests: make([]*TestResponse, 0, len(tests)),
		Total: total,
		Page:  page,
		Size:  size,
	}
	for _, test := range tests {
		resp.Tests = append(resp.Tests, s.toResponse(test, user))
	}
	return resp, nil
}

// ===== LIFECYCLE =====

func (s *catalogService) Deactivate(ctx context.Context, testID uint, userID string) error {
	s.logger.Info("Deactivating test", "test_id", testID, "user_id", userID)

	if err := s.authorizeManage(ctx, testID, userID, "deactivate this test"); err != nil {
		return err
	}

	if err := s.repo.Test().SetActive(ctx, nil, testID, false); err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrTestNotFound
		}
		return fmt.Errorf("failed to deactivate test: %w", err)
	}
	return nil
}

func (s *catalogService) Reactivate(ctx context.Context, testID uint, clearAttempts bool, userID string) error {
	s.logger.Info("Reactivating test",
		"test_id", testID,
		"clear_attempts", clearAttempts,
		"user_id", userID)

	if err := s.authorizeManage(ctx, testID, userID, "reactivate this test"); err != nil {
		return err
	}

	err := s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		if clearAttempts {
			// Archiving rather than deleting keeps the rows for audit while
			// resetting numbering and statistics.
			if err := s.repo.Attempt().ArchiveByTest(ctx, tx, testID); err != nil {
				return err
			}
		}
		return s.repo.Test().SetActive(ctx, tx, testID, true)
	})
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrTestNotFound
		}
		return fmt.Errorf("failed to reactivate test: %w", err)
	}
	return nil
}

// Delete permanently removes the test together with its attempts, answers and
// reference material. Finalized attempts make the history valuable, so their
// destruction has to be acknowledged explicitly.
func (s *catalogService) Delete(ctx context.Context, testID uint, ack bool, userID string) error {
	s.logger.Info("Deleting test permanently", "test_id", testID, "acknowledged", ack, "user_id", userID)

	user, err := s.requireRole(ctx, userID, models.RoleTeacher, models.RoleAdmin)
	if err != nil {
		return err
	}
	test, err := s.getTest(ctx, testID)
	if err != nil {
		return err
	}
	if !canManageTest(user, test) {
		return NewPermissionError(userID, "delete this test")
	}

	if !ack {
		finalized, err := s.repo.Test().HasFinalizedAttempts(ctx, nil, testID)
		if err != nil {
			return fmt.Errorf("failed to check attempt history: %w", err)
		}
		if finalized {
			return ErrHistoryAckRequired
		}
	}

	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := s.repo.Attempt().DeleteByTest(ctx, tx, testID); err != nil {
			return err
		}
		if err := s.repo.Test().ReplaceQuestions(ctx, tx, testID, nil); err != nil {
			return err
		}
		return s.repo.Test().Delete(ctx, tx, testID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete test: %w", err)
	}

	if test.ReferenceMaterialRef != nil && s.blobs != nil {
		if err := s.blobs.Delete(*test.ReferenceMaterialRef); err != nil {
			s.logger.Warn("Failed to delete reference material blob",
				"test_id", testID,
				"error", err)
		}
	}

	s.logger.Info("Test deleted", "test_id", testID)
	return nil
}

// ===== REFERENCE MATERIALS =====

func (s *catalogService) AttachReferenceMaterial(ctx context.Context, testID uint, fileName string, data []byte, userID string) error {
	s.logger.Info("Attaching reference material",
		"test_id", testID,
		"file_name", fileName,
		"size", len(data))

	user, err := s.requireRole(ctx, userID, models.RoleTeacher, models.RoleAdmin)
	if err != nil {
		return err
	}
	test, err := s.getTest(ctx, testID)
	if err != nil {
		return err
	}
	if !canManageTest(user, test) {
		return NewPermissionError(userID, "attach reference material")
	}
	if len(data) == 0 {
		return NewValidationError("file", "file is empty")
	}

	key := "reference/" + uuid.NewString() + path.Ext(fileName)
	if _, err := s.blobs.Put(key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to store reference material: %w", err)
	}

	oldRef := test.ReferenceMaterialRef
	test.ReferenceMaterialRef = &key
	test.ReferenceMaterialName = &fileName
	if err := s.repo.Test().Update(ctx, nil, test); err != nil {
		return fmt.Errorf("failed to save reference material ref: %w", err)
	}

	if oldRef != nil {
		if err := s.blobs.Delete(*oldRef); err != nil {
			s.logger.Warn("Failed to delete replaced reference material", "error", err)
		}
	}
	return nil
}

func (s *catalogService) GetReferenceMaterial(ctx context.Context, testID uint, userID string) (*ReferenceMaterial, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	test, err := s.getTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	if user.Role == models.RoleStudent && !testVisibleToStudent(test, user.GradeID) {
		return nil, ErrTestNotFound
	}
	if test.ReferenceMaterialRef == nil {
		return nil, ErrTestNotFound
	}

	rc, err := s.blobs.Get(*test.ReferenceMaterialRef)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference material: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference material: %w", err)
	}

	name := "reference"
	if test.ReferenceMaterialName != nil {
		name = *test.ReferenceMaterialName
	}
	return &ReferenceMaterial{
		FileName:    name,
		ContentType: contentTypeForName(name),
		Data:        data,
	}, nil
}

// ===== INTERNAL =====

func (s *catalogService) getUser(ctx context.Context, userID string) (*models.User, error) {
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

func (s *catalogService) requireRole(ctx context.Context, userID string, roles ...models.UserRole) (*models.User, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, role := range roles {
		if user.Role == role {
			return user, nil
		}
	}
	return nil, NewPermissionError(userID, "perform this operation")
}

func (s *catalogService) getTest(ctx context.Context, testID uint) (*models.Test, error) {
	test, err := s.repo.Test().GetByID(ctx, nil, testID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to get test: %w", err)
	}
	return test, nil
}

func (s *catalogService) authorizeManage(ctx context.Context, testID uint, userID, action string) error {
	user, err := s.requireRole(ctx, userID, models.RoleTeacher, models.RoleAdmin)
	if err != nil {
		return err
	}
	test, err := s.getTest(ctx, testID)
	if err != nil {
		return err
	}
	if !canManageTest(user, test) {
		return NewPermissionError(userID, action)
	}
	return nil
}
