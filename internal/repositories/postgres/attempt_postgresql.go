package postgres

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ineydlis/school-test-service/internal/cache"
	"github.com/ineydlis/school-test-service/internal/models"
	"github.com/ineydlis/school-test-service/internal/repositories"
)

type AttemptPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewAttemptPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AttemptRepository {
	return &AttemptPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (a *AttemptPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}

func (a *AttemptPostgreSQL) Create(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error {
	db := a.getDB(tx)
	// Uniqueness violations surface as gorm.ErrDuplicatedKey so callers can
	// detect a lost concurrent start and resume the surviving attempt.
	return db.WithContext(ctx).Create(attempt).Error
}

// Finalize writes the scored terminal state, guarded so that only a row still
// in progress can be completed. A lost race surfaces as ErrAttemptFinalized.
func (a *AttemptPostgreSQL) Finalize(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error {
	db := a.getDB(tx)
	res := db.WithContext(ctx).
		Model(&models.TestAttempt{}).
		Where("id = ? AND status = ?", attempt.ID, models.AttemptInProgress).
		Updates(map[string]interface{}{
			"status":       attempt.Status,
			"completed_at": attempt.CompletedAt,
			"score":        attempt.Score,
			"max_score":    attempt.MaxScore,
			"percentage":   attempt.Percentage,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to finalize attempt: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return repositories.ErrAttemptFinalized
	}
	cache.InvalidateAttemptCache(ctx, a.cacheManager, attempt.ID, attempt.StudentID, attempt.TestID)
	return nil
}

func (a *AttemptPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.TestAttempt, error) {
	// Inside a transaction the row is read directly and locked, never from
	// the cache: a cached copy could be stale against concurrent writers.
	if tx != nil {
		var attempt models.TestAttempt
		if err := tx.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&attempt, id).Error; err != nil {
			return nil, err
		}
		return &attempt, nil
	}

	// Attempt state is read on every answer save, cache the hot path
	cacheKey := fmt.Sprintf("id:%d", id)
	var attempt models.TestAttempt

	err := a.cacheManager.Attempt.CacheOrExecute(ctx, cacheKey, &attempt, cache.AttemptCacheConfig.TTL, func() (interface{}, error) {
		var dbAttempt models.TestAttempt
		if err := a.db.WithContext(ctx).First(&dbAttempt, id).Error; err != nil {
			return nil, err
		}
		return &dbAttempt, nil
	})
	if err != nil {
		return nil, err
	}

	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetByIDWithAnswers(ctx context.Context, tx *gorm.DB, id uint) (*models.TestAttempt, error) {
	db := a.getDB(tx)
	var attempt models.TestAttempt
	if err := db.WithContext(ctx).
		Preload("Student").
		Preload("Test").
		Preload("Answers").
		First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

// GetActiveAttempt returns the single in-progress attempt for the student and
// test, or gorm.ErrRecordNotFound when none exists.
func (a *AttemptPostgreSQL) GetActiveAttempt(ctx context.Context, tx *gorm.DB, studentID string, testID uint) (*models.TestAttempt, error) {
	db := a.getDB(tx)
	var attempt models.TestAttempt
	if err := db.WithContext(ctx).
		Where("student_id = ? AND test_id = ? AND status = ?", studentID, testID, models.AttemptInProgress).
		First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

// MaxAttemptNumber returns the highest live attempt number for the student and
// test, 0 when none. Archived attempts do not count, which is what restarts
// the numbering after a teacher clears history.
func (a *AttemptPostgreSQL) MaxAttemptNumber(ctx context.Context, tx *gorm.DB, studentID string, testID uint) (int, error) {
	db := a.getDB(tx)
	var max int
	err := db.WithContext(ctx).
		Model(&models.TestAttempt{}).
		Select("COALESCE(MAX(attempt_number), 0)").
		Where("student_id = ? AND test_id = ? AND status <> ?", studentID, testID, models.AttemptArchived).
		Scan(&max).Error
	if err != nil {
		return 0, fmt.Errorf("failed to get max attempt number: %w", err)
	}
	return max, nil
}

// CountFinalized counts completed attempts by a student on a test. The attempt
// limit is enforced against this number, so abandoned in-progress attempts
// never consume the budget.
func (a *AttemptPostgreSQL) CountFinalized(ctx context.Context, tx *gorm.DB, studentID string, testID uint) (int, error) {
	db := a.getDB(tx)
	var count int64
	err := db.WithContext(ctx).
		Model(&models.TestAttempt{}).
		Where("student_id = ? AND test_id = ? AND status = ?", studentID, testID, models.AttemptCompleted).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count finalized attempts: %w", err)
	}
	return int(count), nil
}

func (a *AttemptPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.TestAttempt, int64, error) {
	db := a.getDB(tx)
	var attempts []*models.TestAttempt
	var total int64

	// apply filter first
	query := db.WithContext(ctx).Model(&models.TestAttempt{})
	query = a.helpers.ApplyAttemptFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// then apply pagination and sorting
	query = a.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)

	if err := query.Preload("Student").Preload("Test").Find(&attempts).Error; err != nil {
		return nil, 0, err
	}

	return attempts, total, nil
}

func (a *AttemptPostgreSQL) CreateAnswers(ctx context.Context, tx *gorm.DB, answers []*models.StudentAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	db := a.getDB(tx)
	if err := db.WithContext(ctx).Create(&answers).Error; err != nil {
		return fmt.Errorf("failed to create answers: %w", err)
	}
	return nil
}

// ArchiveByTest marks every attempt on the test as archived. Used when a
// teacher reactivates a test with history clearing.
func (a *AttemptPostgreSQL) ArchiveByTest(ctx context.Context, tx *gorm.DB, testID uint) error {
	db := a.getDB(tx)
	err := db.WithContext(ctx).
		Model(&models.TestAttempt{}).
		Where("test_id = ? AND status <> ?", testID, models.AttemptArchived).
		Update("status", models.AttemptArchived).Error
	if err != nil {
		return fmt.Errorf("failed to archive attempts: %w", err)
	}
	cache.SafeInvalidatePattern(ctx, a.cacheManager.Stats, fmt.Sprintf("test:%d:*", testID))
	cache.SafeInvalidatePattern(ctx, a.cacheManager.Attempt, "*")
	return nil
}

// DeleteByTest hard-deletes all attempts and their answers for a test. Only
// the permanent test delete path calls this.
func (a *AttemptPostgreSQL) DeleteByTest(ctx context.Context, tx *gorm.DB, testID uint) error {
	db := a.getDB(tx)

	err := db.WithContext(ctx).
		Where("attempt_id IN (?)", db.WithContext(ctx).
			Model(&models.TestAttempt{}).
			Select("id").
			Where("test_id = ?", testID)).
		Delete(&models.StudentAnswer{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete answers: %w", err)
	}

	err = db.WithContext(ctx).
		Where("test_id = ?", testID).
		Delete(&models.TestAttempt{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete attempts: %w", err)
	}

	cache.SafeInvalidatePattern(ctx, a.cacheManager.Stats, fmt.Sprintf("test:%d:*", testID))
	cache.SafeInvalidatePattern(ctx, a.cacheManager.Attempt, "*")
	return nil
}
