package postgres

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ineydlis/school-test-service/internal/cache"
	"github.com/ineydlis/school-test-service/internal/models"
	"github.com/ineydlis/school-test-service/internal/repositories"
)

type TestPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewTestPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.TestRepository {
	return &TestPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (t *TestPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return t.db
}

func (t *TestPostgreSQL) Create(ctx context.Context, tx *gorm.DB, test *models.Test) error {
	db := t.getDB(tx)
	if err := db.WithContext(ctx).Create(test).Error; err != nil {
		return fmt.Errorf("failed to create test: %w", err)
	}
	cache.InvalidateTestCache(ctx, t.cacheManager, test.ID)
	return nil
}

func (t *TestPostgreSQL) Update(ctx context.Context, tx *gorm.DB, test *models.Test) error {
	db := t.getDB(tx)
	if err := db.WithContext(ctx).Save(test).Error; err != nil {
		return fmt.Errorf("failed to update test: %w", err)
	}
	cache.InvalidateTestCache(ctx, t.cacheManager, test.ID)
	return nil
}

// ReplaceQuestions swaps the question set of a test in one shot. Positions are
// renumbered from the slice order.
func (t *TestPostgreSQL) ReplaceQuestions(ctx context.Context, tx *gorm.DB, testID uint, questions []models.Question) error {
	db := t.getDB(tx)

	if err := db.WithContext(ctx).
		Where("test_id = ?", testID).
		Delete(&models.Question{}).Error; err != nil {
		return fmt.Errorf("failed to delete old questions: %w", err)
	}

	for i := range questions {
		questions[i].ID = 0
		questions[i].TestID = testID
		questions[i].Position = i + 1
	}

	if len(questions) > 0 {
		if err := db.WithContext(ctx).Create(&questions).Error; err != nil {
			return fmt.Errorf("failed to create questions: %w", err)
		}
	}

	cache.InvalidateTestCache(ctx, t.cacheManager, testID)
	return nil
}

func (t *TestPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Test, error) {
	db := t.getDB(tx)
	cacheKey := fmt.Sprintf("id:%d", id)
	var test models.Test

	err := t.cacheManager.Test.CacheOrExecute(ctx, cacheKey, &test, cache.TestCacheConfig.TTL, func() (interface{}, error) {
		var dbTest models.Test
		if err := db.WithContext(ctx).Preload("Subject").First(&dbTest, id).Error; err != nil {
			return nil, err
		}
		return &dbTest, nil
	})
	if err != nil {
		return nil, err
	}

	return &test, nil
}

func (t *TestPostgreSQL) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Test, error) {
	db := t.getDB(tx)
	var test models.Test
	if err := db.WithContext(ctx).
		Preload("Subject").
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&test, id).Error; err != nil {
		return nil, err
	}
	return &test, nil
}

func (t *TestPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.TestFilters) ([]*models.Test, int64, error) {
	db := t.getDB(tx)
	var tests []*models.Test
	var total int64

	// apply filter first
	query := db.WithContext(ctx).Model(&models.Test{})
	query = t.helpers.ApplyTestFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// then apply pagination and sorting
	query = t.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)

	if err := query.Preload("Subject").Find(&tests).Error; err != nil {
		return nil, 0, err
	}

	return tests, total, nil
}

func (t *TestPostgreSQL) SetActive(ctx context.Context, tx *gorm.DB, id uint, active bool) error {
	db := t.getDB(tx)
	result := db.WithContext(ctx).
		Model(&models.Test{}).
		Where("id = ?", id).
		Update("active", active)
	if result.Error != nil {
		return fmt.Errorf("failed to set test active state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	cache.InvalidateTestCache(ctx, t.cacheManager, id)
	return nil
}

func (t *TestPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	db := t.getDB(tx)
	result := db.WithContext(ctx).Delete(&models.Test{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete test: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	cache.InvalidateTestCache(ctx, t.cacheManager, id)
	return nil
}

// HasFinalizedAttempts reports whether any completed attempt references the
// test. Scoring content must stay frozen once this is true.
func (t *TestPostgreSQL) HasFinalizedAttempts(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	db := t.getDB(tx)
	var count int64
	err := db.WithContext(ctx).
		Model(&models.TestAttempt{}).
		Where("test_id = ? AND status = ?", id, models.AttemptCompleted).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to count finalized attempts: %w", err)
	}
	return count > 0, nil
}
