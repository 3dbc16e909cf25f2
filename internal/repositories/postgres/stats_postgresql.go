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

// StatsPostgreSQL serves the aggregation layer with one flattened join per
// scope. Aggregation itself happens in the service so the math stays testable
// without a database.
type StatsPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewStatsPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.StatsRepository {
	return &StatsPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (s *StatsPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

// CompletedAttempts returns every finalized attempt in the scope with its
// grouping metadata attached. Archived attempts are excluded everywhere.
func (s *StatsPostgreSQL) CompletedAttempts(ctx context.Context, tx *gorm.DB, scope repositories.StatsScope) ([]repositories.CompletedAttemptRow, error) {
	db := s.getDB(tx)

	query := db.WithContext(ctx).
		Table("test_attempts AS ta").
		Select(`ta.id AS attempt_id,
			ta.test_id,
			t.title AS test_title,
			t.subject_id,
			s.name AS subject_name,
			ta.student_id,
			u.full_name AS student_name,
			u.grade_id,
			g.number::text || g.letter AS grade_name,
			ta.attempt_number,
			ta.score,
			ta.max_score,
			ta.percentage,
			ta.completed_at`).
		Joins("JOIN tests t ON t.id = ta.test_id").
		Joins("JOIN subjects s ON s.id = t.subject_id").
		Joins("JOIN users u ON u.id = ta.student_id").
		Joins("LEFT JOIN grades g ON g.id = u.grade_id").
		Where("ta.status = ?", models.AttemptCompleted)

	if scope.TestID != nil {
		query = query.Where("ta.test_id = ?", *scope.TestID)
	}
	if scope.SubjectID != nil {
		query = query.Where("t.subject_id = ?", *scope.SubjectID)
	}
	if scope.GradeID != nil {
		query = query.Where("u.grade_id = ?", *scope.GradeID)
	}
	if scope.StudentID != nil {
		query = query.Where("ta.student_id = ?", *scope.StudentID)
	}

	var rows []repositories.CompletedAttemptRow
	if err := query.Order("ta.completed_at ASC").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load completed attempts: %w", err)
	}

	return rows, nil
}

// RecentTestIDs returns the most recently created test ids, newest first.
func (s *StatsPostgreSQL) RecentTestIDs(ctx context.Context, tx *gorm.DB, limit int) ([]uint, error) {
	db := s.getDB(tx)
	if limit <= 0 {
		limit = 10
	}

	var ids []uint
	err := db.WithContext(ctx).
		Model(&models.Test{}).
		Order("created_at DESC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent test ids: %w", err)
	}

	return ids, nil
}
