package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/ineydlis/school-test-service/internal/models"
	"github.com/ineydlis/school-test-service/internal/repositories"
)

// Subjects and grades are small, slow-moving reference tables. No caching
// layer, the queries are trivial.

type SubjectPostgreSQL struct {
	db *gorm.DB
}

func NewSubjectPostgreSQL(db *gorm.DB) repositories.SubjectRepository {
	return &SubjectPostgreSQL{db: db}
}

func (s *SubjectPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *SubjectPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Subject, error) {
	db := s.getDB(tx)
	var subject models.Subject
	if err := db.WithContext(ctx).First(&subject, id).Error; err != nil {
		return nil, err
	}
	return &subject, nil
}

func (s *SubjectPostgreSQL) List(ctx context.Context, tx *gorm.DB) ([]*models.Subject, error) {
	db := s.getDB(tx)
	var subjects []*models.Subject
	if err := db.WithContext(ctx).Order("name ASC").Find(&subjects).Error; err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	return subjects, nil
}

type GradePostgreSQL struct {
	db *gorm.DB
}

func NewGradePostgreSQL(db *gorm.DB) repositories.GradeRepository {
	return &GradePostgreSQL{db: db}
}

func (g *GradePostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return g.db
}

func (g *GradePostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Grade, error) {
	db := g.getDB(tx)
	var grade models.Grade
	if err := db.WithContext(ctx).First(&grade, id).Error; err != nil {
		return nil, err
	}
	return &grade, nil
}

func (g *GradePostgreSQL) List(ctx context.Context, tx *gorm.DB) ([]*models.Grade, error) {
	db := g.getDB(tx)
	var grades []*models.Grade
	if err := db.WithContext(ctx).Order("number ASC, letter ASC").Find(&grades).Error; err != nil {
		return nil, fmt.Errorf("failed to list grades: %w", err)
	}
	return grades, nil
}
