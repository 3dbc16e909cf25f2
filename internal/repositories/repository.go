package repositories

import (
	"context"

	"gorm.io/gorm"
)

// Repository aggregates the per-entity repositories behind one handle.
type Repository interface {
	Test() TestRepository
	Attempt() AttemptRepository
	User() UserRepository
	Subject() SubjectRepository
	Grade() GradeRepository
	Stats() StatsRepository

	// WithTransaction runs fn inside a single transaction. The handle passed
	// to fn must be forwarded to repository calls that should join it.
	WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager owns repository lifecycle.
type RepositoryManager interface {
	Initialize() error
	GetRepository() Repository
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
