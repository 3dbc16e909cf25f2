package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ineydlis/school-test-service/internal/cache"
	"github.com/ineydlis/school-test-service/internal/models"
	"github.com/ineydlis/school-test-service/internal/repositories"
	"github.com/ineydlis/school-test-service/internal/repositories/casdoor"
)

// PostgreSQLRepository implements the main Repository interface
type PostgreSQLRepository struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cacheManager *cache.CacheManager

	// Repository instances
	test    repositories.TestRepository
	attempt repositories.AttemptRepository
	user    repositories.UserRepository
	subject repositories.SubjectRepository
	grade   repositories.GradeRepository
	stats   repositories.StatsRepository
}

// RepositoryConfig holds configuration for repository initialization
type RepositoryConfig struct {
	DB            *gorm.DB
	RedisClient   *redis.Client
	CasdoorConfig casdoor.CasdoorConfig
}

// NewPostgreSQLRepository creates a new repository manager with all sub-repositories
func NewPostgreSQLRepository(config RepositoryConfig) repositories.Repository {
	cacheManager := cache.NewCacheManager(config.RedisClient)

	repo := &PostgreSQLRepository{
		db:           config.DB,
		redisClient:  config.RedisClient,
		cacheManager: cacheManager,
	}

	repo.test = NewTestPostgreSQL(config.DB, config.RedisClient)
	repo.attempt = NewAttemptPostgreSQL(config.DB, config.RedisClient)
	repo.subject = NewSubjectPostgreSQL(config.DB)
	repo.grade = NewGradePostgreSQL(config.DB)
	repo.stats = NewStatsPostgreSQL(config.DB, config.RedisClient)

	// User repository uses Casdoor with a local mirror table
	repo.user = casdoor.NewUserCasdoor(config.CasdoorConfig, config.DB, config.RedisClient)

	return repo
}

// Test returns the test repository
func (r *PostgreSQLRepository) Test() repositories.TestRepository {
	return r.test
}

// Attempt returns the attempt repository
func (r *PostgreSQLRepository) Attempt() repositories.AttemptRepository {
	return r.attempt
}

// User returns the user repository
func (r *PostgreSQLRepository) User() repositories.UserRepository {
	return r.user
}

// Subject returns the subject repository
func (r *PostgreSQLRepository) Subject() repositories.SubjectRepository {
	return r.subject
}

// Grade returns the grade repository
func (r *PostgreSQLRepository) Grade() repositories.GradeRepository {
	return r.grade
}

// Stats returns the statistics repository
func (r *PostgreSQLRepository) Stats() repositories.StatsRepository {
	return r.stats
}

// WithTransaction executes a function within a database transaction. The
// transaction handle is passed to fn so callers can forward it to repository
// methods that should join the transaction.
func (r *PostgreSQLRepository) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx)
	})
}

// Ping checks the health of database and cache connections
func (r *PostgreSQLRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if r.redisClient != nil {
		if err := r.cacheManager.HealthCheck(ctx); err != nil {
			return fmt.Errorf("cache ping failed: %w", err)
		}
	}

	return nil
}

// Close closes all connections
func (r *PostgreSQLRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	if r.redisClient != nil {
		if err := r.redisClient.Close(); err != nil {
			return fmt.Errorf("failed to close Redis: %w", err)
		}
	}

	return nil
}

// RepositoryManager implements the RepositoryManager interface
type RepositoryManager struct {
	config RepositoryConfig
	repo   repositories.Repository
}

// NewRepositoryManager creates a new repository manager
func NewRepositoryManager(config RepositoryConfig) repositories.RepositoryManager {
	return &RepositoryManager{
		config: config,
	}
}

// Initialize validates connections, runs schema migration and builds the
// repository instance.
func (rm *RepositoryManager) Initialize() error {
	if rm.config.DB == nil {
		return fmt.Errorf("database connection is required")
	}

	sqlDB, err := rm.config.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}

	if rm.config.RedisClient != nil {
		if _, err := rm.config.RedisClient.Ping(ctx).Result(); err != nil {
			return fmt.Errorf("Redis connection failed: %w", err)
		}
	}

	if err := migrateSchema(rm.config.DB); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	rm.repo = NewPostgreSQLRepository(rm.config)

	return nil
}

// migrateSchema auto-migrates the model set and creates the indexes gorm tags
// cannot express.
func migrateSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Subject{},
		&models.Grade{},
		&models.User{},
		&models.Test{},
		&models.Question{},
		&models.TestAttempt{},
		&models.StudentAnswer{},
	); err != nil {
		return err
	}

	// At most one in-progress attempt per student per test. A partial unique
	// index lets completed and archived rows accumulate freely while the
	// database arbitrates concurrent starts.
	//
	// Attempt numbers are unique among live rows only: archived attempts keep
	// their numbers but must not collide with the restarted numbering after a
	// teacher clears history.
	for _, stmt := range []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_one_in_progress
			ON test_attempts (student_id, test_id)
			WHERE status = 'in_progress'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_student_test_number
			ON test_attempts (student_id, test_id, attempt_number)
			WHERE status <> 'archived'`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// GetRepository returns the repository instance
func (rm *RepositoryManager) GetRepository() repositories.Repository {
	return rm.repo
}

// HealthCheck checks the health of all repository connections
func (rm *RepositoryManager) HealthCheck(ctx context.Context) error {
	if rm.repo == nil {
		return fmt.Errorf("repository not initialized")
	}

	return rm.repo.Ping(ctx)
}

// Shutdown gracefully shuts down all repository connections
func (rm *RepositoryManager) Shutdown(ctx context.Context) error {
	if rm.repo == nil {
		return nil
	}

	return rm.repo.Close()
}
