package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gorm.io/gorm"

	"github.com/ineydlis/school-test-service/internal/events"
	"github.com/ineydlis/school-test-service/internal/repositories"
	"github.com/ineydlis/school-test-service/internal/storage"
	"github.com/ineydlis/school-test-service/internal/validator"
)

// serviceManager implements ServiceManager interface
type serviceManager struct {
	// Dependencies
	db        *gorm.DB
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	blobs     storage.BlobStore
	publisher events.EventPublisher

	// Service instances
	catalogService    CatalogService
	attemptService    AttemptService
	statisticsService StatisticsService
	reportService     ReportService
	profileService    ProfileService

	// Lifecycle management
	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a new service manager with all dependencies
func NewServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, blobs storage.BlobStore, publisher events.EventPublisher) ServiceManager {
	return &serviceManager{
		db:        db,
		repo:      repo,
		logger:    logger,
		validator: validator,
		blobs:     blobs,
		publisher: publisher,
	}
}

func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}
	if sm.repo == nil {
		return fmt.Errorf("repository is required")
	}

	notifier := NewEventNotifier(sm.publisher, sm.logger)

	sm.catalogService = NewCatalogService(sm.repo, sm.db, sm.logger, sm.validator, sm.blobs)
	sm.attemptService = NewAttemptService(sm.repo, sm.db, sm.logger, sm.validator, notifier)
	sm.statisticsService = NewStatisticsService(sm.repo, sm.db, sm.logger)
	sm.reportService = NewReportService(sm.statisticsService, sm.repo, sm.logger)
	sm.profileService = NewProfileService(sm.repo, sm.logger, sm.validator, sm.blobs)

	sm.initialized = true
	sm.logger.Info("Service manager initialized")
	return nil
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}
	sm.shutdown = true

	if sm.publisher != nil {
		if err := sm.publisher.Close(); err != nil {
			sm.logger.Error("Failed to close event publisher", "error", err)
		}
	}

	sm.logger.Info("Service manager shut down")
	return nil
}

func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}
	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}
	return sm.repo.Ping(ctx)
}

func (sm *serviceManager) Catalog() CatalogService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.catalogService
}

func (sm *serviceManager) Attempt() AttemptService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.attemptService
}

func (sm *serviceManager) Statistics() StatisticsService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.statisticsService
}

func (sm *serviceManager) Report() ReportService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.reportService
}

func (sm *serviceManager) Profile() ProfileService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.profileService
}
