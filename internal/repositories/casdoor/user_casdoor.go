package casdoor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ineydlis/school-test-service/internal/models"
	"github.com/ineydlis/school-test-service/internal/repositories"
)

// CasdoorConfig holds the configuration for Casdoor connection
type CasdoorConfig struct {
	Endpoint         string
	ClientID         string
	ClientSecret     string
	Certificate      string
	OrganizationName string
	ApplicationName  string
}

// UserCasdoor resolves identities from Casdoor and mirrors them into the local
// users table. The mirror is what statistics queries join against, so every
// successful Casdoor read upserts it.
type UserCasdoor struct {
	client *casdoorsdk.Client
	db     *gorm.DB
	redis  *redis.Client
	config CasdoorConfig

	// Cache settings
	cachePrefix string
	cacheTTL    time.Duration
}

func NewUserCasdoor(config CasdoorConfig, db *gorm.DB, redisClient *redis.Client) repositories.UserRepository {
	client := casdoorsdk.NewClient(
		config.Endpoint,
		config.ClientID,
		config.ClientSecret,
		config.Certificate,
		config.OrganizationName,
		config.ApplicationName,
	)

	return &UserCasdoor{
		client:      client,
		db:          db,
		redis:       redisClient,
		config:      config,
		cachePrefix: "user:",
		cacheTTL:    15 * time.Minute,
	}
}

// ===== CACHE METHODS =====

func (u *UserCasdoor) getCacheKey(key string) string {
	return fmt.Sprintf("%s%s", u.cachePrefix, key)
}

func (u *UserCasdoor) getUserFromCache(ctx context.Context, key string) (*models.User, error) {
	if u.redis == nil {
		return nil, nil // Cache not available
	}

	cacheKey := u.getCacheKey(key)
	data, err := u.redis.Get(ctx, cacheKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Not found in cache
		}
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var user models.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached user: %w", err)
	}

	return &user, nil
}

func (u *UserCasdoor) setUserCache(ctx context.Context, key string, user *models.User) error {
	if u.redis == nil {
		return nil
	}

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user for cache: %w", err)
	}

	cacheKey := u.getCacheKey(key)
	return u.redis.Set(ctx, cacheKey, data, u.cacheTTL).Err()
}

func (u *UserCasdoor) dropUserCache(ctx context.Context, key string) {
	if u.redis == nil {
		return
	}
	u.redis.Del(ctx, u.getCacheKey(key))
}

// ===== CONVERSION METHODS =====

func (u *UserCasdoor) convertCasdoorUserToModel(casdoorUser *casdoorsdk.User) *models.User {
	if casdoorUser == nil {
		return nil
	}

	var createdAt, updatedAt time.Time
	if casdoorUser.CreatedTime != "" {
		createdAt, _ = time.Parse(time.RFC3339, casdoorUser.CreatedTime)
	}
	if casdoorUser.UpdatedTime != "" {
		updatedAt, _ = time.Parse(time.RFC3339, casdoorUser.UpdatedTime)
	}

	user := &models.User{
		ID:        casdoorUser.Id,
		FullName:  casdoorUser.DisplayName,
		Email:     casdoorUser.Email,
		Role:      u.convertCasdoorRolesToModel(casdoorUser),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}

	// Grade assignment travels as a Casdoor property for students
	if raw := u.getPropertyOrDefault(casdoorUser.Properties, "grade_id", ""); raw != "" {
		if gradeID, err := strconv.ParseUint(raw, 10, 32); err == nil {
			id := uint(gradeID)
			user.GradeID = &id
		}
	}

	return user
}

func (u *UserCasdoor) convertCasdoorRolesToModel(casdoorUser *casdoorsdk.User) models.UserRole {
	var roles []models.UserRole
	isExist := make(map[models.UserRole]bool)
	for _, casdoorRole := range casdoorUser.Roles {
		mappedRole := u.mapSingleCasdoorRoleToUserRole(casdoorRole.Name)
		if !isExist[mappedRole] {
			roles = append(roles, mappedRole)
			isExist[mappedRole] = true
		}
	}

	// Admin wins over everything else
	if slices.Contains(roles, models.RoleAdmin) || casdoorUser.IsAdmin {
		return models.RoleAdmin
	}

	if len(roles) == 0 {
		return models.RoleStudent // Default role
	}
	return roles[0]
}

func (u *UserCasdoor) mapSingleCasdoorRoleToUserRole(casdoorType string) models.UserRole {
	switch strings.ToLower(casdoorType) {
	case "student":
		return models.RoleStudent
	case "teacher", "instructor":
		return models.RoleTeacher
	case "admin", "administrator":
		return models.RoleAdmin
	default:
		return models.RoleStudent // Default role
	}
}

func (u *UserCasdoor) getPropertyOrDefault(properties map[string]string, key, defaultValue string) string {
	if value, exists := properties[key]; exists {
		return value
	}
	return defaultValue
}

// mirrorUser upserts the identity into the local users table. Locally owned
// columns (profile image, subject assignments) are left untouched.
func (u *UserCasdoor) mirrorUser(ctx context.Context, user *models.User) error {
	if u.db == nil {
		return nil
	}

	return u.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"full_name", "email", "role", "grade_id", "updated_at"}),
	}).Create(user).Error
}

// ===== READ OPERATIONS =====

// GetByID retrieves a user by ID: cache, then local mirror, then Casdoor.
func (u *UserCasdoor) GetByID(ctx context.Context, id string) (*models.User, error) {
	cacheKey := fmt.Sprintf("id:%s", id)
	if cachedUser, err := u.getUserFromCache(ctx, cacheKey); err == nil && cachedUser != nil {
		return cachedUser, nil
	}

	if u.db != nil {
		var local models.User
		err := u.db.WithContext(ctx).First(&local, "id = ?", id).Error
		if err == nil {
			_ = u.setUserCache(ctx, cacheKey, &local)
			return &local, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to read user mirror: %w", err)
		}
	}

	casdoorUser, err := u.client.GetUserByUserId(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user from Casdoor: %w", err)
	}
	if casdoorUser == nil {
		return nil, gorm.ErrRecordNotFound
	}

	user := u.convertCasdoorUserToModel(casdoorUser)
	if err := u.mirrorUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to mirror user: %w", err)
	}

	_ = u.setUserCache(ctx, cacheKey, user)
	return user, nil
}

// Update persists locally owned user fields (grade, subjects, profile image).
// Identity fields still belong to Casdoor.
func (u *UserCasdoor) Update(ctx context.Context, user *models.User) error {
	if u.db == nil {
		return fmt.Errorf("user mirror not available")
	}

	if err := u.db.WithContext(ctx).Save(user).Error; err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	u.dropUserCache(ctx, fmt.Sprintf("id:%s", user.ID))
	return nil
}

// ListByGrade returns the students assigned to a grade, name ascending.
func (u *UserCasdoor) ListByGrade(ctx context.Context, gradeID uint) ([]*models.User, error) {
	if u.db == nil {
		return nil, fmt.Errorf("user mirror not available")
	}

	var users []*models.User
	err := u.db.WithContext(ctx).
		Where("grade_id = ? AND role = ?", gradeID, models.RoleStudent).
		Order("full_name ASC").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list users by grade: %w", err)
	}

	return users, nil
}
