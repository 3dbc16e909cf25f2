package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ineydlis/school-test-service/internal/repositories"
	"github.com/ineydlis/school-test-service/internal/storage"
	"github.com/ineydlis/school-test-service/internal/validator"
)

// maxProfileImageSize caps uploads at 2 MiB.
const maxProfileImageSize = 2 << 20

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

type profileService struct {
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	blobs     storage.BlobStore
}

func NewProfileService(repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, blobs storage.BlobStore) ProfileService {
	return &profileService{
		repo:      repo,
		logger:    logger,
		validator: validator,
		blobs:     blobs,
	}
}

func (s *profileService) Get(ctx context.Context, userID string) (*ProfileResponse, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	resp := &ProfileResponse{User: user}
	if user.GradeID != nil {
		if grade, err := s.repo.Grade().GetByID(ctx, nil, *user.GradeID); err == nil {
			resp.GradeName = grade.FullName()
		}
	}
	return resp, nil
}

func (s *profileService) Update(ctx context.Context, req *UpdateProfileRequest, userID string) (*ProfileResponse, error) {
	s.logger.Info("Updating profile", "user_id", userID)

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	profile, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.FullName != nil {
		profile.User.FullName = *req.FullName
	}

	if err := s.repo.User().Update(ctx, profile.User); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return profile, nil
}

func (s *profileService) UploadImage(ctx context.Context, userID string, contentType string, data []byte) error {
	s.logger.Info("Uploading profile image",
		"user_id", userID,
		"content_type", contentType,
		"size", len(data))

	ext, ok := allowedImageTypes[contentType]
	if !ok {
		return NewValidationError("image", fmt.Sprintf("unsupported content type %q", contentType))
	}
	if len(data) == 0 {
		return NewValidationError("image", "image is empty")
	}
	if len(data) > maxProfileImageSize {
		return NewValidationError("image", "image exceeds the 2 MiB limit")
	}

	profile, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}

	key := "profiles/" + uuid.NewString() + ext
	if _, err := s.blobs.Put(key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to store profile image: %w", err)
	}

	oldRef := profile.User.ProfileImageRef
	profile.User.ProfileImageRef = &key
	if err := s.repo.User().Update(ctx, profile.User); err != nil {
		return fmt.Errorf("failed to save profile image ref: %w", err)
	}

	if oldRef != nil {
		if err := s.blobs.Delete(*oldRef); err != nil {
			s.logger.Warn("Failed to delete replaced profile image", "error", err)
		}
	}
	return nil
}

func (s *profileService) GetImage(ctx context.Context, userID string) (*ProfileImage, error) {
	profile, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile.User.ProfileImageRef == nil {
		return nil, ErrUserNotFound
	}

	rc, err := s.blobs.Get(*profile.User.ProfileImageRef)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile image: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile image: %w", err)
	}

	return &ProfileImage{
		ContentType: contentTypeForName(*profile.User.ProfileImageRef),
		Data:        data,
	}, nil
}
