package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ineydlis/school-test-service/internal/services"
	"github.com/ineydlis/school-test-service/internal/utils"
)

type ProfileHandler struct {
	BaseHandler
	profileService services.ProfileService
}

func NewProfileHandler(profileService services.ProfileService, logger utils.Logger) *ProfileHandler {
	return &ProfileHandler{
		BaseHandler:    NewBaseHandler(logger),
		profileService: profileService,
	}
}

// GetMyProfile returns the caller's profile.
func (h *ProfileHandler) GetMyProfile(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	profile, err := h.profileService.Get(c.Request.Context(), userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

// UpdateMyProfile updates the caller's editable profile fields.
func (h *ProfileHandler) UpdateMyProfile(c *gin.Context) {
	h.LogRequest(c, "Updating profile")

	var req services.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	profile, err := h.profileService.Update(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

// UploadMyImage replaces the caller's profile image.
func (h *ProfileHandler) UploadMyImage(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "Missing image upload",
			Details: err.Error(),
		})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "Failed to read image upload",
		})
		return
	}

	contentType := header.Header.Get("Content-Type")
	h.LogRequest(c, "Uploading profile image", "content_type", contentType, "size", len(data))

	if err := h.profileService.UploadImage(c.Request.Context(), userID, contentType, data); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Profile image updated"})
}

// GetMyImage streams the caller's profile image.
func (h *ProfileHandler) GetMyImage(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	image, err := h.profileService.GetImage(c.Request.Context(), userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Data(http.StatusOK, image.ContentType, image.Data)
}

// GetUserImage streams another user's profile image, for rankings and class
// lists.
func (h *ProfileHandler) GetUserImage(c *gin.Context) {
	targetID := c.Param("user_id")
	if targetID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "Invalid user_id parameter",
		})
		return
	}

	if _, ok := h.requireUserID(c); !ok {
		return
	}

	image, err := h.profileService.GetImage(c.Request.Context(), targetID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Data(http.StatusOK, image.ContentType, image.Data)
}
