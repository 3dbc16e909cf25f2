package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ineydlis/school-test-service/internal/services"
	"github.com/ineydlis/school-test-service/internal/utils"
	"github.com/ineydlis/school-test-service/internal/validator"
)

// maxReferenceMaterialSize caps uploaded reference files at 10 MiB.
const maxReferenceMaterialSize = 10 << 20

type CatalogHandler struct {
	BaseHandler
	catalogService services.CatalogService
	validator      *validator.Validator
}

func NewCatalogHandler(
	catalogService services.CatalogService,
	validator *validator.Validator,
	logger utils.Logger,
) *CatalogHandler {
	return &CatalogHandler{
		BaseHandler:    NewBaseHandler(logger),
		catalogService: catalogService,
		validator:      validator,
	}
}

// CreateTest creates a new test with its questions.
func (h *CatalogHandler) CreateTest(c *gin.Context) {
	h.LogRequest(c, "Creating test")

	var req services.CreateTestRequest
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

	test, err := h.catalogService.Create(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, test)
}

// UpdateTest updates test metadata, and question content while no finalized
// attempts exist.
func (h *CatalogHandler) UpdateTest(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Updating test", "test_id", id)

	var req services.UpdateTestRequest
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

	test, err := h.catalogService.Update(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, test)
}

// GetTest returns one test, filtered by the caller's visibility.
func (h *CatalogHandler) GetTest(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	test, err := h.catalogService.GetByID(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, test)
}

// GetTestWithQuestions returns the full test including scoring content.
func (h *CatalogHandler) GetTestWithQuestions(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	test, err := h.catalogService.GetWithQuestions(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, test)
}

// ListTests lists tests visible to the caller, paginated.
func (h *CatalogHandler) ListTests(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	list, err := h.catalogService.List(c.Request.Context(), userID, page, size)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

// DeactivateTest retires a test from the student catalog.
func (h *CatalogHandler) DeactivateTest(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Deactivating test", "test_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	if err := h.catalogService.Deactivate(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Test deactivated"})
}

// ReactivateTest re-opens a retired test. With clear_attempts=true the
// existing attempt history is archived and numbering restarts.
func (h *CatalogHandler) ReactivateTest(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	clearAttempts := c.Query("clear_attempts") == "true"
	h.LogRequest(c, "Reactivating test", "test_id", id, "clear_attempts", clearAttempts)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	if err := h.catalogService.Reactivate(c.Request.Context(), id, clearAttempts, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Test reactivated"})
}

// DeleteTest permanently removes a test with its attempts and materials. When
// finalized attempts exist the caller must pass acknowledge=true.
func (h *CatalogHandler) DeleteTest(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	ack := c.Query("acknowledge") == "true"
	h.LogRequest(c, "Deleting test", "test_id", id, "acknowledged", ack)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	if err := h.catalogService.Delete(c.Request.Context(), id, ack, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Test deleted"})
}

// AttachReferenceMaterial uploads a reference file for a test.
func (h *CatalogHandler) AttachReferenceMaterial(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "Missing file upload",
			Details: err.Error(),
		})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxReferenceMaterialSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "Failed to read file upload",
		})
		return
	}
	if len(data) > maxReferenceMaterialSize {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   "too_large",
			Message: "Reference material exceeds the 10 MiB limit",
		})
		return
	}

	h.LogRequest(c, "Attaching reference material",
		"test_id", id,
		"file_name", header.Filename,
		"size", len(data))

	if err := h.catalogService.AttachReferenceMaterial(c.Request.Context(), id, header.Filename, data, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Reference material attached"})
}

// GetReferenceMaterial streams the reference file attached to a test.
func (h *CatalogHandler) GetReferenceMaterial(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	material, err := h.catalogService.GetReferenceMaterial(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+material.FileName+`"`)
	c.Data(http.StatusOK, material.ContentType, material.Data)
}
