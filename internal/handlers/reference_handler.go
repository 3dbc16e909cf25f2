package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ineydlis/school-test-service/internal/repositories"
	"github.com/ineydlis/school-test-service/internal/utils"
)

// ReferenceHandler serves the small lookup tables the frontends need for
// dropdowns: subjects and grades.
type ReferenceHandler struct {
	BaseHandler
	subjectRepo repositories.SubjectRepository
	gradeRepo   repositories.GradeRepository
}

func NewReferenceHandler(
	subjectRepo repositories.SubjectRepository,
	gradeRepo repositories.GradeRepository,
	logger utils.Logger,
) *ReferenceHandler {
	return &ReferenceHandler{
		BaseHandler: NewBaseHandler(logger),
		subjectRepo: subjectRepo,
		gradeRepo:   gradeRepo,
	}
}

func (h *ReferenceHandler) ListSubjects(c *gin.Context) {
	subjects, err := h.subjectRepo.List(c.Request.Context(), nil)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, subjects)
}

func (h *ReferenceHandler) ListGrades(c *gin.Context) {
	grades, err := h.gradeRepo.List(c.Request.Context(), nil)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, grades)
}
