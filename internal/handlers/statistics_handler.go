package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"github.com/ineydlis/school-test-service/internal/services"
	"github.com/ineydlis/school-test-service/internal/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type StatisticsHandler struct {
	BaseHandler
	statisticsService services.StatisticsService
	reportService     services.ReportService
}

func NewStatisticsHandler(
	statisticsService services.StatisticsService,
	reportService services.ReportService,
	logger utils.Logger,
) *StatisticsHandler {
	return &StatisticsHandler{
		BaseHandler:       NewBaseHandler(logger),
		statisticsService: statisticsService,
		reportService:     reportService,
	}
}

// GetTestStatistics returns the best-attempt ranking for one test.
func (h *StatisticsHandler) GetTestStatistics(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	stats, err := h.statisticsService.TestStatistics(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetGradeStatistics returns per-test summaries and the ranking for one grade.
func (h *StatisticsHandler) GetGradeStatistics(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	stats, err := h.statisticsService.GradeStatistics(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetSubjectStatistics returns per-test summaries and the ranking for one
// subject.
func (h *StatisticsHandler) GetSubjectStatistics(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	stats, err := h.statisticsService.SubjectStatistics(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetStudentSubjectStatistics returns one student's standings in one subject.
func (h *StatisticsHandler) GetStudentSubjectStatistics(c *gin.Context) {
	studentID := c.Param("student_id")
	subjectID := h.parseIDParam(c, "subject_id")
	if subjectID == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	stats, err := h.statisticsService.StudentSubjectStatistics(c.Request.Context(), studentID, subjectID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetStudentPerformance returns one student's per-subject averages and the
// overall percentage.
func (h *StatisticsHandler) GetStudentPerformance(c *gin.Context) {
	studentID := c.Param("student_id")

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	perf, err := h.statisticsService.StudentPerformance(c.Request.Context(), studentID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, perf)
}

// GetTopStudents returns the school-wide leaderboard.
func (h *StatisticsHandler) GetTopStudents(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	top, err := h.statisticsService.SchoolTopStudents(c.Request.Context(), limit, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, top)
}

// GetRecentTests returns summaries of the most recently created tests.
func (h *StatisticsHandler) GetRecentTests(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	tests, err := h.statisticsService.RecentTests(c.Request.Context(), limit, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, tests)
}

// ExportTestStatistics downloads the test ranking as an xlsx workbook.
func (h *StatisticsHandler) ExportTestStatistics(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Exporting test statistics", "test_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	file, err := h.reportService.ExportTestStatistics(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.writeWorkbook(c, file, fmt.Sprintf("test-%d-statistics.xlsx", id))
}

// ExportGradeStatistics downloads the grade report as an xlsx workbook.
func (h *StatisticsHandler) ExportGradeStatistics(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Exporting grade statistics", "grade_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	file, err := h.reportService.ExportGradeStatistics(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.writeWorkbook(c, file, fmt.Sprintf("grade-%d-statistics.xlsx", id))
}

// ExportTopStudents downloads the leaderboard as an xlsx workbook.
func (h *StatisticsHandler) ExportTopStudents(c *gin.Context) {
	h.LogRequest(c, "Exporting top students")

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	file, err := h.reportService.ExportSchoolTopStudents(c.Request.Context(), limit, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.writeWorkbook(c, file, "top-students.xlsx")
}

// ExportSchoolStatistics downloads the full school workbook.
func (h *StatisticsHandler) ExportSchoolStatistics(c *gin.Context) {
	h.LogRequest(c, "Exporting school statistics")

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	file, err := h.reportService.ExportSchoolStatistics(c.Request.Context(), userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.writeWorkbook(c, file, "school-statistics.xlsx")
}

// ExportStudentPerformance downloads one student's workbook, a sheet per
// subject.
func (h *StatisticsHandler) ExportStudentPerformance(c *gin.Context) {
	studentID := c.Param("student_id")

	h.LogRequest(c, "Exporting student performance", "student_id", studentID)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	file, err := h.reportService.ExportStudentPerformance(c.Request.Context(), studentID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.writeWorkbook(c, file, fmt.Sprintf("student-%s-performance.xlsx", studentID))
}

func (h *StatisticsHandler) writeWorkbook(c *gin.Context, file *excelize.File, fileName string) {
	c.Header("Content-Type", xlsxContentType)
	c.Header("Content-Disposition", `attachment; filename="`+fileName+`"`)
	c.Status(http.StatusOK)

	if err := file.Write(c.Writer); err != nil {
		utils.LoggerFromContext(c, h.logger).Error("Failed to write workbook", "error", err)
	}
}
