package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ineydlis/school-test-service/internal/config"
	"github.com/ineydlis/school-test-service/internal/models"
	"github.com/ineydlis/school-test-service/internal/repositories"
	"github.com/ineydlis/school-test-service/internal/services"
	"github.com/ineydlis/school-test-service/internal/utils"
	"github.com/ineydlis/school-test-service/internal/validator"
)

type HandlerManager struct {
	catalogHandler    *CatalogHandler
	attemptHandler    *AttemptHandler
	statisticsHandler *StatisticsHandler
	profileHandler    *ProfileHandler
	referenceHandler  *ReferenceHandler
	authMiddleware    *CasdoorAuthMiddleware
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	repo repositories.Repository,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, repo.User())

	return &HandlerManager{
		catalogHandler:    NewCatalogHandler(serviceManager.Catalog(), validator, logger),
		attemptHandler:    NewAttemptHandler(serviceManager.Attempt(), validator, logger),
		statisticsHandler: NewStatisticsHandler(serviceManager.Statistics(), serviceManager.Report(), logger),
		profileHandler:    NewProfileHandler(serviceManager.Profile(), logger),
		referenceHandler:  NewReferenceHandler(repo.Subject(), repo.Grade(), logger),
		authMiddleware:    authMiddleware,
	}
}

// routeRoles is the single place mapping operations to the roles allowed to
// call them. Operations absent from the table are open to every authenticated
// user, and the services still enforce ownership rules on top.
var routeRoles = map[string][]models.UserRole{
	"tests.create":     {models.RoleTeacher, models.RoleAdmin},
	"tests.update":     {models.RoleTeacher, models.RoleAdmin},
	"tests.delete":     {models.RoleTeacher, models.RoleAdmin},
	"tests.deactivate": {models.RoleTeacher, models.RoleAdmin},
	"tests.reactivate": {models.RoleTeacher, models.RoleAdmin},
	"tests.questions":  {models.RoleTeacher, models.RoleAdmin},
	"tests.materials":  {models.RoleTeacher, models.RoleAdmin},

	"attempts.start":       {models.RoleStudent},
	"attempts.submit":      {models.RoleStudent},
	"attempts.in_progress": {models.RoleStudent},
	"attempts.by_student":  {models.RoleTeacher, models.RoleAdmin},
	"attempts.by_test":     {models.RoleTeacher, models.RoleAdmin},

	"statistics.test":          {models.RoleTeacher, models.RoleAdmin},
	"statistics.grade":         {models.RoleTeacher, models.RoleAdmin},
	"statistics.subject":       {models.RoleTeacher, models.RoleAdmin},
	"statistics.recent_tests":  {models.RoleTeacher, models.RoleAdmin},
	"statistics.export_test":   {models.RoleTeacher, models.RoleAdmin},
	"statistics.export_grade":  {models.RoleTeacher, models.RoleAdmin},
	"statistics.export_top":    {models.RoleTeacher, models.RoleAdmin},
	"statistics.export_school": {models.RoleTeacher, models.RoleAdmin},
}

// requireRoles resolves an operation against the routeRoles table.
func (hm *HandlerManager) requireRoles(operation string) gin.HandlerFunc {
	roles, ok := routeRoles[operation]
	if !ok {
		return func(c *gin.Context) { c.Next() }
	}
	return hm.authMiddleware.RequireRoleMiddleware(roles...)
}

// SetupRoutes sets up all API routes.
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		// Test catalog routes
		tests := v1.Group("/tests")
		{
			tests.POST("", hm.requireRoles("tests.create"), hm.catalogHandler.CreateTest)
			tests.PUT("/:id", hm.requireRoles("tests.update"), hm.catalogHandler.UpdateTest)
			tests.DELETE("/:id", hm.requireRoles("tests.delete"), hm.catalogHandler.DeleteTest)
			tests.POST("/:id/deactivate", hm.requireRoles("tests.deactivate"), hm.catalogHandler.DeactivateTest)
			tests.POST("/:id/reactivate", hm.requireRoles("tests.reactivate"), hm.catalogHandler.ReactivateTest)
			tests.GET("/:id/questions", hm.requireRoles("tests.questions"), hm.catalogHandler.GetTestWithQuestions)
			tests.POST("/:id/materials", hm.requireRoles("tests.materials"), hm.catalogHandler.AttachReferenceMaterial)

			// View tests - all authenticated users, filtered per role
			tests.GET("", hm.catalogHandler.ListTests)
			tests.GET("/:id", hm.catalogHandler.GetTest)
			tests.GET("/:id/materials", hm.catalogHandler.GetReferenceMaterial)
		}

		// Attempt routes
		attempts := v1.Group("/attempts")
		{
			attempts.POST("/start", hm.requireRoles("attempts.start"), hm.attemptHandler.StartAttempt)
			attempts.POST("/:id/submit", hm.requireRoles("attempts.submit"), hm.attemptHandler.SubmitAttempt)
			attempts.GET("/in-progress", hm.requireRoles("attempts.in_progress"), hm.attemptHandler.GetInProgress)
			attempts.GET("/my", hm.attemptHandler.ListMyAttempts)
			attempts.GET("/:id", hm.attemptHandler.GetAttempt)
			attempts.GET("/:id/result", hm.attemptHandler.GetResult)

			// Staff views of history
			attempts.GET("/student/:student_id", hm.requireRoles("attempts.by_student"), hm.attemptHandler.ListStudentAttempts)
			attempts.GET("/test/:test_id", hm.requireRoles("attempts.by_test"), hm.attemptHandler.ListTestAttempts)
		}

		// Statistics routes
		statistics := v1.Group("/statistics")
		{
			statistics.GET("/tests/:id", hm.requireRoles("statistics.test"), hm.statisticsHandler.GetTestStatistics)
			statistics.GET("/grades/:id", hm.requireRoles("statistics.grade"), hm.statisticsHandler.GetGradeStatistics)
			statistics.GET("/subjects/:id", hm.requireRoles("statistics.subject"), hm.statisticsHandler.GetSubjectStatistics)
			statistics.GET("/recent-tests", hm.requireRoles("statistics.recent_tests"), hm.statisticsHandler.GetRecentTests)

			// Students may read their own numbers, the service enforces it
			statistics.GET("/students/:student_id", hm.statisticsHandler.GetStudentPerformance)
			statistics.GET("/students/:student_id/subjects/:subject_id", hm.statisticsHandler.GetStudentSubjectStatistics)
			statistics.GET("/students/:student_id/export", hm.statisticsHandler.ExportStudentPerformance)

			// Leaderboard is open to every authenticated user
			statistics.GET("/top-students", hm.statisticsHandler.GetTopStudents)

			// Excel exports
			statistics.GET("/tests/:id/export", hm.requireRoles("statistics.export_test"), hm.statisticsHandler.ExportTestStatistics)
			statistics.GET("/grades/:id/export", hm.requireRoles("statistics.export_grade"), hm.statisticsHandler.ExportGradeStatistics)
			statistics.GET("/top-students/export", hm.requireRoles("statistics.export_top"), hm.statisticsHandler.ExportTopStudents)
			statistics.GET("/school/export", hm.requireRoles("statistics.export_school"), hm.statisticsHandler.ExportSchoolStatistics)
		}

		// Profile routes
		profile := v1.Group("/profile")
		{
			profile.GET("/me", hm.profileHandler.GetMyProfile)
			profile.PUT("/me", hm.profileHandler.UpdateMyProfile)
			profile.POST("/me/image", hm.profileHandler.UploadMyImage)
			profile.GET("/me/image", hm.profileHandler.GetMyImage)
			profile.GET("/:user_id/image", hm.profileHandler.GetUserImage)
		}

		// Lookup tables
		v1.GET("/subjects", hm.referenceHandler.ListSubjects)
		v1.GET("/grades", hm.referenceHandler.ListGrades)
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "school-test-service",
		})
	})
}
