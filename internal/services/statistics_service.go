package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"gorm.io/gorm"

	"github.com/ineydlis/school-test-service/internal/models"
	"github.com/ineydlis/school-test-service/internal/repositories"
)

type statisticsService struct {
	repo   repositories.Repository
	db     *gorm.DB
	logger *slog.Logger
}

func NewStatisticsService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger) StatisticsService {
	return &statisticsService{
		repo:   repo,
		db:     db,
		logger: logger,
	}
}

// ===== SCOPED STATISTICS =====

func (s *statisticsService) TestStatistics(ctx context.Context, testID uint, userID string) (*TestStatistics, error) {
	user, err := s.requireStaff(ctx, userID)
	if err != nil {
		return nil, err
	}

	test, err := s.repo.Test().GetByID(ctx, nil, testID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to get test: %w", err)
	}

	// Teachers see tests they authored or tests in subjects they cover
	if user.Role == models.RoleTeacher && test.CreatedBy != user.ID && !teacherCoversSubject(user, test.SubjectID) {
		return nil, NewPermissionError(userID, "view statistics for this test")
	}

	rows, err := s.repo.Stats().CompletedAttempts(ctx, nil, repositories.StatsScope{TestID: &testID})
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts: %w", err)
	}

	ranking := testRanking(rows)
	percentages := make([]int, 0, len(ranking))
	for _, entry := range ranking {
		percentages = append(percentages, entry.Percentage)
	}

	return &TestStatistics{
		TestID:            testID,
		Title:             test.Title,
		SubjectName:       test.Subject.Name,
		Participants:      len(ranking),
		AttemptCount:      len(rows),
		AveragePercentage: averagePercentage(percentages),
		Ranking:           ranking,
	}, nil
}

func (s *statisticsService) GradeStatistics(ctx context.Context, gradeID uint, userID string) (*GradeStatistics, error) {
	user, err := s.requireStaff(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Role == models.RoleTeacher && !teacherCoversGrade(user, gradeID) {
		return nil, NewPermissionError(userID, "view statistics for this class")
	}

	grade, err := s.repo.Grade().GetByID(ctx, nil, gradeID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrGradeNotFound
		}
		return nil, fmt.Errorf("failed to get grade: %w", err)
	}

	rows, err := s.repo.Stats().CompletedAttempts(ctx, nil, repositories.StatsScope{GradeID: &gradeID})
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts: %w", err)
	}

	ranking := scopeRanking(rows)
	return &GradeStatistics{
		GradeID:           gradeID,
		GradeName:         grade.FullName(),
		TotalStudents:     len(ranking),
		AveragePercentage: rankingAverage(ranking),
		Tests:             testSummaries(rows),
		Ranking:           ranking,
	}, nil
}

func (s *statisticsService) SubjectStatistics(ctx context.Context, subjectID uint, userID string) (*SubjectStatistics, error) {
	user, err := s.requireStaff(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Role == models.RoleTeacher && !teacherCoversSubject(user, subjectID) {
		return nil, NewPermissionError(userID, "view statistics for this subject")
	}

	subject, err := s.repo.Subject().GetByID(ctx, nil, subjectID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSubjectNotFound
		}
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}

	rows, err := s.repo.Stats().CompletedAttempts(ctx, nil, repositories.StatsScope{SubjectID: &subjectID})
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts: %w", err)
	}

	ranking := scopeRanking(rows)
	return &SubjectStatistics{
		SubjectID:         subjectID,
		SubjectName:       subject.Name,
		TotalStudents:     len(ranking),
		AveragePercentage: rankingAverage(ranking),
		Tests:             testSummaries(rows),
		Ranking:           ranking,
	}, nil
}

func (s *statisticsService) StudentSubjectStatistics(ctx context.Context, studentID string, subjectID uint, userID string) (*StudentSubjectStatistics, error) {
	if err := s.requireSelfOrStaff(ctx, userID, studentID); err != nil {
		return nil, err
	}

	student, err := s.getUser(ctx, studentID)
	if err != nil {
		return nil, err
	}
	subject, err := s.repo.Subject().GetByID(ctx, nil, subjectID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSubjectNotFound
		}
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}

	rows, err := s.repo.Stats().CompletedAttempts(ctx, nil, repositories.StatsScope{
		StudentID: &studentID,
		SubjectID: &subjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts: %w", err)
	}

	standings := studentTestStandings(rows)
	bests := make([]int, 0, len(standings))
	for _, st := range standings {
		bests = append(bests, st.BestPercentage)
	}

	return &StudentSubjectStatistics{
		StudentID:         studentID,
		StudentName:       student.FullName,
		SubjectID:         subjectID,
		SubjectName:       subject.Name,
		AveragePercentage: averagePercentage(bests),
		Tests:             standings,
	}, nil
}

func (s *statisticsService) StudentPerformance(ctx context.Context, studentID string, userID string) (*StudentPerformance, error) {
	if err := s.requireSelfOrStaff(ctx, userID, studentID); err != nil {
		return nil, err
	}

	student, err := s.getUser(ctx, studentID)
	if err != nil {
		return nil, err
	}

	rows, err := s.repo.Stats().CompletedAttempts(ctx, nil, repositories.StatsScope{StudentID: &studentID})
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts: %w", err)
	}

	best, _ := bestPerStudentTest(rows)

	bySubject := make(map[uint][]int)
	subjectNames := make(map[uint]string)
	for _, row := range best {
		bySubject[row.SubjectID] = append(bySubject[row.SubjectID], row.Percentage)
		subjectNames[row.SubjectID] = row.SubjectName
	}

	subjects := make([]SubjectPerformance, 0, len(bySubject))
	subjectAverages := make([]int, 0, len(bySubject))
	for subjectID, percentages := range bySubject {
		avg := averagePercentage(percentages)
		subjectAverages = append(subjectAverages, avg)
		subjects = append(subjects, SubjectPerformance{
			SubjectID:         subjectID,
			SubjectName:       subjectNames[subjectID],
			TestsTaken:        len(percentages),
			AveragePercentage: avg,
		})
	}
	sort.Slice(subjects, func(i, j int) bool {
		return subjects[i].SubjectName < subjects[j].SubjectName
	})

	gradeName := ""
	if student.Grade != nil {
		gradeName = student.Grade.FullName()
	} else if student.GradeID != nil {
		if grade, err := s.repo.Grade().GetByID(ctx, nil, *student.GradeID); err == nil {
			gradeName = grade.FullName()
		}
	}

	return &StudentPerformance{
		StudentID:         studentID,
		StudentName:       student.FullName,
		GradeName:         gradeName,
		OverallPercentage: averagePercentage(subjectAverages),
		Subjects:          subjects,
	}, nil
}

func (s *statisticsService) SchoolTopStudents(ctx context.Context, limit int, userID string) ([]SchoolRankEntry, error) {
	// The leaderboard is visible to every authenticated user
	if _, err := s.getUser(ctx, userID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 100 {
		limit = 10
	}

	rows, err := s.repo.Stats().CompletedAttempts(ctx, nil, repositories.StatsScope{})
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts: %w", err)
	}

	ranking := schoolRanking(rows)
	if len(ranking) > limit {
		ranking = ranking[:limit]
	}
	return ranking, nil
}

func (s *statisticsService) RecentTests(ctx context.Context, limit int, userID string) ([]TestSummary, error) {
	if _, err := s.requireStaff(ctx, userID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 50 {
		limit = 10
	}

	ids, err := s.repo.Stats().RecentTestIDs(ctx, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent tests: %w", err)
	}

	rows, err := s.repo.Stats().CompletedAttempts(ctx, nil, repositories.StatsScope{})
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts: %w", err)
	}

	byTest := make(map[uint]TestSummary)
	for _, summary := range testSummaries(rows) {
		byTest[summary.TestID] = summary
	}

	out := make([]TestSummary, 0, len(ids))
	for _, id := range ids {
		if summary, ok := byTest[id]; ok {
			out = append(out, summary)
			continue
		}
		// Tests nobody finished yet still show up, with empty numbers
		test, err := s.repo.Test().GetByID(ctx, nil, id)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				continue
			}
			return nil, fmt.Errorf("failed to get test: %w", err)
		}
		out = append(out, TestSummary{
			TestID:      id,
			Title:       test.Title,
			SubjectName: test.Subject.Name,
		})
	}
	return out, nil
}

// ===== INTERNAL =====

// studentTestStandings groups one student's attempts per test with the best
// attempt highlighted.
func studentTestStandings(rows []repositories.CompletedAttemptRow) []StudentTestStanding {
	byTest := make(map[uint][]repositories.CompletedAttemptRow)
	for _, row := range rows {
		byTest[row.TestID] = append(byTest[row.TestID], row)
	}

	standings := make([]StudentTestStanding, 0, len(byTest))
	for testID, testRows := range byTest {
		best := testRows[0]
		attempts := make([]AttemptSummary, 0, len(testRows))
		for _, row := range testRows {
			if betterAttempt(row, best) {
				best = row
			}
			completedAt := row.CompletedAt
			attempts = append(attempts, AttemptSummary{
				AttemptID:     row.AttemptID,
				TestID:        row.TestID,
				TestTitle:     row.TestTitle,
				AttemptNumber: row.AttemptNumber,
				Status:        models.AttemptCompleted,
				Score:         row.Score,
				MaxScore:      row.MaxScore,
				Percentage:    row.Percentage,
				CompletedAt:   &completedAt,
			})
		}
		sort.Slice(attempts, func(i, j int) bool {
			return attempts[i].AttemptNumber < attempts[j].AttemptNumber
		})

		standings = append(standings, StudentTestStanding{
			TestID:         testID,
			Title:          best.TestTitle,
			BestPercentage: best.Percentage,
			BestAttemptID:  best.AttemptID,
			Attempts:       attempts,
		})
	}

	sort.Slice(standings, func(i, j int) bool {
		return standings[i].TestID < standings[j].TestID
	})
	return standings
}

func (s *statisticsService) getUser(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	return user, nil
}

func (s *statisticsService) requireStaff(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Role != models.RoleTeacher && user.Role != models.RoleAdmin {
		return nil, NewPermissionError(userID, "view statistics")
	}
	return user, nil
}

// teacherCoversGrade reports whether a teacher teaches the grade.
func teacherCoversGrade(user *models.User, gradeID uint) bool {
	for _, id := range uintIDsFromJSON(user.TeachingGradeIDs) {
		if id == gradeID {
			return true
		}
	}
	return false
}

// teacherCoversSubject reports whether a teacher authors in the subject.
func teacherCoversSubject(user *models.User, subjectID uint) bool {
	for _, id := range uintIDsFromJSON(user.SubjectIDs) {
		if id == subjectID {
			return true
		}
	}
	return false
}

func (s *statisticsService) requireSelfOrStaff(ctx context.Context, userID, studentID string) error {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.Role == models.RoleStudent && userID != studentID {
		return NewPermissionError(userID, "view statistics of another student")
	}
	return nil
}
