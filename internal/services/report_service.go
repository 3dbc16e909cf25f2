package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xuri/excelize/v2"

	"github.com/ineydlis/school-test-service/internal/repositories"
)

// reportService renders statistics into xlsx workbooks for download. It sits
// on top of the statistics service so every export honors the same
// permission and ranking rules as the JSON endpoints. The repository is only
// used to enumerate grades and subjects for the school workbook.
type reportService struct {
	stats  StatisticsService
	repo   repositories.Repository
	logger *slog.Logger
}

func NewReportService(stats StatisticsService, repo repositories.Repository, logger *slog.Logger) ReportService {
	return &reportService{
		stats:  stats,
		repo:   repo,
		logger: logger,
	}
}

func (s *reportService) ExportTestStatistics(ctx context.Context, testID uint, userID string) (*excelize.File, error) {
	s.logger.Info("Exporting test statistics", "test_id", testID, "user_id", userID)

	stats, err := s.stats.TestStatistics(ctx, testID, userID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := sanitizeSheetName(stats.Title)
	if err := renameDefaultSheet(f, sheet); err != nil {
		return nil, err
	}

	writeRow(f, sheet, 1, "Test:", stats.Title)
	writeRow(f, sheet, 2, "Subject:", stats.SubjectName)
	writeRow(f, sheet, 3, "Participants:", stats.Participants)
	writeRow(f, sheet, 4, "Total attempts:", stats.AttemptCount)
	writeRow(f, sheet, 5, "Average:", fmt.Sprintf("%d%%", stats.AveragePercentage))

	header := []interface{}{"Rank", "Student", "Class", "Score", "Max score", "Percentage", "Attempt", "Attempts total", "Completed at"}
	if err := writeHeader(f, sheet, 7, header); err != nil {
		return nil, err
	}

	for i, entry := range stats.Ranking {
		writeRow(f, sheet, 8+i,
			entry.Rank,
			entry.StudentName,
			entry.GradeName,
			entry.Score,
			entry.MaxScore,
			fmt.Sprintf("%d%%", entry.Percentage),
			entry.AttemptNumber,
			entry.AttemptCount,
			entry.CompletedAt.Format("2006-01-02 15:04"),
		)
	}

	return f, nil
}

func (s *reportService) ExportGradeStatistics(ctx context.Context, gradeID uint, userID string) (*excelize.File, error) {
	s.logger.Info("Exporting grade statistics", "grade_id", gradeID, "user_id", userID)

	stats, err := s.stats.GradeStatistics(ctx, gradeID, userID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	rankSheet := sanitizeSheetName("Class " + stats.GradeName)
	if err := renameDefaultSheet(f, rankSheet); err != nil {
		return nil, err
	}

	writeRow(f, rankSheet, 1, "Class:", stats.GradeName)
	writeRow(f, rankSheet, 2, "Students:", stats.TotalStudents)
	writeRow(f, rankSheet, 3, "Average:", fmt.Sprintf("%d%%", stats.AveragePercentage))

	if err := writeHeader(f, rankSheet, 5, []interface{}{"Rank", "Student", "Score", "Max score", "Percentage", "Completed at"}); err != nil {
		return nil, err
	}
	for i, entry := range stats.Ranking {
		writeRow(f, rankSheet, 6+i,
			entry.Rank,
			entry.StudentName,
			entry.Score,
			entry.MaxScore,
			fmt.Sprintf("%d%%", entry.Percentage),
			entry.CompletedAt.Format("2006-01-02 15:04"),
		)
	}

	testsSheet := "Tests"
	if _, err := f.NewSheet(testsSheet); err != nil {
		return nil, err
	}
	if err := writeHeader(f, testsSheet, 1, []interface{}{"Test", "Subject", "Participants", "Average"}); err != nil {
		return nil, err
	}
	for i, t := range stats.Tests {
		writeRow(f, testsSheet, 2+i,
			t.Title,
			t.SubjectName,
			t.Participants,
			fmt.Sprintf("%d%%", t.AveragePercentage),
		)
	}

	return f, nil
}

func (s *reportService) ExportSchoolTopStudents(ctx context.Context, limit int, userID string) (*excelize.File, error) {
	s.logger.Info("Exporting school top students", "limit", limit, "user_id", userID)

	ranking, err := s.stats.SchoolTopStudents(ctx, limit, userID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := "Top students"
	if err := renameDefaultSheet(f, sheet); err != nil {
		return nil, err
	}

	if err := writeHeader(f, sheet, 1, []interface{}{"Rank", "Student", "Class", "Average", "Subjects"}); err != nil {
		return nil, err
	}
	for i, entry := range ranking {
		writeRow(f, sheet, 2+i,
			entry.Rank,
			entry.StudentName,
			entry.GradeName,
			fmt.Sprintf("%d%%", entry.AveragePercentage),
			entry.SubjectsCounted,
		)
	}

	return f, nil
}

func (s *reportService) ExportSchoolStatistics(ctx context.Context, userID string) (*excelize.File, error) {
	s.logger.Info("Exporting school statistics", "user_id", userID)

	ranking, err := s.stats.SchoolTopStudents(ctx, 100, userID)
	if err != nil {
		return nil, err
	}
	recent, err := s.stats.RecentTests(ctx, 10, userID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	topSheet := "Top students"
	if err := renameDefaultSheet(f, topSheet); err != nil {
		return nil, err
	}
	if err := writeHeader(f, topSheet, 1, []interface{}{"Rank", "Student", "Class", "Average", "Subjects"}); err != nil {
		return nil, err
	}
	for i, entry := range ranking {
		writeRow(f, topSheet, 2+i,
			entry.Rank,
			entry.StudentName,
			entry.GradeName,
			fmt.Sprintf("%d%%", entry.AveragePercentage),
			entry.SubjectsCounted,
		)
	}

	recentSheet := "Recent tests"
	if _, err := f.NewSheet(recentSheet); err != nil {
		return nil, err
	}
	if err := writeHeader(f, recentSheet, 1, []interface{}{"Test", "Subject", "Participants", "Average"}); err != nil {
		return nil, err
	}
	for i, t := range recent {
		avg := ""
		if t.Participants > 0 {
			avg = fmt.Sprintf("%d%%", t.AveragePercentage)
		}
		writeRow(f, recentSheet, 2+i,
			t.Title,
			t.SubjectName,
			t.Participants,
			avg,
		)
	}

	if err := s.writeGradeSheet(ctx, f, userID); err != nil {
		return nil, err
	}
	if err := s.writeSubjectSheet(ctx, f, userID); err != nil {
		return nil, err
	}

	return f, nil
}

// writeGradeSheet summarizes every class the caller may see. Classes outside
// a teacher's coverage are skipped rather than failing the whole workbook.
func (s *reportService) writeGradeSheet(ctx context.Context, f *excelize.File, userID string) error {
	grades, err := s.repo.Grade().List(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to list grades: %w", err)
	}

	sheet := "Classes"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	if err := writeHeader(f, sheet, 1, []interface{}{"Class", "Tests", "Students", "Average"}); err != nil {
		return err
	}

	row := 2
	for _, grade := range grades {
		stats, err := s.stats.GradeStatistics(ctx, grade.ID, userID)
		if err != nil {
			if IsPermissionError(err) {
				continue
			}
			return err
		}

		writeRow(f, sheet, row,
			stats.GradeName,
			len(stats.Tests),
			stats.TotalStudents,
			fmt.Sprintf("%d%%", stats.AveragePercentage),
		)
		row++
	}
	return nil
}

func (s *reportService) writeSubjectSheet(ctx context.Context, f *excelize.File, userID string) error {
	subjects, err := s.repo.Subject().List(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to list subjects: %w", err)
	}

	sheet := "Subjects"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	if err := writeHeader(f, sheet, 1, []interface{}{"Subject", "Tests", "Students", "Average"}); err != nil {
		return err
	}

	row := 2
	for _, subject := range subjects {
		stats, err := s.stats.SubjectStatistics(ctx, subject.ID, userID)
		if err != nil {
			if IsPermissionError(err) {
				continue
			}
			return err
		}

		writeRow(f, sheet, row,
			stats.SubjectName,
			len(stats.Tests),
			stats.TotalStudents,
			fmt.Sprintf("%d%%", stats.AveragePercentage),
		)
		row++
	}
	return nil
}

func (s *reportService) ExportStudentPerformance(ctx context.Context, studentID string, userID string) (*excelize.File, error) {
	s.logger.Info("Exporting student performance", "student_id", studentID, "user_id", userID)

	perf, err := s.stats.StudentPerformance(ctx, studentID, userID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	overview := "Overview"
	if err := renameDefaultSheet(f, overview); err != nil {
		return nil, err
	}

	writeRow(f, overview, 1, "Student:", perf.StudentName)
	writeRow(f, overview, 2, "Class:", perf.GradeName)
	writeRow(f, overview, 3, "Overall:", fmt.Sprintf("%d%%", perf.OverallPercentage))

	if err := writeHeader(f, overview, 5, []interface{}{"Subject", "Tests taken", "Average"}); err != nil {
		return nil, err
	}
	for i, subj := range perf.Subjects {
		writeRow(f, overview, 6+i,
			subj.SubjectName,
			subj.TestsTaken,
			fmt.Sprintf("%d%%", subj.AveragePercentage),
		)
	}

	// One sheet per subject with the per-test breakdown
	for _, subj := range perf.Subjects {
		detail, err := s.stats.StudentSubjectStatistics(ctx, studentID, subj.SubjectID, userID)
		if err != nil {
			return nil, err
		}

		sheet := sanitizeSheetName(subj.SubjectName)
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
		if err := writeHeader(f, sheet, 1, []interface{}{"Test", "Best", "Attempt", "Score", "Max score", "Completed at"}); err != nil {
			return nil, err
		}

		row := 2
		for _, standing := range detail.Tests {
			for _, attempt := range standing.Attempts {
				completedAt := ""
				if attempt.CompletedAt != nil {
					completedAt = attempt.CompletedAt.Format("2006-01-02 15:04")
				}
				best := ""
				if attempt.AttemptID == standing.BestAttemptID {
					best = fmt.Sprintf("%d%%", standing.BestPercentage)
				}
				writeRow(f, sheet, row,
					standing.Title,
					best,
					attempt.AttemptNumber,
					attempt.Score,
					attempt.MaxScore,
					completedAt,
				)
				row++
			}
		}
	}

	return f, nil
}

// ===== WORKBOOK HELPERS =====

func renameDefaultSheet(f *excelize.File, name string) error {
	return f.SetSheetName(f.GetSheetName(0), name)
}

func writeRow(f *excelize.File, sheet string, row int, values ...interface{}) {
	cell, _ := excelize.CoordinatesToCellName(1, row)
	_ = f.SetSheetRow(sheet, cell, &values)
}

func writeHeader(f *excelize.File, sheet string, row int, values []interface{}) error {
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"DDDDDD"}, Pattern: 1},
	})
	if err != nil {
		return err
	}

	cell, _ := excelize.CoordinatesToCellName(1, row)
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return err
	}

	last, _ := excelize.CoordinatesToCellName(len(values), row)
	return f.SetCellStyle(sheet, cell, last, style)
}

// sanitizeSheetName keeps names within Excel's 31-char limit and strips the
// characters the format forbids.
func sanitizeSheetName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return "Sheet1"
	}
	if len(out) > 31 {
		out = out[:31]
	}
	return string(out)
}
