package services

import (
	"context"
	"testing"
)

func newReportFixture() (ReportService, uint) {
	f, stats, test := statsFixture()
	return NewReportService(stats, f, testLogger()), test.ID
}

func TestReportService_ExportTestStatistics(t *testing.T) {
	svc, testID := newReportFixture()
	ctx := context.Background()

	f, err := svc.ExportTestStatistics(ctx, testID, "teacher-1")
	if err != nil {
		t.Fatalf("ExportTestStatistics failed: %v", err)
	}

	sheet := f.GetSheetName(0)
	if sheet != "Fractions" {
		t.Errorf("sheet = %q, want Fractions", sheet)
	}

	// Two ranked students below the five summary rows and the header
	if got, _ := f.GetCellValue(sheet, "B8"); got == "" {
		t.Error("rank 1 row is empty")
	}
	if got, _ := f.GetCellValue(sheet, "B9"); got == "" {
		t.Error("rank 2 row is empty")
	}

	// Permission rules flow through from the statistics service
	if _, err := svc.ExportTestStatistics(ctx, testID, "student-1"); !IsPermissionError(err) {
		t.Errorf("student export error = %v, want permission error", err)
	}
}

func TestReportService_ExportStudentPerformance(t *testing.T) {
	svc, _ := newReportFixture()
	ctx := context.Background()

	f, err := svc.ExportStudentPerformance(ctx, "student-1", "teacher-1")
	if err != nil {
		t.Fatalf("ExportStudentPerformance failed: %v", err)
	}

	sheets := f.GetSheetList()
	want := []string{"Overview", "Mathematics", "Physics"}
	if len(sheets) != len(want) {
		t.Fatalf("sheets = %v, want %v", sheets, want)
	}
	for i, name := range want {
		if sheets[i] != name {
			t.Errorf("sheet %d = %q, want %q", i, sheets[i], name)
		}
	}

	if got, _ := f.GetCellValue("Overview", "B1"); got != "Anna Petrova" {
		t.Errorf("student cell = %q, want Anna Petrova", got)
	}
	if got, _ := f.GetCellValue("Overview", "B3"); got != "90%" {
		t.Errorf("overall cell = %q, want 90%%", got)
	}

	// Students can export their own workbook but nobody else's
	if _, err := svc.ExportStudentPerformance(ctx, "student-1", "student-1"); err != nil {
		t.Errorf("self export failed: %v", err)
	}
	if _, err := svc.ExportStudentPerformance(ctx, "student-1", "student-2"); !IsPermissionError(err) {
		t.Errorf("foreign export error = %v, want permission error", err)
	}
}

func TestReportService_ExportSchoolStatistics(t *testing.T) {
	svc, _ := newReportFixture()
	ctx := context.Background()

	f, err := svc.ExportSchoolStatistics(ctx, "teacher-1")
	if err != nil {
		t.Fatalf("ExportSchoolStatistics failed: %v", err)
	}

	sheets := f.GetSheetList()
	want := []string{"Top students", "Recent tests", "Classes", "Subjects"}
	if len(sheets) != len(want) {
		t.Fatalf("sheets = %v, want %v", sheets, want)
	}
	for i, name := range want {
		if sheets[i] != name {
			t.Errorf("sheet %d = %q, want %q", i, sheets[i], name)
		}
	}

	// Anna leads the leaderboard at 90% over two subjects
	if got, _ := f.GetCellValue("Top students", "B2"); got != "Anna Petrova" {
		t.Errorf("rank 1 = %q, want Anna Petrova", got)
	}

	// Both tests appear, newest first
	if got, _ := f.GetCellValue("Recent tests", "A2"); got != "Optics" {
		t.Errorf("recent[0] = %q, want Optics", got)
	}
	if got, _ := f.GetCellValue("Recent tests", "A3"); got != "Fractions" {
		t.Errorf("recent[1] = %q, want Fractions", got)
	}

	// The single class 7B shows both students
	if got, _ := f.GetCellValue("Classes", "A2"); got != "7B" {
		t.Errorf("class = %q, want 7B", got)
	}
	if got, _ := f.GetCellValue("Classes", "C2"); got != "2" {
		t.Errorf("class students = %q, want 2", got)
	}

	// Subjects are listed alphabetically
	if got, _ := f.GetCellValue("Subjects", "A2"); got != "Mathematics" {
		t.Errorf("subject = %q, want Mathematics", got)
	}
	if got, _ := f.GetCellValue("Subjects", "A3"); got != "Physics" {
		t.Errorf("subject = %q, want Physics", got)
	}
}
