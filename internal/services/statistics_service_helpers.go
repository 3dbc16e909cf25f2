package services

import (
	"sort"
	"time"

	"github.com/ineydlis/school-test-service/internal/repositories"
)

// The aggregation helpers are pure functions over completed-attempt rows so
// every ranking rule stays unit-testable without a database.

// betterAttempt reports whether a beats b as a student's best: higher
// percentage first, earlier completion breaking ties.
func betterAttempt(a, b repositories.CompletedAttemptRow) bool {
	if a.Percentage != b.Percentage {
		return a.Percentage > b.Percentage
	}
	return a.CompletedAt.Before(b.CompletedAt)
}

type studentTestKey struct {
	StudentID string
	TestID    uint
}

// bestPerStudentTest reduces rows to each student's best attempt per test and
// counts how many attempts went into each reduction.
func bestPerStudentTest(rows []repositories.CompletedAttemptRow) (map[studentTestKey]repositories.CompletedAttemptRow, map[studentTestKey]int) {
	best := make(map[studentTestKey]repositories.CompletedAttemptRow)
	counts := make(map[studentTestKey]int)

	for _, row := range rows {
		key := studentTestKey{StudentID: row.StudentID, TestID: row.TestID}
		counts[key]++
		current, ok := best[key]
		if !ok || betterAttempt(row, current) {
			best[key] = row
		}
	}
	return best, counts
}

// testRanking builds the per-test leaderboard from each student's best
// attempt on that one test.
func testRanking(rows []repositories.CompletedAttemptRow) []RankingEntry {
	best, counts := bestPerStudentTest(rows)

	entries := make([]RankingEntry, 0, len(best))
	for key, row := range best {
		entries = append(entries, rankingEntry(row, counts[key]))
	}
	return sortRanking(entries)
}

// scopeRanking ranks each student's single best attempt within the scope the
// rows were selected for (one grade, one subject). No averaging across tests.
func scopeRanking(rows []repositories.CompletedAttemptRow) []RankingEntry {
	best := make(map[string]repositories.CompletedAttemptRow)
	counts := make(map[string]int)
	for _, row := range rows {
		counts[row.StudentID]++
		current, ok := best[row.StudentID]
		if !ok || betterAttempt(row, current) {
			best[row.StudentID] = row
		}
	}

	entries := make([]RankingEntry, 0, len(best))
	for studentID, row := range best {
		entries = append(entries, rankingEntry(row, counts[studentID]))
	}
	return sortRanking(entries)
}

func rankingEntry(row repositories.CompletedAttemptRow, attemptCount int) RankingEntry {
	return RankingEntry{
		StudentID:     row.StudentID,
		StudentName:   row.StudentName,
		GradeName:     row.GradeName,
		AttemptID:     row.AttemptID,
		AttemptNumber: row.AttemptNumber,
		AttemptCount:  attemptCount,
		Score:         row.Score,
		MaxScore:      row.MaxScore,
		Percentage:    row.Percentage,
		CompletedAt:   row.CompletedAt,
	}
}

// sortRanking orders entries by percentage descending, earlier completion
// winning ties, student name as the final deterministic tie-break.
func sortRanking(entries []RankingEntry) []RankingEntry {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Percentage != b.Percentage {
			return a.Percentage > b.Percentage
		}
		if !a.CompletedAt.Equal(b.CompletedAt) {
			return a.CompletedAt.Before(b.CompletedAt)
		}
		return a.StudentName < b.StudentName
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// rankingAverage is the mean percentage across the selected best attempts.
func rankingAverage(entries []RankingEntry) int {
	percentages := make([]int, 0, len(entries))
	for _, entry := range entries {
		percentages = append(percentages, entry.Percentage)
	}
	return averagePercentage(percentages)
}

// averagePercentage is the half-up rounded mean of the values, 0 for none.
func averagePercentage(values []int) int {
	if len(values) == 0 {
		return 0
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return (sum + len(values)/2) / len(values)
}

// testSummaries groups rows by test and summarizes best-attempt performance.
func testSummaries(rows []repositories.CompletedAttemptRow) []TestSummary {
	best, _ := bestPerStudentTest(rows)

	byTest := make(map[uint][]int)
	titles := make(map[uint]string)
	subjects := make(map[uint]string)
	for _, row := range best {
		byTest[row.TestID] = append(byTest[row.TestID], row.Percentage)
		titles[row.TestID] = row.TestTitle
		subjects[row.TestID] = row.SubjectName
	}

	summaries := make([]TestSummary, 0, len(byTest))
	for testID, percentages := range byTest {
		summaries = append(summaries, TestSummary{
			TestID:            testID,
			Title:             titles[testID],
			SubjectName:       subjects[testID],
			Participants:      len(percentages),
			AveragePercentage: averagePercentage(percentages),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].TestID < summaries[j].TestID
	})
	return summaries
}

type studentAggregate struct {
	StudentID   string
	StudentName string
	GradeName   string

	// percentages of best attempts, grouped per subject
	bySubject map[uint][]int

	// earliest completion among the counted best attempts, used as the
	// tie-break between equal averages
	earliestCompleted time.Time
}

// aggregateStudents folds best attempts into per-student per-subject
// percentage lists.
func aggregateStudents(rows []repositories.CompletedAttemptRow) map[string]*studentAggregate {
	best, _ := bestPerStudentTest(rows)

	students := make(map[string]*studentAggregate)
	for _, row := range best {
		agg, ok := students[row.StudentID]
		if !ok {
			agg = &studentAggregate{
				StudentID:         row.StudentID,
				StudentName:       row.StudentName,
				GradeName:         row.GradeName,
				bySubject:         make(map[uint][]int),
				earliestCompleted: row.CompletedAt,
			}
			students[row.StudentID] = agg
		}
		agg.bySubject[row.SubjectID] = append(agg.bySubject[row.SubjectID], row.Percentage)
		if row.CompletedAt.Before(agg.earliestCompleted) {
			agg.earliestCompleted = row.CompletedAt
		}
	}
	return students
}

// overallAverage is a student's school-wide standing: the average of their
// per-subject averages, so a subject with many tests does not dominate.
func (a *studentAggregate) overallAverage() (int, int) {
	subjectAverages := make([]int, 0, len(a.bySubject))
	for _, percentages := range a.bySubject {
		subjectAverages = append(subjectAverages, averagePercentage(percentages))
	}
	return averagePercentage(subjectAverages), len(subjectAverages)
}

// schoolRanking ranks students school-wide by the average of their
// per-subject best percentages.
func schoolRanking(rows []repositories.CompletedAttemptRow) []SchoolRankEntry {
	students := aggregateStudents(rows)

	entries := make([]SchoolRankEntry, 0, len(students))
	earliest := make(map[string]time.Time, len(students))
	for _, agg := range students {
		avg, subjects := agg.overallAverage()
		earliest[agg.StudentID] = agg.earliestCompleted
		entries = append(entries, SchoolRankEntry{
			StudentID:         agg.StudentID,
			StudentName:       agg.StudentName,
			GradeName:         agg.GradeName,
			AveragePercentage: avg,
			SubjectsCounted:   subjects,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.AveragePercentage != b.AveragePercentage {
			return a.AveragePercentage > b.AveragePercentage
		}
		ca, cb := earliest[a.StudentID], earliest[b.StudentID]
		if !ca.Equal(cb) {
			return ca.Before(cb)
		}
		return a.StudentName < b.StudentName
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
