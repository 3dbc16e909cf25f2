package services

import (
	"fmt"
	"sort"

	"github.com/ineydlis/school-test-service/internal/models"
)

// The scoring engine is pure: it works off the frozen question snapshot and
// the submitted answers only, so a finalized result never depends on the
// current state of the test.

// ScoredAttempt is the outcome of scoring one submission.
type ScoredAttempt struct {
	Score      int
	MaxScore   int
	Percentage int
	Questions  []QuestionResult

	// NeedsManualReview is set when at least one free-text answer was
	// submitted. Those answers carry zero points until a teacher reads them.
	NeedsManualReview bool
}

// ScoreAttempt grades answers against the snapshot. Every answer must
// reference a snapshot question, and no question may be answered twice.
// Unanswered questions score zero but still count toward the maximum.
func ScoreAttempt(snapshot []models.QuestionSnapshot, answers []AnswerSubmission) (*ScoredAttempt, error) {
	byQuestion := make(map[uint]*AnswerSubmission, len(answers))
	for i := range answers {
		ans := &answers[i]
		if _, dup := byQuestion[ans.QuestionID]; dup {
			return nil, NewValidationError("answers", fmt.Sprintf("question %d answered more than once", ans.QuestionID))
		}
		byQuestion[ans.QuestionID] = ans
	}

	known := make(map[uint]bool, len(snapshot))
	for _, q := range snapshot {
		known[q.QuestionID] = true
	}
	for id := range byQuestion {
		if !known[id] {
			return nil, NewValidationError("answers", fmt.Sprintf("question %d is not part of this attempt", id))
		}
	}

	result := &ScoredAttempt{
		Questions: make([]QuestionResult, 0, len(snapshot)),
	}

	for _, q := range snapshot {
		qr := QuestionResult{
			QuestionID: q.QuestionID,
			MaxPoints:  q.Points,
		}
		ans := byQuestion[q.QuestionID]

		switch q.Type {
		case models.FreeText:
			// Free-text is excluded from the automatic maximum so the
			// percentage reflects only what the engine can actually grade.
			qr.MaxPoints = 0
			if ans != nil && ans.TextAnswer != nil && *ans.TextAnswer != "" {
				qr.NeedsManualReview = true
				result.NeedsManualReview = true
			}

		case models.SingleChoice, models.MultipleChoice:
			result.MaxScore += q.Points
			if ans != nil && optionSetsEqual(ans.SelectedOptionIDs, q.CorrectOptionIDs) {
				qr.IsCorrect = true
				qr.AwardedPoints = q.Points
				result.Score += q.Points
			}

		default:
			return nil, NewValidationError("questions", fmt.Sprintf("unknown question type %q", q.Type))
		}

		result.Questions = append(result.Questions, qr)
	}

	result.Percentage = ScorePercentage(result.Score, result.MaxScore)
	return result, nil
}

// optionSetsEqual compares selections as sets. Order never matters and
// duplicates collapse, but a partial or superset match earns nothing.
func optionSetsEqual(selected, correct []string) bool {
	if len(correct) == 0 {
		return false
	}

	sel := uniqueSorted(selected)
	cor := uniqueSorted(correct)
	if len(sel) != len(cor) {
		return false
	}
	for i := range sel {
		if sel[i] != cor[i] {
			return false
		}
	}
	return true
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ScorePercentage maps a score onto 0..100 with half-up rounding. A zero
// maximum yields zero rather than dividing.
func ScorePercentage(score, maxScore int) int {
	if maxScore <= 0 {
		return 0
	}
	return (score*100 + maxScore/2) / maxScore
}
