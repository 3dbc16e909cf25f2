package services

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/ineydlis/school-test-service/internal/models"
)

// snapshotQuestions freezes the current question set onto an attempt. The
// copy carries the correct option ids so scoring never touches the live test.
func snapshotQuestions(questions []models.Question) []models.QuestionSnapshot {
	snapshot := make([]models.QuestionSnapshot, 0, len(questions))
	for _, q := range questions {
		snapshot = append(snapshot, models.QuestionSnapshot{
			QuestionID:       q.ID,
			Position:         q.Position,
			Text:             q.Text,
			Type:             q.Type,
			Points:           q.Points,
			Options:          optionsFromJSON(q.Options),
			CorrectOptionIDs: stringsFromJSON(q.CorrectOptionIDs),
		})
	}
	return snapshot
}

func snapshotFromJSON(raw datatypes.JSON) ([]models.QuestionSnapshot, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("attempt has no question snapshot")
	}
	var snapshot []models.QuestionSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// buildAnswerRows materializes the submitted answers with their per-question
// scoring outcome for persistence.
func buildAnswerRows(attemptID uint, answers []AnswerSubmission, scored *ScoredAttempt) []*models.StudentAnswer {
	resultByQuestion := make(map[uint]QuestionResult, len(scored.Questions))
	for _, qr := range scored.Questions {
		resultByQuestion[qr.QuestionID] = qr
	}

	rows := make([]*models.StudentAnswer, 0, len(answers))
	for _, ans := range answers {
		qr := resultByQuestion[ans.QuestionID]

		var selected datatypes.JSON
		if len(ans.SelectedOptionIDs) > 0 {
			selected, _ = toJSON(ans.SelectedOptionIDs)
		}

		rows = append(rows, &models.StudentAnswer{
			AttemptID:         attemptID,
			QuestionID:        ans.QuestionID,
			SelectedOptionIDs: selected,
			TextAnswer:        ans.TextAnswer,
			IsCorrect:         qr.IsCorrect,
			AwardedPoints:     qr.AwardedPoints,
			NeedsManualReview: qr.NeedsManualReview,
		})
	}
	return rows
}

// toAttemptResponse shapes an attempt for the student, decoding the snapshot
// and stripping correct option ids.
func (s *attemptService) toAttemptResponse(attempt *models.TestAttempt, testTitle string, resumed bool) (*AttemptResponse, error) {
	snapshot, err := snapshotFromJSON(attempt.QuestionSnapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to decode question snapshot: %w", err)
	}

	questions := make([]AttemptQuestion, 0, len(snapshot))
	for _, q := range snapshot {
		questions = append(questions, AttemptQuestion{
			QuestionID: q.QuestionID,
			Position:   q.Position,
			Text:       q.Text,
			Type:       q.Type,
			Points:     q.Points,
			Options:    q.Options,
		})
	}

	return &AttemptResponse{
		ID:            attempt.ID,
		TestID:        attempt.TestID,
		TestTitle:     testTitle,
		AttemptNumber: attempt.AttemptNumber,
		Status:        attempt.Status,
		StartedAt:     attempt.StartedAt,
		CompletedAt:   attempt.CompletedAt,
		Questions:     questions,
		Resumed:       resumed,
	}, nil
}
