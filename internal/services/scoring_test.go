package services

import (
	"testing"

	"github.com/ineydlis/school-test-service/internal/models"
)

func strPtr(s string) *string { return &s }

func choiceSnapshot() []models.QuestionSnapshot {
	return []models.QuestionSnapshot{
		{
			QuestionID:       1,
			Position:         1,
			Type:             models.SingleChoice,
			Points:           2,
			CorrectOptionIDs: []string{"a"},
		},
		{
			QuestionID:       2,
			Position:         2,
			Type:             models.MultipleChoice,
			Points:           3,
			CorrectOptionIDs: []string{"b", "c"},
		},
	}
}

func TestScoreAttempt(t *testing.T) {
	tests := []struct {
		name           string
		snapshot       []models.QuestionSnapshot
		answers        []AnswerSubmission
		wantScore      int
		wantMaxScore   int
		wantPercentage int
		wantReview     bool
		wantErr        bool
	}{
		{
			name:     "all correct",
			snapshot: choiceSnapshot(),
			answers: []AnswerSubmission{
				{QuestionID: 1, SelectedOptionIDs: []string{"a"}},
				{QuestionID: 2, SelectedOptionIDs: []string{"c", "b"}},
			},
			wantScore:      5,
			wantMaxScore:   5,
			wantPercentage: 100,
		},
		{
			name:     "partial selection earns nothing",
			snapshot: choiceSnapshot(),
			answers: []AnswerSubmission{
				{QuestionID: 1, SelectedOptionIDs: []string{"a"}},
				{QuestionID: 2, SelectedOptionIDs: []string{"b"}},
			},
			wantScore:      2,
			wantMaxScore:   5,
			wantPercentage: 40,
		},
		{
			name:     "superset selection earns nothing",
			snapshot: choiceSnapshot(),
			answers: []AnswerSubmission{
				{QuestionID: 2, SelectedOptionIDs: []string{"a", "b", "c"}},
			},
			wantScore:      0,
			wantMaxScore:   5,
			wantPercentage: 0,
		},
		{
			name:     "duplicate selected ids collapse",
			snapshot: choiceSnapshot(),
			answers: []AnswerSubmission{
				{QuestionID: 2, SelectedOptionIDs: []string{"b", "b", "c"}},
			},
			wantScore:      3,
			wantMaxScore:   5,
			wantPercentage: 60,
		},
		{
			name:           "unanswered questions count toward max",
			snapshot:       choiceSnapshot(),
			answers:        nil,
			wantScore:      0,
			wantMaxScore:   5,
			wantPercentage: 0,
		},
		{
			name: "free text excluded from max and flagged",
			snapshot: []models.QuestionSnapshot{
				{QuestionID: 1, Type: models.SingleChoice, Points: 1, CorrectOptionIDs: []string{"a"}},
				{QuestionID: 2, Type: models.FreeText, Points: 5},
			},
			answers: []AnswerSubmission{
				{QuestionID: 1, SelectedOptionIDs: []string{"a"}},
				{QuestionID: 2, TextAnswer: strPtr("photosynthesis converts light into energy")},
			},
			wantScore:      1,
			wantMaxScore:   1,
			wantPercentage: 100,
			wantReview:     true,
		},
		{
			name: "empty free text not flagged",
			snapshot: []models.QuestionSnapshot{
				{QuestionID: 2, Type: models.FreeText, Points: 5},
			},
			answers:        []AnswerSubmission{{QuestionID: 2, TextAnswer: strPtr("")}},
			wantScore:      0,
			wantMaxScore:   0,
			wantPercentage: 0,
			wantReview:     false,
		},
		{
			name: "only free text yields zero percentage",
			snapshot: []models.QuestionSnapshot{
				{QuestionID: 1, Type: models.FreeText, Points: 5},
			},
			answers:        []AnswerSubmission{{QuestionID: 1, TextAnswer: strPtr("an essay")}},
			wantScore:      0,
			wantMaxScore:   0,
			wantPercentage: 0,
			wantReview:     true,
		},
		{
			name:     "unknown question rejected",
			snapshot: choiceSnapshot(),
			answers: []AnswerSubmission{
				{QuestionID: 99, SelectedOptionIDs: []string{"a"}},
			},
			wantErr: true,
		},
		{
			name:     "duplicate answer rejected",
			snapshot: choiceSnapshot(),
			answers: []AnswerSubmission{
				{QuestionID: 1, SelectedOptionIDs: []string{"a"}},
				{QuestionID: 1, SelectedOptionIDs: []string{"b"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ScoreAttempt(tt.snapshot, tt.answers)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !IsValidationError(err) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Score != tt.wantScore {
				t.Errorf("Score = %d, want %d", got.Score, tt.wantScore)
			}
			if got.MaxScore != tt.wantMaxScore {
				t.Errorf("MaxScore = %d, want %d", got.MaxScore, tt.wantMaxScore)
			}
			if got.Percentage != tt.wantPercentage {
				t.Errorf("Percentage = %d, want %d", got.Percentage, tt.wantPercentage)
			}
			if got.NeedsManualReview != tt.wantReview {
				t.Errorf("NeedsManualReview = %v, want %v", got.NeedsManualReview, tt.wantReview)
			}
			if len(got.Questions) != len(tt.snapshot) {
				t.Errorf("Questions = %d results, want %d", len(got.Questions), len(tt.snapshot))
			}
		})
	}
}

func TestScorePercentage(t *testing.T) {
	tests := []struct {
		name     string
		score    int
		maxScore int
		want     int
	}{
		{"zero max", 0, 0, 0},
		{"full", 7, 7, 100},
		{"half rounds up", 1, 8, 13},       // 12.5 -> 13
		{"below half rounds down", 1, 3, 33}, // 33.33 -> 33
		{"two thirds rounds up", 2, 3, 67},   // 66.67 -> 67
		{"exact", 3, 4, 75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScorePercentage(tt.score, tt.maxScore); got != tt.want {
				t.Errorf("ScorePercentage(%d, %d) = %d, want %d", tt.score, tt.maxScore, got, tt.want)
			}
		})
	}
}
