package services

import (
	"encoding/json"
	"fmt"
	"mime"
	"path"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/ineydlis/school-test-service/internal/models"
	"github.com/ineydlis/school-test-service/internal/validator"
)

// ===== JSONB HELPERS =====

func toJSON(v interface{}) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jsonb value: %w", err)
	}
	return datatypes.JSON(b), nil
}

func uintIDsFromJSON(raw datatypes.JSON) []uint {
	var ids []uint
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &ids)
	}
	return ids
}

func optionsFromJSON(raw datatypes.JSON) []models.QuestionOption {
	var opts []models.QuestionOption
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &opts)
	}
	return opts
}

func stringsFromJSON(raw datatypes.JSON) []string {
	var out []string
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return out
}

// ===== QUESTION BUILDING =====

// buildQuestions converts question requests into models, assigning option ids
// where the client did not provide them and separating the correct set from
// the student-visible options.
func buildQuestions(reqs []QuestionRequest) ([]models.Question, error) {
	var verrs validator.ValidationErrors
	questions := make([]models.Question, 0, len(reqs))

	for i, qr := range reqs {
		points := qr.Points
		if points == 0 {
			points = 1
		}

		options := make([]models.QuestionOption, 0, len(qr.Options))
		correctIDs := make([]string, 0, len(qr.Options))
		optionIDs := make([]string, 0, len(qr.Options))

		for pos, opt := range qr.Options {
			id := opt.ID
			if id == "" {
				id = uuid.NewString()
			}
			optionIDs = append(optionIDs, id)
			options = append(options, models.QuestionOption{
				ID:       id,
				Text:     opt.Text,
				Position: pos + 1,
			})
			if opt.Correct {
				correctIDs = append(correctIDs, id)
			}
		}

		prefix := fmt.Sprintf("questions[%d]", i)
		verrs = append(verrs, validator.ValidateQuestionShape(prefix, qr.Type, len(options), len(correctIDs), optionIDs)...)

		optionsJSON, err := toJSON(options)
		if err != nil {
			return nil, err
		}
		correctJSON, err := toJSON(correctIDs)
		if err != nil {
			return nil, err
		}

		questions = append(questions, models.Question{
			Position:         i + 1,
			Text:             qr.Text,
			Type:             qr.Type,
			Points:           points,
			Options:          optionsJSON,
			CorrectOptionIDs: correctJSON,
		})
	}

	if len(verrs) > 0 {
		return nil, verrs
	}
	return questions, nil
}

func contentTypeForName(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// ===== VISIBILITY HELPERS =====

// testVisibleToStudent reports whether a student in the given grade may see
// and take the test.
func testVisibleToStudent(test *models.Test, gradeID *uint) bool {
	if !test.Active || gradeID == nil {
		return false
	}
	for _, id := range uintIDsFromJSON(test.TargetGradeIDs) {
		if id == *gradeID {
			return true
		}
	}
	return false
}

func canManageTest(user *models.User, test *models.Test) bool {
	if user.Role == models.RoleAdmin {
		return true
	}
	return user.Role == models.RoleTeacher && test.CreatedBy == user.ID
}

func (s *catalogService) toResponse(test *models.Test, user *models.User) *TestResponse {
	manage := canManageTest(user, test)
	return &TestResponse{
		Test:          test,
		QuestionCount: len(test.Questions),
		CanEdit:       manage,
		CanDelete:     manage,
		CanTake:       user.Role == models.RoleStudent && testVisibleToStudent(test, user.GradeID),
	}
}
