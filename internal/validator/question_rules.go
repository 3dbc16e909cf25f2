package validator

import (
	"fmt"

	"github.com/ineydlis/school-test-service/internal/models"
)

// QuestionRule is the per-type shape a question body must satisfy. Struct tags
// cover field lengths, these rules cover option semantics.
type QuestionRule struct {
	MinOptions     int
	MinCorrect     int
	MaxCorrect     int // 0 means unbounded
	AllowedOptions bool
}

var questionRules = map[models.QuestionType]QuestionRule{
	models.SingleChoice:   {MinOptions: 2, MinCorrect: 1, MaxCorrect: 1, AllowedOptions: true},
	models.MultipleChoice: {MinOptions: 2, MinCorrect: 1, AllowedOptions: true},
	models.FreeText:       {},
}

// ValidateQuestionShape checks option structure for one question. fieldPrefix
// names the question in error output, e.g. "questions[2]".
func ValidateQuestionShape(fieldPrefix string, qType models.QuestionType, optionCount, correctCount int, optionIDs []string) ValidationErrors {
	var errs ValidationErrors

	rule, ok := questionRules[qType]
	if !ok {
		return ValidationErrors{{
			Field:   fieldPrefix + ".type",
			Message: fmt.Sprintf("unknown question type %q", qType),
			Rule:    "question_type",
		}}
	}

	if !rule.AllowedOptions {
		if optionCount > 0 {
			errs = append(errs, ValidationError{
				Field:   fieldPrefix + ".options",
				Message: "free text questions cannot have options",
				Rule:    "question_shape",
			})
		}
		return errs
	}

	if optionCount < rule.MinOptions {
		errs = append(errs, ValidationError{
			Field:   fieldPrefix + ".options",
			Message: fmt.Sprintf("needs at least %d options", rule.MinOptions),
			Rule:    "question_shape",
		})
	}
	if correctCount < rule.MinCorrect {
		errs = append(errs, ValidationError{
			Field:   fieldPrefix + ".options",
			Message: "needs at least one correct option",
			Rule:    "question_shape",
		})
	}
	if rule.MaxCorrect > 0 && correctCount > rule.MaxCorrect {
		errs = append(errs, ValidationError{
			Field:   fieldPrefix + ".options",
			Message: fmt.Sprintf("allows at most %d correct option", rule.MaxCorrect),
			Rule:    "question_shape",
		})
	}

	seen := make(map[string]bool, len(optionIDs))
	for _, id := range optionIDs {
		if seen[id] {
			errs = append(errs, ValidationError{
				Field:   fieldPrefix + ".options",
				Message: fmt.Sprintf("duplicate option id %q", id),
				Rule:    "question_shape",
			})
		}
		seen[id] = true
	}

	return errs
}
