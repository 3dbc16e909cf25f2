package services

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"gorm.io/gorm"

	"github.com/ineydlis/school-test-service/internal/models"
	"github.com/ineydlis/school-test-service/internal/repositories"
	"github.com/ineydlis/school-test-service/internal/validator"
)

type recordedEvents struct {
	completed []*AttemptCompletedEvent
}

func (r *recordedEvents) PublishAttemptCompleted(ctx context.Context, event *AttemptCompletedEvent) {
	r.completed = append(r.completed, event)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func uintPtr(v uint) *uint { return &v }

// seedFixture provisions a grade, a subject, a student, a teacher and one
// active two-question test worth 5 points.
func seedFixture(f *fakeRepository) *models.Test {
	f.addGrade(1, 7, "B")
	f.addSubject(1, "Mathematics")
	f.addUser(&models.User{ID: "student-1", FullName: "Anna Petrova", Role: models.RoleStudent, GradeID: uintPtr(1)})
	f.addUser(&models.User{ID: "student-2", FullName: "Boris Ivanov", Role: models.RoleStudent, GradeID: uintPtr(1)})

	subjects, _ := toJSON([]uint{1, 2})
	teaching, _ := toJSON([]uint{1})
	f.addUser(&models.User{
		ID:               "teacher-1",
		FullName:         "Maria Sidorova",
		Role:             models.RoleTeacher,
		SubjectIDs:       subjects,
		TeachingGradeIDs: teaching,
	})

	grades, _ := toJSON([]uint{1})
	test := &models.Test{
		Title:          "Fractions",
		CreatedBy:      "teacher-1",
		SubjectID:      1,
		TargetGradeIDs: grades,
		MaxAttempts:    2,
		Active:         true,
	}
	_ = f.Test().Create(context.Background(), nil, test)

	opts1, _ := toJSON([]models.QuestionOption{{ID: "a", Text: "1/2", Position: 1}, {ID: "b", Text: "1/3", Position: 2}})
	correct1, _ := toJSON([]string{"a"})
	opts2, _ := toJSON([]models.QuestionOption{{ID: "x", Text: "2", Position: 1}, {ID: "y", Text: "3", Position: 2}, {ID: "z", Text: "4", Position: 3}})
	correct2, _ := toJSON([]string{"x", "z"})

	_ = f.Test().ReplaceQuestions(context.Background(), nil, test.ID, []models.Question{
		{Text: "Which is larger?", Type: models.SingleChoice, Points: 2, Options: opts1, CorrectOptionIDs: correct1},
		{Text: "Select even numbers", Type: models.MultipleChoice, Points: 3, Options: opts2, CorrectOptionIDs: correct2},
	})
	return test
}

func newAttemptFixture(t *testing.T) (*fakeRepository, AttemptService, *recordedEvents, *models.Test) {
	t.Helper()
	repo := newFakeRepository()
	test := seedFixture(repo)
	events := &recordedEvents{}
	svc := NewAttemptService(repo, nil, testLogger(), validator.New(), events)
	return repo, svc, events, test
}

func TestAttemptService_StartAndResume(t *testing.T) {
	_, svc, _, test := newAttemptFixture(t)
	ctx := context.Background()

	first, err := svc.Start(ctx, &StartAttemptRequest{TestID: test.ID}, "student-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if first.AttemptNumber != 1 {
		t.Errorf("AttemptNumber = %d, want 1", first.AttemptNumber)
	}
	if first.Resumed {
		t.Error("first start should not be a resume")
	}
	if len(first.Questions) != 2 {
		t.Fatalf("Questions = %d, want 2", len(first.Questions))
	}
	for _, q := range first.Questions {
		if q.Type != models.FreeText && len(q.Options) == 0 {
			t.Errorf("question %d has no options", q.QuestionID)
		}
	}

	second, err := svc.Start(ctx, &StartAttemptRequest{TestID: test.ID}, "student-1")
	if err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if !second.Resumed {
		t.Error("second start should resume the open attempt")
	}
	if second.ID != first.ID {
		t.Errorf("resumed attempt ID = %d, want %d", second.ID, first.ID)
	}
}

func TestAttemptService_StartRejections(t *testing.T) {
	repo, svc, _, test := newAttemptFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func()
		student string
		wantErr error
	}{
		{
			name:    "teacher cannot take tests",
			student: "teacher-1",
		},
		{
			name: "inactive test",
			setup: func() {
				_ = repo.Test().SetActive(ctx, nil, test.ID, false)
			},
			student: "student-1",
			wantErr: ErrTestNotActive,
		},
		{
			name: "wrong grade",
			setup: func() {
				_ = repo.Test().SetActive(ctx, nil, test.ID, true)
				repo.addGrade(2, 8, "A")
				repo.addUser(&models.User{ID: "student-8a", FullName: "Vera", Role: models.RoleStudent, GradeID: uintPtr(2)})
			},
			student: "student-8a",
			wantErr: ErrTestNotAvailable,
		},
		{
			name:    "unknown user",
			student: "nobody",
			wantErr: ErrUserNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			_, err := svc.Start(ctx, &StartAttemptRequest{TestID: test.ID}, tt.student)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAttemptService_SubmitScoresAndFinalizes(t *testing.T) {
	_, svc, events, test := newAttemptFixture(t)
	ctx := context.Background()

	started, err := svc.Start(ctx, &StartAttemptRequest{TestID: test.ID}, "student-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	result, err := svc.Submit(ctx, started.ID, &SubmitAttemptRequest{
		Answers: []AnswerSubmission{
			{QuestionID: started.Questions[0].QuestionID, SelectedOptionIDs: []string{"a"}},
			{QuestionID: started.Questions[1].QuestionID, SelectedOptionIDs: []string{"z"}},
		},
	}, "student-1")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if result.Score != 2 || result.MaxScore != 5 {
		t.Errorf("score = %d/%d, want 2/5", result.Score, result.MaxScore)
	}
	if result.Percentage != 40 {
		t.Errorf("Percentage = %d, want 40", result.Percentage)
	}

	if len(events.completed) != 1 {
		t.Fatalf("published events = %d, want 1", len(events.completed))
	}
	if events.completed[0].AttemptID != started.ID {
		t.Errorf("event attempt = %d, want %d", events.completed[0].AttemptID, started.ID)
	}

	// Double submit is rejected
	_, err = svc.Submit(ctx, started.ID, &SubmitAttemptRequest{}, "student-1")
	if !errors.Is(err, ErrAttemptAlreadySubmitted) {
		t.Errorf("second submit error = %v, want ErrAttemptAlreadySubmitted", err)
	}
}

func TestAttemptService_ConcurrentStart(t *testing.T) {
	_, svc, _, test := newAttemptFixture(t)
	ctx := context.Background()

	const starters = 8
	responses := make([]*AttemptResponse, starters)
	errs := make([]error, starters)

	var wg sync.WaitGroup
	for i := 0; i < starters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i], errs[i] = svc.Start(ctx, &StartAttemptRequest{TestID: test.ID}, "student-1")
		}(i)
	}
	wg.Wait()

	fresh := 0
	ids := make(map[uint]bool)
	for i := range responses {
		if errs[i] != nil {
			t.Fatalf("Start %d failed: %v", i, errs[i])
		}
		ids[responses[i].ID] = true
		if !responses[i].Resumed {
			fresh++
		}
		if responses[i].AttemptNumber != 1 {
			t.Errorf("AttemptNumber = %d, want 1", responses[i].AttemptNumber)
		}
	}
	if len(ids) != 1 {
		t.Errorf("attempt ids = %v, want a single shared attempt", ids)
	}
	if fresh != 1 {
		t.Errorf("fresh starts = %d, want exactly 1", fresh)
	}
}

func TestAttemptService_StartAfterHistoryCleared(t *testing.T) {
	repo, svc, _, test := newAttemptFixture(t)
	ctx := context.Background()

	started, err := svc.Start(ctx, &StartAttemptRequest{TestID: test.ID}, "student-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := svc.Submit(ctx, started.ID, &SubmitAttemptRequest{}, "student-1"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// A teacher reactivating with clearing archives the history
	if err := repo.Attempt().ArchiveByTest(ctx, nil, test.ID); err != nil {
		t.Fatalf("ArchiveByTest failed: %v", err)
	}

	// Numbering restarts at 1; the archived attempt keeps its old number
	// without blocking the insert
	restarted, err := svc.Start(ctx, &StartAttemptRequest{TestID: test.ID}, "student-1")
	if err != nil {
		t.Fatalf("Start after clearing history failed: %v", err)
	}
	if restarted.AttemptNumber != 1 {
		t.Errorf("AttemptNumber = %d, want 1", restarted.AttemptNumber)
	}
	if restarted.Resumed {
		t.Error("restart should open a fresh attempt")
	}
	if restarted.ID == started.ID {
		t.Error("restart reused the archived attempt")
	}
}

func TestAttemptService_AttemptNumbersAndLimit(t *testing.T) {
	_, svc, _, test := newAttemptFixture(t)
	ctx := context.Background()

	// MaxAttempts is 2 in the fixture
	for want := 1; want <= 2; want++ {
		started, err := svc.Start(ctx, &StartAttemptRequest{TestID: test.ID}, "student-1")
		if err != nil {
			t.Fatalf("Start %d failed: %v", want, err)
		}
		if started.AttemptNumber != want {
			t.Errorf("AttemptNumber = %d, want %d", started.AttemptNumber, want)
		}
		if _, err := svc.Submit(ctx, started.ID, &SubmitAttemptRequest{}, "student-1"); err != nil {
			t.Fatalf("Submit %d failed: %v", want, err)
		}
	}

	_, err := svc.Start(ctx, &StartAttemptRequest{TestID: test.ID}, "student-1")
	if !errors.Is(err, ErrAttemptLimitReached) {
		t.Errorf("third start error = %v, want ErrAttemptLimitReached", err)
	}
}

func TestAttemptService_AbandonedAttemptDoesNotConsumeLimit(t *testing.T) {
	repo, svc, _, test := newAttemptFixture(t)
	ctx := context.Background()

	started, err := svc.Start(ctx, &StartAttemptRequest{TestID: test.ID}, "student-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// An open attempt is resumed, not counted against the budget
	finalized, err := repo.Attempt().CountFinalized(ctx, nil, "student-1", test.ID)
	if err != nil {
		t.Fatalf("CountFinalized failed: %v", err)
	}
	if finalized != 0 {
		t.Errorf("finalized = %d, want 0", finalized)
	}

	resumed, err := svc.Start(ctx, &StartAttemptRequest{TestID: test.ID}, "student-1")
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed.ID != started.ID {
		t.Errorf("resumed ID = %d, want %d", resumed.ID, started.ID)
	}
}

func TestAttemptService_SnapshotFrozenAgainstEdits(t *testing.T) {
	repo, svc, _, test := newAttemptFixture(t)
	ctx := context.Background()

	started, err := svc.Start(ctx, &StartAttemptRequest{TestID: test.ID}, "student-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	q1 := started.Questions[0].QuestionID

	// Swap the correct answer on the live test after the attempt opened
	opts, _ := toJSON([]models.QuestionOption{{ID: "a", Text: "1/2", Position: 1}, {ID: "b", Text: "1/3", Position: 2}})
	correct, _ := toJSON([]string{"b"})
	_ = repo.Test().ReplaceQuestions(ctx, nil, test.ID, []models.Question{
		{Text: "Which is larger?", Type: models.SingleChoice, Points: 2, Options: opts, CorrectOptionIDs: correct},
	})

	result, err := svc.Submit(ctx, started.ID, &SubmitAttemptRequest{
		Answers: []AnswerSubmission{{QuestionID: q1, SelectedOptionIDs: []string{"a"}}},
	}, "student-1")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// "a" was correct when the attempt started, so it still scores
	if result.Score != 2 {
		t.Errorf("Score = %d, want 2 (scored against the snapshot)", result.Score)
	}
	if result.MaxScore != 5 {
		t.Errorf("MaxScore = %d, want 5 (snapshot kept both questions)", result.MaxScore)
	}
}

// staleAttemptReads serves one attempt from a frozen copy, the way a cached
// read can lag behind a concurrent finalize.
type staleAttemptReads struct {
	repositories.AttemptRepository
	attempt *models.TestAttempt
}

func (r *staleAttemptReads) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.TestAttempt, error) {
	if r.attempt != nil && r.attempt.ID == id {
		cp := *r.attempt
		return &cp, nil
	}
	return r.AttemptRepository.GetByID(ctx, tx, id)
}

type staleReadRepo struct {
	*fakeRepository
	attempts *staleAttemptReads
}

func (r *staleReadRepo) Attempt() repositories.AttemptRepository { return r.attempts }

func TestAttemptService_SubmitGuardedAgainstStaleReads(t *testing.T) {
	repo, svc, _, test := newAttemptFixture(t)
	ctx := context.Background()

	started, err := svc.Start(ctx, &StartAttemptRequest{TestID: test.ID}, "student-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Freeze the in-progress state, then finalize the attempt for real
	stale, err := repo.Attempt().GetByID(ctx, nil, started.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	first, err := svc.Submit(ctx, started.ID, &SubmitAttemptRequest{
		Answers: []AnswerSubmission{{QuestionID: started.Questions[0].QuestionID, SelectedOptionIDs: []string{"a"}}},
	}, "student-1")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// A second submit that still sees the attempt as in progress must be
	// stopped by the storage-level guard, not by the read it trusts
	wrapped := &staleReadRepo{
		fakeRepository: repo,
		attempts:       &staleAttemptReads{AttemptRepository: repo.Attempt(), attempt: stale},
	}
	svc2 := NewAttemptService(wrapped, nil, testLogger(), validator.New(), &recordedEvents{})

	_, err = svc2.Submit(ctx, started.ID, &SubmitAttemptRequest{
		Answers: []AnswerSubmission{{QuestionID: started.Questions[0].QuestionID, SelectedOptionIDs: []string{"b"}}},
	}, "student-1")
	if !errors.Is(err, ErrAttemptAlreadySubmitted) {
		t.Fatalf("stale submit error = %v, want ErrAttemptAlreadySubmitted", err)
	}

	// The stored score and answers are the first submit's
	final, err := repo.Attempt().GetByIDWithAnswers(ctx, nil, started.ID)
	if err != nil {
		t.Fatalf("GetByIDWithAnswers failed: %v", err)
	}
	if final.Score != first.Score {
		t.Errorf("Score = %d, want %d", final.Score, first.Score)
	}
	if len(final.Answers) != 1 {
		t.Errorf("answers = %d rows, want 1", len(final.Answers))
	}
}

func TestAttemptService_SubmitOwnership(t *testing.T) {
	_, svc, _, test := newAttemptFixture(t)
	ctx := context.Background()

	started, err := svc.Start(ctx, &StartAttemptRequest{TestID: test.ID}, "student-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	_, err = svc.Submit(ctx, started.ID, &SubmitAttemptRequest{}, "student-2")
	if !IsPermissionError(err) {
		t.Errorf("foreign submit error = %v, want permission error", err)
	}

	_, err = svc.Submit(ctx, 999, &SubmitAttemptRequest{}, "student-1")
	if !errors.Is(err, ErrAttemptNotFound) {
		t.Errorf("missing attempt error = %v, want ErrAttemptNotFound", err)
	}
}

func TestAttemptService_InvalidSubmissionRejected(t *testing.T) {
	_, svc, _, test := newAttemptFixture(t)
	ctx := context.Background()

	started, err := svc.Start(ctx, &StartAttemptRequest{TestID: test.ID}, "student-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	_, err = svc.Submit(ctx, started.ID, &SubmitAttemptRequest{
		Answers: []AnswerSubmission{{QuestionID: 4242, SelectedOptionIDs: []string{"a"}}},
	}, "student-1")
	if !IsValidationError(err) {
		t.Errorf("unknown question error = %v, want validation error", err)
	}

	// The failed submission must not finalize the attempt
	resumed, err := svc.Start(ctx, &StartAttemptRequest{TestID: test.ID}, "student-1")
	if err != nil {
		t.Fatalf("re-start failed: %v", err)
	}
	if !resumed.Resumed {
		t.Error("attempt should still be open after a rejected submission")
	}
}

func TestAttemptService_GetResult(t *testing.T) {
	_, svc, _, test := newAttemptFixture(t)
	ctx := context.Background()

	started, _ := svc.Start(ctx, &StartAttemptRequest{TestID: test.ID}, "student-1")
	submitted, err := svc.Submit(ctx, started.ID, &SubmitAttemptRequest{
		Answers: []AnswerSubmission{{QuestionID: started.Questions[0].QuestionID, SelectedOptionIDs: []string{"a"}}},
	}, "student-1")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Owner can read it
	result, err := svc.GetResult(ctx, submitted.AttemptID, "student-1")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if result.Score != submitted.Score {
		t.Errorf("Score = %d, want %d", result.Score, submitted.Score)
	}

	// Teacher can read it
	if _, err := svc.GetResult(ctx, submitted.AttemptID, "teacher-1"); err != nil {
		t.Errorf("teacher GetResult failed: %v", err)
	}

	// Another student cannot
	if _, err := svc.GetResult(ctx, submitted.AttemptID, "student-2"); !IsPermissionError(err) {
		t.Errorf("foreign GetResult error = %v, want permission error", err)
	}
}

func TestAttemptService_GetByID(t *testing.T) {
	_, svc, _, test := newAttemptFixture(t)
	ctx := context.Background()

	started, err := svc.Start(ctx, &StartAttemptRequest{TestID: test.ID}, "student-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	got, err := svc.GetByID(ctx, started.ID, "student-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != models.AttemptInProgress || len(got.Questions) != 2 {
		t.Errorf("attempt = %+v, want in-progress with 2 questions", got)
	}

	// Staff can see any attempt, a foreign student cannot
	if _, err := svc.GetByID(ctx, started.ID, "teacher-1"); err != nil {
		t.Errorf("teacher GetByID failed: %v", err)
	}
	if _, err := svc.GetByID(ctx, started.ID, "student-2"); !IsPermissionError(err) {
		t.Errorf("foreign GetByID error = %v, want permission error", err)
	}
}

func TestAttemptService_ListByTest(t *testing.T) {
	_, svc, _, test := newAttemptFixture(t)
	ctx := context.Background()

	started, _ := svc.Start(ctx, &StartAttemptRequest{TestID: test.ID}, "student-1")
	if _, err := svc.Submit(ctx, started.ID, &SubmitAttemptRequest{
		Answers: []AnswerSubmission{{QuestionID: started.Questions[0].QuestionID, SelectedOptionIDs: []string{"a"}}},
	}, "student-1"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := svc.Start(ctx, &StartAttemptRequest{TestID: test.ID}, "student-2"); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	list, err := svc.ListByTest(ctx, test.ID, "teacher-1")
	if err != nil {
		t.Fatalf("ListByTest failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list = %d attempts, want 2", len(list))
	}

	if _, err := svc.ListByTest(ctx, test.ID, "student-1"); !IsPermissionError(err) {
		t.Errorf("student ListByTest error = %v, want permission error", err)
	}
	if _, err := svc.ListByTest(ctx, 999, "teacher-1"); !errors.Is(err, ErrTestNotFound) {
		t.Errorf("unknown test error = %v, want ErrTestNotFound", err)
	}
}
