package services

import (
	"context"
	"sort"
	"sync"

	"gorm.io/gorm"

	"github.com/ineydlis/school-test-service/internal/models"
	"github.com/ineydlis/school-test-service/internal/repositories"
)

// fakeRepository is an in-memory Repository. Transactions degrade to direct
// calls, which is enough to exercise service semantics.
type fakeRepository struct {
	mu sync.Mutex

	tests     map[uint]*models.Test
	questions map[uint][]models.Question
	attempts  map[uint]*models.TestAttempt
	answers   map[uint][]*models.StudentAnswer
	users     map[string]*models.User
	subjects  map[uint]*models.Subject
	grades    map[uint]*models.Grade

	nextTestID     uint
	nextQuestionID uint
	nextAttemptID  uint
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		tests:          make(map[uint]*models.Test),
		questions:      make(map[uint][]models.Question),
		attempts:       make(map[uint]*models.TestAttempt),
		answers:        make(map[uint][]*models.StudentAnswer),
		users:          make(map[string]*models.User),
		subjects:       make(map[uint]*models.Subject),
		grades:         make(map[uint]*models.Grade),
		nextTestID:     1,
		nextQuestionID: 1,
		nextAttemptID:  1,
	}
}

func (f *fakeRepository) Test() repositories.TestRepository       { return (*fakeTestRepo)(f) }
func (f *fakeRepository) Attempt() repositories.AttemptRepository { return (*fakeAttemptRepo)(f) }
func (f *fakeRepository) User() repositories.UserRepository       { return (*fakeUserRepo)(f) }
func (f *fakeRepository) Subject() repositories.SubjectRepository { return (*fakeSubjectRepo)(f) }
func (f *fakeRepository) Grade() repositories.GradeRepository     { return (*fakeGradeRepo)(f) }
func (f *fakeRepository) Stats() repositories.StatsRepository     { return (*fakeStatsRepo)(f) }

func (f *fakeRepository) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
func (f *fakeRepository) Ping(ctx context.Context) error { return nil }
func (f *fakeRepository) Close() error                   { return nil }

// ===== seeding helpers =====

func (f *fakeRepository) addUser(u *models.User) *models.User {
	f.users[u.ID] = u
	return u
}

func (f *fakeRepository) addSubject(id uint, name string) *models.Subject {
	s := &models.Subject{ID: id, Name: name}
	f.subjects[id] = s
	return s
}

func (f *fakeRepository) addGrade(id uint, number int, letter string) *models.Grade {
	g := &models.Grade{ID: id, Number: number, Letter: letter}
	f.grades[id] = g
	return g
}

func copyTest(t *models.Test) *models.Test {
	cp := *t
	return &cp
}

func copyAttempt(a *models.TestAttempt) *models.TestAttempt {
	cp := *a
	return &cp
}

// ===== TestRepository =====

type fakeTestRepo fakeRepository

func (f *fakeTestRepo) Create(ctx context.Context, tx *gorm.DB, test *models.Test) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	test.ID = f.nextTestID
	f.nextTestID++
	f.tests[test.ID] = copyTest(test)
	return nil
}

func (f *fakeTestRepo) Update(ctx context.Context, tx *gorm.DB, test *models.Test) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tests[test.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	f.tests[test.ID] = copyTest(test)
	return nil
}

func (f *fakeTestRepo) ReplaceQuestions(ctx context.Context, tx *gorm.DB, testID uint, questions []models.Question) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := make([]models.Question, len(questions))
	for i, q := range questions {
		q.ID = f.nextQuestionID
		f.nextQuestionID++
		q.TestID = testID
		q.Position = i + 1
		stored[i] = q
	}
	f.questions[testID] = stored
	return nil
}

func (f *fakeTestRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Test, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	test, ok := f.tests[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := copyTest(test)
	if subject, ok := f.subjects[test.SubjectID]; ok {
		out.Subject = *subject
	}
	return out, nil
}

func (f *fakeTestRepo) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Test, error) {
	test, err := f.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	test.Questions = append([]models.Question(nil), f.questions[id]...)
	return test, nil
}

func (f *fakeTestRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.TestFilters) ([]*models.Test, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Test
	for _, test := range f.tests {
		if filters.Active != nil && test.Active != *filters.Active {
			continue
		}
		if filters.CreatedBy != nil && test.CreatedBy != *filters.CreatedBy {
			continue
		}
		if filters.SubjectID != nil && test.SubjectID != *filters.SubjectID {
			continue
		}
		if filters.GradeID != nil {
			found := false
			for _, id := range uintIDsFromJSON(test.TargetGradeIDs) {
				if id == *filters.GradeID {
					found = true
				}
			}
			if !found {
				continue
			}
		}
		out = append(out, copyTest(test))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (f *fakeTestRepo) SetActive(ctx context.Context, tx *gorm.DB, id uint, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	test, ok := f.tests[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	test.Active = active
	return nil
}

func (f *fakeTestRepo) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tests[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(f.tests, id)
	delete(f.questions, id)
	return nil
}

func (f *fakeTestRepo) HasFinalizedAttempts(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.TestID == id && a.Status == models.AttemptCompleted {
			return true, nil
		}
	}
	return false, nil
}

// ===== AttemptRepository =====

type fakeAttemptRepo fakeRepository

func (f *fakeAttemptRepo) Create(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if attempt.Status == models.AttemptInProgress {
		for _, a := range f.attempts {
			if a.StudentID == attempt.StudentID && a.TestID == attempt.TestID && a.Status == models.AttemptInProgress {
				return gorm.ErrDuplicatedKey
			}
		}
	}
	// Archived rows keep their numbers but do not collide with restarted
	// numbering, matching the partial unique index.
	for _, a := range f.attempts {
		if a.Status != models.AttemptArchived && a.StudentID == attempt.StudentID && a.TestID == attempt.TestID && a.AttemptNumber == attempt.AttemptNumber {
			return gorm.ErrDuplicatedKey
		}
	}
	attempt.ID = f.nextAttemptID
	f.nextAttemptID++
	f.attempts[attempt.ID] = copyAttempt(attempt)
	return nil
}

func (f *fakeAttemptRepo) Finalize(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.attempts[attempt.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if stored.Status != models.AttemptInProgress {
		return repositories.ErrAttemptFinalized
	}
	f.attempts[attempt.ID] = copyAttempt(attempt)
	return nil
}

func (f *fakeAttemptRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.TestAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt, ok := f.attempts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return copyAttempt(attempt), nil
}

func (f *fakeAttemptRepo) GetByIDWithAnswers(ctx context.Context, tx *gorm.DB, id uint) (*models.TestAttempt, error) {
	attempt, err := f.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ans := range f.answers[id] {
		cp := *ans
		attempt.Answers = append(attempt.Answers, cp)
	}
	if test, ok := f.tests[attempt.TestID]; ok {
		attempt.Test = *copyTest(test)
	}
	return attempt, nil
}

func (f *fakeAttemptRepo) GetActiveAttempt(ctx context.Context, tx *gorm.DB, studentID string, testID uint) (*models.TestAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.StudentID == studentID && a.TestID == testID && a.Status == models.AttemptInProgress {
			return copyAttempt(a), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeAttemptRepo) MaxAttemptNumber(ctx context.Context, tx *gorm.DB, studentID string, testID uint) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	max := 0
	for _, a := range f.attempts {
		if a.StudentID == studentID && a.TestID == testID && a.Status != models.AttemptArchived && a.AttemptNumber > max {
			max = a.AttemptNumber
		}
	}
	return max, nil
}

func (f *fakeAttemptRepo) CountFinalized(ctx context.Context, tx *gorm.DB, studentID string, testID uint) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, a := range f.attempts {
		if a.StudentID == studentID && a.TestID == testID && a.Status == models.AttemptCompleted {
			count++
		}
	}
	return count, nil
}

func (f *fakeAttemptRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.TestAttempt, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.TestAttempt
	for _, a := range f.attempts {
		if filters.Status != nil && a.Status != *filters.Status {
			continue
		}
		if filters.StudentID != nil && a.StudentID != *filters.StudentID {
			continue
		}
		if filters.TestID != nil && a.TestID != *filters.TestID {
			continue
		}
		cp := copyAttempt(a)
		if test, ok := f.tests[a.TestID]; ok {
			cp.Test = *copyTest(test)
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (f *fakeAttemptRepo) CreateAnswers(ctx context.Context, tx *gorm.DB, answers []*models.StudentAnswer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ans := range answers {
		cp := *ans
		f.answers[ans.AttemptID] = append(f.answers[ans.AttemptID], &cp)
	}
	return nil
}

func (f *fakeAttemptRepo) ArchiveByTest(ctx context.Context, tx *gorm.DB, testID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.TestID == testID {
			a.Status = models.AttemptArchived
		}
	}
	return nil
}

func (f *fakeAttemptRepo) DeleteByTest(ctx context.Context, tx *gorm.DB, testID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, a := range f.attempts {
		if a.TestID == testID {
			delete(f.attempts, id)
			delete(f.answers, id)
		}
	}
	return nil
}

// ===== UserRepository =====

type fakeUserRepo fakeRepository

func (f *fakeUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *user
	if user.GradeID != nil {
		if grade, ok := f.grades[*user.GradeID]; ok {
			g := *grade
			cp.Grade = &g
		}
	}
	return &cp, nil
}

func (f *fakeUserRepo) Update(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[user.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	cp := *user
	cp.Grade = nil
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeUserRepo) ListByGrade(ctx context.Context, gradeID uint) ([]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.User
	for _, user := range f.users {
		if user.GradeID != nil && *user.GradeID == gradeID && user.Role == models.RoleStudent {
			cp := *user
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

// ===== SubjectRepository / GradeRepository =====

type fakeSubjectRepo fakeRepository

func (f *fakeSubjectRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subject, ok := f.subjects[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *subject
	return &cp, nil
}

func (f *fakeSubjectRepo) List(ctx context.Context, tx *gorm.DB) ([]*models.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Subject
	for _, s := range f.subjects {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type fakeGradeRepo fakeRepository

func (f *fakeGradeRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Grade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	grade, ok := f.grades[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *grade
	return &cp, nil
}

func (f *fakeGradeRepo) List(ctx context.Context, tx *gorm.DB) ([]*models.Grade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Grade
	for _, g := range f.grades {
		cp := *g
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ===== StatsRepository =====

type fakeStatsRepo fakeRepository

func (f *fakeStatsRepo) CompletedAttempts(ctx context.Context, tx *gorm.DB, scope repositories.StatsScope) ([]repositories.CompletedAttemptRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var rows []repositories.CompletedAttemptRow
	for _, a := range f.attempts {
		if a.Status != models.AttemptCompleted {
			continue
		}
		test, ok := f.tests[a.TestID]
		if !ok {
			continue
		}
		user, ok := f.users[a.StudentID]
		if !ok {
			continue
		}

		if scope.TestID != nil && a.TestID != *scope.TestID {
			continue
		}
		if scope.SubjectID != nil && test.SubjectID != *scope.SubjectID {
			continue
		}
		if scope.StudentID != nil && a.StudentID != *scope.StudentID {
			continue
		}
		if scope.GradeID != nil && (user.GradeID == nil || *user.GradeID != *scope.GradeID) {
			continue
		}

		row := repositories.CompletedAttemptRow{
			AttemptID:     a.ID,
			TestID:        a.TestID,
			TestTitle:     test.Title,
			SubjectID:     test.SubjectID,
			StudentID:     a.StudentID,
			StudentName:   user.FullName,
			AttemptNumber: a.AttemptNumber,
			Score:         a.Score,
			MaxScore:      a.MaxScore,
			Percentage:    a.Percentage,
			CompletedAt:   *a.CompletedAt,
		}
		if subject, ok := f.subjects[test.SubjectID]; ok {
			row.SubjectName = subject.Name
		}
		if user.GradeID != nil {
			row.GradeID = *user.GradeID
			if grade, ok := f.grades[*user.GradeID]; ok {
				row.GradeName = grade.FullName()
			}
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].AttemptID < rows[j].AttemptID })
	return rows, nil
}

func (f *fakeStatsRepo) RecentTestIDs(ctx context.Context, tx *gorm.DB, limit int) ([]uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uint
	for id := range f.tests {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}
