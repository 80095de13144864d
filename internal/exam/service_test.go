package exam

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosla-edu/desk/internal/api"
	"github.com/bosla-edu/desk/internal/api/apitest"
	"github.com/bosla-edu/desk/internal/model"
)

// stubGateway is a Gateway whose create-question response never carries an id.
type stubGateway struct {
	mu        sync.Mutex
	exam      *model.Exam
	fetches   int
	created   []api.QuestionInput
	options   []api.OptionInput
	inflight  int
	maxFlight int
	failOpt   map[string]bool
}

func (g *stubGateway) LectureExam(ctx context.Context, lectureID int64) (*model.Exam, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	return g.exam, nil
}

func (g *stubGateway) CreateExam(context.Context, api.ExamInput) (int64, error) { return 1, nil }
func (g *stubGateway) EditExam(context.Context, api.ExamInput) error            { return nil }
func (g *stubGateway) DeleteExam(context.Context, int64) error                  { return nil }
func (g *stubGateway) ChangeVisibility(context.Context, int64, bool) error      { return nil }
func (g *stubGateway) EditQuestion(context.Context, api.QuestionInput) error    { return nil }
func (g *stubGateway) DeleteQuestion(context.Context, int64) error              { return nil }
func (g *stubGateway) EditOption(context.Context, api.OptionInput) error        { return nil }
func (g *stubGateway) DeleteOption(context.Context, int64) error                { return nil }

func (g *stubGateway) CreateQuestion(_ context.Context, in api.QuestionInput) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, in)
	return 0, nil
}

func (g *stubGateway) CreateOption(_ context.Context, in api.OptionInput) (int64, error) {
	g.mu.Lock()
	g.inflight++
	if g.inflight > g.maxFlight {
		g.maxFlight = g.inflight
	}
	g.options = append(g.options, in)
	fail := g.failOpt[in.Content]
	n := int64(len(g.options))
	g.mu.Unlock()

	time.Sleep(time.Millisecond)

	g.mu.Lock()
	g.inflight--
	g.mu.Unlock()
	if fail {
		return 0, errors.New("boom")
	}
	return 900 + n, nil
}

func (g *stubGateway) CreateDeadlineException(_ context.Context, d model.DeadlineException) (model.DeadlineException, error) {
	d.ID = 1
	return d, nil
}

func newTestService(gw Gateway, opts ...Option) *Service {
	s := NewService(gw, append([]Option{WithLocation(time.UTC)}, opts...)...)
	s.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return s
}

func questions(contents ...string) []model.Question {
	qs := make([]model.Question, len(contents))
	for i, c := range contents {
		qs[i] = model.Question{ID: int64(i + 1), Content: c}
	}
	return qs
}

func mcq(content string, options ...OptionRequest) QuestionRequest {
	return QuestionRequest{
		LectureID:    3,
		ExamID:       7,
		QuestionType: model.QuestionText,
		Content:      content,
		AnswerType:   model.AnswerMCQ,
		Score:        2,
		Options:      options,
	}
}

// Recovery is best effort: question content is not guaranteed unique, so
// these cases pin the tie-breaking order rather than correctness.
func TestResolveCreatedID(t *testing.T) {
	tests := []struct {
		name      string
		questions []model.Question
		content   string
		want      int64
	}{
		{
			name:      "exact match wins over newer substring match",
			questions: questions("Q1", "Q2", "What is 2+2?", "What is 2+2? Show work", "What is 2+2 squared?"),
			content:   "What is 2+2?",
			want:      3,
		},
		{
			name:      "prefix match when no exact match",
			questions: questions("Q1", "Q2", "Name the capital of Egypt and explain", "Q4", "Q5"),
			content:   "Name the capital of Egypt",
			want:      3,
		},
		{
			name:      "falls back to newest",
			questions: questions("Q1", "Q2", "Q3", "Q4", "Q5"),
			content:   "Something else entirely",
			want:      5,
		},
		{
			name:      "only the last five questions are searched",
			questions: questions("Target", "Q2", "Q3", "Q4", "Q5", "Q6", "Q7"),
			content:   "Target",
			want:      7,
		},
		{
			name:      "whitespace is ignored",
			questions: questions("Q1", "  Trim me  ", "Q3"),
			content:   "Trim me",
			want:      2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &stubGateway{exam: &model.Exam{ID: 7, LectureID: 3, Questions: tt.questions}}
			got, err := newTestService(gw).resolveCreatedID(context.Background(), 3, tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveCreatedIDWaitsBeforeFetching(t *testing.T) {
	gw := &stubGateway{exam: &model.Exam{Questions: questions("A")}}
	s := newTestService(gw, WithResolveDelay(50*time.Millisecond))
	var waited time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		waited = d
		return nil
	}
	_, err := s.resolveCreatedID(context.Background(), 3, "A")
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, waited)
	assert.Equal(t, 1, gw.fetches)
}

func TestResolveCreatedIDCancelled(t *testing.T) {
	gw := &stubGateway{exam: &model.Exam{Questions: questions("A")}}
	s := NewService(gw, WithResolveDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.resolveCreatedID(ctx, 3, "A")
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, gw.fetches)
}

func TestCreateQuestionResolvesAndCreatesOptionsSequentially(t *testing.T) {
	gw := &stubGateway{exam: &model.Exam{Questions: questions("Q1", "Pick one")}}
	res, err := newTestService(gw).CreateQuestion(context.Background(), mcq("  Pick one ",
		OptionRequest{Content: "a", IsCorrect: true},
		OptionRequest{Content: "b"},
		OptionRequest{Content: "c"},
	))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.True(t, res.Resolved)
	assert.Equal(t, int64(2), res.QuestionID)
	require.Len(t, res.Options, 3)
	assert.Empty(t, res.OptionErrors)

	assert.Equal(t, "Pick one", gw.created[0].Content)
	assert.Equal(t, 1, gw.maxFlight, "options must be created one at a time")
	for i, o := range gw.options {
		assert.Equal(t, int64(2), o.QuestionID)
		assert.Equal(t, []string{"a", "b", "c"}[i], o.Content)
	}
}

func TestCreateQuestionPartialOptionFailure(t *testing.T) {
	gw := &stubGateway{
		exam:    &model.Exam{Questions: questions("Pick one")},
		failOpt: map[string]bool{"b": true},
	}
	res, err := newTestService(gw).CreateQuestion(context.Background(), mcq("Pick one",
		OptionRequest{Content: "a", IsCorrect: true},
		OptionRequest{Content: "b"},
		OptionRequest{Content: "c"},
	))
	require.NoError(t, err)
	assert.Len(t, gw.options, 3, "a failed option must not stop the rest")
	require.Len(t, res.Options, 2)
	assert.Equal(t, "a", res.Options[0].Content)
	assert.Equal(t, "c", res.Options[1].Content)
	require.Len(t, res.OptionErrors, 1)
	assert.Contains(t, res.OptionErrors[0].Error(), `"b"`)
}

func TestCreateQuestionOptionsOrphaned(t *testing.T) {
	gw := &stubGateway{exam: nil}
	res, err := newTestService(gw).CreateQuestion(context.Background(), mcq("Pick one",
		OptionRequest{Content: "a", IsCorrect: true},
		OptionRequest{Content: "b"},
	))
	require.ErrorIs(t, err, ErrOptionsOrphaned)
	assert.True(t, res.Created)
	assert.Zero(t, res.QuestionID)
	assert.Empty(t, gw.options)
}

func TestCreateEssayWithoutIDIsNotOrphaned(t *testing.T) {
	gw := &stubGateway{exam: nil}
	req := mcq("Explain photosynthesis")
	req.AnswerType = model.AnswerEssay
	res, err := newTestService(gw).CreateQuestion(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestCreateQuestionValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*QuestionRequest)
	}{
		{"zero score", func(r *QuestionRequest) { r.Score = 0 }},
		{"empty text", func(r *QuestionRequest) { r.Content = "   " }},
		{"unknown answer type", func(r *QuestionRequest) { r.AnswerType = "Poll" }},
		{"missing lecture", func(r *QuestionRequest) { r.LectureID = 0 }},
		{"empty option", func(r *QuestionRequest) { r.Options = []OptionRequest{{Content: ""}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &stubGateway{}
			req := mcq("Pick one", OptionRequest{Content: "a", IsCorrect: true}, OptionRequest{Content: "b"})
			tt.mutate(&req)
			_, err := newTestService(gw).CreateQuestion(context.Background(), req)
			var verrs validator.ValidationErrors
			require.ErrorAs(t, err, &verrs)
			assert.Empty(t, gw.created)
		})
	}
}

func TestImageQuestionMayHaveEmptyContent(t *testing.T) {
	gw := &stubGateway{exam: &model.Exam{Questions: questions("/uploads/q.png")}}
	req := mcq("")
	req.QuestionType = model.QuestionImage
	req.AnswerType = model.AnswerImage
	req.File = &model.File{Name: "q.png", Data: []byte("png")}
	res, err := newTestService(gw).CreateQuestion(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.QuestionID)
}

func TestExamRoundTripAgainstAPI(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()
	c, err := api.New(srv.URL, "v1", api.StaticToken(apitest.Token))
	require.NoError(t, err)
	s := newTestService(c)
	ctx := context.Background()

	_, err = s.GetLectureExam(ctx, 5)
	require.ErrorIs(t, err, ErrNoExam)

	id, err := s.CreateExam(ctx, ExamRequest{
		LectureID:         5,
		Title:             "Midterm",
		DurationInMinutes: 60,
		Type:              model.ExamTypeExam,
		IsVisible:         true,
		Deadline:          "2026-06-01T09:30",
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	e, err := s.GetLectureExam(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, id, e.ID)
	assert.Equal(t, "Midterm", e.Title)
	assert.Equal(t, 60, e.DurationInMinutes)
	assert.Equal(t, model.ExamTypeExam, e.Type)
	assert.True(t, e.IsVisible)
	assert.Empty(t, e.Questions)
	require.NotNil(t, e.Deadline)
	assert.True(t, e.Deadline.Equal(time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)))
}

func TestCreateQuestionAgainstAPIWithoutID(t *testing.T) {
	srv := apitest.New()
	srv.OmitQuestionID = true
	defer srv.Close()
	srv.SeedExam(model.Exam{ID: 7, LectureID: 3, Questions: []model.Question{
		{ID: 1, ExamID: 7, Content: "Pick one of these colours"},
	}})
	c, err := api.New(srv.URL, "v1", api.StaticToken(apitest.Token))
	require.NoError(t, err)

	res, err := newTestService(c).CreateQuestion(context.Background(), mcq("Pick one",
		OptionRequest{Content: "Red", IsCorrect: true},
		OptionRequest{Content: "Blue"},
	))
	require.NoError(t, err)
	assert.True(t, res.Resolved)

	qs := srv.Questions(7)
	require.Len(t, qs, 2)
	assert.Equal(t, qs[1].ID, res.QuestionID, "exact match must beat the older prefix match")
	assert.Len(t, qs[1].Options, 2)
	assert.Empty(t, qs[0].Options)
}

func TestEditExamValidation(t *testing.T) {
	gw := &stubGateway{}
	s := newTestService(gw)
	err := s.EditExam(context.Background(), ExamRequest{LectureID: 1, Title: "x", Type: model.ExamTypeExam})
	require.Error(t, err)

	err = s.EditExam(context.Background(), ExamRequest{ID: 1, LectureID: 1, Title: "x", Type: 3})
	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)

	err = s.EditExam(context.Background(), ExamRequest{ID: 1, LectureID: 1, Title: "x", Type: 1, Deadline: "tomorrow"})
	require.Error(t, err)
}

func TestCreateDeadlineException(t *testing.T) {
	s := newTestService(&stubGateway{})
	d, err := s.CreateDeadlineException(context.Background(), DeadlineRequest{
		ExamID: 7, StudentID: 4, ExtendedDeadline: "2026-06-02T10:00", AllowedAfterDeadline: true, Reason: " sick ",
	})
	require.NoError(t, err)
	assert.Equal(t, "sick", d.Reason)
	assert.True(t, d.ExtendedDeadline.Equal(time.Date(2026, 6, 2, 10, 0, 0, 0, time.UTC)))

	_, err = s.CreateDeadlineException(context.Background(), DeadlineRequest{ExamID: 7, StudentID: 4})
	require.Error(t, err)
}
