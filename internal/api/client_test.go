package api_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosla-edu/desk/internal/api"
	"github.com/bosla-edu/desk/internal/api/apitest"
	"github.com/bosla-edu/desk/internal/model"
)

func newClient(t *testing.T, srv *apitest.Server) *api.Client {
	t.Helper()
	c, err := api.New(srv.URL, "v1", api.StaticToken(apitest.Token))
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := api.New("not a url", "v1", nil)
	require.Error(t, err)
}

func TestMissingTokenFailsBeforeRequest(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()

	c, err := api.New(srv.URL, "v1", nil)
	require.NoError(t, err)
	_, err = c.LectureExam(context.Background(), 1)
	require.ErrorIs(t, err, api.ErrNoToken)
	assert.Empty(t, srv.Requests())
}

func TestWrongTokenIsAPIError(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()

	c, err := api.New(srv.URL, "v1", api.StaticToken("stale"))
	require.NoError(t, err)
	_, err = c.LectureExam(context.Background(), 1)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "unauthorized", api.Message(err))
}

func TestLectureWithoutExam(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()

	exam, err := newClient(t, srv).LectureExam(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, exam)
}

func TestCreateThenFetchExam(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()
	c := newClient(t, srv)
	ctx := context.Background()

	id, err := c.CreateExam(ctx, api.ExamInput{
		LectureID:         5,
		Title:             "Midterm",
		DurationInMinutes: 60,
		Type:              model.ExamTypeExam,
		IsVisible:         true,
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	exam, err := c.LectureExam(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, exam)
	assert.Equal(t, id, exam.ID)
	assert.Equal(t, "Midterm", exam.Title)
	assert.Equal(t, 60, exam.DurationInMinutes)
	assert.True(t, exam.IsVisible)
	assert.NotNil(t, exam.Questions)
	assert.Empty(t, exam.Questions)
}

func TestPascalCaseResponses(t *testing.T) {
	srv := apitest.New()
	srv.PascalCase = true
	defer srv.Close()
	srv.SeedExam(model.Exam{ID: 10, LectureID: 2, Title: "Homework 1", Type: model.ExamTypeHomework, IsVisible: true})

	exam, err := newClient(t, srv).LectureExam(context.Background(), 2)
	require.NoError(t, err)
	require.NotNil(t, exam)
	assert.Equal(t, int64(10), exam.ID)
	assert.Equal(t, "Homework 1", exam.Title)
	assert.Equal(t, model.ExamTypeHomework, exam.Type)
}

func TestEditExamForcesIsFreeFalse(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()
	srv.SeedExam(model.Exam{ID: 10, LectureID: 2, Title: "Old"})

	err := newClient(t, srv).EditExam(context.Background(), api.ExamInput{
		ID: 10, LectureID: 2, Title: "New", Type: model.ExamTypeExam, IsFree: true,
	})
	require.NoError(t, err)
	require.Len(t, srv.Edits, 1)
	assert.Equal(t, false, srv.Edits[0]["isFree"])
	got, _ := srv.Exam(10)
	assert.Equal(t, "New", got.Title)
}

func TestChangeVisibility(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()
	srv.SeedExam(model.Exam{ID: 10, LectureID: 2, IsVisible: true})

	require.NoError(t, newClient(t, srv).ChangeVisibility(context.Background(), 10, false))
	got, _ := srv.Exam(10)
	assert.False(t, got.IsVisible)
}

func TestQuestionAndOptionLifecycle(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()
	srv.SeedExam(model.Exam{ID: 10, LectureID: 2})
	c := newClient(t, srv)
	ctx := context.Background()

	qid, err := c.CreateQuestion(ctx, api.QuestionInput{
		ExamID:       10,
		QuestionType: model.QuestionText,
		Content:      "Capital of Egypt?",
		AnswerType:   model.AnswerMCQ,
		Score:        2,
	})
	require.NoError(t, err)
	require.NotZero(t, qid)

	oid, err := c.CreateOption(ctx, api.OptionInput{QuestionID: qid, Content: "Cairo", IsCorrect: true})
	require.NoError(t, err)
	require.NotZero(t, oid)

	require.NoError(t, c.EditQuestion(ctx, api.QuestionInput{
		ID: qid, ExamID: 10, QuestionType: model.QuestionText, Content: "Capital of Egypt? (2 pts)",
		AnswerType: model.AnswerMCQ, Score: 2,
	}))
	require.NoError(t, c.EditOption(ctx, api.OptionInput{ID: oid, QuestionID: qid, Content: "Cairo", IsCorrect: true}))

	qs := srv.Questions(10)
	require.Len(t, qs, 1)
	assert.Equal(t, "Capital of Egypt? (2 pts)", qs[0].Content)
	require.Len(t, qs[0].Options, 1)

	require.NoError(t, c.DeleteOption(ctx, oid))
	require.NoError(t, c.DeleteQuestion(ctx, qid))
	assert.Empty(t, srv.Questions(10))
}

func TestCreateQuestionWithoutIDInResponse(t *testing.T) {
	srv := apitest.New()
	srv.OmitQuestionID = true
	defer srv.Close()
	srv.SeedExam(model.Exam{ID: 10, LectureID: 2})

	id, err := newClient(t, srv).CreateQuestion(context.Background(), api.QuestionInput{
		ExamID: 10, QuestionType: model.QuestionText, Content: "Q", AnswerType: model.AnswerEssay, Score: 1,
	})
	require.NoError(t, err)
	assert.Zero(t, id)
}

func TestEditQuestionRequiresID(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()
	err := newClient(t, srv).EditQuestion(context.Background(), api.QuestionInput{ExamID: 1})
	require.Error(t, err)
	assert.Empty(t, srv.Requests())
}

func TestQuestionFormFields(t *testing.T) {
	var fields map[string][]string
	var files []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fields = r.MultipartForm.Value
		for name := range r.MultipartForm.File {
			files = append(files, name)
		}
		_, _ = io.WriteString(w, `{"id":5}`)
	}))
	defer ts.Close()

	c, err := api.New(ts.URL, "v1", api.StaticToken("t"))
	require.NoError(t, err)
	id, err := c.CreateQuestion(context.Background(), api.QuestionInput{
		ExamID:            3,
		QuestionType:      model.QuestionImage,
		AnswerType:        model.AnswerImage,
		Score:             2.5,
		File:              &model.File{Name: "q.png", ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}},
		CorrectAnswerFile: &model.File{Name: "a.png", ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)
	assert.Equal(t, []string{"3"}, fields["examId"])
	assert.Equal(t, []string{"Image"}, fields["questionType"])
	assert.Equal(t, []string{"Image"}, fields["answerType"])
	assert.Equal(t, []string{"2.5"}, fields["score"])
	assert.Equal(t, []string{"false"}, fields["correctByAssistant"])
	assert.NotContains(t, fields, "questionId")
	assert.ElementsMatch(t, []string{"File", "CorrectAnswerFile"}, files)
}

func TestExamSubmissionsEmptyOn404(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()

	subs, err := newClient(t, srv).ExamSubmissions(context.Background(), 2)
	require.NoError(t, err)
	assert.NotNil(t, subs)
	assert.Empty(t, subs)
}

func TestStudentScoreBackfillsIDs(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()
	srv.SeedScore(10, 4, map[string]any{
		"studentExamResultId": 77,
		"answers":             []any{map[string]any{"id": 1, "questionId": 2, "answerType": "Essay", "answerText": "hi"}},
	})

	s, err := newClient(t, srv).StudentScore(context.Background(), 10, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(77), s.StudentExamResultID)
	assert.Equal(t, int64(10), s.ExamID)
	assert.Equal(t, int64(4), s.StudentID)
	require.Len(t, s.Answers, 1)
	assert.Equal(t, "hi", s.Answers[0].Text)
}

func TestSaveGradesBody(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()

	batch := model.GradeBatch{
		StudentExamResultID: 77,
		GradedAnswers: []model.GradedAnswer{
			{StudentAnswerID: 1, PointsEarned: 2, IsCorrect: true, Feedback: "good"},
			{StudentAnswerID: 2, PointsEarned: 0, Feedback: "auto-zeroed duplicate"},
		},
	}
	require.NoError(t, newClient(t, srv).SaveGrades(context.Background(), batch))
	require.Len(t, srv.Grades, 1)
	assert.Equal(t, batch, srv.Grades[0])
}

func TestReplaceAnswerImage(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()
	c := newClient(t, srv)

	_, err := c.ReplaceAnswerImage(context.Background(), 5, nil)
	require.Error(t, err)

	u, err := c.ReplaceAnswerImage(context.Background(), 5, &model.File{Name: "fix.png", Data: []byte("img")})
	require.NoError(t, err)
	assert.Equal(t, "/uploads/student-answers/5/fix.png", u)
	assert.Equal(t, 1, srv.Uploads[5])
}

func TestCreateDeadlineException(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()

	deadline := time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("EET", 2*3600))
	got, err := newClient(t, srv).CreateDeadlineException(context.Background(), model.DeadlineException{
		ExamID: 10, StudentID: 4, ExtendedDeadline: deadline, AllowedAfterDeadline: true, Reason: "sick",
	})
	require.NoError(t, err)
	assert.NotZero(t, got.ID)
	require.Len(t, srv.Exceptions, 1)
	assert.Equal(t, "2026-05-01T10:00:00Z", srv.Exceptions[0]["extendedDeadline"])
}

func TestDashboards(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()
	srv.Parent = map[string]any{"children": []any{
		map[string]any{"id": 4, "fullName": "Omar", "courses": []any{1, 2}, "examResults": []any{
			map[string]any{"examId": 10, "examTitle": "Midterm", "score": 8, "maxScore": 10},
		}},
	}}
	srv.Teacher = map[string]any{"totalCourses": 3, "studentsCount": 40, "totalRevenue": 1250.5}
	c := newClient(t, srv)

	p, err := c.ParentDashboard(context.Background())
	require.NoError(t, err)
	require.Len(t, p.Children, 1)
	assert.Equal(t, "Omar", p.Children[0].Name)
	assert.Equal(t, 2, p.Children[0].Courses)
	require.Len(t, p.Children[0].RecentResults, 1)
	assert.Equal(t, 8.0, p.Children[0].RecentResults[0].Score)

	td, err := c.TeacherDashboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, td.Courses)
	assert.Equal(t, 40, td.Students)
	assert.Equal(t, 1250.5, td.Revenue)
}

func TestRateLimitRespectsContext(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()
	c, err := api.New(srv.URL, "v1", api.StaticToken(apitest.Token), api.WithRateLimit(0.001, 1))
	require.NoError(t, err)

	_, _ = c.LectureExam(context.Background(), 1) // consumes the burst
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.LectureExam(ctx, 1)
	require.Error(t, err)
}
