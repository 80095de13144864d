package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosla-edu/desk/internal/api"
	"github.com/bosla-edu/desk/internal/api/apitest"
	"github.com/bosla-edu/desk/internal/dashboard"
	"github.com/bosla-edu/desk/internal/exam"
	"github.com/bosla-edu/desk/internal/grading"
	"github.com/bosla-edu/desk/internal/model"
	"github.com/bosla-edu/desk/internal/store"
)

type testDesk struct {
	fake  *apitest.Server
	store *store.Store
	srv   *httptest.Server
}

func newTestDesk(t *testing.T) *testDesk {
	t.Helper()
	fake := apitest.New()
	t.Cleanup(fake.Close)

	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	client, err := api.New(fake.URL, "v1", st)
	require.NoError(t, err)

	h := New(st,
		exam.NewService(client, exam.WithResolveDelay(0)),
		grading.NewService(client, grading.WithDrafts(st)),
		dashboard.New(client),
		model.DeskConfig{Lang: "en"},
	)
	r := chi.NewRouter()
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testDesk{fake: fake, store: st, srv: srv}
}

// do sends a JSON request and decodes the JSON answer into out when non-nil.
func (d *testDesk) do(t *testing.T, method, path string, body, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, d.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// page fetches path as a browser would and returns the response and its body.
func (d *testDesk) page(t *testing.T, path, lang string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, d.srv.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if lang != "" {
		req.Header.Set("Accept-Language", lang)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (d *testDesk) login(t *testing.T) {
	t.Helper()
	require.Equal(t, http.StatusOK, d.do(t, http.MethodPost, "/api/session", map[string]string{"token": "Bearer " + apitest.Token}, nil))
}

func TestSessionRequired(t *testing.T) {
	d := newTestDesk(t)

	var body errorBody
	assert.Equal(t, http.StatusUnauthorized, d.do(t, http.MethodGet, "/api/lectures/10/exam", nil, &body))
	assert.Equal(t, "not signed in", body.Error)

	var st sessionStatus
	require.Equal(t, http.StatusOK, d.do(t, http.MethodGet, "/api/session", nil, &st))
	assert.False(t, st.SignedIn)
	assert.Equal(t, "en", st.Lang)

	d.login(t)
	require.Equal(t, http.StatusOK, d.do(t, http.MethodGet, "/api/session", nil, &st))
	assert.True(t, st.SignedIn)

	assert.Equal(t, http.StatusNoContent, d.do(t, http.MethodDelete, "/api/session", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, d.do(t, http.MethodGet, "/api/lectures/10/exam", nil, nil))
}

func TestLoginRejectsEmptyToken(t *testing.T) {
	d := newTestDesk(t)
	assert.Equal(t, http.StatusBadRequest, d.do(t, http.MethodPost, "/api/session", map[string]string{"token": "  "}, nil))
	assert.Equal(t, http.StatusBadRequest, d.do(t, http.MethodPost, "/api/session", map[string]string{"token": "x", "ttl": "soon"}, nil))
}

func TestGetExam(t *testing.T) {
	d := newTestDesk(t)
	d.login(t)
	d.fake.SeedExam(model.Exam{ID: 1, LectureID: 10, Title: "Quiz", Type: model.ExamTypeExam, Questions: []model.Question{
		{ID: 2, ExamID: 1, QuestionType: model.QuestionText, Content: "a", AnswerType: model.AnswerEssay, Score: 2},
		{ID: 3, ExamID: 1, QuestionType: model.QuestionText, Content: "b", AnswerType: model.AnswerEssay, Score: 3},
	}})

	var got examResponse
	require.Equal(t, http.StatusOK, d.do(t, http.MethodGet, "/api/lectures/10/exam", nil, &got))
	assert.Equal(t, "Quiz", got.Title)
	assert.Equal(t, 5.0, got.MaxScore)

	assert.Equal(t, http.StatusNotFound, d.do(t, http.MethodGet, "/api/lectures/11/exam", nil, nil))
	assert.Equal(t, http.StatusBadRequest, d.do(t, http.MethodGet, "/api/lectures/abc/exam", nil, nil))
}

func TestCreateExamValidation(t *testing.T) {
	d := newTestDesk(t)
	d.login(t)

	var body errorBody
	status := d.do(t, http.MethodPost, "/api/exams", map[string]any{"lectureId": 10, "type": 1}, &body)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	require.NotEmpty(t, body.Problems)
	assert.Equal(t, "Title", body.Problems[0].Field)

	status = d.do(t, http.MethodPost, "/api/exams", map[string]any{"lectureId": 10, "title": "Midterm", "type": 1, "deadline": "tomorrow"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var created mutationResponse
	status = d.do(t, http.MethodPost, "/api/exams", map[string]any{"lectureId": 10, "title": "Midterm", "type": 1}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.NotZero(t, created.ID)
	require.NotNil(t, created.Toast)
	assert.Equal(t, int64(3000), created.Toast.DismissAfterMs)
}

func TestAuthoringFlow(t *testing.T) {
	d := newTestDesk(t)
	d.login(t)
	d.fake.SeedExam(model.Exam{ID: 1, LectureID: 10, Title: "Quiz", Type: model.ExamTypeExam})

	var f formResponse
	require.Equal(t, http.StatusCreated, d.do(t, http.MethodPost, "/api/forms", map[string]any{"lectureId": 10}, &f))
	assert.Equal(t, int64(1), f.ExamID)
	base := "/api/forms/" + f.ID

	// Saving an empty form lists every problem.
	var verr errorBody
	require.Equal(t, http.StatusUnprocessableEntity, d.do(t, http.MethodPost, base+"/save", nil, &verr))
	codes := map[string]bool{}
	for _, p := range verr.Problems {
		codes[p.Code] = true
	}
	assert.True(t, codes["ValidationNeedContent"])
	assert.True(t, codes["ValidationNeedOptions"])

	require.Equal(t, http.StatusOK, d.do(t, http.MethodPatch, base, map[string]any{"content": "2 + 2 = ?", "score": 2}, &f))
	assert.Equal(t, "2 + 2 = ?", f.Content)
	require.Equal(t, http.StatusOK, d.do(t, http.MethodPost, base+"/options", map[string]any{"content": "4", "isCorrect": true}, &f))
	require.Equal(t, http.StatusOK, d.do(t, http.MethodPost, base+"/options", map[string]any{"content": "5"}, &f))
	require.Len(t, f.Options, 2)
	assert.True(t, f.Submittable)

	require.Equal(t, http.StatusOK, d.do(t, http.MethodPost, base+"/save", nil, &f))
	require.NotNil(t, f.Save)
	assert.True(t, f.Save.Created)
	assert.NotZero(t, f.SavedQuestionID)
	require.NotNil(t, f.Toast)
	assert.Equal(t, "success", f.Toast.Kind)

	qs := d.fake.Questions(1)
	require.Len(t, qs, 1)
	assert.Equal(t, "2 + 2 = ?", qs[0].Content)
	assert.Len(t, qs[0].Options, 2)

	// A second save updates instead of creating.
	require.Equal(t, http.StatusOK, d.do(t, http.MethodPatch, base, map[string]any{"content": "2 + 2 = ??"}, &f))
	require.Equal(t, http.StatusOK, d.do(t, http.MethodPost, base+"/save", nil, &f))
	assert.False(t, f.Save.Created)
	assert.Len(t, d.fake.Questions(1), 1)

	assert.Equal(t, http.StatusNoContent, d.do(t, http.MethodDelete, base, nil, nil))
	assert.Equal(t, http.StatusNotFound, d.do(t, http.MethodGet, base, nil, nil))
}

func TestTrueFalseOptionsAreFixed(t *testing.T) {
	d := newTestDesk(t)
	d.login(t)

	var f formResponse
	require.Equal(t, http.StatusCreated, d.do(t, http.MethodPost, "/api/forms", map[string]any{"lectureId": 10, "examId": 1}, &f))
	base := "/api/forms/" + f.ID

	require.Equal(t, http.StatusOK, d.do(t, http.MethodPut, base+"/answer-type", map[string]string{"answerType": "TrueFalse"}, &f))
	require.Len(t, f.Options, 2)
	assert.Equal(t, "True", f.Options[0].Content)
	assert.True(t, f.Options[0].Fixed)

	assert.Equal(t, http.StatusBadRequest, d.do(t, http.MethodDelete, base+"/options/"+f.Options[0].Key, nil, nil))
	assert.Equal(t, http.StatusBadRequest, d.do(t, http.MethodPut, base+"/answer-type", map[string]string{"answerType": "Poem"}, nil))
}

func TestAttachImageUnknownZone(t *testing.T) {
	d := newTestDesk(t)
	d.login(t)

	var f formResponse
	require.Equal(t, http.StatusCreated, d.do(t, http.MethodPost, "/api/forms", map[string]any{"lectureId": 10, "examId": 1}, &f))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("File", "q.png")
	require.NoError(t, err)
	_, _ = part.Write([]byte("\x89PNG\r\n\x1a\n0000"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, d.srv.URL+"/api/forms/"+f.ID+"/images/sidebar", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteNeedsConfirmation(t *testing.T) {
	d := newTestDesk(t)
	d.login(t)
	d.fake.SeedExam(model.Exam{ID: 1, LectureID: 10, Title: "Quiz", Type: model.ExamTypeExam})

	var body errorBody
	require.Equal(t, http.StatusConflict, d.do(t, http.MethodDelete, "/api/exams/1", nil, &body))
	require.NotNil(t, body.Toast)
	assert.Equal(t, "warning", body.Toast.Kind)
	assert.Zero(t, d.fake.CountRequests("DELETE /exams/1"))

	var res mutationResponse
	require.Equal(t, http.StatusOK, d.do(t, http.MethodDelete, "/api/exams/1?confirm=true", nil, &res))
	assert.Equal(t, int64(1), res.ID)
	_, ok := d.fake.Exam(1)
	assert.False(t, ok)
}

func TestGradingFlow(t *testing.T) {
	d := newTestDesk(t)
	d.login(t)
	d.fake.SeedScore(9, 5, map[string]any{
		"studentExamResultId": 77,
		"studentName":         "Mona",
		"answers": []any{
			map[string]any{"id": 1, "questionId": 10, "answerText": "", "questionScore": 3},
			map[string]any{"id": 2, "questionId": 10, "answerText": "real", "questionScore": 3},
			map[string]any{"id": 3, "questionId": 11, "answerText": "essay", "questionScore": 2},
		},
	})

	var g gradingResponse
	require.Equal(t, http.StatusCreated, d.do(t, http.MethodPost, "/api/grading", map[string]any{"examId": 9, "studentId": 5}, &g))
	assert.Equal(t, 2, g.Count)
	assert.Equal(t, 1, g.Hidden)
	require.NotNil(t, g.Current)
	assert.Equal(t, int64(2), g.Current.Answer.ID)

	base := "/api/grading/77"
	require.Equal(t, http.StatusOK, d.do(t, http.MethodPut, base+"/points", map[string]any{"preset": "full"}, &g))
	assert.Equal(t, 3.0, g.Current.Points)

	require.Equal(t, http.StatusOK, d.do(t, http.MethodPost, base+"/navigate", map[string]any{"action": "next"}, &g))
	require.Equal(t, http.StatusOK, d.do(t, http.MethodPut, base+"/points", map[string]any{"points": 9}, &g))
	assert.Equal(t, 2.0, g.Current.Points, "points clamp to the question maximum")
	require.Equal(t, http.StatusOK, d.do(t, http.MethodPut, base+"/feedback", map[string]any{"feedback": "ok"}, &g))
	assert.Equal(t, 5.0, g.Total)

	_, ok, err := d.store.LoadDraft(t.Context(), 77)
	require.NoError(t, err)
	assert.True(t, ok, "edits are kept as a draft")

	assert.Equal(t, http.StatusBadRequest, d.do(t, http.MethodPost, base+"/navigate", map[string]any{"action": "jump", "index": 7}, nil))
	assert.Equal(t, http.StatusBadRequest, d.do(t, http.MethodPut, base+"/points", map[string]any{}, nil))
	assert.Equal(t, http.StatusServiceUnavailable, d.do(t, http.MethodPost, base+"/suggest", map[string]any{}, nil))

	require.Equal(t, http.StatusOK, d.do(t, http.MethodPost, base+"/save", nil, &g))
	require.NotNil(t, g.Toast)
	assert.Equal(t, "Grades saved for Mona.", g.Toast.Message)
	assert.False(t, g.Dirty)

	require.Len(t, d.fake.Grades, 1)
	assert.ElementsMatch(t, []model.GradedAnswer{
		{StudentAnswerID: 2, PointsEarned: 3, IsCorrect: true},
		{StudentAnswerID: 3, PointsEarned: 2, Feedback: "ok", IsCorrect: true},
		{StudentAnswerID: 1, PointsEarned: 0, Feedback: grading.DuplicateFeedback},
	}, d.fake.Grades[0].GradedAnswers)

	_, ok, err = d.store.LoadDraft(t.Context(), 77)
	require.NoError(t, err)
	assert.False(t, ok, "saving drops the draft")

	assert.Equal(t, http.StatusNoContent, d.do(t, http.MethodDelete, base, nil, nil))
	assert.Equal(t, http.StatusNotFound, d.do(t, http.MethodGet, base, nil, nil))
}

func TestOpenGradingMissingResult(t *testing.T) {
	d := newTestDesk(t)
	d.login(t)
	assert.Equal(t, http.StatusNotFound, d.do(t, http.MethodPost, "/api/grading", map[string]any{"examId": 9, "studentId": 6}, nil))
	assert.Equal(t, http.StatusBadRequest, d.do(t, http.MethodPost, "/api/grading", map[string]any{"examId": 9}, nil))
}

func TestSubmissions(t *testing.T) {
	d := newTestDesk(t)
	d.login(t)
	d.fake.SeedSubmissions(10, []map[string]any{
		{"id": 1, "studentId": 5, "studentName": "Mona", "examId": 9, "pendingAnswers": 0},
		{"id": 2, "studentId": 6, "studentName": "Omar", "examId": 9, "pendingAnswers": 2},
	})

	var rows []submissionRow
	require.Equal(t, http.StatusOK, d.do(t, http.MethodGet, "/api/lectures/10/submissions", nil, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "Omar", rows[0].StudentName)
	assert.Equal(t, "2 answers pending", rows[0].PendingLabel)

	// No submissions is an empty list, not an error.
	require.Equal(t, http.StatusOK, d.do(t, http.MethodGet, "/api/lectures/11/submissions", nil, &rows))
	assert.Empty(t, rows)
}

func TestDashboards(t *testing.T) {
	d := newTestDesk(t)
	d.login(t)
	d.fake.Parent = map[string]any{"children": []any{map[string]any{"studentId": 5, "name": "Mona", "courses": 2}}}

	var p model.ParentDashboard
	require.Equal(t, http.StatusOK, d.do(t, http.MethodGet, "/api/dashboard/parent", nil, &p))
	require.Len(t, p.Children, 1)
	assert.Equal(t, "Mona", p.Children[0].Name)

	assert.Equal(t, http.StatusNotFound, d.do(t, http.MethodGet, "/api/dashboard/teacher", nil, nil))
}

func TestArabicToasts(t *testing.T) {
	d := newTestDesk(t)
	d.login(t)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodDelete, d.srv.URL+"/api/exams/1", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Language", "ar")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "ar", resp.Header.Get("Content-Language"))
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Toast)
	assert.NotEqual(t, "Confirm the deletion to continue.", body.Toast.Message)
}

func TestHealthAndMetrics(t *testing.T) {
	d := newTestDesk(t)
	api.RegisterMetrics()

	var h map[string]string
	require.Equal(t, http.StatusOK, d.do(t, http.MethodGet, "/healthz", nil, &h))
	assert.Equal(t, "ok", h["status"])

	resp, err := http.Get(d.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTMLPages(t *testing.T) {
	d := newTestDesk(t)
	d.login(t)
	d.fake.Teacher = map[string]any{"courses": 3, "pendingGrading": 7, "revenue": 1250.5}
	d.fake.Parent = map[string]any{"children": []any{map[string]any{
		"studentId": 5, "name": "Mona", "courses": 2,
		"recentResults": []any{map[string]any{"examId": 9, "title": "Midterm", "score": 4, "maxScore": 5}},
	}}}
	d.fake.SeedSubmissions(10, []map[string]any{
		{"id": 2, "studentId": 6, "studentName": "Omar", "examId": 9, "pendingAnswers": 2},
	})
	d.fake.SeedScore(9, 5, map[string]any{
		"studentExamResultId": 77,
		"studentName":         "Mona",
		"answers": []any{
			map[string]any{"id": 1, "questionId": 10, "answerText": "", "questionScore": 3},
			map[string]any{"id": 2, "questionId": 10, "answerText": "real", "questionScore": 3},
		},
	})
	require.Equal(t, http.StatusCreated, d.do(t, http.MethodPost, "/api/grading", map[string]any{"examId": 9, "studentId": 5}, nil))

	tests := []struct {
		name string
		path string
		lang string
		want []string
	}{
		{"teacher dashboard", "/api/dashboard/teacher", "", []string{`dir="ltr"`, "<dt>Pending grading</dt><dd>7</dd>", "1250.50"}},
		{"parent dashboard", "/api/dashboard/parent", "", []string{"<h2>Mona</h2>", "Midterm", "4 / 5"}},
		{"submissions", "/api/lectures/10/submissions", "", []string{"Submissions for lecture 10", "Omar", "2 answers pending"}},
		{"workbench", "/api/grading/77", "", []string{"Grading Mona", `data-answer-id="2" data-current="true"`, "1 duplicate answer hidden", "real"}},
		{"arabic", "/api/dashboard/teacher", "ar", []string{`lang="ar"`, `dir="rtl"`, "بانتظار التصحيح"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := d.page(t, tt.path, tt.lang)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
			for _, w := range tt.want {
				assert.Contains(t, body, w)
			}
		})
	}

	// JSON stays the default for API clients.
	var td model.TeacherDashboard
	require.Equal(t, http.StatusOK, d.do(t, http.MethodGet, "/api/dashboard/teacher", nil, &td))
	assert.Equal(t, 7, td.PendingGrading)
}

func TestWantsHTML(t *testing.T) {
	tests := []struct {
		accept string
		want   bool
	}{
		{"", false},
		{"application/json", false},
		{"text/html", true},
		{"application/json, text/html", false},
		{"text/html;q=0.9, application/json", true},
		{"*/*", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Accept", tt.accept)
		assert.Equal(t, tt.want, wantsHTML(r), "Accept: %q", tt.accept)
	}
}
