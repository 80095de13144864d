// Package apitest runs an in-memory fake of the Bosla API for tests.
package apitest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"

	"github.com/bosla-edu/desk/internal/model"
)

// Token is the bearer token the fake accepts by default.
const Token = "test-token"

// Server is a fake Bosla API. Zero-value quirk fields mean a well-behaved backend.
type Server struct {
	*httptest.Server

	mu sync.Mutex

	// OmitQuestionID drops the identifier from create-question responses.
	OmitQuestionID bool
	// PascalCase renders every response key in PascalCase.
	PascalCase bool
	// FailOptions makes option creation fail for these option contents.
	FailOptions map[string]bool

	nextID      int64
	exams       map[int64]*model.Exam // by exam id
	submissions map[int64][]map[string]any
	scores      map[[2]int64]map[string]any
	requests    []string

	// Grades holds every batch grade body received.
	Grades []model.GradeBatch
	// Exceptions holds every deadline exception body received.
	Exceptions []map[string]any
	// Edits holds every exam edit body received.
	Edits []map[string]any
	// Uploads counts replacement image uploads per answer.
	Uploads map[int64]int
	// Parent and Teacher are served as the dashboards.
	Parent  map[string]any
	Teacher map[string]any
}

// New starts a fake API; it is closed by t.Cleanup through the returned server's Close.
func New() *Server {
	s := &Server{
		nextID:      100,
		exams:       map[int64]*model.Exam{},
		submissions: map[int64][]map[string]any{},
		scores:      map[[2]int64]map[string]any{},
		FailOptions: map[string]bool{},
		Uploads:     map[int64]int{},
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record, s.auth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/lectures/{id}/exam", s.getLectureExam)
		r.Get("/lectures/{id}/exam-submissions", s.getSubmissions)
		r.Post("/exams", s.createExam)
		r.Put("/exams/Edit", s.editExam)
		r.Delete("/exams/{id}", s.deleteExam)
		r.Put("/exams/change-visiblity", s.changeVisibility)
		r.Post("/exams/questions", s.createQuestion)
		r.Put("/exams/Edit/questions", s.editQuestion)
		r.Delete("/exams/{id}/questions", s.deleteQuestion)
		r.Post("/question-options", s.createOption)
		r.Put("/question-options", s.editOption)
		r.Delete("/question-options/{id}", s.deleteOption)
		r.Get("/exams/{id}/students/{studentID}/score", s.getScore)
		r.Post("/exams/grade", s.grade)
		r.Put("/student-answers/{id}/image", s.replaceImage)
		r.Post("/exams/deadline-exception", s.deadlineException)
		r.Get("/parents/dashboard", s.dashboard(func() map[string]any { return s.Parent }))
		r.Get("/teachers/dashboard", s.dashboard(func() map[string]any { return s.Teacher }))
	})
	return r
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+strings.TrimPrefix(r.URL.Path, "/api/v1"))
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+Token {
			s.write(w, http.StatusUnauthorized, map[string]any{"message": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Requests returns "METHOD /path" for every request received so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// CountRequests counts received requests with the given "METHOD /path" prefix.
func (s *Server) CountRequests(prefix string) int {
	n := 0
	for _, r := range s.Requests() {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

// Exam returns a copy of a stored exam.
func (s *Server) Exam(id int64) (model.Exam, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.exams[id]
	if !ok {
		return model.Exam{}, false
	}
	return *e, true
}

// SeedExam stores an exam (with questions and options) as-is.
func (s *Server) SeedExam(e model.Exam) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := e
	s.exams[e.ID] = &cp
	if e.ID >= s.nextID {
		s.nextID = e.ID + 1
	}
}

// SeedSubmissions stores the raw submissions list of a lecture.
func (s *Server) SeedSubmissions(lectureID int64, rows []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions[lectureID] = rows
}

// SeedScore stores the raw student score payload of one student.
func (s *Server) SeedScore(examID, studentID int64, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[[2]int64{examID, studentID}] = payload
}

func (s *Server) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Server) write(w http.ResponseWriter, status int, v any) {
	if s.PascalCase {
		v = pascal(v)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pascal(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			r := []rune(k)
			r[0] = unicode.ToUpper(r[0])
			out[string(r)] = pascal(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = pascal(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = pascal(val)
		}
		return out
	}
	return v
}

func pathID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id
}

func examMap(e *model.Exam) map[string]any {
	questions := make([]any, 0, len(e.Questions))
	for _, q := range e.Questions {
		options := make([]any, 0, len(q.Options))
		for _, o := range q.Options {
			options = append(options, map[string]any{
				"id": o.ID, "questionId": o.QuestionID, "content": o.Content, "isCorrect": o.IsCorrect,
			})
		}
		questions = append(questions, map[string]any{
			"id":                 q.ID,
			"examId":             q.ExamID,
			"questionType":       string(q.QuestionType),
			"content":            q.Content,
			"answerType":         string(q.AnswerType),
			"score":              q.Score,
			"correctByAssistant": q.CorrectByAssistant,
			"correctAnswerFile":  q.CorrectAnswerPath,
			"options":            options,
		})
	}
	m := map[string]any{
		"id":                e.ID,
		"title":             e.Title,
		"lectureId":         e.LectureID,
		"durationInMinutes": e.DurationInMinutes,
		"type":              int(e.Type),
		"isVisible":         e.IsVisible,
		"isRandomized":      e.IsRandomized,
		"questions":         questions,
	}
	if e.Deadline != nil {
		m["deadline"] = e.Deadline.Format(time.RFC3339)
	}
	return m
}

func (s *Server) examByLecture(lectureID int64) *model.Exam {
	for _, e := range s.exams {
		if e.LectureID == lectureID {
			return e
		}
	}
	return nil
}

func (s *Server) getLectureExam(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.examByLecture(pathID(r, "id"))
	if e == nil {
		s.write(w, http.StatusNotFound, map[string]any{"message": "exam not found"})
		return
	}
	s.write(w, http.StatusOK, map[string]any{"data": examMap(e)})
}

type examBody struct {
	ID                int64      `json:"id"`
	LectureID         int64      `json:"lectureId"`
	Title             string     `json:"title"`
	Deadline          *time.Time `json:"deadline"`
	DurationInMinutes int        `json:"durationInMinutes"`
	Type              int        `json:"type"`
	IsVisible         bool       `json:"isVisible"`
	IsRandomized      bool       `json:"isRandomized"`
}

func (s *Server) createExam(w http.ResponseWriter, r *http.Request) {
	var b examBody
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		s.write(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.Title == "" {
		s.write(w, http.StatusBadRequest, map[string]any{"errors": map[string]any{"Title": []any{"The Title field is required."}}})
		return
	}
	e := &model.Exam{
		ID:                s.id(),
		Title:             b.Title,
		LectureID:         b.LectureID,
		Deadline:          b.Deadline,
		DurationInMinutes: b.DurationInMinutes,
		Type:              model.ExamType(b.Type),
		IsVisible:         b.IsVisible,
		IsRandomized:      b.IsRandomized,
	}
	s.exams[e.ID] = e
	s.write(w, http.StatusOK, map[string]any{"data": map[string]any{"id": e.ID}})
}

func (s *Server) editExam(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	var b examBody
	_ = json.Unmarshal(raw, &b)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Edits = append(s.Edits, m)
	e, ok := s.exams[b.ID]
	if !ok {
		s.write(w, http.StatusNotFound, map[string]any{"message": "exam not found"})
		return
	}
	e.Title, e.Deadline, e.DurationInMinutes = b.Title, b.Deadline, b.DurationInMinutes
	e.Type, e.IsVisible, e.IsRandomized = model.ExamType(b.Type), b.IsVisible, b.IsRandomized
	s.write(w, http.StatusOK, map[string]any{"message": "updated"})
}

func (s *Server) deleteExam(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.exams, pathID(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) changeVisibility(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(r.URL.Query().Get("examId"), 10, 64)
	visible, err := strconv.ParseBool(r.URL.Query().Get("isVasbilty"))
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.exams[id]
	if !ok || err != nil {
		s.write(w, http.StatusBadRequest, map[string]any{"message": "bad visibility request"})
		return
	}
	e.IsVisible = visible
	s.write(w, http.StatusOK, map[string]any{"message": "ok"})
}

func (s *Server) findQuestion(id int64) (*model.Exam, int) {
	for _, e := range s.exams {
		for i := range e.Questions {
			if e.Questions[i].ID == id {
				return e, i
			}
		}
	}
	return nil, -1
}

func parseQuestionForm(r *http.Request) (model.Question, error) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		return model.Question{}, err
	}
	examID, _ := strconv.ParseInt(r.FormValue("examId"), 10, 64)
	score, _ := strconv.ParseFloat(r.FormValue("score"), 64)
	byAssistant, _ := strconv.ParseBool(r.FormValue("correctByAssistant"))
	q := model.Question{
		ExamID:             examID,
		QuestionType:       model.QuestionType(r.FormValue("questionType")),
		Content:            r.FormValue("content"),
		AnswerType:         model.AnswerType(r.FormValue("answerType")),
		Score:              score,
		CorrectByAssistant: byAssistant,
	}
	if _, fh, err := r.FormFile("File"); err == nil {
		if q.QuestionType == model.QuestionImage {
			q.Content = "/uploads/questions/" + fh.Filename
		}
	}
	if _, fh, err := r.FormFile("CorrectAnswerFile"); err == nil {
		q.CorrectAnswerPath = "/uploads/answers/" + fh.Filename
	}
	return q, nil
}

func (s *Server) createQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuestionForm(r)
	if err != nil {
		s.write(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.exams[q.ExamID]
	if !ok {
		s.write(w, http.StatusNotFound, map[string]any{"message": "exam not found"})
		return
	}
	q.ID = s.id()
	q.Options = []model.Option{}
	e.Questions = append(e.Questions, q)
	if s.OmitQuestionID {
		s.write(w, http.StatusOK, map[string]any{"message": "Question created successfully"})
		return
	}
	s.write(w, http.StatusOK, map[string]any{"data": map[string]any{"questionId": q.ID}})
}

func (s *Server) editQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuestionForm(r)
	if err != nil {
		s.write(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}
	id, _ := strconv.ParseInt(r.FormValue("questionId"), 10, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, i := s.findQuestion(id)
	if e == nil {
		s.write(w, http.StatusNotFound, map[string]any{"message": "question not found"})
		return
	}
	cur := &e.Questions[i]
	cur.Content, cur.AnswerType, cur.Score = q.Content, q.AnswerType, q.Score
	cur.QuestionType, cur.CorrectByAssistant = q.QuestionType, q.CorrectByAssistant
	if q.CorrectAnswerPath != "" {
		cur.CorrectAnswerPath = q.CorrectAnswerPath
	}
	s.write(w, http.StatusOK, map[string]any{"message": "updated"})
}

func (s *Server) deleteQuestion(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, i := s.findQuestion(pathID(r, "id"))
	if e == nil {
		s.write(w, http.StatusNotFound, map[string]any{"message": "question not found"})
		return
	}
	e.Questions = append(e.Questions[:i], e.Questions[i+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createOption(w http.ResponseWriter, r *http.Request) {
	var o model.Option
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		s.write(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailOptions[o.Content] {
		s.write(w, http.StatusInternalServerError, map[string]any{"title": "option rejected"})
		return
	}
	e, i := s.findQuestion(o.QuestionID)
	if e == nil {
		s.write(w, http.StatusNotFound, map[string]any{"message": "question not found"})
		return
	}
	o.ID = s.id()
	e.Questions[i].Options = append(e.Questions[i].Options, o)
	s.write(w, http.StatusOK, map[string]any{"id": o.ID})
}

func (s *Server) editOption(w http.ResponseWriter, r *http.Request) {
	var o model.Option
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		s.write(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.exams {
		for qi := range e.Questions {
			for oi := range e.Questions[qi].Options {
				if e.Questions[qi].Options[oi].ID == o.ID {
					cur := &e.Questions[qi].Options[oi]
					cur.Content, cur.IsCorrect = o.Content, o.IsCorrect
					s.write(w, http.StatusOK, map[string]any{"message": "updated"})
					return
				}
			}
		}
	}
	s.write(w, http.StatusNotFound, map[string]any{"message": "option not found"})
}

func (s *Server) deleteOption(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.exams {
		for qi := range e.Questions {
			opts := e.Questions[qi].Options
			for oi := range opts {
				if opts[oi].ID == id {
					e.Questions[qi].Options = append(opts[:oi], opts[oi+1:]...)
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
		}
	}
	s.write(w, http.StatusNotFound, map[string]any{"message": "option not found"})
}

func (s *Server) getSubmissions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.submissions[pathID(r, "id")]
	if !ok || len(rows) == 0 {
		s.write(w, http.StatusNotFound, map[string]any{"message": "no submissions"})
		return
	}
	s.write(w, http.StatusOK, rows)
}

func (s *Server) getScore(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.scores[[2]int64{pathID(r, "id"), pathID(r, "studentID")}]
	if !ok {
		s.write(w, http.StatusNotFound, map[string]any{"message": "result not found"})
		return
	}
	s.write(w, http.StatusOK, map[string]any{"data": p})
}

func (s *Server) grade(w http.ResponseWriter, r *http.Request) {
	var b model.GradeBatch
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		s.write(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Grades = append(s.Grades, b)
	s.write(w, http.StatusOK, map[string]any{"message": "graded"})
}

func (s *Server) replaceImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		s.write(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}
	_, fh, err := r.FormFile("File")
	if err != nil {
		s.write(w, http.StatusBadRequest, map[string]any{"message": "File is required"})
		return
	}
	id := pathID(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Uploads[id]++
	s.write(w, http.StatusOK, map[string]any{"imageUrl": fmt.Sprintf("/uploads/student-answers/%d/%s", id, fh.Filename)})
}

func (s *Server) deadlineException(w http.ResponseWriter, r *http.Request) {
	var m map[string]any
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		s.write(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Exceptions = append(s.Exceptions, m)
	m["id"] = s.id()
	s.write(w, http.StatusOK, map[string]any{"data": m})
}

func (s *Server) dashboard(get func() map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		v := get()
		if v == nil {
			s.write(w, http.StatusNotFound, map[string]any{"message": "no dashboard"})
			return
		}
		s.write(w, http.StatusOK, map[string]any{"data": v})
	}
}

// Questions returns the questions of an exam sorted by id.
func (s *Server) Questions(examID int64) []model.Question {
	e, ok := s.Exam(examID)
	if !ok {
		return nil
	}
	qs := append([]model.Question(nil), e.Questions...)
	sort.Slice(qs, func(i, j int) bool { return qs[i].ID < qs[j].ID })
	return qs
}
