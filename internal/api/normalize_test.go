package api

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/bosla-edu/desk/internal/model"
)

func decodeJSON(t *testing.T, s string) any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", s, err)
	}
	return v
}

func TestNormalizeExamCasing(t *testing.T) {
	camel := `{"data":{"id":7,"title":"Midterm","lectureId":3,"durationInMinutes":60,"type":1,
		"isVisible":false,"isRandomized":true,"deadline":"2026-03-01T10:00:00Z",
		"questions":[{"id":12,"content":"B","answerType":"Essay","score":2},
		             {"id":11,"content":"A","answerType":"MCQ","score":1,
		              "options":[{"id":31,"content":"y","isCorrect":true},{"id":30,"content":"x"}]}]}}`
	pascal := `{"Data":{"Id":7,"Title":"Midterm","LectureId":3,"DurationInMinutes":60,"Type":1,
		"IsVisible":false,"IsRandomized":true,"Deadline":"2026-03-01T10:00:00Z",
		"Questions":[{"Id":12,"Content":"B","AnswerType":"Essay","Score":2},
		             {"Id":11,"Content":"A","AnswerType":"MCQ","Score":1,
		              "Options":[{"Id":31,"Content":"y","IsCorrect":true},{"Id":30,"Content":"x"}]}]}}`

	for name, payload := range map[string]string{"camel": camel, "pascal": pascal} {
		t.Run(name, func(t *testing.T) {
			e := NormalizeExam(decodeJSON(t, payload))
			if e.ID != 7 || e.Title != "Midterm" || e.LectureID != 3 || e.DurationInMinutes != 60 {
				t.Fatalf("scalar fields = %+v", e)
			}
			if e.Type != model.ExamTypeExam {
				t.Errorf("type = %v, want Exam", e.Type)
			}
			if e.IsVisible || !e.IsRandomized {
				t.Errorf("visible/randomized = %v/%v, want false/true", e.IsVisible, e.IsRandomized)
			}
			if e.Deadline == nil || e.Deadline.Year() != 2026 {
				t.Errorf("deadline = %v", e.Deadline)
			}
			if len(e.Questions) != 2 || e.Questions[0].ID != 11 || e.Questions[1].ID != 12 {
				t.Fatalf("questions not sorted by id: %+v", e.Questions)
			}
			q := e.Questions[0]
			if q.ExamID != 7 {
				t.Errorf("question exam id = %d, want backfilled 7", q.ExamID)
			}
			if len(q.Options) != 2 || q.Options[0].ID != 30 || q.Options[0].QuestionID != 11 {
				t.Errorf("options = %+v", q.Options)
			}
			if !q.Options[1].IsCorrect {
				t.Errorf("option 31 should be correct")
			}
		})
	}
}

func TestNormalizeExamDefaults(t *testing.T) {
	e := NormalizeExam(decodeJSON(t, `{"id":1,"title":"Quiz"}`))
	if !e.IsVisible {
		t.Error("isVisible should default to true")
	}
	if e.IsRandomized {
		t.Error("isRandomized should default to false")
	}
	if e.Questions == nil || len(e.Questions) != 0 {
		t.Errorf("questions = %#v, want empty non-nil", e.Questions)
	}
	if e.Type != model.ExamTypeExam {
		t.Errorf("type = %v, want Exam", e.Type)
	}
}

func TestNormalizeQuestionAliases(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		path    string
		answer  model.AnswerType
	}{
		{"file", `{"id":1,"answerType":"Image","correctAnswerFile":"/a.png"}`, "/a.png", model.AnswerImage},
		{"image url", `{"id":1,"answerType":3,"CorrectAnswerImageUrl":"/b.png"}`, "/b.png", model.AnswerImage},
		{"path", `{"id":1,"answerType":"1","correctAnswerPath":"/c.png"}`, "/c.png", model.AnswerTrueFalse},
		{"unknown type", `{"id":1,"answerType":"Hologram"}`, "", model.AnswerEssay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NormalizeQuestion(decodeJSON(t, tt.payload))
			if q.CorrectAnswerPath != tt.path {
				t.Errorf("path = %q, want %q", q.CorrectAnswerPath, tt.path)
			}
			if q.AnswerType != tt.answer {
				t.Errorf("answer type = %q, want %q", q.AnswerType, tt.answer)
			}
		})
	}
}

func TestNormalizeStudentAnswer(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantQID  int64
		wantType model.AnswerType
		wantSel  int
		graded   bool
		content  bool
	}{
		{
			name:     "nested question",
			payload:  `{"id":5,"question":{"id":9,"content":"2+2?","answerType":"MCQ","score":4},"selectedOptions":[{"id":1,"content":"4"}],"pointsEarned":4}`,
			wantQID:  9,
			wantType: model.AnswerMCQ,
			wantSel:  1,
			graded:   true,
			content:  true,
		},
		{
			name:     "flat ids",
			payload:  `{"Id":6,"QuestionId":9,"AnswerType":"MCQ","SelectedOptionIds":[1,2]}`,
			wantQID:  9,
			wantType: model.AnswerMCQ,
			wantSel:  2,
			content:  true,
		},
		{
			name:     "empty essay",
			payload:  `{"id":7,"questionId":10,"answerType":"Essay","answerText":"  ","pointsEarned":null}`,
			wantQID:  10,
			wantType: model.AnswerEssay,
		},
		{
			name:     "image",
			payload:  `{"id":8,"questionId":11,"answerType":"Image","imagePath":"/u/1.png","pointsEarned":0}`,
			wantQID:  11,
			wantType: model.AnswerImage,
			graded:   true,
			content:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NormalizeStudentAnswer(decodeJSON(t, tt.payload))
			if a.QuestionID != tt.wantQID {
				t.Errorf("question id = %d, want %d", a.QuestionID, tt.wantQID)
			}
			if a.AnswerType != tt.wantType {
				t.Errorf("answer type = %q, want %q", a.AnswerType, tt.wantType)
			}
			if len(a.SelectedOptions) != tt.wantSel {
				t.Errorf("selected = %d, want %d", len(a.SelectedOptions), tt.wantSel)
			}
			if a.Graded() != tt.graded {
				t.Errorf("graded = %v, want %v", a.Graded(), tt.graded)
			}
			if a.HasContent() != tt.content {
				t.Errorf("has content = %v, want %v", a.HasContent(), tt.content)
			}
		})
	}
}

func TestNormalizeStudentAnswerUnknownQuestionType(t *testing.T) {
	a := NormalizeStudentAnswer(decodeJSON(t, `{"id":9,"questionId":3,"questionType":"Drawing","answerText":"x"}`))
	if a.QuestionType != model.QuestionText {
		t.Errorf("question type = %q, want %q", a.QuestionType, model.QuestionText)
	}
	if a.AnswerType != model.AnswerEssay {
		t.Errorf("answer type = %q, want %q", a.AnswerType, model.AnswerEssay)
	}

	a = NormalizeStudentAnswer(decodeJSON(t, `{"id":10,"questionId":4,"questionType":1}`))
	if a.QuestionType != model.QuestionImage {
		t.Errorf("numeric question type = %q, want %q", a.QuestionType, model.QuestionImage)
	}
}

func TestNormalizeSubmissionPendingDerived(t *testing.T) {
	s := NormalizeSubmission(decodeJSON(t, `{"id":1,"studentName":"Mona","totalAnswers":5,"gradedAnswers":3}`))
	if s.PendingAnswers != 2 {
		t.Errorf("pending = %d, want 2", s.PendingAnswers)
	}
	s = NormalizeSubmission(decodeJSON(t, `{"id":1,"totalAnswers":5,"gradedAnswers":3,"pendingAnswers":4}`))
	if s.PendingAnswers != 4 {
		t.Errorf("pending = %d, want explicit 4", s.PendingAnswers)
	}
}

func TestNormalizeStudentScoreBareList(t *testing.T) {
	s := NormalizeStudentScore(decodeJSON(t, `[{"id":1,"questionId":2},{"id":3,"questionId":2}]`))
	if len(s.Answers) != 2 {
		t.Fatalf("answers = %d, want 2 (duplicates kept)", len(s.Answers))
	}
}

func TestCreatedID(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		nested  []string
		want    int64
	}{
		{"bare number", `42`, nil, 42},
		{"id", `{"id":42}`, nil, 42},
		{"data envelope", `{"data":{"id":42}}`, nil, 42},
		{"entity id key", `{"data":{"questionId":42}}`, []string{"question"}, 42},
		{"pascal entity key", `{"QuestionId":42}`, []string{"question"}, 42},
		{"nested object", `{"question":{"id":42}}`, []string{"question"}, 42},
		{"message only", `{"message":"Question created successfully"}`, []string{"question"}, 0},
		{"bare string", `"created"`, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := createdID(decodeJSON(t, tt.payload), tt.nested...); got != tt.want {
				t.Errorf("createdID = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExtractMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"message":"exam not found"}`, "exam not found"},
		{`{"Title":"Bad Request"}`, "Bad Request"},
		{`{"errors":{"Title":["required"]}}`, "Title: required"},
		{`{"errors":["a","b"]}`, "a; b"},
		{`plain failure`, "plain failure"},
		{``, ""},
	}
	for _, tt := range tests {
		if got := extractMessage([]byte(tt.body)); got != tt.want {
			t.Errorf("extractMessage(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}
