package authoring

import (
	"context"
	"errors"
	"strings"

	"github.com/bosla-edu/desk/internal/i18n"
	"github.com/bosla-edu/desk/internal/model"
)

// ErrNotSubmittable is wrapped by every ValidationError.
var ErrNotSubmittable = errors.New("question is not submittable")

// FieldError is one failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError lists every rule a form breaks. It is returned before any
// request is sent.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return "invalid question: " + strings.Join(msgs, " ")
}

func (e *ValidationError) Unwrap() error { return ErrNotSubmittable }

// Has reports whether the error carries the given code.
func (e *ValidationError) Has(code string) bool {
	for _, f := range e.Fields {
		if f.Code == code {
			return true
		}
	}
	return false
}

// Validation codes double as message IDs.
const (
	CodeNeedOptions = "ValidationNeedOptions"
	CodeNeedCorrect = "ValidationNeedCorrect"
	CodeNeedImage   = "ValidationNeedImage"
	CodeNeedContent = "ValidationNeedContent"
	CodeNeedScore   = "ValidationNeedScore"
	CodeNeedExam    = "ValidationNeedExam"
)

func (f *Form) problems(ctx context.Context) []FieldError {
	var out []FieldError
	add := func(field, code string) {
		out = append(out, FieldError{Field: field, Code: code, Message: i18n.T(ctx, code)})
	}

	if f.examID <= 0 {
		add("examId", CodeNeedExam)
	}
	if f.answerType.NeedsOptions() {
		if len(f.options) < 2 {
			add("options", CodeNeedOptions)
		}
		correct := false
		for _, o := range f.options {
			correct = correct || o.IsCorrect
		}
		if !correct {
			add("options", CodeNeedCorrect)
		}
	}
	switch f.questionType {
	case model.QuestionImage:
		if f.savedID == 0 && f.image.Empty() {
			add("image", CodeNeedImage)
		}
	default:
		if strings.TrimSpace(f.content) == "" {
			add("content", CodeNeedContent)
		}
	}
	if f.score <= 0 {
		add("score", CodeNeedScore)
	}
	return out
}

// Validate checks the form without touching the network.
func (f *Form) Validate(ctx context.Context) error {
	if p := f.problems(ctx); len(p) > 0 {
		return &ValidationError{Fields: p}
	}
	return nil
}
