package grading

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bosla-edu/desk/internal/model"
)

// GradeFile grades one student's answers without the interactive workbench.
type GradeFile struct {
	ExamID    int64        `json:"examId"`
	StudentID int64        `json:"studentId"`
	Grades    []GradeInput `json:"grades"`
}

// GradeInput is the grade of one answer. Nil fields leave the answer as it is.
type GradeInput struct {
	AnswerID int64    `json:"answerId"`
	Points   *float64 `json:"points"`
	Feedback *string  `json:"feedback"`
}

// ParseGradeFile decodes a grade file.
func ParseGradeFile(data []byte) (GradeFile, error) {
	var f GradeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return GradeFile{}, fmt.Errorf("parse grade file: %w", err)
	}
	if f.ExamID <= 0 || f.StudentID <= 0 {
		return GradeFile{}, fmt.Errorf("grade file needs examId and studentId")
	}
	return f, nil
}

// Apply opens the student's answers, applies f and saves the whole batch.
// Points are clamped like workbench input; hidden duplicates cannot be
// graded and fail the run before anything is sent.
func (s *Service) Apply(ctx context.Context, f GradeFile) (model.GradeBatch, error) {
	w, err := s.Open(ctx, f.ExamID, f.StudentID)
	if err != nil {
		return model.GradeBatch{}, err
	}
	for _, g := range f.Grades {
		if err := w.Select(g.AnswerID); err != nil {
			return model.GradeBatch{}, fmt.Errorf("answer %d: %w", g.AnswerID, err)
		}
		if g.Points != nil {
			w.SetPoints(*g.Points)
		}
		if g.Feedback != nil {
			w.SetFeedback(*g.Feedback)
		}
	}
	return s.Save(ctx, w)
}
