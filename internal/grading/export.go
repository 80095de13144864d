package grading

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bosla-edu/desk/internal/model"
)

// exportFetchLimit caps concurrent score requests during an export.
const exportFetchLimit = 4

// Export collects the grades of every submission of a lecture's exam. Each
// student's answers are deduped the way the workbench shows them.
func (s *Service) Export(ctx context.Context, lectureID int64) (model.GradeExport, error) {
	exam, err := s.gw.LectureExam(ctx, lectureID)
	if err != nil {
		return model.GradeExport{}, fmt.Errorf("export: load exam: %w", err)
	}
	if exam == nil {
		return model.GradeExport{}, fmt.Errorf("export: lecture %d has no exam", lectureID)
	}
	subs, err := s.ListSubmissions(ctx, lectureID)
	if err != nil {
		return model.GradeExport{}, fmt.Errorf("export: %w", err)
	}

	out := model.GradeExport{
		LectureID:   lectureID,
		ExamID:      exam.ID,
		ExamTitle:   exam.Title,
		GeneratedAt: time.Now().UTC(),
		MaxScore:    exam.MaxScore(),
		Results:     make([]model.StudentGrades, len(subs)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(exportFetchLimit)
	for i, sub := range subs {
		g.Go(func() error {
			examID := sub.ExamID
			if examID == 0 {
				examID = exam.ID
			}
			score, err := s.gw.StudentScore(gctx, examID, sub.StudentID)
			if err != nil {
				return fmt.Errorf("export: student %d: %w", sub.StudentID, err)
			}
			out.Results[i] = studentGrades(sub, score)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.GradeExport{}, err
	}
	return out, nil
}

func studentGrades(sub model.Submission, score model.StudentScore) model.StudentGrades {
	visible, _ := Dedupe(score.Answers)
	sg := model.StudentGrades{
		SubmissionID: sub.ID,
		StudentID:    sub.StudentID,
		StudentName:  sub.StudentName,
		Finished:     sub.IsFinished,
		SubmittedAt:  sub.SubmittedAt,
		Answers:      make([]model.AnswerGrade, 0, len(visible)),
	}
	if sg.StudentName == "" {
		sg.StudentName = score.StudentName
	}
	for _, a := range visible {
		if a.PointsEarned != nil {
			sg.TotalScore += *a.PointsEarned
		} else {
			sg.Pending++
		}
		sg.Answers = append(sg.Answers, model.AnswerGrade{
			QuestionID:   a.QuestionID,
			Question:     a.QuestionContent,
			AnswerType:   a.AnswerType,
			MaxScore:     a.MaxScore,
			Answer:       answerText(a),
			PointsEarned: a.PointsEarned,
			Feedback:     a.Feedback,
		})
	}
	return sg
}

func answerText(a model.StudentAnswer) string {
	switch {
	case len(a.SelectedOptions) > 0:
		parts := make([]string, 0, len(a.SelectedOptions))
		for _, o := range a.SelectedOptions {
			parts = append(parts, o.Content)
		}
		return strings.Join(parts, ", ")
	case a.ImageURL != "":
		return a.ImageURL
	}
	return a.Text
}
