package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bosla-edu/desk/internal/model"
)

// ExamSubmissions lists the exam results of a lecture. No submissions yields
// an empty slice even when the API answers 404.
func (c *Client) ExamSubmissions(ctx context.Context, lectureID int64) ([]model.Submission, error) {
	v, err := c.getJSON(ctx, "/lectures/{id}/exam-submissions", fmt.Sprintf("/lectures/%d/exam-submissions", lectureID), true)
	if err != nil {
		return nil, err
	}
	list := toList(unwrap(v))
	out := make([]model.Submission, 0, len(list))
	for _, raw := range list {
		out = append(out, NormalizeSubmission(raw))
	}
	return out, nil
}

// StudentScore loads one student's full, raw answer set for an exam.
func (c *Client) StudentScore(ctx context.Context, examID, studentID int64) (model.StudentScore, error) {
	path := fmt.Sprintf("/exams/%d/students/%d/score", examID, studentID)
	v, err := c.getJSON(ctx, "/exams/{id}/students/{id}/score", path, false)
	if err != nil {
		return model.StudentScore{}, err
	}
	s := NormalizeStudentScore(v)
	if s.ExamID == 0 {
		s.ExamID = examID
	}
	if s.StudentID == 0 {
		s.StudentID = studentID
	}
	return s, nil
}

// SaveGrades posts a whole batch of grades in one request.
func (c *Client) SaveGrades(ctx context.Context, batch model.GradeBatch) error {
	_, err := c.sendJSON(ctx, http.MethodPost, "/exams/grade", "/exams/grade", batch)
	return err
}

// ReplaceAnswerImage uploads a replacement image for a student answer. The
// returned URL is empty when the API does not echo one.
func (c *Client) ReplaceAnswerImage(ctx context.Context, answerID int64, file *model.File) (string, error) {
	if file.Empty() {
		return "", fmt.Errorf("replace answer image: empty file")
	}
	v, err := c.sendForm(ctx, http.MethodPut, "/student-answers/{id}/image",
		fmt.Sprintf("/student-answers/%d/image", answerID), newForm().file("File", file))
	if err != nil {
		return "", err
	}
	switch t := unwrap(v).(type) {
	case string:
		return t, nil
	case map[string]any:
		return newRecord(t, answerFields).String("imageUrl"), nil
	}
	return "", nil
}

// ParentDashboard fetches the signed-in parent's summary.
func (c *Client) ParentDashboard(ctx context.Context) (model.ParentDashboard, error) {
	v, err := c.getJSON(ctx, "/parents/dashboard", "/parents/dashboard", true)
	if err != nil {
		return model.ParentDashboard{}, err
	}
	return NormalizeParentDashboard(v), nil
}

// TeacherDashboard fetches the signed-in teacher's summary.
func (c *Client) TeacherDashboard(ctx context.Context) (model.TeacherDashboard, error) {
	v, err := c.getJSON(ctx, "/teachers/dashboard", "/teachers/dashboard", false)
	if err != nil {
		return model.TeacherDashboard{}, err
	}
	return NormalizeTeacherDashboard(v), nil
}
