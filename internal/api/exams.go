package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bosla-edu/desk/internal/model"
)

// ExamInput is the body of the create and edit exam calls.
type ExamInput struct {
	ID                int64          `json:"id,omitempty"`
	LectureID         int64          `json:"lectureId"`
	Title             string         `json:"title"`
	Deadline          *time.Time     `json:"deadline"`
	DurationInMinutes int            `json:"durationInMinutes"`
	Type              model.ExamType `json:"type"`
	IsVisible         bool           `json:"isVisible"`
	IsRandomized      bool           `json:"isRandomized"`
	// IsFree is required by the edit endpoint and never exposed to users.
	IsFree bool `json:"isFree"`
}

// QuestionInput is the multipart body of the create and edit question calls.
type QuestionInput struct {
	ID                 int64
	ExamID             int64
	QuestionType       model.QuestionType
	Content            string
	AnswerType         model.AnswerType
	Score              float64
	CorrectByAssistant bool
	File               *model.File
	CorrectAnswerFile  *model.File
}

// OptionInput is the body of the create and edit option calls.
type OptionInput struct {
	ID         int64  `json:"id,omitempty"`
	QuestionID int64  `json:"questionId"`
	Content    string `json:"content"`
	IsCorrect  bool   `json:"isCorrect"`
}

// LectureExam fetches the exam of a lecture with its questions and options.
// A lecture without an exam yields (nil, nil).
func (c *Client) LectureExam(ctx context.Context, lectureID int64) (*model.Exam, error) {
	v, err := c.getJSON(ctx, "/lectures/{id}/exam", fmt.Sprintf("/lectures/%d/exam", lectureID), false)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	inner := unwrap(v)
	if list, ok := inner.([]any); ok {
		if len(list) == 0 {
			return nil, nil
		}
		inner = list[0]
	}
	if inner == nil {
		return nil, nil
	}
	exam := NormalizeExam(inner)
	if exam.LectureID == 0 {
		exam.LectureID = lectureID
	}
	return &exam, nil
}

// CreateExam creates an exam and returns its identifier (0 if the API omitted it).
func (c *Client) CreateExam(ctx context.Context, in ExamInput) (int64, error) {
	in.ID = 0
	v, err := c.sendJSON(ctx, http.MethodPost, "/exams", "/exams", in)
	if err != nil {
		return 0, err
	}
	return createdID(v, "exam"), nil
}

// EditExam replaces every editable field of an exam.
func (c *Client) EditExam(ctx context.Context, in ExamInput) error {
	in.IsFree = false
	_, err := c.sendJSON(ctx, http.MethodPut, "/exams/Edit", "/exams/Edit", in)
	return err
}

// DeleteExam deletes an exam with its questions.
func (c *Client) DeleteExam(ctx context.Context, examID int64) error {
	_, err := c.do(ctx, call{method: http.MethodDelete, route: "/exams/{id}", path: fmt.Sprintf("/exams/%d", examID)})
	return err
}

// ChangeVisibility shows or hides an exam. The query parameter names are the
// API's own spelling.
func (c *Client) ChangeVisibility(ctx context.Context, examID int64, visible bool) error {
	q := url.Values{}
	q.Set("examId", strconv.FormatInt(examID, 10))
	q.Set("isVasbilty", strconv.FormatBool(visible))
	_, err := c.do(ctx, call{
		method: http.MethodPut,
		route:  "/exams/change-visiblity",
		path:   "/exams/change-visiblity",
		query:  q,
	})
	return err
}

func questionForm(in QuestionInput) *form {
	f := newForm().
		setInt("examId", in.ExamID).
		set("questionType", string(in.QuestionType)).
		set("content", in.Content).
		set("answerType", string(in.AnswerType)).
		setFloat("score", in.Score).
		setBool("correctByAssistant", in.CorrectByAssistant).
		file("File", in.File).
		file("CorrectAnswerFile", in.CorrectAnswerFile)
	if in.ID != 0 {
		f.setInt("questionId", in.ID)
	}
	return f
}

// CreateQuestion creates a question and returns its identifier. The API
// sometimes omits it, in which case 0 is returned with a nil error.
func (c *Client) CreateQuestion(ctx context.Context, in QuestionInput) (int64, error) {
	in.ID = 0
	v, err := c.sendForm(ctx, http.MethodPost, "/exams/questions", "/exams/questions", questionForm(in))
	if err != nil {
		return 0, err
	}
	return createdID(v, "question"), nil
}

// EditQuestion updates question metadata, optionally replacing its images.
func (c *Client) EditQuestion(ctx context.Context, in QuestionInput) error {
	if in.ID == 0 {
		return fmt.Errorf("edit question: missing question id")
	}
	_, err := c.sendForm(ctx, http.MethodPut, "/exams/Edit/questions", "/exams/Edit/questions", questionForm(in))
	return err
}

// DeleteQuestion deletes a question with its options.
func (c *Client) DeleteQuestion(ctx context.Context, questionID int64) error {
	_, err := c.do(ctx, call{
		method: http.MethodDelete,
		route:  "/exams/{id}/questions",
		path:   fmt.Sprintf("/exams/%d/questions", questionID),
	})
	return err
}

// CreateOption adds an option to a question and returns its identifier (0 if omitted).
func (c *Client) CreateOption(ctx context.Context, in OptionInput) (int64, error) {
	in.ID = 0
	v, err := c.sendJSON(ctx, http.MethodPost, "/question-options", "/question-options", in)
	if err != nil {
		return 0, err
	}
	return createdID(v, "option"), nil
}

// EditOption updates one option.
func (c *Client) EditOption(ctx context.Context, in OptionInput) error {
	_, err := c.sendJSON(ctx, http.MethodPut, "/question-options", "/question-options", in)
	return err
}

// DeleteOption deletes one option.
func (c *Client) DeleteOption(ctx context.Context, optionID int64) error {
	_, err := c.do(ctx, call{
		method: http.MethodDelete,
		route:  "/question-options/{id}",
		path:   fmt.Sprintf("/question-options/%d", optionID),
	})
	return err
}

type deadlineExceptionBody struct {
	ExamID               int64  `json:"examId"`
	StudentID            int64  `json:"studentId"`
	ExtendedDeadline     string `json:"extendedDeadline"`
	AllowedAfterDeadline bool   `json:"allowedAfterDeadline"`
	Reason               string `json:"reason"`
}

// CreateDeadlineException grants one student an extended deadline.
func (c *Client) CreateDeadlineException(ctx context.Context, d model.DeadlineException) (model.DeadlineException, error) {
	body := deadlineExceptionBody{
		ExamID:               d.ExamID,
		StudentID:            d.StudentID,
		ExtendedDeadline:     d.ExtendedDeadline.UTC().Format(time.RFC3339),
		AllowedAfterDeadline: d.AllowedAfterDeadline,
		Reason:               d.Reason,
	}
	v, err := c.sendJSON(ctx, http.MethodPost, "/exams/deadline-exception", "/exams/deadline-exception", body)
	if err != nil {
		return model.DeadlineException{}, err
	}
	created := d
	if m, ok := unwrap(v).(map[string]any); ok {
		n := NormalizeDeadlineException(m)
		created.ID = n.ID
	} else {
		created.ID = createdID(v)
	}
	return created, nil
}
