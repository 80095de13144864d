package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ExamType distinguishes graded exams from homework.
type ExamType int

const (
	// ExamTypeExam is a timed, graded exam.
	ExamTypeExam ExamType = 1
	// ExamTypeHomework is a homework assignment.
	ExamTypeHomework ExamType = 2
)

// String returns the display name of the exam type.
func (t ExamType) String() string {
	switch t {
	case ExamTypeExam:
		return "Exam"
	case ExamTypeHomework:
		return "Homework"
	default:
		return "Unknown"
	}
}

// QuestionType tells whether a question's content is text or an image reference.
type QuestionType string

const (
	QuestionText  QuestionType = "Text"
	QuestionImage QuestionType = "Image"
)

// AnswerType governs what kind of answer a question expects.
type AnswerType string

const (
	AnswerMCQ       AnswerType = "MCQ"
	AnswerTrueFalse AnswerType = "TrueFalse"
	AnswerEssay     AnswerType = "Essay"
	AnswerImage     AnswerType = "Image"
)

// answerTypeOrder is the numeric encoding the API uses when it sends enums as integers.
var answerTypeOrder = []AnswerType{AnswerMCQ, AnswerTrueFalse, AnswerEssay, AnswerImage}

// NeedsOptions reports whether questions of this type carry options.
func (a AnswerType) NeedsOptions() bool {
	return a == AnswerMCQ || a == AnswerTrueFalse
}

// Valid reports whether a is one of the known answer types.
func (a AnswerType) Valid() bool {
	for _, t := range answerTypeOrder {
		if a == t {
			return true
		}
	}
	return false
}

// ParseAnswerType accepts the names and numeric codes the API has been seen to send.
func ParseAnswerType(s string) (AnswerType, error) {
	v := strings.TrimSpace(s)
	if n, err := strconv.Atoi(v); err == nil {
		if n >= 0 && n < len(answerTypeOrder) {
			return answerTypeOrder[n], nil
		}
		return "", fmt.Errorf("unknown answer type %q", s)
	}
	switch strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(v)) {
	case "mcq", "multiplechoice":
		return AnswerMCQ, nil
	case "truefalse":
		return AnswerTrueFalse, nil
	case "essay", "text":
		return AnswerEssay, nil
	case "image":
		return AnswerImage, nil
	}
	return "", fmt.Errorf("unknown answer type %q", s)
}

// ParseQuestionType accepts "Text"/"Image" in any case, or 0/1.
func ParseQuestionType(s string) (QuestionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "0", "":
		return QuestionText, nil
	case "image", "1":
		return QuestionImage, nil
	}
	return "", fmt.Errorf("unknown question type %q", s)
}

// Exam is a gradable assessment attached to one lecture.
type Exam struct {
	ID                int64      `json:"id"`
	Title             string     `json:"title"`
	LectureID         int64      `json:"lectureId"`
	Deadline          *time.Time `json:"deadline,omitempty"`
	DurationInMinutes int        `json:"durationInMinutes"`
	Type              ExamType   `json:"type"`
	IsVisible         bool       `json:"isVisible"`
	IsRandomized      bool       `json:"isRandomized"`
	Questions         []Question `json:"questions"`
}

// MaxScore sums the scores of all questions.
func (e Exam) MaxScore() float64 {
	var total float64
	for _, q := range e.Questions {
		total += q.Score
	}
	return total
}

// Question belongs to one exam. Options are only meaningful for MCQ and TrueFalse.
type Question struct {
	ID                 int64        `json:"id"`
	ExamID             int64        `json:"examId"`
	QuestionType       QuestionType `json:"questionType"`
	Content            string       `json:"content"`
	AnswerType         AnswerType   `json:"answerType"`
	Score              float64      `json:"score"`
	CorrectByAssistant bool         `json:"correctByAssistant"`
	CorrectAnswerPath  string       `json:"correctAnswerPath,omitempty"`
	Options            []Option     `json:"options"`
}

// Option is a selectable choice of a question.
type Option struct {
	ID         int64  `json:"id"`
	QuestionID int64  `json:"questionId"`
	Content    string `json:"content"`
	IsCorrect  bool   `json:"isCorrect"`
}

// SelectedOption is one option a student picked.
type SelectedOption struct {
	OptionID int64  `json:"optionId"`
	Content  string `json:"content"`
}

// StudentAnswer is one student's response to one question.
// A nil PointsEarned means the answer has not been graded yet.
type StudentAnswer struct {
	ID              int64            `json:"id"`
	QuestionID      int64            `json:"questionId"`
	QuestionContent string           `json:"questionContent"`
	QuestionType    QuestionType     `json:"questionType"`
	AnswerType      AnswerType       `json:"answerType"`
	MaxScore        float64          `json:"maxScore"`
	SelectedOptions []SelectedOption `json:"selectedOptions,omitempty"`
	Text            string           `json:"text,omitempty"`
	ImageURL        string           `json:"imageUrl,omitempty"`
	PointsEarned    *float64         `json:"pointsEarned"`
	IsCorrect       bool             `json:"isCorrect"`
	Feedback        string           `json:"feedback,omitempty"`
}

// HasContent reports whether the student actually answered something.
func (a StudentAnswer) HasContent() bool {
	return strings.TrimSpace(a.ImageURL) != "" ||
		strings.TrimSpace(a.Text) != "" ||
		len(a.SelectedOptions) > 0
}

// Graded reports whether the answer carries points.
func (a StudentAnswer) Graded() bool {
	return a.PointsEarned != nil
}

// Submission is the aggregate record of one student's attempt at one exam.
type Submission struct {
	ID             int64      `json:"id"`
	StudentID      int64      `json:"studentId"`
	StudentName    string     `json:"studentName"`
	ExamID         int64      `json:"examId"`
	CurrentScore   float64    `json:"currentScore"`
	IsFinished     bool       `json:"isFinished"`
	SubmittedAt    *time.Time `json:"submittedAt,omitempty"`
	TotalAnswers   int        `json:"totalAnswers"`
	GradedAnswers  int        `json:"gradedAnswers"`
	PendingAnswers int        `json:"pendingAnswers"`
}

// StudentScore is one student's full answer detail for an exam.
type StudentScore struct {
	StudentExamResultID int64           `json:"studentExamResultId"`
	StudentID           int64           `json:"studentId"`
	StudentName         string          `json:"studentName"`
	ExamID              int64           `json:"examId"`
	TotalScore          float64         `json:"totalScore"`
	MaxScore            float64         `json:"maxScore"`
	Answers             []StudentAnswer `json:"answers"`
}

// DeadlineException lets one student enter an exam after its deadline.
type DeadlineException struct {
	ID                   int64     `json:"id"`
	ExamID               int64     `json:"examId"`
	StudentID            int64     `json:"studentId"`
	ExtendedDeadline     time.Time `json:"extendedDeadline"`
	AllowedAfterDeadline bool      `json:"allowedAfterDeadline"`
	Reason               string    `json:"reason"`
}

// GradedAnswer is one record of a batch grade save.
type GradedAnswer struct {
	StudentAnswerID int64   `json:"studentAnswerId"`
	PointsEarned    float64 `json:"pointsEarned"`
	IsCorrect       bool    `json:"isCorrect"`
	Feedback        string  `json:"feedback"`
}

// GradeBatch is the body of the batch grade save.
type GradeBatch struct {
	StudentExamResultID int64          `json:"studentExamResultId"`
	GradedAnswers       []GradedAnswer `json:"gradedAnswers"`
}

// ChildSummary is one child on the parent dashboard.
type ChildSummary struct {
	StudentID     int64        `json:"studentId"`
	Name          string       `json:"name"`
	Grade         string       `json:"grade,omitempty"`
	Courses       int          `json:"courses"`
	RecentResults []ExamResult `json:"recentResults"`
}

// ExamResult is a finished exam shown on a dashboard.
type ExamResult struct {
	ExamID   int64   `json:"examId"`
	Title    string  `json:"title"`
	Score    float64 `json:"score"`
	MaxScore float64 `json:"maxScore"`
}

// ParentDashboard summarizes a parent's children.
type ParentDashboard struct {
	Children []ChildSummary `json:"children"`
}

// TeacherDashboard summarizes a teacher's catalogue and revenue.
type TeacherDashboard struct {
	Courses              int     `json:"courses"`
	Lectures             int     `json:"lectures"`
	Students             int     `json:"students"`
	PendingSubscriptions int     `json:"pendingSubscriptions"`
	PendingGrading       int     `json:"pendingGrading"`
	Revenue              float64 `json:"revenue"`
}

// deadlineLayouts are tried in order; datetime-local values carry no zone.
var deadlineLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ErrInvalidDeadline is returned for deadlines that match no known layout.
var ErrInvalidDeadline = errors.New("invalid deadline")

// ParseDeadline parses a deadline as entered by a user or sent by the API.
// Values without a zone are interpreted in loc.
func ParseDeadline(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty deadline: %w", ErrInvalidDeadline)
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range deadlineLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w %q", ErrInvalidDeadline, s)
}

// DeskConfig holds runtime parameters of the local desk, set via CLI flags.
type DeskConfig struct {
	Lang          string        // UI language (en, ar)
	ToastDismiss  time.Duration // how long the front end keeps a toast on screen
	SuggestionsOn bool          // offer LLM grading suggestions for essay answers
}

// File is an attachment sent as a multipart part: a question image, a model
// answer image or a replacement student answer image.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Empty reports whether no file is attached.
func (f *File) Empty() bool {
	return f == nil || len(f.Data) == 0
}
