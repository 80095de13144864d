package model

import "time"

// GradeExport is the top-level JSON structure for grade export.
type GradeExport struct {
	LectureID   int64           `json:"lecture_id"`
	ExamID      int64           `json:"exam_id"`
	ExamTitle   string          `json:"exam_title"`
	GeneratedAt time.Time       `json:"generated_at"`
	MaxScore    float64         `json:"max_score"`
	Results     []StudentGrades `json:"results"`
}

// StudentGrades holds one student's graded answers for export.
type StudentGrades struct {
	SubmissionID int64         `json:"submission_id"`
	StudentID    int64         `json:"student_id"`
	StudentName  string        `json:"student_name"`
	Finished     bool          `json:"finished"`
	SubmittedAt  *time.Time    `json:"submitted_at,omitempty"`
	TotalScore   float64       `json:"total_score"`
	Pending      int           `json:"pending"`
	Answers      []AnswerGrade `json:"answers"`
}

// AnswerGrade holds per-question data for export.
type AnswerGrade struct {
	QuestionID   int64      `json:"question_id"`
	Question     string     `json:"question"`
	AnswerType   AnswerType `json:"answer_type"`
	MaxScore     float64    `json:"max_score"`
	Answer       string     `json:"answer"`
	PointsEarned *float64   `json:"points_earned"`
	Feedback     string     `json:"feedback,omitempty"`
}
