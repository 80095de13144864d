package grading

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosla-edu/desk/internal/model"
)

func TestParseGradeFile(t *testing.T) {
	f, err := ParseGradeFile([]byte(`{"examId": 9, "studentId": 5, "grades": [{"answerId": 3, "points": 1.5}, {"answerId": 1, "feedback": "see notes"}]}`))
	require.NoError(t, err)
	require.Len(t, f.Grades, 2)
	assert.Equal(t, 1.5, *f.Grades[0].Points)
	assert.Nil(t, f.Grades[0].Feedback)
	assert.Nil(t, f.Grades[1].Points)

	_, err = ParseGradeFile([]byte(`{"grades": []}`))
	assert.Error(t, err)
	_, err = ParseGradeFile([]byte(`[`))
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	gw := &fakeGateway{scores: map[int64]model.StudentScore{5: dupScore()}}
	svc := NewService(gw)

	pts, fb := 10.0, "clear"
	batch, err := svc.Apply(t.Context(), GradeFile{ExamID: 9, StudentID: 5, Grades: []GradeInput{
		{AnswerID: 3, Points: &pts},
		{AnswerID: 1, Feedback: &fb},
	}})
	require.NoError(t, err)
	require.Len(t, gw.saved, 1)
	assert.Equal(t, int64(77), batch.StudentExamResultID)

	byID := map[int64]model.GradedAnswer{}
	for _, g := range batch.GradedAnswers {
		byID[g.StudentAnswerID] = g
	}
	assert.Equal(t, 3.0, byID[3].PointsEarned, "clamped to the question maximum")
	assert.True(t, byID[3].IsCorrect)
	assert.Equal(t, "clear", byID[1].Feedback)
	assert.Equal(t, 0.0, byID[2].PointsEarned)
	assert.Equal(t, DuplicateFeedback, byID[2].Feedback)
}

func TestApplyRejectsHiddenDuplicate(t *testing.T) {
	gw := &fakeGateway{scores: map[int64]model.StudentScore{5: dupScore()}}
	svc := NewService(gw)

	pts := 1.0
	_, err := svc.Apply(t.Context(), GradeFile{ExamID: 9, StudentID: 5, Grades: []GradeInput{{AnswerID: 2, Points: &pts}}})
	assert.ErrorIs(t, err, ErrUnknownAnswer)
	assert.Empty(t, gw.saved)
}
