package authoring

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosla-edu/desk/internal/exam"
	"github.com/bosla-edu/desk/internal/i18n"
	"github.com/bosla-edu/desk/internal/model"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

type fakeSaver struct {
	creates    []exam.QuestionRequest
	edits      []exam.QuestionRequest
	optCreates []exam.OptionRequest
	optEdits   []model.Option
	optDeletes []int64
	createErr  error
	nextID     int64
}

func (s *fakeSaver) calls() int {
	return len(s.creates) + len(s.edits) + len(s.optCreates) + len(s.optEdits) + len(s.optDeletes)
}

func (s *fakeSaver) id() int64 {
	s.nextID++
	return 500 + s.nextID
}

func (s *fakeSaver) CreateQuestion(_ context.Context, req exam.QuestionRequest) (exam.QuestionResult, error) {
	s.creates = append(s.creates, req)
	if s.createErr != nil {
		return exam.QuestionResult{Created: true}, s.createErr
	}
	res := exam.QuestionResult{QuestionID: s.id(), Created: true}
	for _, o := range req.Options {
		res.Options = append(res.Options, model.Option{ID: s.id(), QuestionID: res.QuestionID, Content: o.Content, IsCorrect: o.IsCorrect})
	}
	return res, nil
}

func (s *fakeSaver) EditQuestion(_ context.Context, req exam.QuestionRequest) error {
	s.edits = append(s.edits, req)
	return nil
}

func (s *fakeSaver) CreateOption(_ context.Context, questionID int64, o exam.OptionRequest) (model.Option, error) {
	s.optCreates = append(s.optCreates, o)
	return model.Option{ID: s.id(), QuestionID: questionID, Content: o.Content, IsCorrect: o.IsCorrect}, nil
}

func (s *fakeSaver) EditOption(_ context.Context, o model.Option) error {
	s.optEdits = append(s.optEdits, o)
	return nil
}

func (s *fakeSaver) DeleteOption(_ context.Context, id int64) error {
	s.optDeletes = append(s.optDeletes, id)
	return nil
}

func newForm(t *testing.T) (*Form, *fakeSaver) {
	t.Helper()
	require.NoError(t, i18n.Init("en"))
	s := &fakeSaver{}
	return New(s, 3, 7), s
}

func validMCQ(t *testing.T) (*Form, *fakeSaver) {
	t.Helper()
	f, s := newForm(t)
	f.SetContent("Capital of Egypt?")
	f.SetScore(2)
	_, err := f.AddOption("Cairo", true)
	require.NoError(t, err)
	_, err = f.AddOption("Giza", false)
	require.NoError(t, err)
	return f, s
}

func TestSaveRejectedWithoutNetworkCall(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *Form)
		code  string
	}{
		{"mcq with one option", func(t *testing.T, f *Form) {
			_, _ = f.AddOption("only", true)
		}, CodeNeedOptions},
		{"mcq without correct option", func(t *testing.T, f *Form) {
			_, _ = f.AddOption("a", false)
			_, _ = f.AddOption("b", false)
		}, CodeNeedCorrect},
		{"true/false without correct option", func(t *testing.T, f *Form) {
			require.NoError(t, f.SetAnswerType(context.Background(), model.AnswerTrueFalse))
		}, CodeNeedCorrect},
		{"empty text", func(t *testing.T, f *Form) {
			f.SetContent("   ")
			require.NoError(t, f.SetAnswerType(context.Background(), model.AnswerEssay))
		}, CodeNeedContent},
		{"image question without image", func(t *testing.T, f *Form) {
			f.SetQuestionType(model.QuestionImage)
			require.NoError(t, f.SetAnswerType(context.Background(), model.AnswerImage))
		}, CodeNeedImage},
		{"zero score", func(t *testing.T, f *Form) {
			f.SetScore(0)
			require.NoError(t, f.SetAnswerType(context.Background(), model.AnswerEssay))
		}, CodeNeedScore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, s := newForm(t)
			f.SetContent("Question")
			tt.setup(t, f)

			_, err := f.Save(context.Background())
			require.ErrorIs(t, err, ErrNotSubmittable)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.True(t, verr.Has(tt.code), "want %s in %v", tt.code, verr.Fields)
			assert.Zero(t, s.calls(), "no request may be sent")
			assert.NotEqual(t, StateSaved, f.State())
		})
	}
}

func TestTrueFalseToggleDoesNotRestoreMCQOptions(t *testing.T) {
	f, _ := newForm(t)
	ctx := context.Background()
	for _, c := range []string{"a", "b", "c"} {
		_, err := f.AddOption(c, c == "a")
		require.NoError(t, err)
	}

	require.NoError(t, f.SetAnswerType(ctx, model.AnswerTrueFalse))
	opts := f.Options()
	require.Len(t, opts, 2)
	assert.Equal(t, "True", opts[0].Content)
	assert.Equal(t, "False", opts[1].Content)
	for _, o := range opts {
		assert.True(t, o.Fixed)
		assert.False(t, o.IsCorrect)
	}

	require.NoError(t, f.SetAnswerType(ctx, model.AnswerMCQ))
	assert.Empty(t, f.Options(), "switching back yields an empty list; custom options are not restored")
}

func TestTrueFalseLabelsAreLocalized(t *testing.T) {
	f, _ := newForm(t)
	ctx := i18n.WithLang(context.Background(), "ar")
	require.NoError(t, f.SetAnswerType(ctx, model.AnswerTrueFalse))
	opts := f.Options()
	require.Len(t, opts, 2)
	assert.Equal(t, "صح", opts[0].Content)
	assert.Equal(t, "خطأ", opts[1].Content)
}

func TestTrueFalseOptionsAreFixedAndExclusive(t *testing.T) {
	f, _ := newForm(t)
	require.NoError(t, f.SetAnswerType(context.Background(), model.AnswerTrueFalse))
	opts := f.Options()

	_, err := f.AddOption("maybe", false)
	assert.ErrorIs(t, err, ErrFixedOption)
	assert.ErrorIs(t, f.RemoveOption(opts[0].Key), ErrFixedOption)
	assert.ErrorIs(t, f.UpdateOption(opts[0].Key, "Yes"), ErrFixedOption)

	require.NoError(t, f.SetCorrect(opts[0].Key, true))
	require.NoError(t, f.SetCorrect(opts[1].Key, true))
	opts = f.Options()
	assert.False(t, opts[0].IsCorrect)
	assert.True(t, opts[1].IsCorrect)
}

func TestMCQAllowsSeveralCorrect(t *testing.T) {
	f, _ := validMCQ(t)
	opts := f.Options()
	require.NoError(t, f.SetCorrect(opts[1].Key, true))
	for _, o := range f.Options() {
		assert.True(t, o.IsCorrect)
	}
	assert.ErrorIs(t, f.SetCorrect("nope", true), ErrUnknownOption)
}

func TestStateTransitions(t *testing.T) {
	f, s := newForm(t)
	assert.Equal(t, StateEmpty, f.State())
	assert.ErrorIs(t, f.Duplicate(), ErrNotSaved)

	f.SetContent("Capital of Egypt?")
	assert.Equal(t, StateEditing, f.State())
	_, _ = f.AddOption("Cairo", true)
	_, _ = f.AddOption("Giza", false)

	res, err := f.Save(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, StateSaved, f.State())
	assert.Equal(t, res.QuestionID, f.SavedQuestionID())
	assert.Equal(t, "Question created.", res.Toast)

	require.NoError(t, f.Duplicate())
	assert.Equal(t, StateEditing, f.State())
	assert.Zero(t, f.SavedQuestionID())
	v := f.View(context.Background())
	assert.Equal(t, "Capital of Egypt?", v.Content)
	require.Len(t, v.Options, 2)
	assert.Zero(t, v.Options[0].ID)

	_, err = f.Save(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.creates, 2, "a duplicate is saved as a new question")

	f.Clear()
	assert.Equal(t, StateEmpty, f.State())
	assert.Empty(t, f.Options())
	assert.Zero(t, f.SavedQuestionID())
}

func TestSaveChoosesCreateThenUpdate(t *testing.T) {
	f, s := validMCQ(t)
	ctx := context.Background()

	res, err := f.Save(ctx)
	require.NoError(t, err)
	require.Len(t, s.creates, 1)
	assert.Len(t, s.creates[0].Options, 2)
	assert.Equal(t, int64(3), s.creates[0].LectureID)
	qid := res.QuestionID

	opts := f.Options()
	require.NotZero(t, opts[0].ID)
	require.NoError(t, f.UpdateOption(opts[0].Key, "Cairo City"))
	require.NoError(t, f.RemoveOption(opts[1].Key))
	_, err = f.AddOption("Alexandria", false)
	require.NoError(t, err)
	f.SetContent("Capital of Egypt? (edited)")

	res, err = f.Save(ctx)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, qid, res.QuestionID)
	assert.Len(t, s.creates, 1)
	require.Len(t, s.edits, 1)
	assert.Equal(t, qid, s.edits[0].ID)
	assert.Nil(t, s.edits[0].File, "unchanged images are not re-sent")

	require.Len(t, s.optEdits, 1)
	assert.Equal(t, "Cairo City", s.optEdits[0].Content)
	assert.Equal(t, []int64{opts[1].ID}, s.optDeletes)
	require.Len(t, s.optCreates, 1)
	assert.Equal(t, "Alexandria", s.optCreates[0].Content)

	// Saving again without changes only re-sends metadata.
	_, err = f.Save(ctx)
	require.NoError(t, err)
	assert.Len(t, s.optEdits, 1)
	assert.Len(t, s.optCreates, 1)
	assert.Len(t, s.optDeletes, 1)
}

func TestImageQuestionNeedsAttachmentOnlyBeforeFirstSave(t *testing.T) {
	f, s := newForm(t)
	ctx := context.Background()
	f.SetQuestionType(model.QuestionImage)
	require.NoError(t, f.SetAnswerType(ctx, model.AnswerImage))
	f.SetScore(3)

	_, err := f.Save(ctx)
	require.ErrorIs(t, err, ErrNotSubmittable)

	require.NoError(t, f.AttachImage(ZoneQuestion, "q", pngBytes))
	_, err = f.Save(ctx)
	require.NoError(t, err)
	require.Len(t, s.creates, 1)
	require.NotNil(t, s.creates[0].File)
	assert.Equal(t, "image/png", s.creates[0].File.ContentType)
	assert.Equal(t, "q.png", s.creates[0].File.Name)

	f.SetScore(4)
	_, err = f.Save(ctx)
	require.NoError(t, err)
	require.Len(t, s.edits, 1)
	assert.Nil(t, s.edits[0].File)
}

func TestPasteRoutesImagesByHoveredZone(t *testing.T) {
	f, _ := newForm(t)

	assert.False(t, f.Paste([]byte("just some text")), "text pastes are not intercepted")
	assert.Equal(t, StateEmpty, f.State())

	f.Hover(ZoneAnswer)
	require.True(t, f.Paste(pngBytes))
	v := f.View(context.Background())
	assert.NotEmpty(t, v.AnswerImage)
	assert.Empty(t, v.Image)
	assert.Equal(t, model.QuestionText, v.QuestionType)

	f.Hover(ZoneQuestion)
	require.True(t, f.Paste(pngBytes))
	v = f.View(context.Background())
	assert.NotEmpty(t, v.Image)
	assert.Equal(t, model.QuestionImage, v.QuestionType)

	f.Hover("sidebar")
	assert.Equal(t, ZoneQuestion, f.Hovered())
}

func TestAttachImageRejectsNonImages(t *testing.T) {
	f, _ := newForm(t)
	err := f.AttachImage(ZoneQuestion, "notes.txt", []byte("hello"))
	assert.ErrorIs(t, err, ErrNotImage)
	assert.Error(t, f.AttachImage("elsewhere", "q.png", pngBytes))
}

func TestOrphanedOptionsAreReported(t *testing.T) {
	f, s := validMCQ(t)
	s.createErr = exam.ErrOptionsOrphaned

	res, err := f.Save(context.Background())
	require.ErrorIs(t, err, exam.ErrOptionsOrphaned)
	assert.True(t, res.Created)
	assert.True(t, res.Orphaned)
	assert.Contains(t, res.Toast, "add them manually")
	assert.Equal(t, StateSaved, f.State())
}

func TestOrphanedFormRefusesSecondCreate(t *testing.T) {
	f, s := validMCQ(t)
	s.createErr = exam.ErrOptionsOrphaned
	_, err := f.Save(context.Background())
	require.ErrorIs(t, err, exam.ErrOptionsOrphaned)
	require.True(t, f.Orphaned())

	s.createErr = nil
	f.SetContent("edited after the orphaned create")
	_, err = f.Save(context.Background())
	require.ErrorIs(t, err, ErrOrphaned)
	assert.Len(t, s.creates, 1, "no second create reaches the server")
	assert.False(t, f.View(context.Background()).Submittable)

	// Duplicate starts a fresh question that may be created again.
	require.NoError(t, f.Duplicate())
	assert.False(t, f.Orphaned())
	_, err = f.Save(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.creates, 2)

	f.Clear()
	assert.False(t, f.Orphaned())
}

func TestSaveErrorKeepsEditing(t *testing.T) {
	f, s := validMCQ(t)
	s.createErr = errors.New("network down")

	_, err := f.Save(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateEditing, f.State())
	assert.Zero(t, f.SavedQuestionID())
}

func TestFromQuestionUpdates(t *testing.T) {
	s := &fakeSaver{}
	f := FromQuestion(s, 3, model.Question{
		ID: 40, ExamID: 7, QuestionType: model.QuestionText, Content: "2+2?", AnswerType: model.AnswerTrueFalse, Score: 1,
		Options: []model.Option{{ID: 41, Content: "True"}, {ID: 42, Content: "False", IsCorrect: true}},
	})
	assert.Equal(t, StateSaved, f.State())

	opts := f.Options()
	require.NoError(t, f.SetCorrect(opts[0].Key, true))
	_, err := f.Save(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.creates)
	require.Len(t, s.edits, 1)
	assert.Len(t, s.optEdits, 2, "both true/false options flip")
}
