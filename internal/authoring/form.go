// Package authoring holds the question authoring form: its states, its
// answer-type dependent option set, its image slots and the create-or-update
// decision on save.
package authoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bosla-edu/desk/internal/exam"
	"github.com/bosla-edu/desk/internal/i18n"
	"github.com/bosla-edu/desk/internal/model"
)

// State is the lifecycle state of a form.
type State string

const (
	StateEmpty   State = "empty"
	StateEditing State = "editing"
	StateSaved   State = "saved"
)

var (
	// ErrFixedOption is returned when changing or removing a True/False option.
	ErrFixedOption = errors.New("true/false options are fixed")
	// ErrUnknownOption is returned for an option key not on the form.
	ErrUnknownOption = errors.New("unknown option")
	// ErrNotSaved is returned by Duplicate on a form that has not been saved.
	ErrNotSaved = errors.New("form has not been saved")
	// ErrOrphaned is returned by Save after a create whose question id could
	// not be recovered. Another create would duplicate the question on the
	// server; Clear or Duplicate the form to go on.
	ErrOrphaned = errors.New("question was created without a known id")
)

// Saver persists questions. *exam.Service implements it.
type Saver interface {
	CreateQuestion(ctx context.Context, req exam.QuestionRequest) (exam.QuestionResult, error)
	EditQuestion(ctx context.Context, req exam.QuestionRequest) error
	CreateOption(ctx context.Context, questionID int64, o exam.OptionRequest) (model.Option, error)
	EditOption(ctx context.Context, o model.Option) error
	DeleteOption(ctx context.Context, optionID int64) error
}

// OptionDraft is an option as edited on the form. Key identifies it on the
// client; ID is set once the option exists on the server.
type OptionDraft struct {
	Key       string `json:"key"`
	ID        int64  `json:"id,omitempty"`
	Content   string `json:"content"`
	IsCorrect bool   `json:"isCorrect"`
	Fixed     bool   `json:"fixed,omitempty"`
}

// Form is one question being authored. It is not safe for concurrent use.
type Form struct {
	id        string
	saver     Saver
	lectureID int64
	examID    int64

	state              State
	questionType       model.QuestionType
	content            string
	answerType         model.AnswerType
	score              float64
	correctByAssistant bool
	options            []OptionDraft

	image        *model.File
	answerImage  *model.File
	imageDirty   bool
	answerDirty  bool
	hovered      Zone
	savedID      int64
	savedOptions map[int64]model.Option
	orphaned     bool
}

// New returns an empty form for a question of the given exam.
func New(saver Saver, lectureID, examID int64) *Form {
	f := &Form{
		id:        uuid.NewString(),
		saver:     saver,
		lectureID: lectureID,
		examID:    examID,
	}
	f.reset()
	return f
}

// FromQuestion opens an existing question in the saved state, so the next
// save is an update.
func FromQuestion(saver Saver, lectureID int64, q model.Question) *Form {
	f := New(saver, lectureID, q.ExamID)
	f.questionType = q.QuestionType
	f.content = q.Content
	f.answerType = q.AnswerType
	f.score = q.Score
	f.correctByAssistant = q.CorrectByAssistant
	f.savedID = q.ID
	f.options = nil
	fixed := q.AnswerType == model.AnswerTrueFalse
	for _, o := range q.Options {
		f.options = append(f.options, OptionDraft{
			Key: uuid.NewString(), ID: o.ID, Content: o.Content, IsCorrect: o.IsCorrect, Fixed: fixed,
		})
	}
	f.snapshotOptions()
	f.state = StateSaved
	return f
}

func (f *Form) reset() {
	f.state = StateEmpty
	f.questionType = model.QuestionText
	f.content = ""
	f.answerType = model.AnswerMCQ
	f.score = 1
	f.correctByAssistant = false
	f.options = nil
	f.image, f.answerImage = nil, nil
	f.imageDirty, f.answerDirty = false, false
	f.hovered = ZoneQuestion
	f.savedID = 0
	f.savedOptions = nil
	f.orphaned = false
}

func (f *Form) touch() {
	if f.state != StateEditing {
		f.state = StateEditing
	}
}

// ID identifies the form in the desk registry.
func (f *Form) ID() string { return f.id }

// State returns the lifecycle state.
func (f *Form) State() State { return f.state }

// Orphaned reports whether the last create lost track of the question id.
func (f *Form) Orphaned() bool { return f.orphaned }

// SavedQuestionID is the server id of the question saved from this form, or 0.
func (f *Form) SavedQuestionID() int64 { return f.savedID }

// AnswerType returns the selected answer type.
func (f *Form) AnswerType() model.AnswerType { return f.answerType }

// Options returns a copy of the option drafts.
func (f *Form) Options() []OptionDraft {
	return append([]OptionDraft(nil), f.options...)
}

// SetExam points the form at an exam, e.g. after the exam was created.
func (f *Form) SetExam(lectureID, examID int64) {
	f.lectureID, f.examID = lectureID, examID
}

// SetContent sets the question text.
func (f *Form) SetContent(s string) {
	f.content = s
	f.touch()
}

// SetQuestionType switches between a text and an image question.
func (f *Form) SetQuestionType(t model.QuestionType) {
	f.questionType = t
	f.touch()
}

// SetScore sets the question score.
func (f *Form) SetScore(v float64) {
	f.score = v
	f.touch()
}

// SetCorrectByAssistant marks whether a human assistant must grade the question.
func (f *Form) SetCorrectByAssistant(v bool) {
	f.correctByAssistant = v
	f.touch()
}

// SetAnswerType switches the answer type. Switching to TrueFalse replaces the
// options with the two fixed, localized options, none correct. Switching away
// from TrueFalse clears the list only while it still holds exactly those two
// generated options; earlier custom MCQ options are not restored.
func (f *Form) SetAnswerType(ctx context.Context, t model.AnswerType) error {
	if !t.Valid() {
		return fmt.Errorf("unknown answer type %q", t)
	}
	prev := f.answerType
	f.answerType = t
	f.touch()
	if prev == t {
		return nil
	}
	switch {
	case t == model.AnswerTrueFalse:
		f.options = []OptionDraft{
			{Key: uuid.NewString(), Content: i18n.T(ctx, "OptionTrue"), Fixed: true},
			{Key: uuid.NewString(), Content: i18n.T(ctx, "OptionFalse"), Fixed: true},
		}
	case prev == model.AnswerTrueFalse && f.onlyGeneratedOptions():
		f.options = nil
	}
	return nil
}

func (f *Form) onlyGeneratedOptions() bool {
	if len(f.options) != 2 {
		return false
	}
	for _, o := range f.options {
		if !o.Fixed {
			return false
		}
	}
	return true
}

// AddOption appends an option and returns its key.
func (f *Form) AddOption(content string, correct bool) (string, error) {
	if f.answerType == model.AnswerTrueFalse {
		return "", ErrFixedOption
	}
	d := OptionDraft{Key: uuid.NewString(), Content: content, IsCorrect: correct}
	f.options = append(f.options, d)
	f.touch()
	return d.Key, nil
}

func (f *Form) option(key string) (int, error) {
	for i := range f.options {
		if f.options[i].Key == key {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w %q", ErrUnknownOption, key)
}

// UpdateOption changes the content of an option.
func (f *Form) UpdateOption(key, content string) error {
	i, err := f.option(key)
	if err != nil {
		return err
	}
	if f.options[i].Fixed {
		return ErrFixedOption
	}
	f.options[i].Content = content
	f.touch()
	return nil
}

// RemoveOption drops an option. A saved option is deleted on the next save.
func (f *Form) RemoveOption(key string) error {
	i, err := f.option(key)
	if err != nil {
		return err
	}
	if f.options[i].Fixed {
		return ErrFixedOption
	}
	f.options = append(f.options[:i], f.options[i+1:]...)
	f.touch()
	return nil
}

// SetCorrect marks an option correct or not. On a TrueFalse question the
// choice is exclusive.
func (f *Form) SetCorrect(key string, correct bool) error {
	i, err := f.option(key)
	if err != nil {
		return err
	}
	if f.answerType == model.AnswerTrueFalse && correct {
		for j := range f.options {
			f.options[j].IsCorrect = false
		}
	}
	f.options[i].IsCorrect = correct
	f.touch()
	return nil
}

// Duplicate starts a new question from a saved one, keeping every field.
func (f *Form) Duplicate() error {
	if f.state != StateSaved && !f.orphaned {
		return ErrNotSaved
	}
	f.savedID = 0
	f.savedOptions = nil
	f.orphaned = false
	for i := range f.options {
		f.options[i].ID = 0
		f.options[i].Key = uuid.NewString()
	}
	f.imageDirty = !f.image.Empty()
	f.answerDirty = !f.answerImage.Empty()
	f.state = StateEditing
	return nil
}

// Clear empties the form.
func (f *Form) Clear() {
	f.reset()
}

// SaveResult describes a completed save.
type SaveResult struct {
	QuestionID   int64    `json:"questionId"`
	Created      bool     `json:"created"`
	Resolved     bool     `json:"resolved,omitempty"`
	Orphaned     bool     `json:"orphaned,omitempty"`
	OptionErrors []string `json:"optionErrors,omitempty"`
	Toast        string   `json:"toast"`
}

func (f *Form) request() exam.QuestionRequest {
	req := exam.QuestionRequest{
		ID:                 f.savedID,
		LectureID:          f.lectureID,
		ExamID:             f.examID,
		QuestionType:       f.questionType,
		Content:            f.content,
		AnswerType:         f.answerType,
		Score:              f.score,
		CorrectByAssistant: f.correctByAssistant,
	}
	if f.imageDirty {
		req.File = f.image
	}
	if f.answerDirty {
		req.CorrectAnswerFile = f.answerImage
	}
	if f.answerType.NeedsOptions() {
		for _, o := range f.options {
			req.Options = append(req.Options, exam.OptionRequest{Content: o.Content, IsCorrect: o.IsCorrect})
		}
	}
	return req
}

// Save validates the form, then creates the question when no save has
// yielded an id yet, or updates it otherwise. Validation failures return a
// *ValidationError and send nothing.
func (f *Form) Save(ctx context.Context) (SaveResult, error) {
	if f.orphaned {
		return SaveResult{}, ErrOrphaned
	}
	if err := f.Validate(ctx); err != nil {
		return SaveResult{}, err
	}
	if f.savedID == 0 {
		return f.create(ctx)
	}
	return f.update(ctx)
}

func (f *Form) create(ctx context.Context) (SaveResult, error) {
	res, err := f.saver.CreateQuestion(ctx, f.request())
	if errors.Is(err, exam.ErrOptionsOrphaned) {
		f.state = StateSaved
		f.orphaned = true
		f.imageDirty, f.answerDirty = false, false
		return SaveResult{Created: true, Orphaned: true, Toast: i18n.T(ctx, "ToastOptionsOrphaned")}, err
	}
	if err != nil {
		return SaveResult{}, err
	}

	// Created options come back in request order, minus the failed ones.
	created := res.Options
	for i := range f.options {
		if len(created) > 0 && strings.TrimSpace(f.options[i].Content) == created[0].Content {
			f.options[i].ID = created[0].ID
			created = created[1:]
		}
	}
	f.savedID = res.QuestionID
	f.snapshotOptions()
	f.state = StateSaved
	f.imageDirty, f.answerDirty = false, false

	out := SaveResult{QuestionID: res.QuestionID, Created: true, Resolved: res.Resolved, Toast: i18n.T(ctx, "ToastQuestionCreated")}
	for _, e := range res.OptionErrors {
		out.OptionErrors = append(out.OptionErrors, e.Error())
	}
	if n := len(out.OptionErrors); n > 0 {
		out.Toast = i18n.Tp(ctx, "ToastOptionsFailed", n)
	}
	return out, nil
}

func (f *Form) update(ctx context.Context) (SaveResult, error) {
	if err := f.saver.EditQuestion(ctx, f.request()); err != nil {
		return SaveResult{}, err
	}
	f.imageDirty, f.answerDirty = false, false
	out := SaveResult{QuestionID: f.savedID, Toast: i18n.T(ctx, "ToastQuestionUpdated")}

	var optErrs []string
	keep := map[int64]bool{}
	if f.answerType.NeedsOptions() {
		for i := range f.options {
			o := &f.options[i]
			if o.ID == 0 {
				created, err := f.saver.CreateOption(ctx, f.savedID, exam.OptionRequest{Content: o.Content, IsCorrect: o.IsCorrect})
				if err != nil {
					optErrs = append(optErrs, err.Error())
					continue
				}
				o.ID = created.ID
				keep[o.ID] = true
				continue
			}
			keep[o.ID] = true
			prev, ok := f.savedOptions[o.ID]
			if ok && prev.Content == strings.TrimSpace(o.Content) && prev.IsCorrect == o.IsCorrect {
				continue
			}
			if err := f.saver.EditOption(ctx, model.Option{ID: o.ID, QuestionID: f.savedID, Content: o.Content, IsCorrect: o.IsCorrect}); err != nil {
				optErrs = append(optErrs, err.Error())
			}
		}
	}
	for id := range f.savedOptions {
		if keep[id] {
			continue
		}
		if err := f.saver.DeleteOption(ctx, id); err != nil {
			optErrs = append(optErrs, err.Error())
			keep[id] = true
		}
	}

	f.snapshotOptions()
	f.state = StateSaved
	if len(optErrs) > 0 {
		slog.Warn("option changes failed", "question_id", f.savedID, "failed", len(optErrs))
		out.OptionErrors = optErrs
		out.Toast = i18n.Tp(ctx, "ToastOptionsFailed", len(optErrs))
	}
	return out, nil
}

func (f *Form) snapshotOptions() {
	f.savedOptions = map[int64]model.Option{}
	for _, o := range f.options {
		if o.ID != 0 {
			f.savedOptions[o.ID] = model.Option{ID: o.ID, QuestionID: f.savedID, Content: strings.TrimSpace(o.Content), IsCorrect: o.IsCorrect}
		}
	}
}

// View is the JSON rendering of a form.
type View struct {
	ID                 string             `json:"id"`
	State              State              `json:"state"`
	LectureID          int64              `json:"lectureId"`
	ExamID             int64              `json:"examId"`
	QuestionType       model.QuestionType `json:"questionType"`
	Content            string             `json:"content"`
	AnswerType         model.AnswerType   `json:"answerType"`
	Score              float64            `json:"score"`
	CorrectByAssistant bool               `json:"correctByAssistant"`
	Options            []OptionDraft      `json:"options"`
	Image              string             `json:"image,omitempty"`
	AnswerImage        string             `json:"answerImage,omitempty"`
	Hovered            Zone               `json:"hovered"`
	SavedQuestionID    int64              `json:"savedQuestionId,omitempty"`
	Orphaned           bool               `json:"orphaned,omitempty"`
	Submittable        bool               `json:"submittable"`
	Problems           []FieldError       `json:"problems,omitempty"`
}

// View renders the form with its current validation problems.
func (f *Form) View(ctx context.Context) View {
	p := f.problems(ctx)
	v := View{
		ID:                 f.id,
		State:              f.state,
		LectureID:          f.lectureID,
		ExamID:             f.examID,
		QuestionType:       f.questionType,
		Content:            f.content,
		AnswerType:         f.answerType,
		Score:              f.score,
		CorrectByAssistant: f.correctByAssistant,
		Options:            f.Options(),
		Hovered:            f.hovered,
		SavedQuestionID:    f.savedID,
		Orphaned:           f.orphaned,
		Submittable:        len(p) == 0 && !f.orphaned,
		Problems:           p,
	}
	if v.Options == nil {
		v.Options = []OptionDraft{}
	}
	if !f.image.Empty() {
		v.Image = f.image.Name
	}
	if !f.answerImage.Empty() {
		v.AnswerImage = f.answerImage.Name
	}
	return v
}
