// Package exam sequences the multi-call protocols for exams, questions and
// options on top of the API client.
package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bosla-edu/desk/internal/api"
	"github.com/bosla-edu/desk/internal/model"
)

// ErrNoExam indicates the lecture has no exam yet.
var ErrNoExam = errors.New("lecture has no exam")

// ErrOptionsOrphaned indicates the question was created but its identifier
// could not be recovered, so its options were not created.
var ErrOptionsOrphaned = errors.New("question created but its id could not be recovered: add the options manually")

// Gateway is the part of the API client the service drives.
type Gateway interface {
	LectureExam(ctx context.Context, lectureID int64) (*model.Exam, error)
	CreateExam(ctx context.Context, in api.ExamInput) (int64, error)
	EditExam(ctx context.Context, in api.ExamInput) error
	DeleteExam(ctx context.Context, examID int64) error
	ChangeVisibility(ctx context.Context, examID int64, visible bool) error
	CreateQuestion(ctx context.Context, in api.QuestionInput) (int64, error)
	EditQuestion(ctx context.Context, in api.QuestionInput) error
	DeleteQuestion(ctx context.Context, questionID int64) error
	CreateOption(ctx context.Context, in api.OptionInput) (int64, error)
	EditOption(ctx context.Context, in api.OptionInput) error
	DeleteOption(ctx context.Context, optionID int64) error
	CreateDeadlineException(ctx context.Context, d model.DeadlineException) (model.DeadlineException, error)
}

// ExamRequest is a create or edit exam request as entered by a teacher.
type ExamRequest struct {
	ID                int64          `json:"id,omitempty"`
	LectureID         int64          `json:"lectureId" validate:"required,gt=0"`
	Title             string         `json:"title" validate:"required,max=200"`
	Deadline          string         `json:"deadline,omitempty"`
	DurationInMinutes int            `json:"durationInMinutes" validate:"gte=0,lte=1440"`
	Type              model.ExamType `json:"type" validate:"oneof=1 2"`
	IsVisible         bool           `json:"isVisible"`
	IsRandomized      bool           `json:"isRandomized"`
}

// QuestionRequest creates or edits a question. LectureID is needed to find
// the question again when the API omits the created identifier.
type QuestionRequest struct {
	ID                 int64              `validate:"omitempty,gt=0"`
	LectureID          int64              `validate:"required,gt=0"`
	ExamID             int64              `validate:"required,gt=0"`
	QuestionType       model.QuestionType `validate:"oneof=Text Image"`
	Content            string             `validate:"required_if=QuestionType Text,max=4000"`
	AnswerType         model.AnswerType   `validate:"oneof=MCQ TrueFalse Essay Image"`
	Score              float64            `validate:"gt=0"`
	CorrectByAssistant bool
	File               *model.File
	CorrectAnswerFile  *model.File
	Options            []OptionRequest `validate:"dive"`
}

// OptionRequest is one option to create with a new question.
type OptionRequest struct {
	Content   string `validate:"required"`
	IsCorrect bool
}

// QuestionResult reports the outcome of a create-question protocol run.
type QuestionResult struct {
	QuestionID   int64
	Created      bool
	Resolved     bool // id recovered by re-fetching the exam
	Options      []model.Option
	OptionErrors []error
}

// Service runs exam mutations against the API.
type Service struct {
	gw           Gateway
	validate     *validator.Validate
	loc          *time.Location
	resolveDelay time.Duration
	window       int
	sleep        func(context.Context, time.Duration) error
	tracer       trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithResolveDelay sets the wait before re-fetching an exam to find a created question.
func WithResolveDelay(d time.Duration) Option {
	return func(s *Service) { s.resolveDelay = d }
}

// WithResolveWindow sets how many recent questions are searched.
func WithResolveWindow(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.window = n
		}
	}
}

// WithLocation sets the zone used for deadlines entered without one.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// NewService constructs the exam service.
func NewService(gw Gateway, opts ...Option) *Service {
	s := &Service{
		gw:           gw,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		loc:          time.Local,
		resolveDelay: DefaultResolveDelay,
		window:       DefaultResolveWindow,
		sleep:        sleepCtx,
		tracer:       otel.Tracer("github.com/bosla-edu/desk/internal/exam"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func fail(span trace.Span, err error, status string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, status)
	return err
}

// GetLectureExam fetches the exam of a lecture, or ErrNoExam.
func (s *Service) GetLectureExam(ctx context.Context, lectureID int64) (*model.Exam, error) {
	e, err := s.gw.LectureExam(ctx, lectureID)
	if err != nil {
		return nil, fmt.Errorf("get exam of lecture %d: %w", lectureID, err)
	}
	if e == nil {
		return nil, ErrNoExam
	}
	return e, nil
}

func (s *Service) examInput(req ExamRequest) (api.ExamInput, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validate.Struct(req); err != nil {
		return api.ExamInput{}, err
	}
	in := api.ExamInput{
		ID:                req.ID,
		LectureID:         req.LectureID,
		Title:             req.Title,
		DurationInMinutes: req.DurationInMinutes,
		Type:              req.Type,
		IsVisible:         req.IsVisible,
		IsRandomized:      req.IsRandomized,
	}
	if strings.TrimSpace(req.Deadline) != "" {
		t, err := model.ParseDeadline(req.Deadline, s.loc)
		if err != nil {
			return api.ExamInput{}, err
		}
		in.Deadline = &t
	}
	return in, nil
}

// CreateExam validates and creates an exam, returning its identifier.
func (s *Service) CreateExam(ctx context.Context, req ExamRequest) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "exam.create")
	span.SetAttributes(attribute.Int64("exam.lecture_id", req.LectureID))
	defer span.End()

	req.ID = 0
	in, err := s.examInput(req)
	if err != nil {
		return 0, fail(span, err, "validation_failed")
	}
	id, err := s.gw.CreateExam(ctx, in)
	if err != nil {
		return 0, fail(span, fmt.Errorf("create exam: %w", err), "create_failed")
	}
	if id == 0 {
		// Some deployments omit the id; the lecture holds at most one exam.
		if e, ferr := s.gw.LectureExam(ctx, req.LectureID); ferr == nil && e != nil {
			id = e.ID
		}
	}
	slog.Info("created exam", "lecture_id", req.LectureID, "exam_id", id)
	return id, nil
}

// EditExam replaces every editable field of an exam.
func (s *Service) EditExam(ctx context.Context, req ExamRequest) error {
	ctx, span := s.tracer.Start(ctx, "exam.edit")
	span.SetAttributes(attribute.Int64("exam.id", req.ID))
	defer span.End()

	if req.ID <= 0 {
		return fail(span, errors.New("edit exam: missing exam id"), "validation_failed")
	}
	in, err := s.examInput(req)
	if err != nil {
		return fail(span, err, "validation_failed")
	}
	if err := s.gw.EditExam(ctx, in); err != nil {
		return fail(span, fmt.Errorf("edit exam %d: %w", req.ID, err), "edit_failed")
	}
	return nil
}

// ChangeVisibility shows or hides an exam to students.
func (s *Service) ChangeVisibility(ctx context.Context, examID int64, visible bool) error {
	if err := s.gw.ChangeVisibility(ctx, examID, visible); err != nil {
		return fmt.Errorf("change visibility of exam %d: %w", examID, err)
	}
	return nil
}

// DeleteExam deletes an exam.
func (s *Service) DeleteExam(ctx context.Context, examID int64) error {
	if err := s.gw.DeleteExam(ctx, examID); err != nil {
		return fmt.Errorf("delete exam %d: %w", examID, err)
	}
	slog.Info("deleted exam", "exam_id", examID)
	return nil
}

func questionInput(req QuestionRequest) api.QuestionInput {
	return api.QuestionInput{
		ID:                 req.ID,
		ExamID:             req.ExamID,
		QuestionType:       req.QuestionType,
		Content:            strings.TrimSpace(req.Content),
		AnswerType:         req.AnswerType,
		Score:              req.Score,
		CorrectByAssistant: req.CorrectByAssistant,
		File:               req.File,
		CorrectAnswerFile:  req.CorrectAnswerFile,
	}
}

// CreateQuestion creates a question and then its options one at a time.
//
// When the API omits the created identifier the exam is re-fetched to find it.
// Option failures do not stop the remaining options; they are collected in
// the result. If no identifier can be recovered and options were requested,
// the result has Created set and the error is ErrOptionsOrphaned.
func (s *Service) CreateQuestion(ctx context.Context, req QuestionRequest) (QuestionResult, error) {
	ctx, span := s.tracer.Start(ctx, "exam.create_question")
	span.SetAttributes(
		attribute.Int64("exam.id", req.ExamID),
		attribute.String("question.answer_type", string(req.AnswerType)),
		attribute.Int("question.options", len(req.Options)),
	)
	defer span.End()

	req.ID = 0
	req.Content = strings.TrimSpace(req.Content)
	if err := s.validate.Struct(req); err != nil {
		return QuestionResult{}, fail(span, err, "validation_failed")
	}
	in := questionInput(req)

	id, err := s.gw.CreateQuestion(ctx, in)
	if err != nil {
		return QuestionResult{}, fail(span, fmt.Errorf("create question: %w", err), "create_failed")
	}
	res := QuestionResult{QuestionID: id, Created: true}

	if id == 0 {
		id, err = s.resolveCreatedID(ctx, req.LectureID, in.Content)
		if err != nil {
			slog.Warn("could not resolve created question", "exam_id", req.ExamID, "error", err)
		}
		res.QuestionID = id
		res.Resolved = id != 0
	}

	needsOptions := req.AnswerType.NeedsOptions() && len(req.Options) > 0
	if id == 0 {
		if needsOptions {
			return res, fail(span, ErrOptionsOrphaned, "options_orphaned")
		}
		return res, nil
	}
	span.SetAttributes(attribute.Int64("question.id", id), attribute.Bool("question.resolved", res.Resolved))
	slog.Info("created question", "exam_id", req.ExamID, "question_id", id, "resolved", res.Resolved)

	if !needsOptions {
		return res, nil
	}
	for _, o := range req.Options {
		if err := ctx.Err(); err != nil {
			res.OptionErrors = append(res.OptionErrors, err)
			break
		}
		opt := api.OptionInput{QuestionID: id, Content: strings.TrimSpace(o.Content), IsCorrect: o.IsCorrect}
		oid, err := s.gw.CreateOption(ctx, opt)
		if err != nil {
			slog.Error("create option failed", "question_id", id, "content", opt.Content, "error", err)
			res.OptionErrors = append(res.OptionErrors, fmt.Errorf("option %q: %w", opt.Content, err))
			continue
		}
		res.Options = append(res.Options, model.Option{ID: oid, QuestionID: id, Content: opt.Content, IsCorrect: opt.IsCorrect})
	}
	if len(res.OptionErrors) > 0 {
		span.SetStatus(codes.Error, "options_partial")
	}
	return res, nil
}

// EditQuestion updates question metadata, optionally replacing its images.
func (s *Service) EditQuestion(ctx context.Context, req QuestionRequest) error {
	ctx, span := s.tracer.Start(ctx, "exam.edit_question")
	span.SetAttributes(attribute.Int64("question.id", req.ID))
	defer span.End()

	if req.ID <= 0 {
		return fail(span, errors.New("edit question: missing question id"), "validation_failed")
	}
	req.Content = strings.TrimSpace(req.Content)
	if err := s.validate.Struct(req); err != nil {
		return fail(span, err, "validation_failed")
	}
	if err := s.gw.EditQuestion(ctx, questionInput(req)); err != nil {
		return fail(span, fmt.Errorf("edit question %d: %w", req.ID, err), "edit_failed")
	}
	return nil
}

// DeleteQuestion deletes a question with its options.
func (s *Service) DeleteQuestion(ctx context.Context, questionID int64) error {
	if err := s.gw.DeleteQuestion(ctx, questionID); err != nil {
		return fmt.Errorf("delete question %d: %w", questionID, err)
	}
	slog.Info("deleted question", "question_id", questionID)
	return nil
}

// CreateOption adds one option to an existing question.
func (s *Service) CreateOption(ctx context.Context, questionID int64, o OptionRequest) (model.Option, error) {
	if err := s.validate.Struct(o); err != nil {
		return model.Option{}, err
	}
	content := strings.TrimSpace(o.Content)
	id, err := s.gw.CreateOption(ctx, api.OptionInput{QuestionID: questionID, Content: content, IsCorrect: o.IsCorrect})
	if err != nil {
		return model.Option{}, fmt.Errorf("create option: %w", err)
	}
	return model.Option{ID: id, QuestionID: questionID, Content: content, IsCorrect: o.IsCorrect}, nil
}

// EditOption updates one option.
func (s *Service) EditOption(ctx context.Context, o model.Option) error {
	if o.ID <= 0 {
		return errors.New("edit option: missing option id")
	}
	err := s.gw.EditOption(ctx, api.OptionInput{
		ID:         o.ID,
		QuestionID: o.QuestionID,
		Content:    strings.TrimSpace(o.Content),
		IsCorrect:  o.IsCorrect,
	})
	if err != nil {
		return fmt.Errorf("edit option %d: %w", o.ID, err)
	}
	return nil
}

// DeleteOption deletes one option.
func (s *Service) DeleteOption(ctx context.Context, optionID int64) error {
	if err := s.gw.DeleteOption(ctx, optionID); err != nil {
		return fmt.Errorf("delete option %d: %w", optionID, err)
	}
	return nil
}

// DeadlineRequest grants one student an extended deadline.
type DeadlineRequest struct {
	ExamID               int64  `json:"examId" validate:"required,gt=0"`
	StudentID            int64  `json:"studentId" validate:"required,gt=0"`
	ExtendedDeadline     string `json:"extendedDeadline" validate:"required"`
	AllowedAfterDeadline bool   `json:"allowedAfterDeadline"`
	Reason               string `json:"reason" validate:"max=500"`
}

// CreateDeadlineException validates and creates a per-student deadline exception.
// The exam's own deadline is untouched.
func (s *Service) CreateDeadlineException(ctx context.Context, req DeadlineRequest) (model.DeadlineException, error) {
	if err := s.validate.Struct(req); err != nil {
		return model.DeadlineException{}, err
	}
	t, err := model.ParseDeadline(req.ExtendedDeadline, s.loc)
	if err != nil {
		return model.DeadlineException{}, err
	}
	d, err := s.gw.CreateDeadlineException(ctx, model.DeadlineException{
		ExamID:               req.ExamID,
		StudentID:            req.StudentID,
		ExtendedDeadline:     t,
		AllowedAfterDeadline: req.AllowedAfterDeadline,
		Reason:               strings.TrimSpace(req.Reason),
	})
	if err != nil {
		return model.DeadlineException{}, fmt.Errorf("create deadline exception: %w", err)
	}
	return d, nil
}
