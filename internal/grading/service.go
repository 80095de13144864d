package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bosla-edu/desk/internal/llm"
	"github.com/bosla-edu/desk/internal/model"
)

// ErrNotEssay is returned by Suggest for answers that are not essays.
var ErrNotEssay = errors.New("suggestions are only offered for essay answers")

// ErrNoSuggester is returned by Suggest when no model is configured.
var ErrNoSuggester = errors.New("grading suggestions are disabled")

// Gateway is the part of the API client used for grading.
type Gateway interface {
	LectureExam(ctx context.Context, lectureID int64) (*model.Exam, error)
	ExamSubmissions(ctx context.Context, lectureID int64) ([]model.Submission, error)
	StudentScore(ctx context.Context, examID, studentID int64) (model.StudentScore, error)
	SaveGrades(ctx context.Context, batch model.GradeBatch) error
	ReplaceAnswerImage(ctx context.Context, answerID int64, file *model.File) (string, error)
}

// DraftStore keeps unsaved grades so an interrupted session can resume.
type DraftStore interface {
	SaveDraft(ctx context.Context, resultID int64, d Draft) error
	LoadDraft(ctx context.Context, resultID int64) (Draft, bool, error)
	DeleteDraft(ctx context.Context, resultID int64) error
}

// Suggester proposes a grade for an essay answer.
type Suggester interface {
	SuggestGrade(ctx context.Context, in llm.EssayInput) (*llm.GradeResult, error)
}

// Service loads submissions into workbenches and saves their grades.
type Service struct {
	gw        Gateway
	drafts    DraftStore
	suggester Suggester
	lang      string
	tracer    trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithDrafts persists unsaved grades in ds.
func WithDrafts(ds DraftStore) Option {
	return func(s *Service) { s.drafts = ds }
}

// WithSuggester enables essay grading suggestions. lang is the feedback language.
func WithSuggester(sg Suggester, lang string) Option {
	return func(s *Service) {
		s.suggester = sg
		s.lang = lang
	}
}

// NewService returns a grading service backed by gw.
func NewService(gw Gateway, opts ...Option) *Service {
	s := &Service{gw: gw, tracer: otel.Tracer("github.com/bosla-edu/desk/internal/grading")}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ListSubmissions returns a lecture's submissions with the most pending
// answers first, then the earliest submitted.
func (s *Service) ListSubmissions(ctx context.Context, lectureID int64) ([]model.Submission, error) {
	subs, err := s.gw.ExamSubmissions(ctx, lectureID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	sort.SliceStable(subs, func(i, j int) bool {
		a, b := subs[i], subs[j]
		if a.PendingAnswers != b.PendingAnswers {
			return a.PendingAnswers > b.PendingAnswers
		}
		switch {
		case a.SubmittedAt != nil && b.SubmittedAt != nil && !a.SubmittedAt.Equal(*b.SubmittedAt):
			return a.SubmittedAt.Before(*b.SubmittedAt)
		case a.SubmittedAt != nil && b.SubmittedAt == nil:
			return true
		case a.SubmittedAt == nil && b.SubmittedAt != nil:
			return false
		}
		return a.ID < b.ID
	})
	return subs, nil
}

// Open loads a student's answers into a new workbench and applies any saved
// draft on top.
func (s *Service) Open(ctx context.Context, examID, studentID int64) (*Workbench, error) {
	score, err := s.gw.StudentScore(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("load student score: %w", err)
	}
	w := NewWorkbench(score)
	if s.drafts != nil && w.ResultID() != 0 {
		d, ok, err := s.drafts.LoadDraft(ctx, w.ResultID())
		if err != nil {
			slog.Warn("load grade draft failed", append(w.logAttrs(), "error", err)...)
		} else if ok {
			w.Restore(d)
			slog.Info("restored grade draft", w.logAttrs()...)
		}
	}
	return w, nil
}

// SaveDraft persists the unsaved grades of w. It is a no-op without a store.
func (s *Service) SaveDraft(ctx context.Context, w *Workbench) error {
	if s.drafts == nil || w.ResultID() == 0 {
		return nil
	}
	if err := s.drafts.SaveDraft(ctx, w.ResultID(), w.Draft()); err != nil {
		return fmt.Errorf("save grade draft: %w", err)
	}
	return nil
}

// Save posts every grade of w in a single request. Hidden duplicates are
// sent as zero records.
func (s *Service) Save(ctx context.Context, w *Workbench) (model.GradeBatch, error) {
	ctx, span := s.tracer.Start(ctx, "grading.save")
	defer span.End()

	batch := w.BatchPayload()
	span.SetAttributes(
		attribute.Int64("grading.result_id", batch.StudentExamResultID),
		attribute.Int("grading.records", len(batch.GradedAnswers)),
	)
	if err := s.gw.SaveGrades(ctx, batch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save grades failed")
		return batch, fmt.Errorf("save grades: %w", err)
	}
	w.markSaved()
	if s.drafts != nil && batch.StudentExamResultID != 0 {
		if err := s.drafts.DeleteDraft(ctx, batch.StudentExamResultID); err != nil {
			slog.Warn("delete grade draft failed", append(w.logAttrs(), "error", err)...)
		}
	}
	slog.Info("saved grades", append(w.logAttrs(), "records", len(batch.GradedAnswers), "hidden", len(w.Hidden()))...)
	return batch, nil
}

// Suggest asks the configured model for a grade of the current essay
// answer. The suggestion is returned only; the workbench is not changed.
func (s *Service) Suggest(ctx context.Context, w *Workbench, modelAnswer string) (*llm.GradeResult, error) {
	if s.suggester == nil {
		return nil, ErrNoSuggester
	}
	e, ok := w.Current()
	if !ok {
		return nil, ErrUnknownAnswer
	}
	if e.Answer.AnswerType != model.AnswerEssay {
		return nil, ErrNotEssay
	}
	res, err := s.suggester.SuggestGrade(ctx, llm.EssayInput{
		Question:    e.Answer.QuestionContent,
		ModelAnswer: modelAnswer,
		Answer:      e.Answer.Text,
		MaxScore:    e.Answer.MaxScore,
		Lang:        s.lang,
	})
	if err != nil {
		return nil, fmt.Errorf("suggest grade: %w", err)
	}
	res.Score = clamp(res.Score, e.Answer.MaxScore)
	return res, nil
}

// ReplaceImage starts the two-phase replacement of an answer image.
func (s *Service) ReplaceImage(ctx context.Context, w *Workbench, answerID int64, file *model.File) (Preview, error) {
	return w.ReplaceImage(ctx, s.gw, answerID, file)
}
