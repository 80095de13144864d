package exam

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bosla-edu/desk/internal/model"
)

//go:embed schema/questions.schema.json
var questionsSchema []byte

const schemaURL = "bosla://questions.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func importSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, bytes.NewReader(questionsSchema)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// ImportFile is a batch of questions to add to a lecture's exam.
type ImportFile struct {
	LectureID int64            `json:"lectureId"`
	Questions []ImportQuestion `json:"questions"`
}

// ImportQuestion is one question of an import file. Image paths are
// resolved by the caller.
type ImportQuestion struct {
	QuestionType       model.QuestionType `json:"questionType"`
	Content            string             `json:"content"`
	Image              string             `json:"image"`
	AnswerType         model.AnswerType   `json:"answerType"`
	Score              float64            `json:"score"`
	CorrectByAssistant bool               `json:"correctByAssistant"`
	ModelAnswerImage   string             `json:"modelAnswerImage"`
	Options            []struct {
		Content   string `json:"content"`
		IsCorrect bool   `json:"isCorrect"`
	} `json:"options"`
}

// ParseImport validates data against the import schema and decodes it.
func ParseImport(data []byte) (ImportFile, error) {
	schema, err := importSchema()
	if err != nil {
		return ImportFile{}, fmt.Errorf("compile import schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return ImportFile{}, fmt.Errorf("parse import file: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return ImportFile{}, fmt.Errorf("invalid import file: %w", err)
	}
	var f ImportFile
	if err := json.Unmarshal(data, &f); err != nil {
		return ImportFile{}, fmt.Errorf("decode import file: %w", err)
	}
	for i := range f.Questions {
		if f.Questions[i].QuestionType == "" {
			f.Questions[i].QuestionType = model.QuestionText
		}
	}
	return f, nil
}

// ImportResult summarizes an import run.
type ImportResult struct {
	ExamID  int64
	Created []QuestionResult
	Failed  []error
}

// Import creates every question of f on the exam of lectureID. A failed
// question does not stop the rest; readFile loads the referenced images.
func (s *Service) Import(ctx context.Context, lectureID int64, f ImportFile, readFile func(name string) ([]byte, error)) (ImportResult, error) {
	e, err := s.GetLectureExam(ctx, lectureID)
	if err != nil {
		return ImportResult{}, err
	}
	res := ImportResult{ExamID: e.ID}
	for i, q := range f.Questions {
		req := QuestionRequest{
			LectureID:          lectureID,
			ExamID:             e.ID,
			QuestionType:       q.QuestionType,
			Content:            q.Content,
			AnswerType:         q.AnswerType,
			Score:              q.Score,
			CorrectByAssistant: q.CorrectByAssistant,
		}
		for _, o := range q.Options {
			req.Options = append(req.Options, OptionRequest{Content: o.Content, IsCorrect: o.IsCorrect})
		}
		if req.File, err = loadImage(q.Image, readFile); err == nil {
			req.CorrectAnswerFile, err = loadImage(q.ModelAnswerImage, readFile)
		}
		if err != nil {
			res.Failed = append(res.Failed, fmt.Errorf("question %d: %w", i+1, err))
			continue
		}
		qr, err := s.CreateQuestion(ctx, req)
		if err != nil && !errors.Is(err, ErrOptionsOrphaned) {
			res.Failed = append(res.Failed, fmt.Errorf("question %d: %w", i+1, err))
			continue
		}
		if err != nil || len(qr.OptionErrors) > 0 {
			slog.Warn("imported question without all options", "exam_id", e.ID, "index", i+1, "question_id", qr.QuestionID)
		}
		res.Created = append(res.Created, qr)
	}
	return res, nil
}

func loadImage(name string, readFile func(string) ([]byte, error)) (*model.File, error) {
	if name == "" {
		return nil, nil
	}
	if readFile == nil {
		return nil, fmt.Errorf("image %s: no file loader", name)
	}
	data, err := readFile(name)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", name, err)
	}
	mt := mimetype.Detect(data)
	if !mt.Is("image/png") && !mt.Is("image/jpeg") && !mt.Is("image/gif") && !mt.Is("image/webp") {
		return nil, fmt.Errorf("image %s: unsupported type %s", name, mt.String())
	}
	return &model.File{Name: name, ContentType: mt.String(), Data: data}, nil
}
