package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bosla-edu/desk/internal/authoring"
	"github.com/bosla-edu/desk/internal/exam"
	"github.com/bosla-edu/desk/internal/model"
)

type newFormRequest struct {
	LectureID  int64 `json:"lectureId"`
	ExamID     int64 `json:"examId"`
	QuestionID int64 `json:"questionId"`
}

type formPatch struct {
	Content            *string             `json:"content"`
	QuestionType       *model.QuestionType `json:"questionType"`
	Score              *float64            `json:"score"`
	CorrectByAssistant *bool               `json:"correctByAssistant"`
}

type optionRequest struct {
	Content   *string `json:"content"`
	IsCorrect *bool   `json:"isCorrect"`
}

type formResponse struct {
	authoring.View
	Toast *Toast                `json:"toast,omitempty"`
	Save  *authoring.SaveResult `json:"save,omitempty"`
}

func (h *Handler) lookupForm(r *http.Request) (*formEntry, error) {
	id := chi.URLParam(r, "formID")
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.forms[id]
	if !ok {
		return nil, fmt.Errorf("form %s: %w", id, errNotFound)
	}
	return e, nil
}

// withForm runs fn with the form named in the URL locked, then renders it.
func (h *Handler) withForm(w http.ResponseWriter, r *http.Request, fn func(f *authoring.Form) (*Toast, error)) {
	e, err := h.lookupForm(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	toast, err := fn(e.form)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, formResponse{View: e.form.View(r.Context()), Toast: toast})
}

func (h *Handler) handleNewForm(w http.ResponseWriter, r *http.Request) {
	var req newFormRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.LectureID <= 0 {
		h.fail(w, r, errors.Join(errBadRequest, errors.New("lectureId is required")))
		return
	}

	var f *authoring.Form
	switch {
	case req.QuestionID > 0:
		e, err := h.exams.GetLectureExam(r.Context(), req.LectureID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		for _, q := range e.Questions {
			if q.ID == req.QuestionID {
				if q.ExamID == 0 {
					q.ExamID = e.ID
				}
				f = authoring.FromQuestion(h.exams, req.LectureID, q)
				break
			}
		}
		if f == nil {
			h.fail(w, r, fmt.Errorf("question %d: %w", req.QuestionID, errNotFound))
			return
		}
	case req.ExamID > 0:
		f = authoring.New(h.exams, req.LectureID, req.ExamID)
	default:
		// the exam may not exist yet; the form then reports it as a problem
		examID := int64(0)
		if e, err := h.exams.GetLectureExam(r.Context(), req.LectureID); err == nil {
			examID = e.ID
		} else if !errors.Is(err, exam.ErrNoExam) {
			h.fail(w, r, err)
			return
		}
		f = authoring.New(h.exams, req.LectureID, examID)
	}

	h.mu.Lock()
	h.forms[f.ID()] = &formEntry{form: f}
	h.mu.Unlock()
	writeJSON(w, http.StatusCreated, formResponse{View: f.View(r.Context())})
}

func (h *Handler) handleGetForm(w http.ResponseWriter, r *http.Request) {
	h.withForm(w, r, func(*authoring.Form) (*Toast, error) { return nil, nil })
}

func (h *Handler) handleDropForm(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	delete(h.forms, chi.URLParam(r, "formID"))
	h.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePatchForm(w http.ResponseWriter, r *http.Request) {
	var p formPatch
	if err := decode(w, r, &p); err != nil {
		h.fail(w, r, err)
		return
	}
	h.withForm(w, r, func(f *authoring.Form) (*Toast, error) {
		if p.QuestionType != nil {
			qt, err := model.ParseQuestionType(string(*p.QuestionType))
			if err != nil {
				return nil, errors.Join(errBadRequest, err)
			}
			f.SetQuestionType(qt)
		}
		if p.Content != nil {
			f.SetContent(*p.Content)
		}
		if p.Score != nil {
			f.SetScore(*p.Score)
		}
		if p.CorrectByAssistant != nil {
			f.SetCorrectByAssistant(*p.CorrectByAssistant)
		}
		return nil, nil
	})
}

func (h *Handler) handleAnswerType(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AnswerType string `json:"answerType"`
	}
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	at, err := model.ParseAnswerType(req.AnswerType)
	if err != nil {
		h.fail(w, r, errors.Join(errBadRequest, err))
		return
	}
	h.withForm(w, r, func(f *authoring.Form) (*Toast, error) {
		return nil, f.SetAnswerType(r.Context(), at)
	})
}

func (h *Handler) handleAddOption(w http.ResponseWriter, r *http.Request) {
	var req optionRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.withForm(w, r, func(f *authoring.Form) (*Toast, error) {
		content, correct := "", false
		if req.Content != nil {
			content = *req.Content
		}
		if req.IsCorrect != nil {
			correct = *req.IsCorrect
		}
		_, err := f.AddOption(content, correct)
		return nil, err
	})
}

func (h *Handler) handlePatchOption(w http.ResponseWriter, r *http.Request) {
	var req optionRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	key := chi.URLParam(r, "key")
	h.withForm(w, r, func(f *authoring.Form) (*Toast, error) {
		if req.Content != nil {
			if err := f.UpdateOption(key, *req.Content); err != nil {
				return nil, err
			}
		}
		if req.IsCorrect != nil {
			return nil, f.SetCorrect(key, *req.IsCorrect)
		}
		return nil, nil
	})
}

func (h *Handler) handleRemoveOption(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	h.withForm(w, r, func(f *authoring.Form) (*Toast, error) {
		return nil, f.RemoveOption(key)
	})
}

func (h *Handler) handleHover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Zone authoring.Zone `json:"zone"`
	}
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.withForm(w, r, func(f *authoring.Form) (*Toast, error) {
		f.Hover(req.Zone)
		return nil, nil
	})
}

// handlePaste takes raw clipboard bytes as the body. A non-image paste is
// reported with accepted=false so the caller lets ordinary pasting happen.
func (h *Handler) handlePaste(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpload))
	if err != nil {
		h.fail(w, r, errors.Join(errBadRequest, err))
		return
	}
	e, err := h.lookupForm(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	e.mu.Lock()
	accepted := e.form.Paste(data)
	v := e.form.View(r.Context())
	e.mu.Unlock()
	writeJSON(w, http.StatusOK, struct {
		Accepted bool           `json:"accepted"`
		Form     authoring.View `json:"form"`
	}{accepted, v})
}

func (h *Handler) handleAttachImage(w http.ResponseWriter, r *http.Request) {
	file, err := formFile(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	zone := authoring.Zone(chi.URLParam(r, "zone"))
	if zone != authoring.ZoneQuestion && zone != authoring.ZoneAnswer {
		h.fail(w, r, errors.Join(errBadRequest, fmt.Errorf("unknown drop zone %q", zone)))
		return
	}
	h.withForm(w, r, func(f *authoring.Form) (*Toast, error) {
		return nil, f.AttachImage(zone, file.Name, file.Data)
	})
}

func (h *Handler) handleSaveForm(w http.ResponseWriter, r *http.Request) {
	e, err := h.lookupForm(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.form.Save(r.Context())
	if err != nil && !res.Orphaned {
		h.fail(w, r, err)
		return
	}
	kind := "success"
	if res.Orphaned || len(res.OptionErrors) > 0 {
		kind = "warning"
	}
	writeJSON(w, http.StatusOK, formResponse{
		View:  e.form.View(r.Context()),
		Toast: h.toast(res.Toast, kind),
		Save:  &res,
	})
}

func (h *Handler) handleDuplicate(w http.ResponseWriter, r *http.Request) {
	h.withForm(w, r, func(f *authoring.Form) (*Toast, error) {
		return nil, f.Duplicate()
	})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	h.withForm(w, r, func(f *authoring.Form) (*Toast, error) {
		f.Clear()
		return nil, nil
	})
}

// formFile reads the multipart "File" part.
func formFile(w http.ResponseWriter, r *http.Request) (*model.File, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		return nil, errors.Join(errBadRequest, err)
	}
	f, fh, err := r.FormFile("File")
	if err != nil {
		return nil, errors.Join(errBadRequest, fmt.Errorf("File is required: %w", err))
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.Join(errBadRequest, errors.New("File is empty"))
	}
	return &model.File{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data}, nil
}
