package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bosla-edu/desk/internal/grading"
	"github.com/bosla-edu/desk/internal/handler/views"
	"github.com/bosla-edu/desk/internal/i18n"
	"github.com/bosla-edu/desk/internal/llm"
)

type openGradingRequest struct {
	ExamID    int64 `json:"examId"`
	StudentID int64 `json:"studentId"`
}

type navigateRequest struct {
	Action   string `json:"action"` // next, prev, jump or select
	Index    int    `json:"index"`
	AnswerID int64  `json:"answerId"`
}

type pointsRequest struct {
	Points *float64 `json:"points"`
	Preset string   `json:"preset"` // zero, half or full
}

type gradingResponse struct {
	grading.View
	Toast      *Toast           `json:"toast,omitempty"`
	Suggestion *llm.GradeResult `json:"suggestion,omitempty"`
	Preview    *grading.Preview `json:"preview,omitempty"`
}

func (h *Handler) bench(r *http.Request) (*grading.Workbench, error) {
	id, err := idParam(r, "resultID")
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.benches[id]
	if !ok {
		return nil, fmt.Errorf("grading session %d: %w", id, errNotFound)
	}
	return w, nil
}

// withBench runs fn on the workbench named in the URL and renders it. When
// persist is set the grades are written to the draft store afterwards.
func (h *Handler) withBench(w http.ResponseWriter, r *http.Request, persist bool, fn func(wb *grading.Workbench) error) {
	wb, err := h.bench(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := fn(wb); err != nil {
		h.fail(w, r, err)
		return
	}
	if persist {
		if err := h.grading.SaveDraft(r.Context(), wb); err != nil {
			slog.Warn("save grade draft failed", "result_id", wb.ResultID(), "error", err)
		}
	}
	writeJSON(w, http.StatusOK, gradingResponse{View: wb.View()})
}

func (h *Handler) handleOpenGrading(w http.ResponseWriter, r *http.Request) {
	var req openGradingRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.ExamID <= 0 || req.StudentID <= 0 {
		h.fail(w, r, errors.Join(errBadRequest, errors.New("examId and studentId are required")))
		return
	}
	wb, err := h.grading.Open(r.Context(), req.ExamID, req.StudentID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if wb.ResultID() == 0 {
		h.fail(w, r, fmt.Errorf("student %d has no result for exam %d: %w", req.StudentID, req.ExamID, errNotFound))
		return
	}
	h.mu.Lock()
	h.benches[wb.ResultID()] = wb
	h.mu.Unlock()
	writeJSON(w, http.StatusCreated, gradingResponse{View: wb.View()})
}

func (h *Handler) handleGetGrading(w http.ResponseWriter, r *http.Request) {
	if wantsHTML(r) {
		wb, err := h.bench(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		renderHTML(w, r, views.GradingPage(wb.View()))
		return
	}
	h.withBench(w, r, false, func(*grading.Workbench) error { return nil })
}

// handleCloseGrading forgets the workbench. Its draft stays in the store so
// reopening the same result picks up where grading stopped.
func (h *Handler) handleCloseGrading(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "resultID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.mu.Lock()
	wb, ok := h.benches[id]
	delete(h.benches, id)
	h.mu.Unlock()
	if ok {
		wb.WaitUploads()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.withBench(w, r, true, func(wb *grading.Workbench) error {
		switch req.Action {
		case "next":
			wb.Next()
		case "prev":
			wb.Prev()
		case "jump":
			return wb.Jump(req.Index)
		case "select":
			return wb.Select(req.AnswerID)
		default:
			return errors.Join(errBadRequest, fmt.Errorf("unknown action %q", req.Action))
		}
		return nil
	})
}

func (h *Handler) handlePoints(w http.ResponseWriter, r *http.Request) {
	var req pointsRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.withBench(w, r, true, func(wb *grading.Workbench) error {
		switch {
		case req.Points != nil:
			wb.SetPoints(*req.Points)
		case req.Preset == "zero":
			wb.Zero()
		case req.Preset == "half":
			wb.Half()
		case req.Preset == "full":
			wb.Full()
		default:
			return errors.Join(errBadRequest, errors.New("points or preset is required"))
		}
		return nil
	})
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Feedback string `json:"feedback"`
	}
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.withBench(w, r, true, func(wb *grading.Workbench) error {
		wb.SetFeedback(req.Feedback)
		return nil
	})
}

// handleSuggest asks the model for a grade of the current essay answer. The
// suggestion is returned alongside the view and never applied.
func (h *Handler) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModelAnswer string `json:"modelAnswer"`
	}
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	wb, err := h.bench(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.grading.Suggest(r.Context(), wb, req.ModelAnswer)
	if errors.Is(err, llm.ErrNoAnswer) {
		err = errors.Join(errBadRequest, err)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gradingResponse{View: wb.View(), Suggestion: res})
}

func (h *Handler) handleReplaceImage(w http.ResponseWriter, r *http.Request) {
	answerID, err := idParam(r, "answerID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	file, err := formFile(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	wb, err := h.bench(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.grading.ReplaceImage(r.Context(), wb, answerID, file)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, gradingResponse{
		View:    wb.View(),
		Preview: &p,
		Toast:   h.toast(i18n.T(r.Context(), "ToastImageReplaced"), "info"),
	})
}

func (h *Handler) handleSaveGrades(w http.ResponseWriter, r *http.Request) {
	wb, err := h.bench(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.grading.Save(r.Context(), wb); err != nil {
		h.fail(w, r, err)
		return
	}
	msg := i18n.Td(r.Context(), "ToastGradesSaved", map[string]any{"Name": wb.StudentName()})
	writeJSON(w, http.StatusOK, gradingResponse{View: wb.View(), Toast: h.toast(msg, "success")})
}
