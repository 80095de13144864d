package handler

import (
	"net/http"

	"github.com/bosla-edu/desk/internal/exam"
	"github.com/bosla-edu/desk/internal/handler/views"
	"github.com/bosla-edu/desk/internal/i18n"
	"github.com/bosla-edu/desk/internal/model"
)

// examResponse is a lecture exam with its derived total.
type examResponse struct {
	*model.Exam
	MaxScore float64 `json:"maxScore"`
}

type mutationResponse struct {
	ID    int64  `json:"id,omitempty"`
	Toast *Toast `json:"toast,omitempty"`
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	lectureID, err := idParam(r, "lectureID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := h.exams.GetLectureExam(r.Context(), lectureID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, examResponse{Exam: e, MaxScore: e.MaxScore()})
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var req exam.ExamRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := h.exams.CreateExam(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mutationResponse{ID: id, Toast: h.toast(i18n.T(r.Context(), "ToastExamSaved"), "success")})
}

func (h *Handler) handleEditExam(w http.ResponseWriter, r *http.Request) {
	examID, err := idParam(r, "examID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req exam.ExamRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.ID = examID
	if err := h.exams.EditExam(r.Context(), req); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{ID: examID, Toast: h.toast(i18n.T(r.Context(), "ToastExamSaved"), "success")})
}

func (h *Handler) handleVisibility(w http.ResponseWriter, r *http.Request) {
	examID, err := idParam(r, "examID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		Visible bool `json:"visible"`
	}
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.exams.ChangeVisibility(r.Context(), examID, req.Visible); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{ID: examID, Toast: h.toast(i18n.T(r.Context(), "ToastVisibilityChanged"), "success")})
}

// deleteBy returns a handler deleting the entity named by param once confirmed.
func (h *Handler) deleteBy(param string, del func(r *http.Request, id int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, param)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if !h.confirmed(w, r) {
			return
		}
		if err := del(r, id); err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, mutationResponse{ID: id, Toast: h.toast(i18n.T(r.Context(), "ToastDeleted"), "success")})
	}
}

func (h *Handler) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	h.deleteBy("examID", func(r *http.Request, id int64) error {
		return h.exams.DeleteExam(r.Context(), id)
	})(w, r)
}

func (h *Handler) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	h.deleteBy("questionID", func(r *http.Request, id int64) error {
		return h.exams.DeleteQuestion(r.Context(), id)
	})(w, r)
}

func (h *Handler) handleDeleteOption(w http.ResponseWriter, r *http.Request) {
	h.deleteBy("optionID", func(r *http.Request, id int64) error {
		return h.exams.DeleteOption(r.Context(), id)
	})(w, r)
}

func (h *Handler) handleDeadlineException(w http.ResponseWriter, r *http.Request) {
	examID, err := idParam(r, "examID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req exam.DeadlineRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.ExamID = examID
	d, err := h.exams.CreateDeadlineException(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		model.DeadlineException
		Toast *Toast `json:"toast,omitempty"`
	}{d, h.toast(i18n.T(r.Context(), "ToastDeadlineException"), "success")})
}

// submissionRow is a submission with its localized pending label.
type submissionRow struct {
	model.Submission
	PendingLabel string `json:"pendingLabel"`
}

func (h *Handler) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	lectureID, err := idParam(r, "lectureID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	subs, err := h.grading.ListSubmissions(r.Context(), lectureID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if wantsHTML(r) {
		renderHTML(w, r, views.SubmissionsPage(lectureID, subs))
		return
	}
	rows := make([]submissionRow, 0, len(subs))
	for _, s := range subs {
		rows = append(rows, submissionRow{Submission: s, PendingLabel: i18n.Tp(r.Context(), "PendingAnswers", s.PendingAnswers)})
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	lectureID, err := idParam(r, "lectureID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.grading.Export(r.Context(), lectureID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleParentDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.dashboard.Parent(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if wantsHTML(r) {
		renderHTML(w, r, views.ParentDashboardPage(d))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) handleTeacherDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.dashboard.Teacher(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if wantsHTML(r) {
		renderHTML(w, r, views.TeacherDashboardPage(d))
		return
	}
	writeJSON(w, http.StatusOK, d)
}
