// Package handler serves the desk JSON API: authoring forms, the grading
// workbench, exam mutations, submissions and dashboards. Submissions, the
// workbench and the dashboards are also rendered as HTML pages for clients
// that ask for text/html.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bosla-edu/desk/internal/api"
	"github.com/bosla-edu/desk/internal/authoring"
	"github.com/bosla-edu/desk/internal/dashboard"
	"github.com/bosla-edu/desk/internal/exam"
	"github.com/bosla-edu/desk/internal/grading"
	"github.com/bosla-edu/desk/internal/i18n"
	"github.com/bosla-edu/desk/internal/model"
	"github.com/bosla-edu/desk/internal/store"
)

// defaultToastDismiss is how long the front end shows a toast unless configured.
const defaultToastDismiss = 3 * time.Second

// maxUpload bounds multipart and paste bodies.
const maxUpload = 10 << 20

var errNotFound = errors.New("not found")

// formEntry guards one form; forms are not safe for concurrent use.
type formEntry struct {
	mu   sync.Mutex
	form *authoring.Form
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	exams     *exam.Service
	grading   *grading.Service
	dashboard *dashboard.Service
	config    model.DeskConfig

	mu      sync.Mutex
	forms   map[string]*formEntry
	benches map[int64]*grading.Workbench // by student exam result id
}

// New creates a new Handler.
func New(s *store.Store, ex *exam.Service, gr *grading.Service, dash *dashboard.Service, cfg model.DeskConfig) *Handler {
	if cfg.ToastDismiss <= 0 {
		cfg.ToastDismiss = defaultToastDismiss
	}
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	return &Handler{
		store:     s,
		exams:     ex,
		grading:   gr,
		dashboard: dash,
		config:    cfg,
		forms:     map[string]*formEntry{},
		benches:   map[int64]*grading.Workbench{},
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(i18n.Middleware(h.config.Lang))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", h.handleSessionStatus)
		r.Post("/session", h.handleLogin)
		r.Delete("/session", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(h.requireSession)

			r.Get("/lectures/{lectureID}/exam", h.handleGetExam)
			r.Get("/lectures/{lectureID}/submissions", h.handleSubmissions)
			r.Get("/lectures/{lectureID}/export", h.handleExport)
			r.Post("/exams", h.handleCreateExam)
			r.Put("/exams/{examID}", h.handleEditExam)
			r.Put("/exams/{examID}/visibility", h.handleVisibility)
			r.Delete("/exams/{examID}", h.handleDeleteExam)
			r.Post("/exams/{examID}/deadline-exceptions", h.handleDeadlineException)
			r.Delete("/questions/{questionID}", h.handleDeleteQuestion)
			r.Delete("/options/{optionID}", h.handleDeleteOption)

			r.Route("/forms", func(r chi.Router) {
				r.Post("/", h.handleNewForm)
				r.Route("/{formID}", func(r chi.Router) {
					r.Get("/", h.handleGetForm)
					r.Patch("/", h.handlePatchForm)
					r.Delete("/", h.handleDropForm)
					r.Put("/answer-type", h.handleAnswerType)
					r.Post("/options", h.handleAddOption)
					r.Patch("/options/{key}", h.handlePatchOption)
					r.Delete("/options/{key}", h.handleRemoveOption)
					r.Put("/hover", h.handleHover)
					r.Post("/paste", h.handlePaste)
					r.Post("/images/{zone}", h.handleAttachImage)
					r.Post("/save", h.handleSaveForm)
					r.Post("/duplicate", h.handleDuplicate)
					r.Post("/clear", h.handleClear)
				})
			})

			r.Route("/grading", func(r chi.Router) {
				r.Post("/", h.handleOpenGrading)
				r.Route("/{resultID}", func(r chi.Router) {
					r.Get("/", h.handleGetGrading)
					r.Delete("/", h.handleCloseGrading)
					r.Post("/navigate", h.handleNavigate)
					r.Put("/points", h.handlePoints)
					r.Put("/feedback", h.handleFeedback)
					r.Post("/suggest", h.handleSuggest)
					r.Put("/answers/{answerID}/image", h.handleReplaceImage)
					r.Post("/save", h.handleSaveGrades)
				})
			})

			r.Get("/dashboard/parent", h.handleParentDashboard)
			r.Get("/dashboard/teacher", h.handleTeacherDashboard)
		})
	})
}

// Toast is a transient message for the front end.
type Toast struct {
	Message        string `json:"message"`
	Kind           string `json:"kind"`
	DismissAfterMs int64  `json:"dismissAfterMs"`
}

func (h *Handler) toast(msg, kind string) *Toast {
	if msg == "" {
		return nil
	}
	return &Toast{Message: msg, Kind: kind, DismissAfterMs: h.config.ToastDismiss.Milliseconds()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// errorBody is the JSON rendering of a failed request.
type errorBody struct {
	Error    string                 `json:"error"`
	Problems []authoring.FieldError `json:"problems,omitempty"`
	Toast    *Toast                 `json:"toast,omitempty"`
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	status := http.StatusInternalServerError
	body := errorBody{Error: err.Error()}

	var verr *authoring.ValidationError
	var vs validator.ValidationErrors
	var apiErr *api.Error
	switch {
	case errors.As(err, &verr):
		status = http.StatusUnprocessableEntity
		body.Problems = verr.Fields
		if len(verr.Fields) > 0 {
			body.Error = verr.Fields[0].Message
		}
	case errors.As(err, &vs):
		status = http.StatusUnprocessableEntity
		for _, fe := range vs {
			body.Problems = append(body.Problems, authoring.FieldError{Field: fe.Field(), Code: fe.Tag(), Message: fe.Error()})
		}
	case errors.Is(err, api.ErrNoToken):
		status = http.StatusUnauthorized
	case errors.Is(err, errNotFound), errors.Is(err, exam.ErrNoExam), api.IsNotFound(err):
		status = http.StatusNotFound
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
		if apiErr.Status == http.StatusUnauthorized {
			status = http.StatusUnauthorized
		}
		body.Error = api.Message(err)
	case errors.Is(err, exam.ErrOptionsOrphaned), errors.Is(err, authoring.ErrOrphaned):
		status = http.StatusConflict
	case errors.Is(err, grading.ErrNoSuggester):
		status = http.StatusServiceUnavailable
	case errors.Is(err, authoring.ErrFixedOption), errors.Is(err, authoring.ErrUnknownOption),
		errors.Is(err, authoring.ErrNotSaved), errors.Is(err, authoring.ErrNotImage),
		errors.Is(err, grading.ErrOutOfRange), errors.Is(err, grading.ErrUnknownAnswer),
		errors.Is(err, grading.ErrNotEssay), errors.Is(err, model.ErrInvalidDeadline),
		errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	body.Toast = h.toast(i18n.Td(ctx, "ToastRequestFailed", map[string]any{"Message": body.Error}), "error")
	writeJSON(w, status, body)
}

var errBadRequest = errors.New("bad request")

// wantsHTML reports whether the client prefers a rendered page over JSON.
func wantsHTML(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		switch strings.TrimSpace(mt) {
		case "text/html":
			return true
		case "application/json":
			return false
		}
	}
	return false
}

func renderHTML(w http.ResponseWriter, r *http.Request, page templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Render(r.Context(), w); err != nil {
		slog.Error("failed to render page", "path", r.URL.Path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpload)).Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Join(errBadRequest, errors.New("invalid "+name))
	}
	return id, nil
}

// confirmed reports whether a destructive request carries ?confirm=true. If
// not, it answers 409 with a localized prompt.
func (h *Handler) confirmed(w http.ResponseWriter, r *http.Request) bool {
	if ok, _ := strconv.ParseBool(r.URL.Query().Get("confirm")); ok {
		return true
	}
	writeJSON(w, http.StatusConflict, errorBody{
		Error: "confirmation required",
		Toast: h.toast(i18n.T(r.Context(), "ToastConfirmDelete"), "warning"),
	})
	return false
}
