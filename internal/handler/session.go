package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bosla-edu/desk/internal/i18n"
)

// loginRequest stores an API bearer token for the desk.
type loginRequest struct {
	Token  string `json:"token"`
	APIURL string `json:"apiUrl"`
	TTL    string `json:"ttl"` // Go duration, empty keeps the token until logout
}

type sessionStatus struct {
	SignedIn  bool       `json:"signedIn"`
	APIURL    string     `json:"apiUrl,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Lang      string     `json:"lang"`
	RTL       bool       `json:"rtl"`
	// Suggestions reports whether essay grading suggestions are offered.
	Suggestions bool `json:"suggestions"`
}

// requireSession rejects requests while no API token is stored.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.store.Session(r.Context())
		if err != nil {
			slog.Error("failed to read api session", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "session unavailable"})
			return
		}
		if sess == nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "not signed in"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	lang := w.Header().Get("Content-Language")
	st := sessionStatus{Lang: lang, RTL: i18n.IsRTL(lang), Suggestions: h.config.SuggestionsOn}
	sess, err := h.store.Session(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if sess != nil {
		st.SignedIn = true
		st.APIURL = sess.APIURL
		st.ExpiresAt = sess.ExpiresAt
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.Token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(req.Token), "Bearer "))
	if req.Token == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "token is required"})
		return
	}
	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid ttl"})
			return
		}
		ttl = d
	}
	if err := h.store.SaveToken(r.Context(), req.Token, req.APIURL, ttl); err != nil {
		h.fail(w, r, err)
		return
	}
	if h.dashboard != nil {
		if err := h.dashboard.Invalidate(r.Context()); err != nil {
			slog.Warn("failed to drop cached dashboards", "error", err)
		}
	}
	slog.Info("api token stored", "api_url", req.APIURL, "ttl", ttl)
	h.handleSessionStatus(w, r)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if h.dashboard != nil {
		_ = h.dashboard.Invalidate(r.Context())
	}
	if err := h.store.Logout(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	h.mu.Lock()
	clear(h.forms)
	clear(h.benches)
	h.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}
