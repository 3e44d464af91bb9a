// Package api provides the REST surface around the presence subsystem.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mousti0113/class-social-media-sub003/internal/domain"
	"github.com/mousti0113/class-social-media-sub003/internal/identity"
	"github.com/mousti0113/class-social-media-sub003/internal/presence"
	"github.com/mousti0113/class-social-media-sub003/internal/store"
)

// Handler serves presence and directory queries over HTTP.
type Handler struct {
	repo store.Directory
	reg  *presence.Registry
}

// NewHandler creates a new Handler.
func NewHandler(repo store.Directory, reg *presence.Registry) *Handler {
	return &Handler{repo: repo, reg: reg}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes mounts the REST endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/presence/online", h.handleOnline)
	r.Get("/api/users", h.handleListUsers)
	r.Post("/api/users", h.handleCreateUser)
}

// handleOnline returns the authoritative online set.
func (h *Handler) handleOnline(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"onlineUserIds": h.reg.Online(),
	})
}

// handleListUsers returns one page of the user roster, keyed by the last
// user ID of the previous page.
func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	afterID := r.URL.Query().Get("after")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			Error(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}

	users, err := h.repo.ListUsers(r.Context(), afterID, limit)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	nextAfter := ""
	if len(users) == limit {
		nextAfter = users[len(users)-1].UserID
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"users":     users,
		"nextAfter": nextAfter,
	})
}

// handleCreateUser provisions a directory entry and a connect token. In the
// full application the identity service owns issuance; this endpoint lets
// the presence subsystem run standalone.
func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID   string `json:"user_id"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		Error(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if body.Username == "" {
		body.Username = body.UserID
	}

	now := time.Now()
	user := &domain.User{
		UserID:     body.UserID,
		Username:   body.Username,
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.repo.UpsertUser(r.Context(), user); err != nil {
		Error(w, http.StatusInternalServerError, "failed to save user")
		return
	}

	token, err := identity.GenerateToken()
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	if err := h.repo.SaveToken(r.Context(), body.UserID, token); err != nil {
		Error(w, http.StatusInternalServerError, "failed to save token")
		return
	}

	JSON(w, http.StatusCreated, map[string]string{
		"user_id": body.UserID,
		"token":   token,
	})
}
