package handler

import (
	"net/http"

	"domaindns/internal/database"
)

type SetupHandler struct {
	db *database.DB
}

func NewSetupHandler(db *database.DB) *SetupHandler {
	return &SetupHandler{db: db}
}

// Status reports whether first-run setup is still pending.
func (h *SetupHandler) Status(w http.ResponseWriter, r *http.Request) {
	hasUsers, _ := h.db.HasUsers(r.Context())
	writeOK(w, map[string]bool{"setup_required": !hasUsers})
}

// Submit creates the first admin account. Returns 404 once any user exists
// so the endpoint disappears after setup.
func (h *SetupHandler) Submit(w http.ResponseWriter, r *http.Request) {
	hasUsers, _ := h.db.HasUsers(r.Context())
	if hasUsers {
		http.NotFound(w, r)
		return
	}

	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if !usernameRe.MatchString(req.Username) {
		writeError(w, http.StatusBadRequest, "username must be 3-32 characters: letters, digits, _ or -")
		return
	}
	if len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	id, err := h.db.CreateUser(r.Context(), req.Username, req.Email, req.Password, "admin")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	writeOK(w, map[string]interface{}{"id": id, "username": req.Username})
}

// RequireSetupComplete blocks the API until the first admin exists.
func RequireSetupComplete(db *database.DB, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasUsers, _ := db.HasUsers(r.Context())
		if !hasUsers {
			writeError(w, http.StatusServiceUnavailable, "setup required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
