package handler

import (
	"fmt"
	"net/http"
	"regexp"

	"domaindns/internal/auth"
	"domaindns/internal/database"
	"domaindns/internal/model"
	"domaindns/internal/service"
	"domaindns/internal/util"
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,32}$`)

type AuthHandler struct {
	db         *database.DB
	sessionMgr *auth.SessionManager
	ldap       *auth.LDAPClient
	points     *service.PointsService
}

func NewAuthHandler(db *database.DB, sm *auth.SessionManager, ldap *auth.LDAPClient, points *service.PointsService) *AuthHandler {
	return &AuthHandler{db: db, sessionMgr: sm, ldap: ldap, points: points}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username   string `json:"username"`
		Email      string `json:"email"`
		Password   string `json:"password"`
		InviteCode string `json:"invite_code"`
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

	existing, err := h.db.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "username already taken")
		return
	}

	userID, err := h.db.CreateUser(r.Context(), req.Username, req.Email, req.Password, "user")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	if err := h.points.GrantSignupBonus(r.Context(), userID); err != nil {
		// The account exists; the missing bonus is recoverable by an
		// operator adjustment, so log and keep going.
		_ = h.db.LogAudit(r.Context(), model.AuditEntry{
			Username:  req.Username,
			Action:    "register_bonus_failed",
			Detail:    err.Error(),
			IPAddress: util.GetClientIP(r),
		})
	}

	if req.InviteCode != "" {
		if err := h.points.BindInviteCode(r.Context(), userID, req.InviteCode); err != nil {
			writeServiceError(w, err)
			return
		}
	}

	_ = h.db.LogAudit(r.Context(), model.AuditEntry{
		Username:  req.Username,
		Action:    "register",
		IPAddress: util.GetClientIP(r),
	})

	writeOK(w, map[string]interface{}{"id": userID, "username": req.Username})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	var user *model.User
	var authMethod string

	// Try LDAP first (if enabled)
	if h.ldap != nil {
		result, err := h.ldap.Authenticate(req.Username, req.Password)
		if err == nil && result != nil {
			role, allowed := h.ldap.ResolveRole(result.Groups)
			if !allowed {
				writeError(w, http.StatusForbidden, "access denied: not in an authorized group")
				return
			}

			// Auto-provision or update the directory-backed account
			_ = h.db.CreateLDAPUser(r.Context(), result.Username, result.Email, role)
			user, _ = h.db.GetUserByUsername(r.Context(), result.Username)
			authMethod = "ldap"
		}
	}

	// Local fallback. With LDAP enabled only local admins may bypass it.
	if user == nil {
		u, err := h.db.AuthenticateUser(r.Context(), req.Username, req.Password)
		if err == nil && u != nil {
			if h.ldap != nil && u.Role != "admin" {
				writeError(w, http.StatusForbidden, "local login is disabled, use LDAP credentials")
				return
			}
			user = u
			authMethod = "local"
		}
	}

	if user == nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if !user.Active {
		writeError(w, http.StatusForbidden, "account is disabled")
		return
	}

	csrfToken := h.sessionMgr.CreateSession(w, r, user.Username)

	_ = h.db.LogAudit(r.Context(), model.AuditEntry{
		Username:  user.Username,
		Action:    "login",
		Detail:    fmt.Sprintf("auth=%s", authMethod),
		IPAddress: util.GetClientIP(r),
	})

	writeOK(w, map[string]interface{}{
		"username":   user.Username,
		"role":       user.Role,
		"points":     user.Points,
		"csrf_token": csrfToken,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	username, _ := h.sessionMgr.GetUsername(r)

	h.sessionMgr.DestroySession(w, r)

	if username != "" {
		_ = h.db.LogAudit(r.Context(), model.AuditEntry{
			Username:  username,
			Action:    "logout",
			IPAddress: util.GetClientIP(r),
		})
	}

	writeOK(w, nil)
}

// Me returns the calling user's profile and balance.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessionMgr.GetUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeOK(w, map[string]interface{}{
		"id":          user.ID,
		"username":    user.Username,
		"email":       user.Email,
		"role":        user.Role,
		"points":      user.Points,
		"auth_source": user.AuthSource,
		"invite_code": user.InviteCode,
		"created_at":  user.CreatedAt,
	})
}
