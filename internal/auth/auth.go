package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"domaindns/internal/database"
	"domaindns/internal/model"
)

const (
	cookieName    = "domaindns_session"
	sessionMaxAge = 24 * time.Hour
)

type SessionManager struct {
	secret string
	db     *database.DB
}

func NewSessionManager(db *database.DB) (*SessionManager, error) {
	secret, err := db.EnsureSessionSecret(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to load session secret: %w", err)
	}
	return &SessionManager{secret: secret, db: db}, nil
}

func (sm *SessionManager) CreateSession(w http.ResponseWriter, r *http.Request, username string) string {
	token := generateToken()
	csrfToken := generateToken()
	signed := sm.sign(token)
	expiresAt := time.Now().Add(sessionMaxAge)

	_ = sm.db.CreateSession(r.Context(), signed, csrfToken, username, expiresAt)

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(sessionMaxAge.Seconds()),
	})
	return csrfToken
}

func (sm *SessionManager) DestroySession(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(cookieName)
	if err == nil {
		_ = sm.db.DeleteSession(r.Context(), cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:   cookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

func (sm *SessionManager) GetSessionInfo(r *http.Request) (string, string, bool) {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return "", "", false
	}
	username, csrfToken, expiresAt, err := sm.db.GetSession(r.Context(), cookie.Value)
	if err != nil || username == "" || time.Now().After(expiresAt) {
		return "", "", false
	}
	return username, csrfToken, true
}

func (sm *SessionManager) GetUsername(r *http.Request) (string, bool) {
	username, _, ok := sm.GetSessionInfo(r)
	return username, ok
}

// GetUser resolves the session to its full user row. Inactive accounts are
// treated as unauthenticated.
func (sm *SessionManager) GetUser(r *http.Request) (*model.User, bool) {
	username, ok := sm.GetUsername(r)
	if !ok {
		return nil, false
	}
	user, err := sm.db.GetUserByUsername(r.Context(), username)
	if err != nil || user == nil || !user.Active {
		return nil, false
	}
	return user, true
}

func (sm *SessionManager) ValidateCSRF(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodDelete || r.Method == http.MethodPatch {
			_, csrfToken, ok := sm.GetSessionInfo(r)
			if !ok {
				writeDenied(w, http.StatusForbidden, "no session")
				return
			}

			submitted := r.Header.Get("X-CSRF-Token")
			if submitted == "" {
				submitted = r.FormValue("csrf_token")
			}

			if submitted == "" || submitted != csrfToken {
				writeDenied(w, http.StatusForbidden, "invalid CSRF token")
				return
			}
		}
		next(w, r)
	}
}

func (sm *SessionManager) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := sm.GetUser(r); !ok {
			writeDenied(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r)
	}
}

func (sm *SessionManager) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := sm.GetUser(r)
		if !ok {
			writeDenied(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if user.Role != "admin" {
			writeDenied(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r)
	}
}

func writeDenied(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"code":1,"message":%q}`, msg)
}

func (sm *SessionManager) sign(token string) string {
	mac := hmac.New(sha256.New, []byte(sm.secret))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func generateToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
