package handler

import (
	"fmt"
	"net/http"

	"domaindns/internal/auth"
	"domaindns/internal/database"
	"domaindns/internal/model"
	"domaindns/internal/service"
	"domaindns/internal/util"
)

type PointsHandler struct {
	points     *service.PointsService
	sessionMgr *auth.SessionManager
	db         *database.DB
}

func NewPointsHandler(points *service.PointsService, sm *auth.SessionManager, db *database.DB) *PointsHandler {
	return &PointsHandler{points: points, sessionMgr: sm, db: db}
}

// History returns one page of the calling user's ledger, newest first.
func (h *PointsHandler) History(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessionMgr.GetUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	page, size := parsePage(r)
	txns, total, err := h.points.ListTransactions(r.Context(), user.ID, page, size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeOK(w, map[string]interface{}{"items": txns, "total": total, "page": page, "size": size})
}

func (h *PointsHandler) RedeemCard(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessionMgr.GetUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	credited, balance, err := h.points.RedeemCard(r.Context(), user.ID, req.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	_ = h.db.LogAudit(r.Context(), model.AuditEntry{
		Username:  user.Username,
		Action:    "redeem_card",
		Detail:    fmt.Sprintf("points=%d", credited),
		IPAddress: util.GetClientIP(r),
	})

	writeOK(w, map[string]interface{}{"points": credited, "balance": balance})
}

// InviteCode returns the user's current invite code, if any.
func (h *PointsHandler) InviteCode(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessionMgr.GetUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeOK(w, map[string]string{"invite_code": user.InviteCode})
}

func (h *PointsHandler) GenerateInviteCode(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessionMgr.GetUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		MaxUses   *int `json:"max_uses"`
		ValidDays *int `json:"valid_days"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	invite, err := h.points.GenerateInviteCode(r.Context(), user.ID, req.MaxUses, req.ValidDays)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeOK(w, invite)
}

func (h *PointsHandler) BindInviteCode(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessionMgr.GetUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.points.BindInviteCode(r.Context(), user.ID, req.Code); err != nil {
		writeServiceError(w, err)
		return
	}

	_ = h.db.LogAudit(r.Context(), model.AuditEntry{
		Username:  user.Username,
		Action:    "bind_invite",
		IPAddress: util.GetClientIP(r),
	})

	writeOK(w, nil)
}
