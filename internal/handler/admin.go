package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"domaindns/internal/auth"
	"domaindns/internal/database"
	"domaindns/internal/model"
	"domaindns/internal/service"
	"domaindns/internal/util"
)

type AdminHandler struct {
	db         *database.DB
	sessionMgr *auth.SessionManager
	points     *service.PointsService
	records    *service.RecordService
}

func NewAdminHandler(db *database.DB, sm *auth.SessionManager, points *service.PointsService, records *service.RecordService) *AdminHandler {
	return &AdminHandler{db: db, sessionMgr: sm, points: points, records: records}
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, size := parsePage(r)
	users, total, err := h.db.ListUsers(r.Context(), size, (page-1)*size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeOK(w, map[string]interface{}{"items": users, "total": total, "page": page, "size": size})
}

func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
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
	if req.Role != "admin" && req.Role != "user" {
		writeError(w, http.StatusBadRequest, "role must be admin or user")
		return
	}

	id, err := h.db.CreateUser(r.Context(), req.Username, req.Email, req.Password, req.Role)
	if err != nil {
		writeError(w, http.StatusConflict, "failed to create user")
		return
	}

	h.audit(r, "admin_create_user", fmt.Sprintf("username=%s role=%s", req.Username, req.Role))
	writeOK(w, map[string]interface{}{"id": id})
}

func (h *AdminHandler) SetUserActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Active   bool   `json:"active"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.db.SetUserActive(r.Context(), req.Username, req.Active); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.audit(r, "admin_set_user_active", fmt.Sprintf("username=%s active=%t", req.Username, req.Active))
	writeOK(w, nil)
}

// AdjustPoints applies a signed operator adjustment to a user's balance.
func (h *AdminHandler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req struct {
		Delta  int    `json:"delta"`
		Remark string `json:"remark"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Delta == 0 {
		writeError(w, http.StatusBadRequest, "delta must be nonzero")
		return
	}

	balance, err := h.points.AdminAdjust(r.Context(), userID, req.Delta, req.Remark)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.audit(r, "admin_adjust_points", fmt.Sprintf("user=%d delta=%d", userID, req.Delta))
	writeOK(w, map[string]interface{}{"balance": balance})
}

func (h *AdminHandler) GrantVerificationReward(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := h.points.GrantVerificationReward(r.Context(), userID); err != nil {
		writeServiceError(w, err)
		return
	}

	h.audit(r, "admin_verify_reward", fmt.Sprintf("user=%d", userID))
	writeOK(w, nil)
}

func (h *AdminHandler) CreateCards(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count      int  `json:"count"`
		Points     int  `json:"points"`
		UsageLimit *int `json:"usage_limit"`
		ValidDays  *int `json:"valid_days"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	cards, err := h.points.CreateCards(r.Context(), req.Count, req.Points, req.UsageLimit, req.ValidDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.audit(r, "admin_create_cards", fmt.Sprintf("count=%d points=%d", req.Count, req.Points))
	writeOK(w, cards)
}

func (h *AdminHandler) ListCards(w http.ResponseWriter, r *http.Request) {
	page, size := parsePage(r)
	cards, total, err := h.points.ListCards(r.Context(), page, size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeOK(w, map[string]interface{}{"items": cards, "total": total, "page": page, "size": size})
}

func (h *AdminHandler) ListZones(w http.ResponseWriter, r *http.Request) {
	zones, err := h.db.ListZones(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeOK(w, zones)
}

func (h *AdminHandler) CreateZone(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProviderZoneID string `json:"provider_zone_id"`
		Name           string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Name = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(req.Name)), ".")
	if req.Name == "" || req.ProviderZoneID == "" {
		writeError(w, http.StatusBadRequest, "provider_zone_id and name are required")
		return
	}

	id, err := h.db.CreateZone(r.Context(), req.ProviderZoneID, req.Name)
	if err != nil {
		writeError(w, http.StatusConflict, "failed to create zone")
		return
	}

	h.audit(r, "admin_create_zone", fmt.Sprintf("zone=%s", req.Name))
	writeOK(w, map[string]interface{}{"id": id})
}

func (h *AdminHandler) SetZoneEnabled(w http.ResponseWriter, r *http.Request) {
	zoneID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid zone id")
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.db.SetZoneEnabled(r.Context(), zoneID, req.Enabled); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.audit(r, "admin_set_zone_enabled", fmt.Sprintf("zone=%d enabled=%t", zoneID, req.Enabled))
	writeOK(w, nil)
}

// ResyncZone reconciles the local mirror with the provider's records.
func (h *AdminHandler) ResyncZone(w http.ResponseWriter, r *http.Request) {
	zoneID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid zone id")
		return
	}

	zone, err := h.db.GetZone(r.Context(), zoneID)
	if err != nil || zone == nil {
		writeError(w, http.StatusNotFound, "zone not found")
		return
	}

	if err := h.records.ResyncZone(r.Context(), zone); err != nil {
		writeServiceError(w, err)
		return
	}

	h.audit(r, "admin_resync_zone", fmt.Sprintf("zone=%s", zone.Name))
	writeOK(w, nil)
}

func (h *AdminHandler) ListZoneRecords(w http.ResponseWriter, r *http.Request) {
	zoneID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid zone id")
		return
	}

	records, err := h.db.ListRecordsByZone(r.Context(), zoneID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeOK(w, records)
}

func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.db.AllSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	delete(settings, "session_secret")
	writeOK(w, settings)
}

func (h *AdminHandler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Key == "" || req.Key == "session_secret" {
		writeError(w, http.StatusBadRequest, "invalid setting key")
		return
	}

	if err := h.db.SetSetting(r.Context(), req.Key, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.audit(r, "admin_update_setting", fmt.Sprintf("key=%s value=%s", req.Key, req.Value))
	writeOK(w, nil)
}

func (h *AdminHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	page, size := parsePage(r)
	entries, total, err := h.db.ListAuditLog(r.Context(), size, (page-1)*size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeOK(w, map[string]interface{}{"items": entries, "total": total, "page": page, "size": size})
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeOK(w, stats)
}

func (h *AdminHandler) audit(r *http.Request, action, detail string) {
	username, _ := h.sessionMgr.GetUsername(r)
	_ = h.db.LogAudit(r.Context(), model.AuditEntry{
		Username:  username,
		Action:    action,
		Detail:    detail,
		IPAddress: util.GetClientIP(r),
	})
}
