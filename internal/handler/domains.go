package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"domaindns/internal/auth"
	"domaindns/internal/database"
	"domaindns/internal/model"
	"domaindns/internal/service"
	"domaindns/internal/util"
)

type DomainHandler struct {
	domains    *service.DomainService
	sessionMgr *auth.SessionManager
	db         *database.DB
}

func NewDomainHandler(domains *service.DomainService, sm *auth.SessionManager, db *database.DB) *DomainHandler {
	return &DomainHandler{domains: domains, sessionMgr: sm, db: db}
}

// Claim provisions a subdomain for the calling user, debiting their points.
func (h *DomainHandler) Claim(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessionMgr.GetUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		Zone   string `json:"zone"`
		Prefix string `json:"prefix"`
		Type   string `json:"type"`
		Value  string `json:"value"`
		TTL    *int   `json:"ttl"`
		Remark string `json:"remark"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := h.domains.Claim(r.Context(), user.ID, req.Zone, req.Prefix, req.Type, req.Value, req.TTL, req.Remark)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	ud, _ := h.domains.Get(r.Context(), user.ID, id)
	var zoneID *int64
	fullDomain := req.Prefix
	if ud != nil {
		zoneID = &ud.ZoneID
		fullDomain = ud.FullDomain
	}
	_ = h.db.LogAudit(r.Context(), model.AuditEntry{
		Username:   user.Username,
		Action:     "claim_domain",
		ZoneID:     zoneID,
		RecordName: fullDomain,
		RecordType: req.Type,
		Detail:     fmt.Sprintf("value=%s", req.Value),
		IPAddress:  util.GetClientIP(r),
	})

	writeOK(w, map[string]interface{}{"id": id, "full_domain": fullDomain})
}

func (h *DomainHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessionMgr.GetUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	page, size := parsePage(r)
	list, total, err := h.domains.ListOwnerships(r.Context(), user.ID, page, size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeOK(w, map[string]interface{}{"items": list, "total": total, "page": page, "size": size})
}

func (h *DomainHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessionMgr.GetUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid domain id")
		return
	}

	var req struct {
		Type   string `json:"type"`
		Value  string `json:"value"`
		TTL    *int   `json:"ttl"`
		Remark string `json:"remark"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.domains.UpdateRecord(r.Context(), user.ID, id, req.Type, req.Value, req.TTL, req.Remark); err != nil {
		writeServiceError(w, err)
		return
	}

	ud, _ := h.domains.Get(r.Context(), user.ID, id)
	var zoneID *int64
	recordName := ""
	if ud != nil {
		zoneID = &ud.ZoneID
		recordName = ud.FullDomain
	}
	_ = h.db.LogAudit(r.Context(), model.AuditEntry{
		Username:   user.Username,
		Action:     "update_domain",
		ZoneID:     zoneID,
		RecordName: recordName,
		RecordType: req.Type,
		Detail:     fmt.Sprintf("value=%s", req.Value),
		IPAddress:  util.GetClientIP(r),
	})

	writeOK(w, nil)
}

func (h *DomainHandler) Release(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessionMgr.GetUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid domain id")
		return
	}

	// Captured before the release deletes the row.
	ud, _ := h.domains.Get(r.Context(), user.ID, id)

	if err := h.domains.Release(r.Context(), user.ID, id); err != nil {
		writeServiceError(w, err)
		return
	}

	var zoneID *int64
	recordName := ""
	if ud != nil {
		zoneID = &ud.ZoneID
		recordName = ud.FullDomain
	}
	_ = h.db.LogAudit(r.Context(), model.AuditEntry{
		Username:   user.Username,
		Action:     "release_domain",
		ZoneID:     zoneID,
		RecordName: recordName,
		IPAddress:  util.GetClientIP(r),
	})

	writeOK(w, nil)
}

func parsePage(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 10
	}
	return page, size
}
