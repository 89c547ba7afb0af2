package handler

import (
	"net/http"

	"domaindns/internal/database"
)

type ZoneHandler struct {
	db *database.DB
}

func NewZoneHandler(db *database.DB) *ZoneHandler {
	return &ZoneHandler{db: db}
}

// List returns the zones currently open for subdomain claims.
func (h *ZoneHandler) List(w http.ResponseWriter, r *http.Request) {
	zones, err := h.db.ListZones(r.Context(), true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	type zoneView struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	out := make([]zoneView, 0, len(zones))
	for _, z := range zones {
		out = append(out, zoneView{ID: z.ID, Name: z.Name})
	}
	writeOK(w, out)
}
