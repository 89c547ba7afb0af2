package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"domaindns/internal/service"
)

// apiResponse is the envelope every endpoint returns. Code 0 means success,
// 1 means failure; Message carries the human-readable outcome.
type apiResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, apiResponse{Code: 0, Message: "ok", Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiResponse{Code: 1, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, body apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeServiceError maps service-layer errors onto HTTP statuses. Unknown
// errors surface as 500 with a generic message so internals stay internal.
func writeServiceError(w http.ResponseWriter, err error) {
	var provErr *service.ProviderError
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrZoneUnavailable):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, service.ErrInvalidRecord):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrDuplicateClaim), errors.Is(err, service.ErrNameTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrCardUnavailable),
		errors.Is(err, service.ErrCardRedeemed),
		errors.Is(err, service.ErrInviteInvalid),
		errors.Is(err, service.ErrAlreadyInvited),
		errors.Is(err, service.ErrSelfInvite):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &provErr):
		writeError(w, http.StatusBadGateway, provErr.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
