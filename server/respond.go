package server

import (
	// Go Internal Packages
	"encoding/json"
	"net/http"

	// Local Packages
	errors "kirana-ledger/errors"
)

type errorResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Fields  []errors.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(kind errors.Kind) int {
	switch kind {
	case errors.Invalid:
		return http.StatusBadRequest
	case errors.NotFound:
		return http.StatusNotFound
	case errors.Conflict, errors.ConcurrencyConflict:
		return http.StatusConflict
	case errors.TransientLedger:
		return http.StatusServiceUnavailable
	case errors.PermanentLedger:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	kind := errors.KindOf(err)
	resp := errorResponse{Error: kind.String(), Message: err.Error()}
	if kind == errors.Other || kind == errors.Internal {
		resp.Message = "internal error"
	}
	var verrs *errors.ValidationErrors
	if errors.As(err, &verrs) {
		resp.Fields = verrs.Fields()
	}
	writeJSON(w, statusFor(kind), resp)
}
