package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"relaybot/internal/domain"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Status  int    `json:"status"`
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// respondError maps err's kind to a status code. Errors outside the domain
// taxonomy are reported as internal without their text.
func respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	detail := errorDetail{Status: status}

	var de *domain.Error
	if errors.As(err, &de) {
		detail.Type = string(de.Kind)
		detail.Message = de.Reason
		if de.Kind == domain.KindPersistence {
			detail.Message = "failed to store conversation"
		}
	} else {
		detail.Type = "INTERNAL_ERROR"
		detail.Message = http.StatusText(status)
	}
	respondJSON(w, status, errorBody{Error: detail})
}

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindPersistence:
		return http.StatusInternalServerError
	case domain.KindCompletion, domain.KindTransportUnavailable, domain.KindTransportProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
