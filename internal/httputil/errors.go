package httputil

import (
	"encoding/json"
	"net/http"
)

// APIError matches the Anthropic error response format.
type APIError struct {
	Type      string       `json:"type"`
	Error     APIErrorBody `json:"error"`
	RequestID string       `json:"request_id,omitempty"`
}

type APIErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func WriteError(w http.ResponseWriter, requestID string, statusCode int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIError{
		Type: "error",
		Error: APIErrorBody{
			Type:    errType,
			Message: message,
		},
		RequestID: requestID,
	})
}

func WriteAuthError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusUnauthorized, "authentication_error", message)
}

func WriteBadRequestError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusBadRequest, "invalid_request_error", message)
}

func WriteNotFoundError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusNotFound, "not_found_error", message)
}

func WriteConfigError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusUnprocessableEntity, "config_error", message)
}

func WriteInternalError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusInternalServerError, "api_error", message)
}

func WriteUpstreamError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusBadGateway, "upstream_error", message)
}

func WriteNoProviderError(w http.ResponseWriter, requestID string) {
	WriteError(w, requestID, http.StatusServiceUnavailable, "no_provider_selected", "No provider selected")
}

// WriteJSON writes v as a JSON response body.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
