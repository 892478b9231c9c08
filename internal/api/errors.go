package api

import (
	"encoding/json"
	"net/http"

	"github.com/payment-ledger/internal/errors"
)

// ErrorBody is the wire shape of a structured rejection
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse wraps an error body
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// respondLedgerError maps a ledger error onto its HTTP status and machine code
func respondLedgerError(w http.ResponseWriter, err error) {
	message := err.Error()
	var details map[string]interface{}
	if pe, ok := errors.AsPaymentError(err); ok {
		message = pe.Message
		details = pe.Details
	}
	respondError(w, errors.HTTPStatusOf(err), errors.CodeOf(err), message, details)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses a JSON request body
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
