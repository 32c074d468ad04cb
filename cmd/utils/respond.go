package utils

import (
	"encoding/json"
	"net/http"
)

// Error codes surfaced in the `code` field of error responses.
const (
	CodeEmailExists  = "EMAIL_EXISTS"
	CodeNotVerified  = "NOT_VERIFIED"
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeTokenInvalid = "TOKEN_INVALID"
	CodeSlotTaken    = "SLOT_TAKEN"
)

// DecodeJSON decodes a request body into v.
func DecodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// WriteData writes a success envelope: {"ok":true,"data":...}.
func WriteData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":   true,
		"data": data,
	})
}

// WriteError writes the uniform error envelope {"ok":false,"error":...}.
// The message must already be safe for external callers.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":    false,
		"error": message,
	})
}

// WriteErrorCode is WriteError with a machine-readable code attached.
func WriteErrorCode(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":    false,
		"error": message,
		"code":  code,
	})
}
