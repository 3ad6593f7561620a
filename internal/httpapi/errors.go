package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ringkv/ringkv/internal/ringerr"
)

// errorResponse is the JSON envelope for every non-2xx response.
type errorResponse struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Status: "error", ErrorCode: code, Message: message})
}

// writeErr maps a ringerr.Code to an HTTP status, per SPEC_FULL.md §7: 404
// for not_found, 500 for everything else. Partial success belongs in the
// body, not the status code.
func writeErr(w http.ResponseWriter, err error) {
	code := ringerr.CodeOf(err)
	status := http.StatusInternalServerError
	if code == ringerr.NotFound {
		status = http.StatusNotFound
	}
	writeError(w, status, code.String(), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
