package openai

import (
	"encoding/json"
	"net/http"
)

// WriteError writes the standard error envelope with the given HTTP status.
func WriteError(w http.ResponseWriter, status int, detail ErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: detail})
}
