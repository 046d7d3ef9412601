package middleware

import (
	"encoding/json"
	"net/http"

	"lendmigrate/services/migrated/api"
)

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: message, Code: code})
}
