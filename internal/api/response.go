package api

import (
	"encoding/json"
	"net/http"
)

// writeJSON serializes data as the response body with the given status.
// Encoding failures are ignored; the status line is already on the wire.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError emits the {"error": <message>} shape shared by every failing
// handler.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
