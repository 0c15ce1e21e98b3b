package server

import (
	"encoding/json"
	"net/http"

	apiv1 "github.com/wesleyemery/k8s-metrics-tables/api/v1"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, apiv1.ErrorResponse{Error: message, Code: status})
}
