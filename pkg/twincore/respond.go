package twincore

import (
	"net/http"

	"github.com/goccy/go-json"
)

// JSON writes v with the given status. A nil v writes no body.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Error writes {"detail": message}.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]any{"detail": message})
}

// ValidationIssue is one entry of a 422 detail list.
type ValidationIssue struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// ValidationError writes a 422 whose detail lists every invalid field.
func ValidationError(w http.ResponseWriter, issues []ValidationIssue) {
	JSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": issues})
}
