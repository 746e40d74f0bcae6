package apiserver

import (
	"encoding/json"
	"net/http"

	"github.com/vaultsync/vaultsync/internal/apierr"
)

// successEnvelope is the success body shape: {success: true, message, …}.
type successEnvelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// errorEnvelope is the error body shape: {error, message?, action?}.
type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Action  string `json:"action,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, data)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, successEnvelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{Error: http.StatusText(status), Message: message})
}

// writeAPIErr maps err via apierr.StatusCode and writes the corresponding
// error envelope.
func writeAPIErr(w http.ResponseWriter, err error) {
	writeError(w, apierr.StatusCode(err), err.Error())
}
