package utils

import (
	"encoding/json"
	"log"
	"net/http"
)

// ErrorBody 与 WebSocket 错误帧保持同样的字段名
type ErrorBody struct {
	Error string `json:"error"`
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[http] failed to encode response: %v", err)
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorBody{Error: message})
}

// NotFound is a JSON replacement for http.NotFound.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	RespondError(w, http.StatusNotFound, "not found")
}

// MethodNotAllowed is a JSON replacement for the router's default 405.
func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	RespondError(w, http.StatusMethodNotAllowed, "method not allowed")
}
