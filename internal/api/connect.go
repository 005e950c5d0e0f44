package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/kossa56/Jamnik/internal/remote"
)

type connectRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// ConnectHandler подключение к плате; пустые поля берутся из конфига
func (h *Handlers) ConnectHandler(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	target := h.defaults
	if req.Host != "" {
		target.Host = req.Host
	}
	if req.Port != 0 {
		target.Port = req.Port
	}
	if req.User != "" {
		target.User = req.User
	}
	if req.Password != "" {
		target.Secret = req.Password
	}
	if target.Host == "" || target.User == "" || target.Port < 1 || target.Port > 65535 {
		writeError(w, http.StatusBadRequest, "host, user and a valid port are required")
		return
	}

	if err := h.svc.Connect(r.Context(), target); err != nil {
		code := http.StatusBadGateway
		switch {
		case errors.Is(err, remote.ErrAuth):
			code = http.StatusUnauthorized
		case errors.Is(err, remote.ErrUnreachable):
			code = http.StatusGatewayTimeout
		}
		writeError(w, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.svc.Status())
}

func (h *Handlers) DisconnectHandler(w http.ResponseWriter, _ *http.Request) {
	h.svc.Disconnect()
	writeJSON(w, http.StatusOK, h.svc.Status())
}
