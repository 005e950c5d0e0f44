package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/connect", h.ConnectHandler).Methods(http.MethodPost)
	r.HandleFunc("/disconnect", h.DisconnectHandler).Methods(http.MethodPost)
	r.HandleFunc("/control/{action}", h.ControlHandler).Methods(http.MethodPost)
	r.HandleFunc("/tracking/start", h.StartTrackingHandler).Methods(http.MethodPost)
	r.HandleFunc("/tracking/stop", h.StopTrackingHandler).Methods(http.MethodPost)
	r.HandleFunc("/tracking/config", h.TrackingConfigHandler).Methods(http.MethodPut)
	r.HandleFunc("/status", h.GetStatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/frame.jpg", h.FrameHandler).Methods(http.MethodGet)
	r.HandleFunc("/dispatches", h.DispatchesHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws/log", h.LogSocketHandler).Methods(http.MethodGet)

	return r
}

func (h *Handlers) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
