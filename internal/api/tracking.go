package api

import (
	"net/http"

	"github.com/goccy/go-json"
)

func (h *Handlers) StartTrackingHandler(w http.ResponseWriter, _ *http.Request) {
	if !h.svc.StartAutoTracking() {
		writeError(w, http.StatusConflict, "auto tracking unavailable: detection model not loaded")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"auto_tracking": true})
}

func (h *Handlers) StopTrackingHandler(w http.ResponseWriter, _ *http.Request) {
	h.svc.StopAutoTracking()
	writeJSON(w, http.StatusOK, map[string]bool{"auto_tracking": false})
}

type trackingConfigRequest struct {
	Class      *string  `json:"class"`
	Confidence *float64 `json:"confidence"`
}

// TrackingConfigHandler класс цели и порог; порог обрезается до [0.1, 0.99]
func (h *Handlers) TrackingConfigHandler(w http.ResponseWriter, r *http.Request) {
	var req trackingConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	writeJSON(w, http.StatusOK, h.svc.ConfigureTracking(req.Class, req.Confidence))
}
