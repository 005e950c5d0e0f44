package api

import (
	"net/http"
	"strconv"

	"github.com/kossa56/Jamnik/internal/runner"
	"github.com/kossa56/Jamnik/internal/status"
)

type statusResponse struct {
	runner.Snapshot
	Status status.Entry `json:"status"`
}

func (h *Handlers) GetStatusHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Snapshot: h.svc.Status(),
		Status:   h.feed.Current(),
	})
}

// FrameHandler последний кадр (с разметкой, если идет детекция)
func (h *Handlers) FrameHandler(w http.ResponseWriter, _ *http.Request) {
	jpeg, err := h.svc.LatestFrameJPEG()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(jpeg)
}

// DispatchesHandler история команд текущего сеанса из журнала
func (h *Handlers) DispatchesHandler(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "command journal disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	session := r.URL.Query().Get("session")
	if session == "" {
		session = h.svc.SessionID()
	}

	records, err := h.history.Recent(r.Context(), session, limit)
	if err != nil {
		h.logger.Sugar().Warnf("Database error: %v", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, records)
}
