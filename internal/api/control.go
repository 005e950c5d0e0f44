package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/kossa56/Jamnik/internal/runner"
)

// ControlHandler ручное управление: camera_left ... или клавиши Q, E, UP, DOWN, LEFT, RIGHT
func (h *Handlers) ControlHandler(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]

	if err := h.svc.Manual(r.Context(), action); err != nil {
		if errors.Is(err, runner.ErrUnknownAction) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"action": action})
}
