package runner

import (
	"github.com/kossa56/Jamnik/internal/detector"
	"github.com/kossa56/Jamnik/internal/models"
)

// Snapshot состояние сеанса для оператора
type Snapshot struct {
	SessionID     string            `json:"session_id,omitempty"`
	Host          string            `json:"host,omitempty"`
	Connected     bool              `json:"connected"`
	Streaming     bool              `json:"streaming"`
	FPS           float64           `json:"fps"`
	FrameWidth    int               `json:"frame_width"`
	FrameHeight   int               `json:"frame_height"`
	AutoTracking  bool              `json:"auto_tracking"`
	Tracking      detector.Settings `json:"tracking"`
	LastDetection *models.Detection `json:"last_detection,omitempty"`
	DetectionInfo string            `json:"detection_info"`
	Corrections   uint64            `json:"corrections"`
	Actions       []models.Action   `json:"actions"`
	Classes       []string          `json:"classes"`
}

func (r *Runner) Status() Snapshot {
	w, h := r.FrameSize()
	s := Snapshot{
		SessionID:     r.SessionID(),
		Connected:     r.remote.Connected(),
		Streaming:     r.source.Streaming(),
		FPS:           r.source.FPS(),
		FrameWidth:    w,
		FrameHeight:   h,
		AutoTracking:  r.AutoTracking(),
		Tracking:      r.engine.Settings(),
		DetectionInfo: r.engine.Info(),
		Corrections:   r.tracker.Issued(),
		Actions:       models.Actions(),
		Classes:       models.ClassNames(),
	}
	if t := r.target.Load(); t != nil {
		s.Host = t.Host
	}
	if d, ok := r.engine.LastDetection(); ok {
		s.LastDetection = &d
	}
	return s
}
