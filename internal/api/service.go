package api

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/kossa56/Jamnik/internal/detector"
	"github.com/kossa56/Jamnik/internal/models"
	"github.com/kossa56/Jamnik/internal/remote"
	"github.com/kossa56/Jamnik/internal/runner"
	"github.com/kossa56/Jamnik/internal/status"
	"go.uber.org/zap"
)

// Service операции сеанса, которые видит оператор
type Service interface {
	Connect(ctx context.Context, target remote.Target) error
	Disconnect()
	Manual(ctx context.Context, action string) error
	StartAutoTracking() bool
	StopAutoTracking()
	ConfigureTracking(className *string, confidence *float64) detector.Settings
	Status() runner.Snapshot
	LatestFrameJPEG() ([]byte, error)
	SessionID() string
}

// LogFeed журнал оператора
type LogFeed interface {
	Current() status.Entry
	Follow(buffer int) ([]status.Entry, <-chan status.Entry, func())
}

// History необязательный журнал команд
type History interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]models.DispatchRecord, error)
}

type Handlers struct {
	svc      Service
	feed     LogFeed
	history  History
	defaults remote.Target
	logger   *zap.Logger
}

func NewHandlers(svc Service, feed LogFeed, history History, defaults remote.Target, logger *zap.Logger) *Handlers {
	return &Handlers{
		svc:      svc,
		feed:     feed,
		history:  history,
		defaults: defaults,
		logger:   logger.With(zap.String("component", "api")),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
