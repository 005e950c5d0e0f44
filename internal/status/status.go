package status

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type Severity string

const (
	Info    Severity = "info"
	Success Severity = "success"
	Warning Severity = "warning"
	Error   Severity = "error"
)

// Color цвет индикатора для оператора
func (s Severity) Color() string {
	switch s {
	case Success:
		return "#00ff88"
	case Warning:
		return "#ffaa00"
	case Error:
		return "#ff4444"
	default:
		return "#00d4ff"
	}
}

// Sink поверхность журнала и статуса, которую видит оператор
type Sink interface {
	Log(msg string)
	Status(msg string, severity Severity)
}

type Kind string

const (
	KindLog    Kind = "log"
	KindStatus Kind = "status"
)

type Entry struct {
	Kind     Kind      `json:"kind"`
	Message  string    `json:"message"`
	Severity Severity  `json:"severity,omitempty"`
	Color    string    `json:"color,omitempty"`
	Time     time.Time `json:"time"`
}

const historySize = 200

// Hub дублирует каждую строку в zap и раздает подписчикам (websocket)
type Hub struct {
	logger *zap.Logger

	mu      sync.Mutex
	history []Entry
	current Entry
	subs    map[chan Entry]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		current: Entry{Kind: KindStatus, Message: "Disconnected", Severity: Error, Color: Error.Color()},
		subs:    make(map[chan Entry]struct{}),
	}
}

func (h *Hub) Log(msg string) {
	h.logger.Info(msg, zap.String("kind", string(KindLog)))
	h.publish(Entry{Kind: KindLog, Message: msg, Time: time.Now()})
}

func (h *Hub) Status(msg string, severity Severity) {
	h.logger.Info(msg, zap.String("kind", string(KindStatus)), zap.String("severity", string(severity)))
	h.publish(Entry{Kind: KindStatus, Message: msg, Severity: severity, Color: severity.Color(), Time: time.Now()})
}

func (h *Hub) publish(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e.Kind == KindStatus {
		h.current = e
	}
	h.history = append(h.history, e)
	if len(h.history) > historySize {
		h.history = h.history[len(h.history)-historySize:]
	}

	for ch := range h.subs {
		// медленный подписчик теряет строки, но не тормозит источник
		select {
		case ch <- e:
		default:
		}
	}
}

// Current последний выставленный статус
func (h *Hub) Current() Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Recent копия последних записей журнала и статуса
func (h *Hub) Recent() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.history))
	copy(out, h.history)
	return out
}

// Subscribe возвращает канал новых записей и функцию отписки
func (h *Hub) Subscribe(buffer int) (<-chan Entry, func()) {
	_, ch, cancel := h.Follow(buffer)
	return ch, cancel
}

// Follow снимок истории и подписка под одной блокировкой: каждая запись попадает
// либо в снимок, либо в канал
func (h *Hub) Follow(buffer int) ([]Entry, <-chan Entry, func()) {
	ch := make(chan Entry, buffer)
	h.mu.Lock()
	history := make([]Entry, len(h.history))
	copy(history, h.history)
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return history, ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

type discard struct{}

func (discard) Log(string)              {}
func (discard) Status(string, Severity) {}

// Discard пустой Sink
var Discard Sink = discard{}
