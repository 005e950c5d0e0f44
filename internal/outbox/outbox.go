package outbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kossa56/Jamnik/internal/models"
	"go.uber.org/zap"
)

const DefaultLimit = 1024

type Sender interface {
	SendEvent(event models.Event) error
}

// Outbox копит события без блокировки отправителя и сливает их в Kafka по таймеру
type Outbox struct {
	sender Sender
	logger *zap.Logger
	limit  int

	mu      sync.Mutex
	pending []models.Event
	dropped atomic.Uint64
	sent    atomic.Uint64
}

func New(sender Sender, logger *zap.Logger, limit int) *Outbox {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Outbox{
		sender: sender,
		logger: logger.With(zap.String("component", "outbox")),
		limit:  limit,
	}
}

// Publish ставит событие в очередь; false если очередь полна и событие выброшено
func (o *Outbox) Publish(event models.Event) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.pending) >= o.limit {
		o.dropped.Add(1)
		return false
	}
	o.pending = append(o.pending, event)
	return true
}

func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

func (o *Outbox) Dropped() uint64 { return o.dropped.Load() }
func (o *Outbox) Sent() uint64    { return o.sent.Load() }

// Start сливает очередь каждые interval до отмены ctx, затем делает последнюю попытку
func (o *Outbox) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.Flush()
			o.logger.Info("outbox dispatcher stopped", zap.Int("pending", o.Pending()), zap.Uint64("dropped", o.Dropped()))
			return
		case <-ticker.C:
			o.Flush()
		}
	}
}

// Flush отправляет накопленное по порядку; на первой ошибке остаток возвращается в начало очереди
func (o *Outbox) Flush() int {
	o.mu.Lock()
	batch := o.pending
	o.pending = nil
	o.mu.Unlock()

	for i, event := range batch {
		if err := o.sender.SendEvent(event); err != nil {
			o.logger.Warn("failed to send event", zap.String("id", event.ID), zap.Error(err))
			o.requeue(batch[i:])
			return i
		}
		o.sent.Add(1)
	}
	return len(batch)
}

func (o *Outbox) requeue(rest []models.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	merged := append(append([]models.Event(nil), rest...), o.pending...)
	if over := len(merged) - o.limit; over > 0 {
		merged = merged[over:]
		o.dropped.Add(uint64(over))
	}
	o.pending = merged
}
