package watchdog

import (
	"context"
	"sync/atomic"
	"time"
)

// Watchdog следит за тем, что источник регулярно подает признаки жизни
type Watchdog struct {
	timeout time.Duration
	last    atomic.Int64
	now     func() time.Time
}

func New(timeout time.Duration) *Watchdog {
	w := &Watchdog{
		timeout: timeout,
		now:     time.Now,
	}
	w.Feed()
	return w
}

// Feed отмечает успешное событие
func (w *Watchdog) Feed() {
	w.last.Store(w.now().UnixNano())
}

// Since время с последнего Feed
func (w *Watchdog) Since() time.Duration {
	return w.now().Sub(time.Unix(0, w.last.Load()))
}

// Expired строго больше timeout, ровно timeout еще не просрочка
func (w *Watchdog) Expired() bool {
	return w.Since() > w.timeout
}

// Start проверяет просрочку каждые interval и один раз вызывает onExpired
func (w *Watchdog) Start(ctx context.Context, interval time.Duration, onExpired func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.Expired() {
				onExpired()
				return
			}
		}
	}
}
