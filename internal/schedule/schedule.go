package schedule

import (
	"context"
	"sync"
	"time"
)

// Task периодическая задача с собственной ручкой остановки.
// Следующий запуск планируется только после завершения предыдущего, запуски не перекрываются.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Every запускает fn каждые interval, пока не отменен ctx или не вызван Stop
func Every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(t.done)

		timer := time.NewTimer(interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				fn(ctx)
				if ctx.Err() != nil {
					return
				}
				timer.Reset(interval)
			}
		}
	}()

	return t
}

// Stop отменяет задачу; true только для первого вызова
func (t *Task) Stop() bool {
	stopped := false
	t.once.Do(func() {
		t.cancel()
		stopped = true
	})
	return stopped
}

// Done закрывается, когда горутина задачи вышла
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait ждет завершения не дольше timeout
func (t *Task) Wait(timeout time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
