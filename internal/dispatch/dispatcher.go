package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kossa56/Jamnik/internal/models"
	"github.com/kossa56/Jamnik/internal/status"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type Executor interface {
	Connected() bool
	Execute(ctx context.Context, command string, timeout time.Duration) (string, error)
}

// Observer узнает о каждой попытке отправки (журнал, outbox)
type Observer interface {
	Dispatched(ctx context.Context, rec models.DispatchRecord)
}

type ObserverFunc func(ctx context.Context, rec models.DispatchRecord)

func (f ObserverFunc) Dispatched(ctx context.Context, rec models.DispatchRecord) {
	f(ctx, rec)
}

// Dispatcher общий путь ручных и автоматических команд; ошибки только в журнал
type Dispatcher struct {
	exec      Executor
	strategy  Strategy
	sink      status.Sink
	logger    *zap.Logger
	timeout   time.Duration
	observers []Observer
}

func New(exec Executor, strategy Strategy, sink status.Sink, logger *zap.Logger, timeout time.Duration, observers ...Observer) *Dispatcher {
	return &Dispatcher{
		exec:      exec,
		strategy:  strategy,
		sink:      sink,
		logger:    logger.With(zap.String("component", "dispatch"), zap.String("scheme", strategy.Name())),
		timeout:   timeout,
		observers: observers,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, order models.Order) {
	arg := d.strategy.Argument(order)
	rec := models.DispatchRecord{
		ID:        uuid.New().String(),
		Order:     order,
		Argument:  arg,
		CreatedAt: time.Now().UTC(),
	}
	defer d.notify(ctx, &rec)

	if d.exec == nil || !d.exec.Connected() {
		rec.Simulated = true
		d.sink.Log("[SIMULATION] Pan-Tilt: " + arg)
		return
	}

	rec.Invocation = d.strategy.Invocation(order)
	out, err := d.exec.Execute(ctx, rec.Invocation, d.timeout)
	if err != nil {
		rec.Error = err.Error()
		d.sink.Log(fmt.Sprintf("Pan-Tilt command error: %v", err))
		d.logger.Warn("dispatch failed", zap.Stringer("order", order), zap.Error(err))
		return
	}
	rec.Output = out

	if line, ok := lastLine(out); ok {
		d.sink.Log("RPi: " + line)
	} else {
		d.sink.Log("Executed: " + arg)
	}
	d.logger.Debug("dispatched", zap.Stringer("order", order), zap.String("invocation", rec.Invocation))
}

func (d *Dispatcher) notify(ctx context.Context, rec *models.DispatchRecord) {
	for _, o := range d.observers {
		o.Dispatched(ctx, *rec)
	}
}

func lastLine(out string) (string, bool) {
	lines := lo.Compact(lo.Map(strings.Split(out, "\n"), func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
	if len(lines) == 0 {
		return "", false
	}
	return lines[len(lines)-1], true
}
