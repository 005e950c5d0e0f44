package tracking

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kossa56/Jamnik/internal/models"
	"github.com/kossa56/Jamnik/internal/schedule"
	"github.com/kossa56/Jamnik/internal/status"
	"go.uber.org/zap"
)

const DefaultInterval = 200 * time.Millisecond

type DetectionSource interface {
	LastDetection() (models.Detection, bool)
	Detecting() bool
}

type FrameGeometry interface {
	FrameSize() (width, height int)
}

type CommandSink interface {
	Dispatch(ctx context.Context, order models.Order)
}

// Controller раз в interval превращает последнюю детекцию в команду
type Controller struct {
	detections DetectionSource
	geometry   FrameGeometry
	commands   CommandSink
	sink       status.Sink
	logger     *zap.Logger

	interval time.Duration
	deadZone float64

	mu       sync.Mutex
	task     *schedule.Task
	inflight atomic.Bool
	issued   atomic.Uint64
	skipped  atomic.Uint64
}

func New(detections DetectionSource, geometry FrameGeometry, commands CommandSink, sink status.Sink, logger *zap.Logger, interval time.Duration, deadZone float64) *Controller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if deadZone <= 0 {
		deadZone = DefaultDeadZone
	}
	return &Controller{
		detections: detections,
		geometry:   geometry,
		commands:   commands,
		sink:       sink,
		logger:     logger.With(zap.String("component", "tracking")),
		interval:   interval,
		deadZone:   deadZone,
	}
}

// Start идемпотентен
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task != nil {
		return
	}
	c.task = schedule.Every(context.Background(), c.interval, c.tick)
	c.logger.Info("tracking loop started", zap.Duration("interval", c.interval))
}

// Stop идемпотентен; отменяет и отправку, которая еще в полете
func (c *Controller) Stop() {
	c.mu.Lock()
	task := c.task
	c.task = nil
	c.mu.Unlock()

	if task == nil {
		return
	}
	task.Stop()
	<-task.Done()
	c.logger.Info("tracking loop stopped",
		zap.Uint64("issued", c.issued.Load()), zap.Uint64("skipped", c.skipped.Load()))
}

func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.task != nil
}

// Issued сколько команд отдано на отправку
func (c *Controller) Issued() uint64 {
	return c.issued.Load()
}

func (c *Controller) tick(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			c.sink.Log(fmt.Sprintf("Tracking error: %v", p))
			c.logger.Error("tracking tick panicked", zap.Any("panic", p))
		}
	}()

	order, ok := c.next()
	if !ok {
		return
	}

	if !c.inflight.CompareAndSwap(false, true) {
		c.skipped.Add(1)
		c.logger.Debug("previous tracking command still in flight, skipping", zap.Stringer("order", order))
		return
	}
	c.issued.Add(1)

	go func() {
		defer c.inflight.Store(false)
		defer func() {
			if p := recover(); p != nil {
				c.logger.Error("tracking dispatch panicked", zap.Any("panic", p))
			}
		}()
		c.commands.Dispatch(ctx, order)
	}()
}

// next решение для текущего снимка детекции и размера кадра
func (c *Controller) next() (models.Order, bool) {
	if !c.detections.Detecting() {
		return models.Order{}, false
	}
	det, ok := c.detections.LastDetection()
	if !ok {
		return models.Order{}, false
	}
	w, h := c.geometry.FrameSize()
	cmd, ok := DecideWithDeadZone(det, w, h, c.deadZone)
	if !ok {
		return models.Order{}, false
	}
	return OrderFor(cmd), true
}
