package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kossa56/Jamnik/internal/models"
	"github.com/kossa56/Jamnik/internal/schedule"
	"github.com/kossa56/Jamnik/internal/status"
	"github.com/kossa56/Jamnik/internal/watchdog"
	"go.uber.org/zap"
)

// run один сеанс чтения от Start до Stop
type run struct {
	src     *Source
	capture Capture
	watch   *watchdog.Watchdog

	ctx    context.Context
	cancel context.CancelFunc
	task   *schedule.Task
	dogRun chan struct{}
	done   chan struct{}
	once   sync.Once

	seq           uint64
	width, height int
	windowStart   time.Time
	windowFrames  int
}

func newRun(s *Source, capture Capture) *run {
	ctx, cancel := context.WithCancel(context.Background())
	return &run{
		src:         s,
		capture:     capture,
		watch:       watchdog.New(s.opts.StaleAfter),
		ctx:         ctx,
		cancel:      cancel,
		dogRun:      make(chan struct{}),
		done:        make(chan struct{}),
		windowStart: time.Now(),
	}
}

func (r *run) start() {
	r.task = schedule.Every(r.ctx, r.src.opts.Tick, r.tick)
	go func() {
		defer close(r.dogRun)
		r.watch.Start(r.ctx, r.src.opts.Tick, r.interrupted)
	}()
}

func (r *run) stop() {
	r.once.Do(func() {
		r.cancel()
		go func() {
			if r.task != nil {
				<-r.task.Done()
			}
			<-r.dogRun
			if err := r.capture.Close(); err != nil {
				r.src.logger.Debug("close capture", zap.Error(err))
			}
			close(r.done)
		}()
	})
}

func (r *run) tick(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.src.sink.Log(fmt.Sprintf("Stream error: %v", p))
			r.src.logger.Error("read panicked", zap.Any("panic", p))
			r.src.stopRun(r)
		}
	}()

	frame, ok := r.capture.Read()
	if ctx.Err() != nil {
		return
	}
	if !ok {
		if r.watch.Expired() {
			r.interrupted()
		}
		return
	}
	r.watch.Feed()
	r.deliver(frame)
}

// interrupted вызывается и из тика, и из сторожа; остановка все равно одна
func (r *run) interrupted() {
	r.src.sink.Log("Stream interrupted - no data")
	r.src.sink.Status("Stream interrupted", status.Warning)
	r.src.logger.Warn("stream stale", zap.Duration("since_last_frame", r.watch.Since()))
	r.src.stopRun(r)
}

func (r *run) deliver(frame models.Frame) {
	r.seq++
	frame.Seq = r.seq
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = time.Now()
	}

	if frame.Width != r.width || frame.Height != r.height {
		r.width, r.height = frame.Width, frame.Height
		r.src.sink.Status(fmt.Sprintf("Image: %dx%d", r.width, r.height), status.Success)
	}

	r.windowFrames++
	if elapsed := time.Since(r.windowStart); elapsed >= r.src.opts.FPSWindow {
		fps := float64(r.windowFrames) / elapsed.Seconds()
		r.src.fps.Store(uint64(fps * 100))
		r.src.sink.Status(fmt.Sprintf("Stream: %.1f FPS", fps), status.Success)
		r.windowFrames = 0
		r.windowStart = time.Now()
	}

	if r.src.onFrame != nil {
		r.src.onFrame(frame)
	}
}
