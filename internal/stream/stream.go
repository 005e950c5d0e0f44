package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kossa56/Jamnik/internal/models"
	"github.com/kossa56/Jamnik/internal/status"
	"go.uber.org/zap"
)

// Capture открытый источник кадров. Read может блокироваться, пока нет данных.
type Capture interface {
	Read() (models.Frame, bool)
	Close() error
}

// Opener открывает поток с глубиной буфера 1
type Opener func(url string) (Capture, error)

// Handler получает каждый прочитанный кадр
type Handler func(frame models.Frame)

type Options struct {
	Tick         time.Duration
	StaleAfter   time.Duration
	OpenRetry    time.Duration
	ConfirmRetry time.Duration
	FPSWindow    time.Duration
}

func DefaultOptions() Options {
	return Options{
		Tick:         33 * time.Millisecond,
		StaleAfter:   3 * time.Second,
		OpenRetry:    500 * time.Millisecond,
		ConfirmRetry: time.Second,
		FPSWindow:    time.Second,
	}
}

// Source тянет кадры из потока с ограниченной частотой
type Source struct {
	open    Opener
	onFrame Handler
	sink    status.Sink
	logger  *zap.Logger
	opts    Options

	mu       sync.Mutex
	current  *run
	lastDone chan struct{}

	streaming atomic.Bool
	fps       atomic.Uint64
}

func New(open Opener, onFrame Handler, sink status.Sink, logger *zap.Logger, opts Options) *Source {
	done := make(chan struct{})
	close(done)
	return &Source{
		open:     open,
		onFrame:  onFrame,
		sink:     sink,
		logger:   logger.With(zap.String("component", "stream")),
		opts:     opts,
		lastDone: done,
	}
}

func (s *Source) Streaming() bool {
	return s.streaming.Load()
}

// Done закрывается, когда текущий поток остановлен и capture освобожден
func (s *Source) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDone
}

// FPS последнее измерение за окно
func (s *Source) FPS() float64 {
	return float64(s.fps.Load()) / 100
}

// Start блокируется на время подключения; ctx ограничивает только подключение
func (s *Source) Start(ctx context.Context, url string, connectTimeout time.Duration) bool {
	s.Stop()

	s.sink.Log("Connecting to stream: " + url)
	s.sink.Status("Connecting to stream...", status.Warning)

	capture, err := s.openWithRetry(ctx, url, connectTimeout)
	if err != nil {
		s.sink.Log("Cannot connect to stream: " + url)
		s.sink.Status("Stream connection error", status.Error)
		s.logger.Warn("open failed", zap.String("url", url), zap.Error(err))
		return false
	}
	s.sink.Log("Stream opened, checking data...")

	first, ok := capture.Read()
	if !ok {
		select {
		case <-ctx.Done():
		case <-time.After(s.opts.ConfirmRetry):
			first, ok = capture.Read()
		}
	}
	if !ok {
		capture.Close()
		s.sink.Log("Stream connected but not sending data")
		s.sink.Status("No data from stream", status.Error)
		return false
	}

	s.sink.Log("Video stream started")
	s.sink.Status("Stream active", status.Success)
	s.logger.Info("streaming", zap.String("url", url))

	r := newRun(s, capture)
	r.deliver(first)
	r.start()

	s.mu.Lock()
	s.current = r
	s.lastDone = r.done
	s.streaming.Store(true)
	s.mu.Unlock()
	return true
}

func (s *Source) openWithRetry(ctx context.Context, url string, timeout time.Duration) (Capture, error) {
	deadline := time.Now().Add(timeout)
	for {
		capture, err := s.open(url)
		if err == nil {
			return capture, nil
		}
		if time.Now().Add(s.opts.OpenRetry).After(deadline) {
			return nil, fmt.Errorf("open %s: %w", url, err)
		}
		s.sink.Log("Waiting for stream...")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.opts.OpenRetry):
		}
	}
}

// Stop идемпотентен; capture закрывается после выхода из текущего чтения
func (s *Source) Stop() {
	s.mu.Lock()
	r := s.current
	s.current = nil
	s.mu.Unlock()

	if r == nil {
		return
	}
	s.streaming.Store(false)
	s.fps.Store(0)
	r.stop()

	s.sink.Log("Video stream stopped")
	s.sink.Status("Stream stopped", status.Warning)
}

// stopRun останавливает r, только если он все еще текущий
func (s *Source) stopRun(r *run) {
	s.mu.Lock()
	current := s.current == r
	s.mu.Unlock()
	if current {
		s.Stop()
	}
}
