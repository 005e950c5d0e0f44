package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kossa56/Jamnik/internal/config"
	"github.com/kossa56/Jamnik/internal/detector"
	"github.com/kossa56/Jamnik/internal/dispatch"
	"github.com/kossa56/Jamnik/internal/models"
	"github.com/kossa56/Jamnik/internal/remote"
	"github.com/kossa56/Jamnik/internal/status"
	"github.com/kossa56/Jamnik/internal/stream"
	"github.com/kossa56/Jamnik/internal/tracking"
	"go.uber.org/zap"
)

var (
	ErrStreamUnavailable = errors.New("video stream unavailable")
	ErrUnknownAction     = errors.New("unknown control action")
)

// Remote SSH канал, которым пользуется сеанс
type Remote interface {
	Connect(ctx context.Context, target remote.Target, timeout time.Duration) error
	Execute(ctx context.Context, command string, timeout time.Duration) (string, error)
	StartBackground(ctx context.Context, proc remote.Process) (*remote.Handle, error)
	Disconnect()
	Connected() bool
}

// Journal журнал сеансов и отправленных команд
type Journal interface {
	OpenSession(ctx context.Context, id, host string) error
	CloseSession(ctx context.Context, id string) error
	Record(ctx context.Context, rec models.DispatchRecord) error
}

type EventPublisher interface {
	Publish(event models.Event) bool
}

type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, sessionID string, seq uint64, jpeg []byte, detections []models.Detection) error
}

type Encoder func(frame models.Frame) ([]byte, error)

// Deps внешние части сеанса; необязательные могут быть nil
type Deps struct {
	Config    *config.Config
	Logger    *zap.Logger
	Sink      status.Sink
	Remote    Remote
	Opener    stream.Opener
	Loader    detector.Loader
	Annotator detector.Annotator
	Encoder   Encoder
	Strategy  dispatch.Strategy

	Journal   Journal
	Events    EventPublisher
	Snapshots SnapshotStore
}

// Runner сеанс управления платой: SSH, поток, детекция, слежение, команды
type Runner struct {
	cfg    *config.Config
	logger *zap.Logger
	sink   status.Sink

	remote     Remote
	source     *stream.Source
	engine     *detector.Engine
	tracker    *tracking.Controller
	dispatcher *dispatch.Dispatcher
	encode     Encoder

	journal   Journal
	events    EventPublisher
	snapshots SnapshotStore

	// mu сериализует Connect, Disconnect и переключение слежения
	mu      sync.Mutex
	session atomic.Pointer[string]
	target  atomic.Pointer[remote.Target]

	display      atomic.Pointer[models.Frame]
	frameSize    atomic.Uint64
	lastSnapshot atomic.Int64
	uploading    atomic.Bool
}

func New(d Deps) *Runner {
	r := &Runner{
		cfg:       d.Config,
		logger:    d.Logger.With(zap.String("component", "runner")),
		sink:      d.Sink,
		remote:    d.Remote,
		encode:    d.Encoder,
		journal:   d.Journal,
		events:    d.Events,
		snapshots: d.Snapshots,
	}

	streamOpts := stream.DefaultOptions()
	streamOpts.Tick = d.Config.Stream.Tick
	streamOpts.StaleAfter = d.Config.Stream.StaleAfter
	r.source = stream.New(d.Opener, r.handleFrame, d.Sink, d.Logger, streamOpts)

	detOpts := detector.DefaultOptions()
	detOpts.Confidence = d.Config.Detector.Confidence
	detOpts.TargetClass = d.Config.Detector.TargetClass
	r.engine = detector.New(d.Loader, d.Annotator, d.Sink, d.Logger, detOpts)

	r.dispatcher = dispatch.New(d.Remote, d.Strategy, d.Sink, d.Logger, d.Config.Remote.ExecTimeout,
		dispatch.ObserverFunc(r.dispatched))
	r.tracker = tracking.New(r.engine, r, r.dispatcher, d.Sink, d.Logger,
		d.Config.Tracking.Interval, d.Config.Tracking.DeadZone)

	return r
}

// LoadModel загружает модель детекции; ошибка только выключает автослежение
func (r *Runner) LoadModel() error {
	return r.engine.Load()
}

// Connect SSH, запуск rpicam-vid на плате, прогрев и подключение к потоку
func (r *Runner) Connect(ctx context.Context, target remote.Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sink.Status("Connecting to Raspberry Pi via SSH...", status.Warning)
	if err := r.remote.Connect(ctx, target, r.cfg.Remote.ConnectTimeout); err != nil {
		r.sink.Status("SSH connection error", status.Error)
		return fmt.Errorf("connect %s: %w", target.Addr(), err)
	}

	session := uuid.New().String()
	r.session.Store(&session)
	r.target.Store(&target)
	r.journalSession(func(ctx context.Context, j Journal) error { return j.OpenSession(ctx, session, target.Host) })
	r.publish(models.Event{Type: models.EventConnected})
	r.logger.Info("session opened", zap.String("session", session), zap.String("host", target.Host))

	r.sink.Status("Starting stream on Raspberry Pi...", status.Warning)
	if err := r.startRemoteStream(ctx); err != nil {
		r.sink.Log(fmt.Sprintf("Failed to start stream: %v", err))
	}

	r.sink.Status("Connecting to video stream...", status.Warning)
	url := r.cfg.StreamURL(target.Host)
	if !r.source.Start(ctx, url, r.cfg.Stream.ConnectTimeout) {
		return fmt.Errorf("%w: %s", ErrStreamUnavailable, url)
	}

	r.sink.Status("Connected - receiving stream", status.Success)
	return nil
}

func (r *Runner) startRemoteStream(ctx context.Context) error {
	command := r.cfg.StartCommand()
	r.sink.Log("Starting stream on Raspberry Pi...")
	r.sink.Log("Command: " + command)

	if binary := strings.Fields(command); len(binary) > 0 {
		out, err := r.remote.Execute(ctx, "which "+binary[0], r.cfg.Remote.ExecTimeout)
		if err != nil {
			return err
		}
		if strings.TrimSpace(out) == "" {
			r.sink.Log(fmt.Sprintf("Warning: %s not found on Raspberry Pi", binary[0]))
		}
	}

	if _, err := r.remote.StartBackground(ctx, remote.Process{
		Start: command,
		Stop:  r.cfg.Remote.StopStreamCommand,
	}); err != nil {
		return err
	}

	r.sink.Log(fmt.Sprintf("Waiting %s for stream warmup...", r.cfg.Stream.Warmup))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.cfg.Stream.Warmup):
	}
	r.sink.Log(fmt.Sprintf("Stream started on Raspberry Pi (port %d)", r.cfg.Stream.Port))
	return nil
}

// Disconnect идемпотентен
func (r *Runner) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasConnected := r.remote.Connected() || r.source.Streaming()
	r.stopAutoTracking()
	r.remote.Disconnect()
	r.source.Stop()
	r.display.Store(nil)
	r.frameSize.Store(0)

	if wasConnected {
		session := r.SessionID()
		r.journalSession(func(ctx context.Context, j Journal) error { return j.CloseSession(ctx, session) })
		r.publish(models.Event{Type: models.EventDisconnected})
		r.sink.Status("Disconnected from Raspberry Pi", status.Warning)
	}
}

// Manual ручная команда оператора; без SSH уходит в симуляцию
func (r *Runner) Manual(ctx context.Context, name string) error {
	action, ok := models.ParseAction(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	r.sink.Log("PAN-TILT: " + action.Label())
	r.dispatcher.Dispatch(ctx, action.Order())
	return nil
}

// StartAutoTracking включает детекцию и цикл слежения вместе; false если модель не загружена
func (r *Runner) StartAutoTracking() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tracker.Running() && r.engine.Detecting() {
		return true
	}
	if err := r.engine.Start(); err != nil {
		r.sink.Log(fmt.Sprintf("Cannot start tracking: %v", err))
		r.sink.Status("Tracking unavailable", status.Error)
		return false
	}
	r.tracker.Start()

	r.publish(models.Event{Type: models.EventTrackingStarted})
	r.sink.Status("Auto tracking active", status.Success)
	return true
}

func (r *Runner) StopAutoTracking() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopAutoTracking()
}

func (r *Runner) stopAutoTracking() {
	if !r.tracker.Running() && !r.engine.Detecting() {
		return
	}
	r.tracker.Stop()
	r.engine.Stop()
	r.publish(models.Event{Type: models.EventTrackingStopped})
	r.sink.Status("Auto tracking stopped", status.Info)
}

// AutoTracking один флаг для детекции и слежения
func (r *Runner) AutoTracking() bool {
	return r.tracker.Running() && r.engine.Detecting()
}

// ConfigureTracking меняет класс цели и/или порог уверенности
func (r *Runner) ConfigureTracking(className *string, confidence *float64) detector.Settings {
	if className != nil {
		r.engine.SetTargetClass(*className)
	}
	if confidence != nil {
		v := r.engine.SetConfidence(*confidence)
		r.sink.Log(fmt.Sprintf("Confidence threshold: %.2f", v))
	}
	return r.engine.Settings()
}

// FrameSize размер последнего кадра из потока
func (r *Runner) FrameSize() (int, int) {
	v := r.frameSize.Load()
	return int(v >> 32), int(v & 0xFFFFFFFF)
}

func (r *Runner) SessionID() string {
	if s := r.session.Load(); s != nil {
		return *s
	}
	return ""
}

// LatestFrame кадр для показа оператору
func (r *Runner) LatestFrame() (models.Frame, bool) {
	f := r.display.Load()
	if f == nil {
		return models.Frame{}, false
	}
	return *f, true
}

func (r *Runner) LatestFrameJPEG() ([]byte, error) {
	f, ok := r.LatestFrame()
	if !ok {
		return nil, ErrStreamUnavailable
	}
	if r.encode == nil {
		return nil, errors.New("no frame encoder configured")
	}
	return r.encode(f)
}

// Close завершение работы приложения
func (r *Runner) Close() error {
	r.Disconnect()
	return r.engine.Close()
}

func (r *Runner) handleFrame(frame models.Frame) {
	r.frameSize.Store(uint64(frame.Width)<<32 | uint64(uint32(frame.Height)))

	display, detections := r.engine.ProcessFrame(frame)
	r.display.Store(&display)

	if len(detections) > 0 {
		r.maybeSnapshot(display, detections)
	}
}

// maybeSnapshot не чаще Minio.Interval и не больше одной загрузки одновременно
func (r *Runner) maybeSnapshot(frame models.Frame, detections []models.Detection) {
	if r.snapshots == nil || r.encode == nil {
		return
	}
	now := time.Now().UnixNano()
	last := r.lastSnapshot.Load()
	if now-last < int64(r.cfg.Minio.Interval) {
		return
	}
	if !r.uploading.CompareAndSwap(false, true) {
		return
	}
	r.lastSnapshot.Store(now)

	session := r.SessionID()
	go func() {
		defer r.uploading.Store(false)

		jpeg, err := r.encode(frame)
		if err != nil {
			r.logger.Warn("encode snapshot", zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.snapshots.SaveSnapshot(ctx, session, frame.Seq, jpeg, detections); err != nil {
			r.logger.Warn("save snapshot", zap.String("session", session), zap.Error(err))
		}
	}()
}

func (r *Runner) dispatched(ctx context.Context, rec models.DispatchRecord) {
	rec.SessionID = r.SessionID()

	if r.journal != nil {
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		if err := r.journal.Record(jctx, rec); err != nil {
			r.logger.Warn("journal dispatch", zap.String("id", rec.ID), zap.Error(err))
		}
		cancel()
	}

	order := rec.Order
	r.publish(models.Event{Type: models.EventOrderDispatched, Order: &order, Simulated: rec.Simulated})
}

func (r *Runner) journalSession(fn func(ctx context.Context, j Journal) error) {
	if r.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fn(ctx, r.journal); err != nil {
		r.logger.Warn("journal session", zap.String("session", r.SessionID()), zap.Error(err))
	}
}

func (r *Runner) publish(event models.Event) {
	if r.events == nil {
		return
	}
	event.ID = uuid.New().String()
	event.SessionID = r.SessionID()
	event.TimeStamp = time.Now().UTC()
	if event.Type == models.EventOrderDispatched && event.Order != nil && event.Order.Source == models.SourceTracking {
		if d, ok := r.engine.LastDetection(); ok {
			event.Detection = &d
		}
	}
	if !r.events.Publish(event) {
		r.logger.Debug("event dropped", zap.String("type", string(event.Type)))
	}
}
