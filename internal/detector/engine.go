package detector

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kossa56/Jamnik/internal/models"
	"github.com/kossa56/Jamnik/internal/status"
	"go.uber.org/zap"
)

var ErrModelNotLoaded = errors.New("detection model not loaded")

// Model возвращает сырых кандидатов для кадра
type Model interface {
	Detect(frame models.Frame) ([]models.Detection, error)
	Close() error
}

type Loader func() (Model, error)

// Annotator рисует найденное на копии кадра
type Annotator interface {
	Annotate(frame models.Frame, detections []models.Detection) models.Frame
}

type Result struct {
	Frame      models.Frame
	Detections []models.Detection
}

type Options struct {
	QueueSize   int
	JoinTimeout time.Duration
	Confidence  float64
	TargetClass string
}

func DefaultOptions() Options {
	return Options{
		QueueSize:   2,
		JoinTimeout: 2 * time.Second,
		Confidence:  0.5,
	}
}

// Settings снимок параметров слежения
type Settings struct {
	Detecting      bool    `json:"detecting"`
	Confidence     float64 `json:"confidence"`
	TargetClass    string  `json:"target_class,omitempty"`
	DetectionCount uint64  `json:"detection_count"`
	Model          string  `json:"model"`
}

type worker struct {
	frames  chan models.Frame
	results chan Result
	stop    chan struct{}
	done    chan struct{}
}

func newWorker(size int) *worker {
	return &worker{
		frames:  make(chan models.Frame, size),
		results: make(chan Result, size),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Engine одна фоновая горутина детекции с теряющими очередями на входе и выходе
type Engine struct {
	load      Loader
	annotator Annotator
	sink      status.Sink
	logger    *zap.Logger
	opts      Options

	mu         sync.Mutex
	model      Model
	modelState ModelState
	state      State
	w          *worker
	lingering  bool
	// prevDone закрывается, когда прошлая горутина детекции вышла
	prevDone <-chan struct{}

	filter atomic.Pointer[filter]
	last   atomic.Pointer[models.Detection]
	count  atomic.Uint64
}

func New(load Loader, annotator Annotator, sink status.Sink, logger *zap.Logger, opts Options) *Engine {
	e := &Engine{
		load:      load,
		annotator: annotator,
		sink:      sink,
		logger:    logger.With(zap.String("component", "detector")),
		opts:      opts,
	}
	e.filter.Store(&filter{threshold: ClampConfidence(opts.Confidence)})
	if opts.TargetClass != "" {
		e.SetTargetClass(opts.TargetClass)
	}
	return e
}

// Load загружает модель; при ошибке слежение недоступно до следующей успешной загрузки
func (e *Engine) Load() error {
	e.sink.Log("Loading detection model...")

	var (
		m   Model
		err error
	)
	if e.load == nil {
		err = errors.New("no model loader configured")
	} else {
		m, err = e.load()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.modelState = ModelLoadFailed
		e.sink.Log(fmt.Sprintf("Failed to load detection model: %v", err))
		e.logger.Error("model load failed", zap.Error(err))
		return fmt.Errorf("load model: %w", err)
	}
	if e.model != nil && e.w == nil && !e.lingering {
		e.model.Close()
	}
	e.model = m
	e.modelState = ModelLoaded
	e.sink.Log("Detection model loaded")
	return nil
}

func (e *Engine) ModelState() ModelState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modelState
}

func (e *Engine) Detecting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateDetecting
}

// Start запускает ровно одну горутину детекции; очереди каждый раз новые
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.modelState != ModelLoaded {
		e.sink.Log("Error: detection model not loaded")
		return ErrModelNotLoaded
	}
	if e.state == StateDetecting {
		return nil
	}
	if !isValidTransition(e.state, StateDetecting) {
		return fmt.Errorf("invalid detector transition %s -> %s", e.state, StateDetecting)
	}

	w := newWorker(e.opts.QueueSize)
	e.w = w
	e.state = StateDetecting
	go e.run(w, e.model, e.prevDone)
	e.prevDone = w.done

	e.sink.Log("Object detection started")
	e.logger.Info("detection started")
	return nil
}

// Stop сигналит горутине и ждет ее не дольше JoinTimeout
func (e *Engine) Stop() {
	e.mu.Lock()
	w := e.w
	if w == nil {
		e.mu.Unlock()
		return
	}
	if !isValidTransition(e.state, StateIdle) {
		e.mu.Unlock()
		return
	}
	e.w = nil
	e.state = StateIdle
	e.mu.Unlock()

	close(w.stop)
	select {
	case <-w.done:
	case <-time.After(e.opts.JoinTimeout):
		e.mu.Lock()
		e.lingering = true
		e.mu.Unlock()
		e.logger.Warn("detection worker did not exit in time", zap.Duration("timeout", e.opts.JoinTimeout))
		go func() {
			<-w.done
			e.mu.Lock()
			e.lingering = false
			e.mu.Unlock()
		}()
	}

	e.sink.Log("Object detection stopped")
	e.logger.Info("detection stopped")
}

// Close останавливает детекцию и освобождает модель, если горутина уже вышла
func (e *Engine) Close() error {
	e.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil || e.lingering {
		return nil
	}
	err := e.model.Close()
	e.model = nil
	e.modelState = ModelUnloaded
	return err
}

// ProcessFrame не блокируется: кладет копию кадра, если есть место, и забирает готовый результат
func (e *Engine) ProcessFrame(frame models.Frame) (models.Frame, []models.Detection) {
	e.mu.Lock()
	w := e.w
	e.mu.Unlock()

	if w == nil {
		return frame, nil
	}

	// в frames пишет только ProcessFrame
	if len(w.frames) < cap(w.frames) {
		select {
		case w.frames <- frame.Clone():
		default:
		}
	}

	select {
	case r := <-w.results:
		return r.Frame, r.Detections
	default:
		return frame, nil
	}
}

// run не трогает модель, пока не вышла прошлая горутина, зависшая в Detect
func (e *Engine) run(w *worker, model Model, prev <-chan struct{}) {
	defer close(w.done)
	if prev != nil {
		select {
		case <-prev:
		case <-w.stop:
			return
		}
	}
	for {
		select {
		case <-w.stop:
			return
		case frame := <-w.frames:
			select {
			case <-w.stop:
				return
			default:
			}
			e.detect(w, model, frame)
		}
	}
}

func (e *Engine) detect(w *worker, model Model, frame models.Frame) {
	defer func() {
		if p := recover(); p != nil {
			e.sink.Log(fmt.Sprintf("Detection worker error: %v", p))
			e.logger.Error("detection panicked", zap.Any("panic", p))
		}
	}()

	raw, err := model.Detect(frame)
	if err != nil {
		e.sink.Log(fmt.Sprintf("Detection worker error: %v", err))
		e.logger.Warn("detection failed", zap.Uint64("seq", frame.Seq), zap.Error(err))
		return
	}

	detections := e.filter.Load().apply(raw)
	annotated := frame
	if e.annotator != nil {
		annotated = e.annotator.Annotate(frame, detections)
	}

	if len(detections) > 0 {
		best := detections[0]
		e.last.Store(&best)
		e.count.Add(1)
	}

	res := Result{Frame: annotated, Detections: detections}
	select {
	case w.results <- res:
	default:
		// очередь полна: выбрасываем самый старый результат
		select {
		case <-w.results:
		default:
		}
		select {
		case w.results <- res:
		default:
		}
	}
}

// SetConfidence возвращает фактически установленный порог
func (e *Engine) SetConfidence(v float64) float64 {
	v = ClampConfidence(v)
	for {
		old := e.filter.Load()
		next := *old
		next.threshold = v
		if e.filter.CompareAndSwap(old, &next) {
			return v
		}
	}
}

// SetTargetClass false, если класс не из словаря; тогда отслеживаются все классы
func (e *Engine) SetTargetClass(name string) bool {
	id, ok := models.ClassID(name)
	for {
		old := e.filter.Load()
		next := *old
		next.hasClass = ok
		next.classID = id
		next.className = ""
		if ok {
			next.className = strings.ToLower(strings.TrimSpace(name))
		}
		if e.filter.CompareAndSwap(old, &next) {
			break
		}
	}
	if ok {
		e.sink.Log(fmt.Sprintf("Tracking target: %s", name))
	} else {
		e.sink.Log("Tracking all classes")
	}
	return ok
}

func (e *Engine) LastDetection() (models.Detection, bool) {
	d := e.last.Load()
	if d == nil {
		return models.Detection{}, false
	}
	return *d, true
}

func (e *Engine) DetectionCount() uint64 {
	return e.count.Load()
}

// Info строка для оператора о последней детекции
func (e *Engine) Info() string {
	d, ok := e.LastDetection()
	if !ok {
		return "No detections"
	}
	c := d.Center()
	return fmt.Sprintf("%s (%.2f) - (%d, %d)", d.ClassName, d.Confidence, c.X, c.Y)
}

func (e *Engine) Settings() Settings {
	f := e.filter.Load()
	return Settings{
		Detecting:      e.Detecting(),
		Confidence:     f.threshold,
		TargetClass:    f.className,
		DetectionCount: e.DetectionCount(),
		Model:          e.ModelState().String(),
	}
}
