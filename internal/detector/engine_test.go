package detector

import (
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kossa56/Jamnik/internal/models"
	"github.com/kossa56/Jamnik/internal/status"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubModel struct {
	active  atomic.Int32
	peak    atomic.Int32
	delay   time.Duration
	block   chan struct{}
	result  []models.Detection
	err     error
	closed  atomic.Bool
	calls   atomic.Int32
	mu      sync.Mutex
	seenSeq []uint64
}

func (m *stubModel) Detect(frame models.Frame) ([]models.Detection, error) {
	m.calls.Add(1)
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	m.mu.Lock()
	m.seenSeq = append(m.seenSeq, frame.Seq)
	m.mu.Unlock()
	if m.block != nil {
		<-m.block
	}
	time.Sleep(m.delay)
	return m.result, m.err
}

func (m *stubModel) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *stubModel) seen() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.seenSeq...)
}

type markAnnotator struct{}

func (markAnnotator) Annotate(frame models.Frame, _ []models.Detection) models.Frame {
	out := frame.Clone()
	if len(out.Data) > 0 {
		out.Data[0] = 0xFF
	}
	return out
}

func testFrame(seq uint64) models.Frame {
	return models.Frame{Data: make([]byte, 2*2*3), Width: 2, Height: 2, Seq: seq}
}

func person(conf float64, box image.Rectangle) models.Detection {
	return models.Detection{ClassID: 0, ClassName: "person", Confidence: conf, Box: box}
}

func newEngine(t *testing.T, m Model, opts Options) *Engine {
	t.Helper()
	e := New(func() (Model, error) { return m, nil }, markAnnotator{}, status.Discard, zap.NewNop(), opts)
	require.NoError(t, e.Load())
	return e
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.JoinTimeout = 100 * time.Millisecond
	return opts
}

func TestStartRequiresLoadedModel(t *testing.T) {
	hub := status.NewHub(zap.NewNop())
	e := New(func() (Model, error) { return nil, errors.New("weights missing") }, nil, hub, zap.NewNop(), DefaultOptions())

	require.Equal(t, ModelUnloaded, e.ModelState())
	require.ErrorIs(t, e.Start(), ErrModelNotLoaded)

	require.Error(t, e.Load())
	require.Equal(t, ModelLoadFailed, e.ModelState())
	require.ErrorIs(t, e.Start(), ErrModelNotLoaded)
	require.False(t, e.Detecting())

	frame := testFrame(1)
	out, dets := e.ProcessFrame(frame)
	require.Equal(t, frame, out)
	require.Nil(t, dets)
}

func TestProcessFrameDoesNotBlockOnSlowModel(t *testing.T) {
	m := &stubModel{delay: 200 * time.Millisecond}
	e := newEngine(t, m, testOptions())
	require.NoError(t, e.Start())
	defer e.Stop()

	for i := 1; i <= 20; i++ {
		start := time.Now()
		out, dets := e.ProcessFrame(testFrame(uint64(i)))
		require.Less(t, time.Since(start), 20*time.Millisecond)
		require.Equal(t, uint64(i), out.Seq)
		require.Nil(t, dets)
	}
}

func TestFrameQueueBoundedDropNewest(t *testing.T) {
	m := &stubModel{block: make(chan struct{})}
	e := newEngine(t, m, testOptions())
	require.NoError(t, e.Start())

	for i := 1; i <= 10; i++ {
		e.ProcessFrame(testFrame(uint64(i)))
	}
	close(m.block)

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.w.frames) == 0
	}, time.Second, time.Millisecond)
	e.Stop()

	seen := m.seen()
	require.LessOrEqual(t, len(seen), 3)
	require.Equal(t, uint64(1), seen[0])
}

func TestResultQueueDropsOldest(t *testing.T) {
	m := &stubModel{result: []models.Detection{person(0.9, image.Rect(0, 0, 2, 2))}}
	e := newEngine(t, m, testOptions())
	w := newWorker(2)

	for i := 1; i <= 3; i++ {
		e.detect(w, m, testFrame(uint64(i)))
	}

	require.Len(t, w.results, 2)
	first := <-w.results
	second := <-w.results
	require.Equal(t, uint64(2), first.Frame.Seq)
	require.Equal(t, uint64(3), second.Frame.Seq)
	require.Equal(t, byte(0xFF), second.Frame.Data[0])
	require.Equal(t, uint64(3), e.DetectionCount())
}

func TestDetectionResultsAndLastDetection(t *testing.T) {
	m := &stubModel{result: []models.Detection{
		person(0.6, image.Rect(0, 0, 100, 100)),
		person(0.9, image.Rect(500, 300, 700, 500)),
		{ClassID: 16, ClassName: "dog", Confidence: 0.3, Box: image.Rect(0, 0, 10, 10)},
	}}
	e := newEngine(t, m, testOptions())
	require.NoError(t, e.Start())
	defer e.Stop()

	var dets []models.Detection
	require.Eventually(t, func() bool {
		_, dets = e.ProcessFrame(testFrame(1))
		return len(dets) > 0
	}, time.Second, 5*time.Millisecond)

	require.Len(t, dets, 2)
	last, ok := e.LastDetection()
	require.True(t, ok)
	require.Equal(t, 0.9, last.Confidence)
	require.Equal(t, "person (0.90) - (600, 400)", e.Info())
	require.GreaterOrEqual(t, e.DetectionCount(), uint64(1))
}

func TestTargetClassFilter(t *testing.T) {
	m := &stubModel{result: []models.Detection{
		person(0.9, image.Rect(0, 0, 100, 100)),
		{ClassID: 16, ClassName: "dog", Confidence: 0.8, Box: image.Rect(200, 200, 300, 300)},
	}}
	e := newEngine(t, m, testOptions())
	require.True(t, e.SetTargetClass("Dog"))

	w := newWorker(2)
	e.detect(w, m, testFrame(1))
	res := <-w.results
	require.Len(t, res.Detections, 1)
	require.Equal(t, "dog", res.Detections[0].ClassName)
	require.Equal(t, "dog", e.Settings().TargetClass)

	require.False(t, e.SetTargetClass("unicorn"))
	e.detect(w, m, testFrame(2))
	res = <-w.results
	require.Len(t, res.Detections, 2)
}

func TestModelErrorKeepsWorkerAlive(t *testing.T) {
	m := &stubModel{err: errors.New("inference failed")}
	e := newEngine(t, m, testOptions())
	require.NoError(t, e.Start())
	defer e.Stop()

	for i := 1; i <= 5; i++ {
		e.ProcessFrame(testFrame(uint64(i)))
		time.Sleep(5 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return m.calls.Load() >= 2 }, time.Second, time.Millisecond)
	require.True(t, e.Detecting())
	require.Zero(t, e.DetectionCount())
}

func TestStopIsBounded(t *testing.T) {
	m := &stubModel{block: make(chan struct{})}
	defer close(m.block)
	e := newEngine(t, m, testOptions())
	require.NoError(t, e.Start())

	e.ProcessFrame(testFrame(1))
	require.Eventually(t, func() bool { return m.calls.Load() == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	e.Stop()
	require.Less(t, time.Since(start), time.Second)
	require.False(t, e.Detecting())

	require.NoError(t, e.Close())
	require.False(t, m.closed.Load())
}

func TestRestartWaitsForLingeringWorker(t *testing.T) {
	block := make(chan struct{})
	m := &stubModel{block: block}
	e := newEngine(t, m, testOptions())

	require.NoError(t, e.Start())
	e.ProcessFrame(testFrame(1))
	require.Eventually(t, func() bool { return m.calls.Load() == 1 }, time.Second, time.Millisecond)

	// первая горутина осталась в Detect после ограниченного ожидания
	e.Stop()
	require.NoError(t, e.Start())
	require.True(t, e.Detecting())
	e.ProcessFrame(testFrame(2))

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), m.calls.Load())

	close(block)
	require.Eventually(t, func() bool { return m.calls.Load() == 2 }, time.Second, time.Millisecond)
	require.Equal(t, int32(1), m.peak.Load())
	require.Equal(t, []uint64{1, 2}, m.seen())

	e.Stop()
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return !e.lingering
	}, time.Second, time.Millisecond)
	require.NoError(t, e.Close())
	require.True(t, m.closed.Load())
}

func TestRestartUsesFreshQueues(t *testing.T) {
	m := &stubModel{}
	e := newEngine(t, m, testOptions())

	require.NoError(t, e.Start())
	e.mu.Lock()
	first := e.w
	e.mu.Unlock()
	e.Stop()
	e.Stop()

	require.NoError(t, e.Start())
	require.NoError(t, e.Start())
	e.mu.Lock()
	second := e.w
	e.mu.Unlock()
	require.NotSame(t, first, second)

	require.NoError(t, e.Close())
	require.True(t, m.closed.Load())
	require.Equal(t, ModelUnloaded, e.ModelState())
}

func TestSetConfidenceClamps(t *testing.T) {
	e := New(nil, nil, status.Discard, zap.NewNop(), DefaultOptions())
	require.Equal(t, 0.1, e.SetConfidence(0.01))
	require.Equal(t, 0.99, e.SetConfidence(1.5))
	require.Equal(t, 0.42, e.SetConfidence(0.42))
	require.Equal(t, 0.42, e.Settings().Confidence)
}

func TestSuppress(t *testing.T) {
	dets := []models.Detection{
		person(0.7, image.Rect(0, 0, 100, 100)),
		person(0.9, image.Rect(5, 5, 105, 105)),
		person(0.8, image.Rect(300, 300, 400, 400)),
		{ClassID: 16, Confidence: 0.6, Box: image.Rect(0, 0, 100, 100)},
	}
	out := suppress(dets, overlapThreshold)
	require.Len(t, out, 3)
	require.Equal(t, 0.9, out[0].Confidence)
	require.Equal(t, 0.8, out[1].Confidence)
	require.Equal(t, 16, out[2].ClassID)

	require.InDelta(t, 1.0, iou(image.Rect(0, 0, 10, 10), image.Rect(0, 0, 10, 10)), 1e-9)
	require.Zero(t, iou(image.Rect(0, 0, 10, 10), image.Rect(20, 20, 30, 30)))
}

func TestTransitions(t *testing.T) {
	require.True(t, isValidTransition(StateIdle, StateDetecting))
	require.True(t, isValidTransition(StateDetecting, StateIdle))
	require.False(t, isValidTransition(StateIdle, StateIdle))
}
