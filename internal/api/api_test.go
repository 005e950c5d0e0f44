package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/kossa56/Jamnik/internal/detector"
	"github.com/kossa56/Jamnik/internal/models"
	"github.com/kossa56/Jamnik/internal/remote"
	"github.com/kossa56/Jamnik/internal/runner"
	"github.com/kossa56/Jamnik/internal/status"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeService struct {
	mu         sync.Mutex
	connectErr error
	target     remote.Target
	actions    []string
	trackingOK bool
	tracking   bool
	confidence float64
	class      string
	frame      []byte
	connected  bool
}

func (f *fakeService) Connect(_ context.Context, t remote.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = t
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeService) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeService) Manual(_ context.Context, action string) error {
	if _, ok := models.ParseAction(action); !ok {
		return fmt.Errorf("%w: %q", runner.ErrUnknownAction, action)
	}
	f.mu.Lock()
	f.actions = append(f.actions, action)
	f.mu.Unlock()
	return nil
}

func (f *fakeService) StartAutoTracking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracking = f.trackingOK
	return f.trackingOK
}

func (f *fakeService) StopAutoTracking() {
	f.mu.Lock()
	f.tracking = false
	f.mu.Unlock()
}

func (f *fakeService) ConfigureTracking(className *string, confidence *float64) detector.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	if className != nil {
		f.class = *className
	}
	if confidence != nil {
		f.confidence = detector.ClampConfidence(*confidence)
	}
	return detector.Settings{Detecting: f.tracking, Confidence: f.confidence, TargetClass: f.class}
}

func (f *fakeService) Status() runner.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return runner.Snapshot{SessionID: "s-1", Host: f.target.Host, Connected: f.connected, AutoTracking: f.tracking}
}

func (f *fakeService) LatestFrameJPEG() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frame == nil {
		return nil, runner.ErrStreamUnavailable
	}
	return f.frame, nil
}

func (f *fakeService) SessionID() string { return "s-1" }

func (f *fakeService) lastTarget() remote.Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target
}

func (f *fakeService) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.actions...)
}

func (f *fakeService) allowTracking() {
	f.mu.Lock()
	f.trackingOK = true
	f.mu.Unlock()
}

func (f *fakeService) setFrame(b []byte) {
	f.mu.Lock()
	f.frame = b
	f.mu.Unlock()
}

type fakeHistory struct {
	session string
	limit   int
}

func (h *fakeHistory) Recent(_ context.Context, sessionID string, limit int) ([]models.DispatchRecord, error) {
	h.session = sessionID
	h.limit = limit
	return []models.DispatchRecord{{ID: "d-1", SessionID: sessionID, Argument: "tilt_up"}}, nil
}

func newTestServer(t *testing.T, svc *fakeService, hub *status.Hub, history History) *httptest.Server {
	t.Helper()
	defaults := remote.Target{Host: "10.0.0.2", Port: 22, User: "pi", Secret: "raspberry"}
	h := NewHandlers(svc, hub, history, defaults, zap.NewNop())
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, status.NewHub(zap.NewNop()), nil)
	resp := do(t, http.MethodGet, srv.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConnectFillsDefaults(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc, status.NewHub(zap.NewNop()), nil)

	resp := do(t, http.MethodPost, srv.URL+"/connect", `{"host":"192.168.1.50"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, remote.Target{Host: "192.168.1.50", Port: 22, User: "pi", Secret: "raspberry"}, svc.lastTarget())

	var snap runner.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.True(t, snap.Connected)
	require.Equal(t, "192.168.1.50", snap.Host)
}

func TestConnectEmptyBodyUsesConfig(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc, status.NewHub(zap.NewNop()), nil)

	resp := do(t, http.MethodPost, srv.URL+"/connect", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "10.0.0.2", svc.lastTarget().Host)
}

func TestConnectErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: denied", remote.ErrAuth), http.StatusUnauthorized},
		{fmt.Errorf("%w: timeout", remote.ErrUnreachable), http.StatusGatewayTimeout},
		{runner.ErrStreamUnavailable, http.StatusBadGateway},
	}
	for _, tc := range cases {
		svc := &fakeService{connectErr: tc.err}
		srv := newTestServer(t, svc, status.NewHub(zap.NewNop()), nil)
		resp := do(t, http.MethodPost, srv.URL+"/connect", `{}`)
		require.Equal(t, tc.code, resp.StatusCode, tc.err.Error())
	}
}

func TestConnectRejectsBadPort(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, status.NewHub(zap.NewNop()), nil)
	resp := do(t, http.MethodPost, srv.URL+"/connect", `{"port":70000}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/connect", `{not json`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestControl(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc, status.NewHub(zap.NewNop()), nil)

	resp := do(t, http.MethodPost, srv.URL+"/control/laser_up", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/control/Q", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/control/fire", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.Equal(t, []string{"laser_up", "Q"}, svc.received())
}

func TestTrackingStartStop(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc, status.NewHub(zap.NewNop()), nil)

	resp := do(t, http.MethodPost, srv.URL+"/tracking/start", "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	svc.allowTracking()
	resp = do(t, http.MethodPost, srv.URL+"/tracking/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, svc.Status().AutoTracking)

	resp = do(t, http.MethodPost, srv.URL+"/tracking/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, svc.Status().AutoTracking)
}

func TestTrackingConfig(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, status.NewHub(zap.NewNop()), nil)

	resp := do(t, http.MethodPut, srv.URL+"/tracking/config", `{"class":"cat","confidence":1.5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var s detector.Settings
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	require.Equal(t, "cat", s.TargetClass)
	require.InDelta(t, 0.99, s.Confidence, 1e-9)
}

func TestStatusIncludesCurrentEntry(t *testing.T) {
	hub := status.NewHub(zap.NewNop())
	hub.Status("Stream active", status.Success)
	srv := newTestServer(t, &fakeService{}, hub, nil)

	resp := do(t, http.MethodGet, srv.URL+"/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		SessionID string       `json:"session_id"`
		Status    status.Entry `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "s-1", body.SessionID)
	require.Equal(t, "Stream active", body.Status.Message)
	require.Equal(t, status.Success, body.Status.Severity)
}

func TestFrame(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc, status.NewHub(zap.NewNop()), nil)

	resp := do(t, http.MethodGet, srv.URL+"/frame.jpg", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	jpeg := []byte{0xff, 0xd8, 0xff, 0xd9}
	svc.setFrame(jpeg)
	resp = do(t, http.MethodGet, srv.URL+"/frame.jpg", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Equal(t, jpeg, buf.Bytes())
}

func TestDispatches(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, status.NewHub(zap.NewNop()), nil)
	resp := do(t, http.MethodGet, srv.URL+"/dispatches", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	history := &fakeHistory{}
	srv = newTestServer(t, &fakeService{}, status.NewHub(zap.NewNop()), history)

	resp = do(t, http.MethodGet, srv.URL+"/dispatches?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "s-1", history.session)
	require.Equal(t, 5, history.limit)

	resp = do(t, http.MethodGet, srv.URL+"/dispatches?limit=0", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogSocketReplaysAndStreams(t *testing.T) {
	hub := status.NewHub(zap.NewNop())
	hub.Log("SSH connecting: 10.0.0.2:22")
	srv := newTestServer(t, &fakeService{}, hub, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/log"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first status.Entry
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, "SSH connecting: 10.0.0.2:22", first.Message)

	// подписка создается до отправки истории, поэтому новая строка дойдет
	hub.Log("Connected to Raspberry Pi!")
	var next status.Entry
	require.NoError(t, conn.ReadJSON(&next))
	require.Equal(t, "Connected to Raspberry Pi!", next.Message)
}
