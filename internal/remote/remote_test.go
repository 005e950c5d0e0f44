package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kossa56/Jamnik/internal/status"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

const (
	testUser     = "jamnik"
	testPassword = "secret"
)

type result struct {
	stdout string
	stderr string
	code   uint32
	// wait блокирует ответ до закрытия канала
	wait <-chan struct{}
}

type testServer struct {
	t       *testing.T
	addr    string
	handler func(cmd string) result

	mu       sync.Mutex
	commands []string
}

func newTestServer(t *testing.T, handler func(cmd string) result) *testServer {
	t.Helper()
	return newSlowAuthServer(t, handler, 0)
}

// newSlowAuthServer отвечает на пароль с задержкой authDelay
func newSlowAuthServer(t *testing.T, handler func(cmd string) result, authDelay time.Duration) *testServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			time.Sleep(authDelay)
			if meta.User() == testUser && string(pass) == testPassword {
				return nil, nil
			}
			return nil, errors.New("password rejected")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	s := &testServer{t: t, addr: ln.Addr().String(), handler: handler}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn, cfg)
		}
	}()
	return s
}

func (s *testServer) serve(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range requests {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
					req.Reply(false, nil)
					continue
				}
				req.Reply(true, nil)
				s.record(payload.Command)
				go s.run(ch, payload.Command)
			}
		}()
	}
}

func (s *testServer) run(ch ssh.Channel, cmd string) {
	res := s.handler(cmd)
	if res.wait != nil {
		<-res.wait
	}
	io.WriteString(ch, res.stdout)
	io.WriteString(ch.Stderr(), res.stderr)
	ch.SendRequest("exit-status", false, ssh.Marshal(&struct{ Status uint32 }{res.code}))
	ch.Close()
}

func (s *testServer) record(cmd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
}

func (s *testServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *testServer) target(password string) Target {
	host, port, _ := net.SplitHostPort(s.addr)
	var p int
	fmt.Sscanf(port, "%d", &p)
	return Target{Host: host, Port: p, User: testUser, Secret: password}
}

func echoHandler(cmd string) result {
	if strings.HasPrefix(cmd, "echo ") {
		return result{stdout: strings.Trim(strings.TrimPrefix(cmd, "echo "), "'") + "\n"}
	}
	return result{}
}

func newChannel() (*Channel, *status.Hub) {
	hub := status.NewHub(zap.NewNop())
	opts := DefaultOptions()
	opts.StopGrace = 2 * time.Second
	return New(hub, zap.NewNop(), opts), hub
}

func messages(hub *status.Hub) []string {
	var out []string
	for _, e := range hub.Recent() {
		out = append(out, e.Message)
	}
	return out
}

func TestConnectAndExecute(t *testing.T) {
	srv := newTestServer(t, echoHandler)
	ch, hub := newChannel()

	require.NoError(t, ch.Connect(context.Background(), srv.target(testPassword), 5*time.Second))
	require.True(t, ch.Connected())
	require.Contains(t, messages(hub), "SSH test: SSH Connection Test")

	out, err := ch.Execute(context.Background(), "echo hello", time.Second)
	require.NoError(t, err)
	require.Equal(t, "hello\n", out)

	ch.Disconnect()
	require.False(t, ch.Connected())
}

func TestConnectTestCommandSharesTimeout(t *testing.T) {
	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })
	srv := newSlowAuthServer(t, func(cmd string) result {
		return result{stdout: "late\n", wait: hang}
	}, 600*time.Millisecond)
	ch, hub := newChannel()

	start := time.Now()
	require.NoError(t, ch.Connect(context.Background(), srv.target(testPassword), time.Second))
	elapsed := time.Since(start)

	require.Less(t, elapsed, 1300*time.Millisecond)
	require.True(t, ch.Connected())
	require.NotContains(t, messages(hub), "SSH test: late")

	ch.Disconnect()
}

func TestConnectAuthFailure(t *testing.T) {
	srv := newTestServer(t, echoHandler)
	ch, _ := newChannel()

	err := ch.Connect(context.Background(), srv.target("wrong"), 5*time.Second)
	require.ErrorIs(t, err, ErrAuth)
	require.False(t, ch.Connected())
}

func TestConnectUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	ch, hub := newChannel()
	err = ch.Connect(context.Background(), Target{Host: "127.0.0.1", Port: addr.Port, User: testUser}, time.Second)
	require.ErrorIs(t, err, ErrUnreachable)
	require.Contains(t, messages(hub), "Cannot establish connection - check IP address and port")
}

func TestExecuteRemoteFailureIsNotAnError(t *testing.T) {
	srv := newTestServer(t, func(cmd string) result {
		if cmd == "false" {
			return result{stderr: "boom", code: 1}
		}
		return echoHandler(cmd)
	})
	ch, hub := newChannel()
	require.NoError(t, ch.Connect(context.Background(), srv.target(testPassword), 5*time.Second))
	defer ch.Disconnect()

	out, err := ch.Execute(context.Background(), "false", time.Second)
	require.NoError(t, err)
	require.Empty(t, out)
	require.Contains(t, messages(hub), "Command error: boom")
}

func TestExecuteTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	srv := newTestServer(t, func(cmd string) result {
		if cmd == "sleep" {
			return result{wait: block}
		}
		return echoHandler(cmd)
	})
	ch, _ := newChannel()
	require.NoError(t, ch.Connect(context.Background(), srv.target(testPassword), 5*time.Second))
	defer ch.Disconnect()

	_, err := ch.Execute(context.Background(), "sleep", 50*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecuteNotConnected(t *testing.T) {
	ch, _ := newChannel()
	_, err := ch.Execute(context.Background(), "echo x", time.Second)
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = ch.StartBackground(context.Background(), Process{Start: "x"})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestDisconnectIdempotent(t *testing.T) {
	ch, hub := newChannel()
	ch.Disconnect()
	ch.Disconnect()
	require.False(t, ch.Connected())
	require.Empty(t, hub.Recent())

	srv := newTestServer(t, echoHandler)
	require.NoError(t, ch.Connect(context.Background(), srv.target(testPassword), 5*time.Second))
	ch.Disconnect()
	ch.Disconnect()
	require.False(t, ch.Connected())
}

func TestDisconnectStopsBackgroundProcessFirst(t *testing.T) {
	killed := make(chan struct{})
	var once sync.Once
	srv := newTestServer(t, func(cmd string) result {
		switch {
		case strings.HasPrefix(cmd, "rpicam-vid"):
			return result{stdout: "streaming started\n", code: 143, wait: killed}
		case strings.HasPrefix(cmd, "pkill"):
			once.Do(func() { close(killed) })
			return result{}
		}
		return echoHandler(cmd)
	})
	ch, hub := newChannel()
	require.NoError(t, ch.Connect(context.Background(), srv.target(testPassword), 5*time.Second))

	h, err := ch.StartBackground(context.Background(), Process{
		Start: "rpicam-vid -t 0 --listen",
		Stop:  "pkill -f rpicam-vid",
	})
	require.NoError(t, err)
	require.False(t, h.Exited())

	ch.Disconnect()

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("background process not reaped")
	}
	code, ok := h.ExitCode()
	require.True(t, ok)
	require.Equal(t, 143, code)

	cmds := srv.Commands()
	require.Contains(t, cmds, "pkill -f rpicam-vid")
	require.Contains(t, messages(hub), "RPi: streaming started")
	require.Contains(t, messages(hub), "Stream process exited with code: 143")
	require.False(t, ch.Connected())
}
