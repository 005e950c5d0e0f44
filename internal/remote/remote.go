package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kossa56/Jamnik/internal/status"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var (
	ErrAuth         = errors.New("ssh authentication failed")
	ErrUnreachable  = errors.New("ssh host unreachable")
	ErrNotConnected = errors.New("ssh not connected")
)

// Target адрес и учетные данные платы
type Target struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	User   string `json:"user"`
	Secret string `json:"password"`
}

func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

type Options struct {
	// KnownHostsFile пустой - принимаем любой ключ хоста
	KnownHostsFile string
	// StopTimeout ограничивает команду остановки фонового процесса
	StopTimeout time.Duration
	// StopGrace сколько ждем выхода фонового процесса после команды остановки
	StopGrace time.Duration
}

func DefaultOptions() Options {
	return Options{
		StopTimeout: 5 * time.Second,
		StopGrace:   time.Second,
	}
}

// Channel SSH канал команд к плате. Один клиент на соединение, каждая команда в своей сессии.
type Channel struct {
	sink   status.Sink
	logger *zap.Logger
	opts   Options

	// lifecycle сериализует Connect и Disconnect
	lifecycle sync.Mutex

	mu        sync.Mutex
	client    *ssh.Client
	bg        *Handle
	connected atomic.Bool
}

func New(sink status.Sink, logger *zap.Logger, opts Options) *Channel {
	return &Channel{
		sink:   sink,
		logger: logger.With(zap.String("component", "remote")),
		opts:   opts,
	}
}

func (c *Channel) Connected() bool {
	return c.connected.Load()
}

// Connect открывает соединение; dial и handshake ограничены timeout, повторов нет
func (c *Channel) Connect(ctx context.Context, target Target, timeout time.Duration) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.disconnect()

	addr := target.Addr()
	c.sink.Log("SSH connecting: " + addr)
	c.sink.Log("User: " + target.User)

	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return err
	}

	cfg := &ssh.ClientConfig{
		User: target.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(target.Secret),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = target.Secret
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.sink.Log("Cannot establish connection - check IP address and port")
		c.logger.Warn("dial failed", zap.String("addr", addr), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	// handshake тоже укладывается в timeout и прерывается отменой ctx
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stopAfter := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	stopAfter()
	if err != nil {
		conn.Close()
		if isAuthError(err) {
			c.sink.Log("Authentication error - check username and password")
			c.logger.Warn("authentication rejected", zap.String("addr", addr), zap.String("user", target.User))
			return fmt.Errorf("%w: %w", ErrAuth, err)
		}
		c.sink.Log(fmt.Sprintf("SSH error: %v", err))
		c.logger.Warn("handshake failed", zap.String("addr", addr), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	conn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	c.connected.Store(true)
	go c.watch(client)

	c.sink.Log("Connected to Raspberry Pi!")
	c.logger.Info("connected", zap.String("addr", addr))

	// проверка укладывается в остаток того же timeout
	out, err := c.Execute(ctx, "echo 'SSH Connection Test'", 0)
	if err == nil && strings.TrimSpace(out) != "" {
		c.sink.Log("SSH test: " + strings.TrimSpace(out))
	}
	return nil
}

func (c *Channel) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.opts.KnownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(c.opts.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", c.opts.KnownHostsFile, err)
	}
	return cb, nil
}

func isAuthError(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

// watch снимает состояние соединения, если транспорт упал сам
func (c *Channel) watch(client *ssh.Client) {
	err := client.Wait()

	c.mu.Lock()
	current := c.client == client
	if current {
		c.client = nil
		c.connected.Store(false)
	}
	c.mu.Unlock()

	if current {
		c.sink.Log("SSH connection lost")
		c.logger.Warn("connection lost", zap.Error(err))
	}
}

func (c *Channel) currentClient() *ssh.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// Execute выполняет команду в новой сессии. Ошибка удаленной команды пишется в журнал
// и не возвращается; ошибка только у транспорта и таймаута.
func (c *Channel) Execute(ctx context.Context, command string, timeout time.Duration) (string, error) {
	client := c.currentClient()
	if client == nil || !c.connected.Load() {
		c.sink.Log("Error: no SSH connection")
		return "", ErrNotConnected
	}

	session, err := client.NewSession()
	if err != nil {
		c.sink.Log(fmt.Sprintf("Command execution error: %v", err))
		return "", fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		session.Close()
		c.sink.Log(fmt.Sprintf("Command execution error: %v", ctx.Err()))
		return "", fmt.Errorf("execute %q: %w", command, ctx.Err())
	case err := <-errCh:
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			c.sink.Log("Command error: " + msg)
		}
		if err != nil {
			var exitErr *ssh.ExitError
			var missingErr *ssh.ExitMissingError
			switch {
			case errors.As(err, &exitErr):
				c.logger.Debug("command exited non-zero",
					zap.String("command", command), zap.Int("code", exitErr.ExitStatus()))
				return "", nil
			case errors.As(err, &missingErr):
				return stdout.String(), nil
			default:
				c.sink.Log(fmt.Sprintf("Command execution error: %v", err))
				return "", fmt.Errorf("execute %q: %w", command, err)
			}
		}
		return stdout.String(), nil
	}
}

// Disconnect идемпотентен и безопасен до Connect
func (c *Channel) Disconnect() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.disconnect()
}

func (c *Channel) disconnect() {
	c.mu.Lock()
	client, bg := c.client, c.bg
	c.mu.Unlock()

	if client == nil {
		c.connected.Store(false)
		return
	}

	// закрытие сессии не убивает удаленный процесс, поэтому сначала команда остановки
	if bg != nil && !bg.Exited() {
		c.sink.Log("Stopping stream on Raspberry Pi...")
		if bg.proc.Stop != "" {
			if _, err := c.Execute(context.Background(), bg.proc.Stop, c.opts.StopTimeout); err != nil {
				c.logger.Warn("stop command failed", zap.String("command", bg.proc.Stop), zap.Error(err))
			}
		}
		select {
		case <-bg.Done():
		case <-time.After(c.opts.StopGrace):
		}
		c.sink.Log("Stream stopped")
	}

	c.mu.Lock()
	c.client = nil
	c.bg = nil
	c.connected.Store(false)
	c.mu.Unlock()

	if bg != nil {
		bg.session.Close()
	}
	if err := client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Debug("close client", zap.Error(err))
	}
	c.sink.Log("SSH disconnected")
}
