package remote

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Process долгоживущая удаленная команда и команда ее остановки
type Process struct {
	Start string
	Stop  string
}

// Handle ручка фонового процесса
type Handle struct {
	proc    Process
	session *ssh.Session
	done    chan struct{}
	code    int
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitCode код выхода, -1 если сессия оборвалась без статуса
func (h *Handle) ExitCode() (int, bool) {
	if !h.Exited() {
		return 0, false
	}
	return h.code, true
}

// StartBackground запускает proc.Start в отдельной сессии и читает его вывод в журнал
func (c *Channel) StartBackground(ctx context.Context, proc Process) (*Handle, error) {
	client := c.currentClient()
	if client == nil || !c.connected.Load() {
		c.sink.Log("Error: no SSH connection")
		return nil, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := session.Start(proc.Start); err != nil {
		session.Close()
		return nil, fmt.Errorf("start %q: %w", proc.Start, err)
	}

	h := &Handle{
		proc:    proc,
		session: session,
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	c.bg = h
	c.mu.Unlock()

	go c.drain(h, stdout, stderr)
	return h, nil
}

func (c *Channel) drain(h *Handle, stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	for _, r := range []io.Reader{stdout, stderr} {
		wg.Add(1)
		go func(r io.Reader) {
			defer wg.Done()
			scanner := bufio.NewScanner(r)
			for scanner.Scan() {
				if line := strings.TrimSpace(scanner.Text()); line != "" {
					c.sink.Log("RPi: " + line)
				}
			}
		}(r)
	}
	wg.Wait()

	err := h.session.Wait()
	h.code = 0
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			h.code = exitErr.ExitStatus()
		} else {
			h.code = -1
		}
	}
	defer close(h.done)

	if h.code == -1 && !c.connected.Load() {
		return
	}
	c.sink.Log(fmt.Sprintf("Stream process exited with code: %d", h.code))
	c.logger.Info("background process exited", zap.String("command", h.proc.Start), zap.Int("code", h.code))
}
