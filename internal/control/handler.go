package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/kossa56/Jamnik/internal/detector"
	"github.com/kossa56/Jamnik/internal/remote"
	"github.com/kossa56/Jamnik/internal/runner"
	"go.uber.org/zap"
)

// Command команда плоскости управления: {"command":"camera_left"}
type Command struct {
	Command    string   `json:"command"`
	Host       string   `json:"host,omitempty"`
	Class      *string  `json:"class,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Response подтверждение, публикуется в <topic>/ack
type Response struct {
	CommandAck string    `json:"command_ack"`
	Status     string    `json:"status"`
	Data       any       `json:"data,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Service операции сеанса, доступные по MQTT
type Service interface {
	Connect(ctx context.Context, target remote.Target) error
	Disconnect()
	Manual(ctx context.Context, action string) error
	StartAutoTracking() bool
	StopAutoTracking()
	ConfigureTracking(className *string, confidence *float64) detector.Settings
	Status() runner.Snapshot
}

type Handler struct {
	client   mqtt.Client
	topic    string
	svc      Service
	defaults remote.Target
	logger   *zap.Logger

	commands chan Command
	done     chan struct{}
	stopOnce sync.Once
}

func NewHandler(client mqtt.Client, topic string, svc Service, defaults remote.Target, logger *zap.Logger) *Handler {
	return &Handler{
		client:   client,
		topic:    topic,
		svc:      svc,
		defaults: defaults,
		logger:   logger.With(zap.String("component", "control")),
		commands: make(chan Command, 10),
		done:     make(chan struct{}),
	}
}

// Dial подключается к брокеру с автопереподключением
func Dial(broker, clientID string, logger *zap.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connection established", zap.String("broker", broker), zap.String("client_id", clientID))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, errors.New("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return client, nil
}

func (h *Handler) Start(ctx context.Context) error {
	h.logger.Info("subscribing to control topic", zap.String("topic", h.topic))

	token := h.client.Subscribe(h.topic, 1, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return errors.New("control topic subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control topic subscription failed: %w", err)
	}

	go h.processCommands(ctx)
	return nil
}

// Stop идемпотентен; commands не закрывается, paho может доставить сообщение и после отписки
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		if h.client != nil && h.client.IsConnected() {
			h.client.Unsubscribe(h.topic).WaitTimeout(2 * time.Second)
		}
	})
}

func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	select {
	case <-h.done:
		return
	default:
	}

	cmd, err := decode(msg.Payload())
	if err != nil {
		h.logger.Warn("failed to parse control command", zap.Error(err))
		h.sendResponse(Response{CommandAck: "unknown", Status: "error", Error: "invalid JSON"})
		return
	}

	select {
	case <-h.done:
	case h.commands <- cmd:
	default:
		h.logger.Warn("command queue full, dropping command", zap.String("command", cmd.Command))
	}
}

func decode(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, err
	}
	if cmd.Command == "" {
		return Command{}, errors.New("empty command")
	}
	return cmd, nil
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case cmd := <-h.commands:
			h.sendResponse(h.handle(ctx, cmd))
		}
	}
}

// handle выполняет команду; любое имя вне служебных трактуется как действие пульта
func (h *Handler) handle(ctx context.Context, cmd Command) Response {
	resp := Response{CommandAck: cmd.Command, Status: "success"}

	switch cmd.Command {
	case "get_status":
		resp.Data = h.svc.Status()

	case "connect":
		target := h.defaults
		if cmd.Host != "" {
			target.Host = cmd.Host
		}
		if err := h.svc.Connect(ctx, target); err != nil {
			return failed(resp, err)
		}
		resp.Data = h.svc.Status()

	case "disconnect":
		h.svc.Disconnect()

	case "tracking_start":
		if !h.svc.StartAutoTracking() {
			return failed(resp, errors.New("detection model not loaded"))
		}

	case "tracking_stop":
		h.svc.StopAutoTracking()

	case "tracking_config":
		resp.Data = h.svc.ConfigureTracking(cmd.Class, cmd.Confidence)

	default:
		if err := h.svc.Manual(ctx, cmd.Command); err != nil {
			return failed(resp, err)
		}
	}

	return resp
}

func failed(resp Response, err error) Response {
	resp.Status = "error"
	resp.Error = err.Error()
	return resp
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC()

	payload, err := json.Marshal(resp)
	if err != nil {
		h.logger.Error("failed to marshal response", zap.Error(err))
		return
	}

	token := h.client.Publish(h.topic+"/ack", 0, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		h.logger.Warn("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		h.logger.Warn("failed to publish response", zap.Error(err))
		return
	}
	h.logger.Debug("response sent", zap.String("command_ack", resp.CommandAck), zap.String("status", resp.Status))
}
