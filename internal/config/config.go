package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config структура конфига
type Config struct {
	Remote struct {
		Host               string        `yaml:"host" env:"REMOTE_HOST"`
		Port               int           `yaml:"port" env:"REMOTE_PORT"`
		User               string        `yaml:"user" env:"REMOTE_USER"`
		Password           string        `yaml:"password" env:"REMOTE_PASSWORD"`
		KnownHosts         string        `yaml:"known_hosts" env:"REMOTE_KNOWN_HOSTS"`
		ConnectTimeout     time.Duration `yaml:"connect_timeout" env:"REMOTE_CONNECT_TIMEOUT"`
		ExecTimeout        time.Duration `yaml:"exec_timeout" env:"REMOTE_EXEC_TIMEOUT"`
		StartStreamCommand string        `yaml:"start_stream_command" env:"REMOTE_START_STREAM_COMMAND"`
		StopStreamCommand  string        `yaml:"stop_stream_command" env:"REMOTE_STOP_STREAM_COMMAND"`
	} `yaml:"remote"`

	Stream struct {
		Port           int           `yaml:"port" env:"STREAM_PORT"`
		Path           string        `yaml:"path" env:"STREAM_PATH"`
		ConnectTimeout time.Duration `yaml:"connect_timeout" env:"STREAM_CONNECT_TIMEOUT"`
		Tick           time.Duration `yaml:"tick" env:"STREAM_TICK"`
		StaleAfter     time.Duration `yaml:"stale_after" env:"STREAM_STALE_AFTER"`
		Warmup         time.Duration `yaml:"warmup" env:"STREAM_WARMUP"`
	} `yaml:"stream"`

	Detector struct {
		Weights     string  `yaml:"weights" env:"DETECTOR_WEIGHTS"`
		Config      string  `yaml:"config" env:"DETECTOR_CONFIG"`
		Names       string  `yaml:"names" env:"DETECTOR_NAMES"`
		InputSize   int     `yaml:"input_size" env:"DETECTOR_INPUT_SIZE"`
		Confidence  float64 `yaml:"confidence" env:"DETECTOR_CONFIDENCE"`
		TargetClass string  `yaml:"target_class" env:"DETECTOR_TARGET_CLASS"`
	} `yaml:"detector"`

	Tracking struct {
		Interval time.Duration `yaml:"interval" env:"TRACKING_INTERVAL"`
		DeadZone float64       `yaml:"dead_zone" env:"TRACKING_DEAD_ZONE"`
	} `yaml:"tracking"`

	PanTilt struct {
		Scheme string `yaml:"scheme" env:"PANTILT_SCHEME"`
		Script string `yaml:"script" env:"PANTILT_SCRIPT"`
		FIFO   string `yaml:"fifo" env:"PANTILT_FIFO"`
	} `yaml:"pantilt"`

	API struct {
		Addr string `yaml:"addr" env:"API_ADDR"`
	} `yaml:"api"`

	MQTT struct {
		Broker       string `yaml:"broker" env:"MQTT_BROKER"`
		ClientID     string `yaml:"client_id" env:"MQTT_CLIENT_ID"`
		ControlTopic string `yaml:"control_topic" env:"MQTT_CONTROL_TOPIC"`
	} `yaml:"mqtt"`

	Kafka struct {
		Brokers    []string      `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
		EventTopic string        `yaml:"event_topic" env:"KAFKA_EVENT_TOPIC"`
		Interval   time.Duration `yaml:"interval" env:"KAFKA_OUTBOX_INTERVAL"`
	} `yaml:"kafka"`

	Postgres struct {
		DSN string `yaml:"dsn" env:"DATABASE_DSN"`
	} `yaml:"postgres"`

	Minio struct {
		Endpoint  string        `yaml:"endpoint" env:"MINIO_ENDPOINT"`
		AccessKey string        `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
		SecretKey string        `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
		Bucket    string        `yaml:"bucket" env:"MINIO_BUCKET"`
		Interval  time.Duration `yaml:"interval" env:"MINIO_SNAPSHOT_INTERVAL"`
	} `yaml:"minio"`

	Log struct {
		Mode string `yaml:"mode" env:"LOG_MODE"`
	} `yaml:"log"`
}

// Default значения по умолчанию, поверх них читаются файл и окружение
func Default() *Config {
	cfg := &Config{}

	cfg.Remote.Host = "100.124.18.53"
	cfg.Remote.Port = 22
	cfg.Remote.User = "jamnik"
	cfg.Remote.ConnectTimeout = 10 * time.Second
	cfg.Remote.ExecTimeout = 5 * time.Second
	cfg.Remote.StartStreamCommand = "rpicam-vid -t 0 --width 1280 --height 720 --framerate 25 --codec mjpeg --listen -o tcp://0.0.0.0:{port}"
	cfg.Remote.StopStreamCommand = "pkill -f rpicam-vid"

	cfg.Stream.Port = 8554
	cfg.Stream.Path = "/stream"
	cfg.Stream.ConnectTimeout = 10 * time.Second
	cfg.Stream.Tick = 33 * time.Millisecond
	cfg.Stream.StaleAfter = 3 * time.Second
	cfg.Stream.Warmup = 3 * time.Second

	cfg.Detector.Weights = "models/yolov4-tiny.weights"
	cfg.Detector.Config = "models/yolov4-tiny.cfg"
	cfg.Detector.Names = "models/coco.names"
	cfg.Detector.InputSize = 416
	cfg.Detector.Confidence = 0.5

	cfg.Tracking.Interval = 200 * time.Millisecond
	cfg.Tracking.DeadZone = 0.05

	cfg.PanTilt.Scheme = "script"
	cfg.PanTilt.Script = "/home/jamnik/pan_tilt_control.py"
	cfg.PanTilt.FIFO = "/tmp/pantilt_fifo"

	cfg.API.Addr = ":8080"

	cfg.MQTT.ClientID = "jamnik-controller"
	cfg.MQTT.ControlTopic = "jamnik/control"

	cfg.Kafka.EventTopic = "jamnik-events"
	cfg.Kafka.Interval = time.Second

	cfg.Minio.Bucket = "snapshots"
	cfg.Minio.Interval = 5 * time.Second

	cfg.Log.Mode = "production"

	return cfg
}

func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// Читаем YAML
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}

		// Парсим YAML поверх значений по умолчанию
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Переменные окружения имеют приоритет
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Remote.Port < 1 || c.Remote.Port > 65535 {
		errs = append(errs, fmt.Errorf("remote.port %d out of range", c.Remote.Port))
	}
	if c.Stream.Port < 1 || c.Stream.Port > 65535 {
		errs = append(errs, fmt.Errorf("stream.port %d out of range", c.Stream.Port))
	}
	if c.Detector.Confidence < 0.1 || c.Detector.Confidence > 0.99 {
		errs = append(errs, fmt.Errorf("detector.confidence %.2f outside [0.1, 0.99]", c.Detector.Confidence))
	}
	switch c.PanTilt.Scheme {
	case "script", "pipe":
	default:
		errs = append(errs, fmt.Errorf("pantilt.scheme %q must be script or pipe", c.PanTilt.Scheme))
	}
	if c.Stream.Tick <= 0 || c.Tracking.Interval <= 0 {
		errs = append(errs, errors.New("stream.tick and tracking.interval must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// StreamURL адрес MJPEG потока на плате
func (c *Config) StreamURL(host string) string {
	path := c.Stream.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("http://%s:%d%s", host, c.Stream.Port, path)
}

// StartCommand подставляет порт потока в команду запуска
func (c *Config) StartCommand() string {
	return strings.ReplaceAll(c.Remote.StartStreamCommand, "{port}", strconv.Itoa(c.Stream.Port))
}
