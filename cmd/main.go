package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kossa56/Jamnik/internal/api"
	"github.com/kossa56/Jamnik/internal/config"
	"github.com/kossa56/Jamnik/internal/control"
	"github.com/kossa56/Jamnik/internal/detector"
	"github.com/kossa56/Jamnik/internal/dispatch"
	"github.com/kossa56/Jamnik/internal/journal"
	"github.com/kossa56/Jamnik/internal/kafka"
	"github.com/kossa56/Jamnik/internal/logger"
	"github.com/kossa56/Jamnik/internal/outbox"
	"github.com/kossa56/Jamnik/internal/remote"
	"github.com/kossa56/Jamnik/internal/runner"
	"github.com/kossa56/Jamnik/internal/s3"
	"github.com/kossa56/Jamnik/internal/status"
	"github.com/kossa56/Jamnik/internal/vision"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config")
	flag.Parse()

	// Чтение конфига
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	zapLogger, err := logger.New(cfg.Log.Mode)
	if err != nil {
		log.Fatal(err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := status.NewHub(zapLogger)

	strategy, err := dispatch.NewStrategy(cfg.PanTilt.Scheme, cfg.PanTilt.Script, cfg.PanTilt.FIFO)
	if err != nil {
		zapLogger.Fatal("pan-tilt strategy", zap.Error(err))
	}

	remoteOpts := remote.DefaultOptions()
	remoteOpts.KnownHostsFile = cfg.Remote.KnownHosts
	channel := remote.New(hub, zapLogger, remoteOpts)

	deps := runner.Deps{
		Config:    cfg,
		Logger:    zapLogger,
		Sink:      hub,
		Remote:    channel,
		Opener:    vision.OpenCapture,
		Loader:    modelLoader(cfg),
		Annotator: vision.Annotator{},
		Encoder:   vision.EncodeJPEG,
		Strategy:  strategy,
	}

	// Журнал команд в Postgres
	var history api.History
	if cfg.Postgres.DSN != "" {
		db, err := journal.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			zapLogger.Fatal("journal", zap.Error(err))
		}
		if err := db.Init(ctx); err != nil {
			zapLogger.Fatal("journal init", zap.Error(err))
		}
		defer db.Close()
		deps.Journal = db
		history = db
	}

	// События сеанса в Kafka через аутбокс
	var events *outbox.Outbox
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.EventTopic, zapLogger)
		if err != nil {
			zapLogger.Fatal("kafka producer", zap.Error(err))
		}
		defer producer.Close()

		events = outbox.New(producer, zapLogger, outbox.DefaultLimit)
		go events.Start(ctx, cfg.Kafka.Interval)
		deps.Events = events
	}

	// Снимки кадров с детекциями в MinIO
	if cfg.Minio.Endpoint != "" {
		minioClient, err := s3.NewMinioClient(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Bucket)
		if err != nil {
			zapLogger.Fatal("minio", zap.Error(err))
		}
		if err := minioClient.EnsureBucket(ctx); err != nil {
			zapLogger.Fatal("minio bucket", zap.Error(err))
		}
		deps.Snapshots = minioClient
	}

	r := runner.New(deps)
	if err := r.LoadModel(); err != nil {
		zapLogger.Warn("detection model not loaded, auto tracking disabled", zap.Error(err))
	}
	defer func() {
		r.Close()
		// события отключения публикуются после остановки слива, до закрытия продюсера
		if events != nil {
			events.Flush()
		}
	}()

	defaults := remote.Target{
		Host:   cfg.Remote.Host,
		Port:   cfg.Remote.Port,
		User:   cfg.Remote.User,
		Secret: cfg.Remote.Password,
	}

	// Плоскость управления по MQTT
	if cfg.MQTT.Broker != "" {
		client, err := control.Dial(cfg.MQTT.Broker, cfg.MQTT.ClientID, zapLogger)
		if err != nil {
			zapLogger.Fatal("mqtt", zap.Error(err))
		}
		defer client.Disconnect(250)

		handler := control.NewHandler(client, cfg.MQTT.ControlTopic, r, defaults, zapLogger)
		if err := handler.Start(ctx); err != nil {
			zapLogger.Fatal("mqtt control", zap.Error(err))
		}
		defer handler.Stop()
	}

	handlers := api.NewHandlers(r, hub, history, defaults, zapLogger)
	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           handlers.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		zapLogger.Info("starting API server", zap.String("addr", cfg.API.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Error("api server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zapLogger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Warn("api shutdown", zap.Error(err))
	}
}

func modelLoader(cfg *config.Config) detector.Loader {
	return func() (detector.Model, error) {
		model, err := vision.LoadModel(vision.ModelConfig{
			Weights:   cfg.Detector.Weights,
			Config:    cfg.Detector.Config,
			Names:     cfg.Detector.Names,
			InputSize: cfg.Detector.InputSize,
		})
		if err != nil {
			return nil, err
		}
		return model, nil
	}
}
