package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"camrec/internal/backoff"
	"camrec/internal/camera"
	"camrec/internal/config"
	"camrec/internal/database"
	"camrec/internal/events"
	"camrec/internal/logging"
	"camrec/internal/metrics"
	"camrec/internal/schedule"
	"camrec/internal/source"
	"camrec/internal/status"
	"camrec/internal/uploader"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("init local database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := source.NewPostgresSource(ctx, cfg.Source.DSN, time.Duration(cfg.Source.TimeoutSeconds)*time.Second, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("init booking source")
		return err
	}
	defer src.Close()

	store, err := uploader.NewMinioStore(cfg.Storage, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("init storage client")
		return err
	}

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	eventBus := events.NewEventBus()

	pipeline := uploader.NewPipeline(db, store, uploader.RetryPolicy{
		MaxAttempts:  cfg.Upload.MaxAttempts,
		InitialDelay: 2 * time.Second,
		MaxDelay:     time.Minute,
	}, uploader.Options{
		Workers:           cfg.Upload.Workers,
		QueueSize:         cfg.Upload.QueueSize,
		UploadTimeout:     time.Duration(cfg.Upload.TimeoutSeconds) * time.Second,
		DeleteAfterUpload: cfg.Upload.DeleteAfterUpload,
		Redis:             redisClient,
		Bus:               eventBus,
	}, &logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pipeline.Run(ctx)
	}()

	backoffCtrl := backoff.NewController(backoff.WithCap(time.Duration(cfg.Backoff.CapSeconds) * time.Second))

	machines := make(map[string]schedule.CameraMachine, len(cfg.Cameras))
	snapshotters := make([]status.CameraSnapshotter, 0, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		driver := camera.NewGoCVDriver(cam.Device)
		m := camera.NewMachine(
			cam.ID, cam.Width, cam.Height, cam.FPS,
			cfg.Recorder.RecordingsDir,
			driver, backoffCtrl, pipeline, src, &logger,
			camera.WithTick(time.Duration(cfg.Recorder.TickSeconds)*time.Second),
			camera.WithRecordingLog(db),
			camera.WithEventBus(eventBus),
		)
		machines[cam.ID] = m
		snapshotters = append(snapshotters, m)

		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Run(ctx)
		}()
	}

	normalizer := schedule.NewNormalizer(cfg.Location())
	poller := schedule.NewPoller(
		src, normalizer, machines,
		time.Duration(cfg.Poller.IntervalSeconds)*time.Second,
		time.Duration(cfg.Poller.LookAheadMinutes)*time.Minute,
		&logger,
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()

	sink := initStatusSink(cfg, &logger)
	reporter := status.NewReporter(
		cfg.App.DeviceID, snapshotters, pipeline, db, sink,
		time.Duration(cfg.Status.IntervalSeconds)*time.Second,
		&logger,
	)
	subscribeEvents(eventBus, reporter, &logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reporter.Run(ctx)
	}()

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go serveMetrics(cfg.Monitoring.PrometheusPort, &logger)
	}

	logger.Info().
		Str("device_id", cfg.App.DeviceID).
		Int("cameras", len(cfg.Cameras)).
		Msg("recorder started")

	<-ctx.Done()
	logger.Info().Msg("shutdown requested")
	wg.Wait()
	logger.Info().Msg("shutdown complete")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "recorder-main").Logger()

	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if cfg == nil {
		return os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("create database directory")
		return err
	}
	if err := os.MkdirAll(cfg.Recorder.RecordingsDir, 0o755); err != nil {
		logger.Error().Err(err).Msg("create recordings directory")
		return err
	}
	return nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, upload queue mirror disabled")
		_ = client.Close()
		return nil
	}
	return client
}

func initStatusSink(cfg *config.Config, logger *zerolog.Logger) status.Sink {
	if cfg.MQTT.Host == "" {
		return status.NewLogSink(logger)
	}

	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("camrec-%s-%s", cfg.App.DeviceID, uuid.NewString()[:8])
	}
	mqttCfg := cfg.MQTT
	mqttCfg.ClientID = clientID

	sink, err := status.NewMQTTSink(mqttCfg, cfg.App.DeviceID, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("mqtt sink unavailable, falling back to log sink")
		return status.NewLogSink(logger)
	}
	return sink
}

func serveMetrics(port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

func subscribeEvents(bus *events.EventBus, reporter *status.Reporter, logger *zerolog.Logger) {
	decode := func(ev *events.Event) (events.RecordingEventPayload, error) {
		var payload events.RecordingEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return payload, err
		}
		return payload, nil
	}

	bus.Subscribe(events.EventRecordingStarted, func(ev *events.Event) error {
		payload, err := decode(ev)
		if err != nil {
			logger.Error().Err(err).Str("event", ev.Type).Msg("event bus: decode payload")
			return nil
		}
		metrics.IncRecordingStarted(payload.CameraID)
		return nil
	})

	bus.Subscribe(events.EventRecordingCompleted, func(ev *events.Event) error {
		payload, err := decode(ev)
		if err != nil {
			return nil
		}
		metrics.IncRecordingCompleted(payload.CameraID)
		return nil
	})

	bus.Subscribe(events.EventRecordingFailed, func(ev *events.Event) error {
		payload, err := decode(ev)
		if err != nil {
			return nil
		}
		metrics.IncRecordingFailed(payload.CameraID)
		reporter.RecordError()
		return nil
	})

	bus.Subscribe(events.EventUploadCompleted, func(ev *events.Event) error {
		metrics.IncUpload("uploaded")
		return nil
	})

	bus.Subscribe(events.EventUploadFailed, func(ev *events.Event) error {
		metrics.IncUpload("failed")
		reporter.RecordError()
		return nil
	})
}
