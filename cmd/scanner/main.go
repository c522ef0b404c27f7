package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/port"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/infra/config"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/infra/detector"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/infra/ffmpeg"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/infra/fixture"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/infra/httpapi"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/infra/memstore"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/infra/metrics"
	miniostorage "github.com/martinatfullscale/fullscale-app-sub001/internal/infra/minio"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/infra/postgres"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/infra/rabbitmq"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/infra/tracing"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/scheduler"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/usecase"
	"github.com/martinatfullscale/fullscale-app-sub001/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type videoStore interface {
	port.VideoRepository
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting surface-scan-service",
		zap.String("store", cfg.StoreDriver),
		zap.String("detector", cfg.DetectorBackend),
		zap.String("data_source", cfg.DataSource),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if the collector is unavailable)
	tp, err := tracing.InitTracer(ctx, cfg.JaegerEndpoint)
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(context.Background())
	}

	checks := map[string]metrics.HealthCheck{}

	// Result store
	var (
		videos   videoStore
		surfaces port.SurfaceRepository
	)
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		fatalOnErr(err, "connect to postgres")
		defer pool.Close()

		fatalOnErr(postgres.RunMigrations(cfg.DatabaseURL), "run migrations")

		repo := postgres.NewVideoRepository(pool)
		videos = repo
		surfaces = postgres.NewSurfaceRepository(pool)
	default:
		demo, err := fixture.Load(cfg.FixturePath)
		fatalOnErr(err, "load fixture videos")

		store := memstore.New()
		for _, v := range demo.Videos() {
			v.Status = entity.PendingScan()
			store.AddVideo(v)
		}
		videos = store
		surfaces = store
		log.Info("using in-memory store", zap.Int("videos", len(demo.Videos())))
	}
	checks["store"] = videos.Ping

	// Detector backend, chosen once
	var backend port.SurfaceDetector
	switch cfg.DetectorBackend {
	case config.DetectorLocal:
		model, err := detector.LoadModel(cfg.ModelPath, cfg.ModelConfigPath, cfg.ModelLabelsPath)
		if err != nil {
			// Scans fail as ModelUnavailable; the read path still works.
			log.Error("local model unavailable", zap.String("model_path", cfg.ModelPath), zap.Error(err))
		}
		local := detector.NewLocalModelDetector(model)
		defer local.Close()
		backend = local
	default:
		remote := detector.NewRemoteServiceDetector(cfg.InferenceURL, cfg.InferenceTimeout, log)
		checks["inference"] = remote.CheckHealth
		backend = remote
	}
	surfaceDetector := detector.NewFilter(backend, cfg.MinConfidence)

	sampler := ffmpeg.NewSampler(ffmpeg.SamplerConfig{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		MaxFrames:   cfg.MaxFrames,
	}, log)

	uc := usecase.NewScanVideoUseCase(videos, surfaces, sampler, surfaceDetector, log, usecase.ScanVideoConfig{
		TempDir:           cfg.TempDir,
		SampleRateSeconds: cfg.SampleRateSeconds,
		Aggregate: usecase.AggregateOptions{
			Window:       cfg.DedupWindowSeconds,
			IoUThreshold: cfg.IoUThreshold,
		},
	})

	// MinIO
	if cfg.MinIOEnabled {
		storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
			Endpoint:     cfg.MinIOEndpoint,
			AccessKey:    cfg.MinIOAccessKey,
			SecretKey:    cfg.MinIOSecretKey,
			UseSSL:       cfg.MinIOUseSSL,
			SourceBucket: cfg.MinIOSourceBucket,
			FrameBucket:  cfg.MinIOFrameBucket,
			PublicURL:    cfg.MinIOPublicURL,
		})
		fatalOnErr(err, "create minio storage")
		fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")
		uc.WithSourceFetcher(storage).WithFrameStorage(storage)
		checks["minio"] = storage.Ping
	}

	// RabbitMQ publisher connection
	var dlqPub *rabbitmq.DLQPublisher
	if cfg.RabbitMQEnabled {
		rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
		fatalOnErr(err, "connect to rabbitmq for publisher")
		defer rmqConn.Close()

		pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
		fatalOnErr(err, "create rabbitmq publisher")
		defer pub.Close()

		uc.WithPublisher(rabbitmq.NewStatusPublisher(pub, cfg.RabbitMQStatusQueue))
		dlqPub = rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)
	}

	sched := scheduler.New(videos, uc, log, scheduler.Config{
		Workers:        cfg.WorkerCount,
		QueueSize:      cfg.QueueSize,
		JobTimeout:     cfg.JobTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
	})
	sched.Start(ctx)

	// Read path
	source := usecase.DataSource{Name: config.DataSourceLive, Videos: videos, Surfaces: surfaces}
	if cfg.DataSource == config.DataSourceFixture {
		demo, err := fixture.Load(cfg.FixturePath)
		fatalOnErr(err, "load fixture")
		source = usecase.DataSource{Name: config.DataSourceFixture, Videos: demo, Surfaces: demo}
	}
	reader := usecase.NewReadSurfacesUseCase(source, log)

	// Metrics server
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, log, checks)

	// HTTP API
	app := httpapi.NewApp(httpapi.NewHandlers(sched, reader, log), httpapi.ServerConfig{JWTSecret: cfg.JWTSecret}, log)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		log.Info("http api listening", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http api error", zap.Error(err))
			cancel()
		}
	}()

	// Consumer (scan requests)
	var consumer *rabbitmq.Consumer
	if cfg.RabbitMQEnabled {
		consumer, err = rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
			URL:         cfg.RabbitMQURL,
			Queue:       cfg.RabbitMQScanQueue,
			Exchange:    cfg.RabbitMQExchange,
			DLQ:         cfg.RabbitMQDLQ,
			StatusQueue: cfg.RabbitMQStatusQueue,
			Prefetch:    cfg.RabbitMQPrefetch,
			WorkerCount: cfg.WorkerCount,
			BaseDelay:   cfg.RetryBaseDelay,
		}, rabbitmq.NewScanRequestHandler(sched, dlqPub, log), log)
		fatalOnErr(err, "create consumer")

		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error("consumer error", zap.Error(err))
				cancel()
			}
		}()
	}

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warn("http api shutdown", zap.Error(err))
	}
	sched.Stop()
	if consumer != nil {
		consumer.Close()
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown", zap.Error(err))
	}

	log.Info("surface-scan-service stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
