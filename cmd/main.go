package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sensorhub/internal/config"
	"sensorhub/internal/handlers"
	"sensorhub/internal/middleware"
	"sensorhub/internal/repository"
	"sensorhub/internal/service"
	"sensorhub/internal/validator"
	"sensorhub/internal/worker"
	"sensorhub/pkg/database"
	"sensorhub/pkg/redis"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	setupLogger(cfg)
	log.Info().Str("backend", cfg.Store.Backend).Str("timezone", cfg.App.Timezone).Msg("=== Telemetry Service Starting ===")

	loc := cfg.Location()

	repo, closeStore, err := openStore(cfg, loc)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("Failed to open store")
	}
	defer closeStore()

	initCtx, cancel := context.WithTimeout(context.Background(), cfg.Store.Timeout)
	err = repo.Initialize(initCtx)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize store")
	}

	telemetryService := service.NewTelemetryService(
		repo,
		validator.NewTelemetryValidator(loc),
		service.TelemetryConfig{
			StoreTimeout: cfg.Store.Timeout,
			ZoneLabel:    cfg.Export.ZoneLabel,
		},
	)

	scheduler := worker.NewScheduler()

	if cfg.MQTT.Enabled {
		scheduler.AddWorker(worker.NewSubscriberWorker(telemetryService, cfg.MQTTConfig()))
		log.Info().Str("broker", cfg.MQTT.Broker).Str("topic", cfg.MQTT.Topic).Msg("MQTT subscriber enabled")
	}

	if cfg.Snapshot.Enabled {
		scheduler.AddWorker(worker.NewSnapshotWorker(telemetryService, cfg.Snapshot.Interval, cfg.Snapshot.Dir, loc))
		log.Info().Dur("interval", cfg.Snapshot.Interval).Msg("Snapshot worker enabled")
	}

	go scheduler.Start()
	defer scheduler.Stop()

	if cfg.App.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger())

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", cfg.App.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handlers.NewTelemetryHandler(telemetryService, cfg.Export.CSVFilename).Register(r, cfg.App.TruncateEnabled)
	if cfg.App.TruncateEnabled {
		log.Warn().Msg("POST /truncate is enabled")
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "message": "no route for " + c.Request.Method + " " + c.Request.URL.Path})
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Server starting")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.App.Debug {
		level = zerolog.DebugLevel
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	zerolog.SetGlobalLevel(level)
}

// openStore builds the repository for the configured backend and returns a
// func releasing its connections.
func openStore(cfg *config.Config, loc *time.Location) (repository.TelemetryRepository, func(), error) {
	switch cfg.Store.Backend {
	case "file":
		return repository.NewFileTelemetryRepository(cfg.Store.DataFile, loc), func() {}, nil

	case "redis":
		client, err := redis.Connect(cfg.RedisConfig())
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close Redis")
			}
		}
		return repository.NewRedisTelemetryRepository(client, cfg.Redis.Stream, loc), closeFn, nil

	default:
		db, err := database.Connect(cfg.Database())
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := database.Close(db); err != nil {
				log.Error().Err(err).Msg("Failed to close database")
			}
		}
		return repository.NewTelemetryRepository(db, loc), closeFn, nil
	}
}
