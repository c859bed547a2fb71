package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/mrted88/gas-engineer-crm/internal/api"
	"github.com/mrted88/gas-engineer-crm/internal/availability"
	"github.com/mrted88/gas-engineer-crm/internal/config"
	"github.com/mrted88/gas-engineer-crm/internal/customers"
	"github.com/mrted88/gas-engineer-crm/internal/database"
	"github.com/mrted88/gas-engineer-crm/internal/events"
	"github.com/mrted88/gas-engineer-crm/internal/metrics"
	"github.com/mrted88/gas-engineer-crm/internal/persistence"
	"github.com/mrted88/gas-engineer-crm/internal/reminders"
	"github.com/mrted88/gas-engineer-crm/internal/reports"
	"github.com/mrted88/gas-engineer-crm/internal/store"
)

func main() {
	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CRM_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := persistence.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	eventsStore, err := persistence.NewSQLite(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("init events table error")
	}

	directory, err := customers.NewDirectory(db, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init customers table error")
	}

	var rdb *redis.Client
	if cfg.Redis.Address != "" && cfg.Redis.CacheTTLSeconds > 0 {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		directory.UseRedisCache(rdb, cfg.CustomerCacheTTL())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus()

	eventStore, err := store.New(ctx, store.Options{
		Persistence:      eventsStore,
		Customers:        directory,
		Logger:           &logger,
		Bus:              bus,
		EnforceConflicts: cfg.Booking.EnforceConflicts,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("load event store error")
	}

	checker := availability.NewChecker(eventStore)
	reporter := reports.NewService(eventStore)

	scheduler := cron.New()
	if cfg.Backup.Enabled {
		backup := database.NewBackupService(cfg.Database.Path, cfg, &logger)
		if _, err := scheduler.AddFunc(cfg.Backup.Schedule, backup.Run); err != nil {
			logger.Fatal().Err(err).Str("schedule", cfg.Backup.Schedule).Msg("bad backup schedule")
		}
	}
	if cfg.Reminders.Enabled {
		reminder := reminders.NewService(
			reminders.Config{DaysOut: cfg.Reminders.DaysOut}, eventStore, bus, &logger)
		if _, err := scheduler.AddFunc(cfg.Reminders.Schedule, reminder.Run); err != nil {
			logger.Fatal().Err(err).Str("schedule", cfg.Reminders.Schedule).Msg("bad reminders schedule")
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	server := api.NewServer(api.Options{
		Events:       eventStore,
		Customers:    directory,
		Availability: checker,
		Reports:      reporter,
		Logger:       logger,
		DaySchedule: availability.DaySchedule{
			StartTime:    cfg.Booking.DayStart,
			EndTime:      cfg.Booking.DayEnd,
			SlotDuration: cfg.Booking.SlotDurationMinutes,
		},
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	})

	logger.Info().Msg("gas engineer CRM started")
	if err := server.Run(ctx, fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		logger.Fatal().Err(err).Msg("api server error")
	}
}

func startHealthServer(ctx context.Context, port int, db interface{ PingContext(context.Context) error }, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
