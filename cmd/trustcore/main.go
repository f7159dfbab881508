package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/redis/go-redis/v9"

	"github.com/smarttutor-systems/trustcore/internal/alerts"
	"github.com/smarttutor-systems/trustcore/internal/analytics"
	"github.com/smarttutor-systems/trustcore/internal/audit"
	"github.com/smarttutor-systems/trustcore/internal/config"
	"github.com/smarttutor-systems/trustcore/internal/credentials"
	"github.com/smarttutor-systems/trustcore/internal/handlers"
	"github.com/smarttutor-systems/trustcore/internal/logging"
	"github.com/smarttutor-systems/trustcore/internal/middleware"
	"github.com/smarttutor-systems/trustcore/internal/playbook"
	"github.com/smarttutor-systems/trustcore/internal/ratelimit"
	"github.com/smarttutor-systems/trustcore/internal/repository"
	"github.com/smarttutor-systems/trustcore/internal/server"
	"github.com/smarttutor-systems/trustcore/internal/service"
	"github.com/smarttutor-systems/trustcore/internal/twofactor"
	"github.com/smarttutor-systems/trustcore/pkg/tokens"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(slog.String("service", "trustcore"))
	logging.SetDefault(logger)

	slog.Info("Starting TrustCore service",
		slog.Int("port", cfg.Server.Port),
		slog.String("environment", cfg.Environment),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Repository
	var repo repository.Repository
	if cfg.Database.Type == "postgres" {
		connString := cfg.Database.Postgres.ConnString()
		slog.Info("Connecting to PostgreSQL",
			slog.String("host", cfg.Database.Postgres.Host),
			slog.Int("port", cfg.Database.Postgres.Port),
			slog.String("database", cfg.Database.Postgres.Database),
		)

		pgRepo, err := repository.NewPostgresRepository(context.Background(), connString)
		if err != nil {
			slog.Error("Failed to connect to PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		repo = pgRepo

		slog.Info("Running database migrations")
		m, err := migrate.New("file://migrations", connString)
		if err != nil {
			slog.Error("Failed to initialize migrations", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			slog.Error("Failed to run migrations", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		slog.Warn("Using in-memory repository (development only)")
		repo = repository.NewInMemoryRepository()
	}
	defer repo.Close()

	// Throttling and blocklist, Redis-backed when configured
	var limiter ratelimit.Limiter
	var blocklist ratelimit.Blocklist
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("Invalid Redis URL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(context.Background()).Err(); err != nil {
			slog.Error("Failed to connect to Redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer client.Close()
		limiter = ratelimit.NewRedisLimiter(client, cfg.RateLimit.Limit, cfg.RateLimit.Window)
		blocklist = ratelimit.NewRedisBlocklist(client)
		slog.Info("Connected to Redis")
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window)
		blocklist = ratelimit.NewMemoryBlocklist()
	}
	defer limiter.Close()

	tokenSvc := tokens.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	guard := credentials.NewGuard(repo, cfg.Auth.MaxFailedLogins, cfg.Auth.LockoutWindow)
	twoFactor := twofactor.NewProvider(repo)
	recorder := audit.NewRecorder(repo, logger)

	authService := service.NewAuthService(repo, guard, twoFactor, tokenSvc, limiter, blocklist, recorder, cfg.Auth.TokenTTL)
	analyzer := analytics.NewAnalyzer(repo, logger)

	// Alert fan-out
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := alerts.NewHub(ctx, tokenSvc, logger)
	go hub.Run()
	defer hub.Stop()

	// Notification channels: structured log always, webhook when configured
	channels := []alerts.Channel{alerts.NewLogChannel(logger)}
	if cfg.Alerts.WebhookURL != "" {
		channels = append(channels, alerts.NewWebhookChannel(cfg.Alerts.WebhookURL, cfg.Alerts.SendTimeout))
	}
	dispatcher := alerts.NewDispatcher(logger, channels...)

	responder := alerts.NewResponder(dispatcher, blocklist, repo, []string{"log", "webhook"}, logger)

	engine := playbook.NewEngine(repo, repo, blocklist, dispatcher, logger)
	engine.SetRecorder(recorder)

	// Every recorded event reaches the live stream, the playbook engine
	// and the threat responder.
	recorder.AddSink(hub)
	recorder.AddSink(engine)
	recorder.AddSink(responder)

	if cfg.Alerts.NATSEnabled {
		publisher, err := alerts.NewNATSPublisher(cfg.Alerts.NATSURL)
		if err != nil {
			slog.Error("Failed to connect to NATS", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer publisher.Close()
		recorder.AddSink(publisher)
		slog.Info("Mirroring alerts to NATS", slog.String("subject", alerts.SubjectSecurityAlerts))
	}

	router := server.NewRouter(
		handlers.NewAuthHandler(authService),
		handlers.NewSecurityHandler(analyzer, repo, cfg.Auth.MaxFailedLogins),
		hub,
		middleware.NewAuthMiddleware(authService),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("TrustCore service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", slog.String("error", err.Error()))
	}
	slog.Info("Server stopped")
}
