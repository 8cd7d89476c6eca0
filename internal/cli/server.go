package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quizlive/internal/app"
	"quizlive/internal/bus"
	"quizlive/internal/config"
	"quizlive/internal/infra/memory"
	pgstore "quizlive/internal/infra/postgres"
	redisinfra "quizlive/internal/infra/redis"
	"quizlive/internal/logger"
	"quizlive/internal/metrics"
	transport "quizlive/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.SetupDefault(os.Stdout, logger.ParseLevel(cfg.Server.LogLevel))

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	var eventBus *bus.Bus
	eventBus = bus.New(bus.Options{
		Buffer:            cfg.Bus.Buffer,
		KeepaliveInterval: config.Duration(cfg.Bus.Keepalive, 30*time.Second),
		OnDrop:            func(string) { collector.RecordEventDropped() },
		OnUnsubscribe:     func(string) { collector.SetSubscribers(eventBus.TotalSubscribers()) },
	})

	var store app.EntityStore = memory.NewEntityStore()
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = pgstore.NewEntityStore(pool)
	}

	opts := []app.Option{
		app.WithMetrics(collector),
		app.WithLogger(log),
	}
	if cfg.Quiz.TopN > 0 {
		opts = append(opts, app.WithTopN(cfg.Quiz.TopN))
	}
	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache := redisinfra.NewLeaderboardCache(client, config.Duration(cfg.Redis.TTL, 10*time.Minute))
		opts = append(opts, app.WithLeaderboardCache(cache))
	}
	coordinator := app.NewCoordinator(store, eventBus, opts...)

	router := transport.NewRouter(transport.RouterDeps{
		Coordinator: coordinator,
		Gatherer:    registry,
		RateLimiter: transport.NewRateLimiter(cfg.Rate.RPS, cfg.Rate.Burst),
		Log:         log,
	})

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: SSE and websocket connections are long-lived.
	}

	go func() {
		log.Info("starting quiz session server", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
