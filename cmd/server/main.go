package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"quotefeed/internal/auth"
	"quotefeed/internal/dispatch"
	"quotefeed/internal/events"
	"quotefeed/internal/platform/config"
	"quotefeed/internal/platform/httpserver"
	"quotefeed/internal/platform/logger"
	"quotefeed/internal/platform/metrics"
	"quotefeed/internal/platform/postgres"
	platformredis "quotefeed/internal/platform/redis"
	"quotefeed/internal/quote"
	quotehandler "quotefeed/internal/quote/handler"
	transporthttp "quotefeed/internal/transport/http"
	"quotefeed/internal/transport/ws"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)
	m := metrics.New(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Record store. Migration must finish before the store takes traffic.
	var store quote.Store
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			fatal(log, "postgres connection failed", err)
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db, log); err != nil {
			fatal(log, "schema migration failed", err)
		}
		store = quote.NewPostgres(db)
	} else {
		log.Warn("DATABASE_URL not set, quotes are stored in memory")
		store = quote.NewInMemory()
	}

	publisher, closePublisher, err := buildPublisher(cfg, log)
	if err != nil {
		fatal(log, "event publisher setup failed", err)
	}
	defer closePublisher()

	authn := auth.NewService(auth.NewBcryptHasher(0), auth.WithLogger(log))
	if err := authn.RegisterUser(cfg.AuthUsername, cfg.AuthPassword, auth.RoleUser); err != nil {
		fatal(log, "user registration failed", err)
	}
	tokens := auth.NewTokenService(cfg.JWTSigningKey, "quotefeed", cfg.TokenTTL)

	source := quote.NewFactBook(time.Now().UnixNano())

	dispatcher := dispatch.New(authn, dispatch.WithLogger(log), dispatch.WithMetrics(m))
	routes := quotehandler.New(store, source, quotehandler.WithLogger(log))
	if err := routes.Register(dispatcher); err != nil {
		fatal(log, "route configuration error", err)
	}

	generator := quote.NewGenerator(store, publisher, source, cfg.GeneratorPeriod,
		quote.WithGeneratorLogger(log), quote.WithGeneratorMetrics(m))

	connect := ws.NewHandler(dispatcher, authn, tokens, cfg.StreamCredit,
		ws.WithLogger(log), ws.WithMetrics(m))
	router := transporthttp.NewRouter(connect, transporthttp.NewTokenHandler(authn, tokens, log))
	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting quotefeed", "addr", cfg.Addr, "eventSink", cfg.EventSink)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := generator.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		fatal(log, "shutdown failed", err)
	}
}

// buildPublisher selects the external stream sink from configuration.
func buildPublisher(cfg config.Server, log *slog.Logger) (quote.EventPublisher, func(), error) {
	switch cfg.EventSink {
	case "kafka":
		kafka, err := events.NewKafka(cfg.KafkaBrokers, cfg.EventTopic)
		if err != nil {
			return nil, nil, err
		}
		return kafka, kafka.Close, nil
	case "redis":
		client, err := platformredis.New(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		if client == nil {
			return nil, nil, fmt.Errorf("REDIS_URL is required for the redis event sink")
		}
		return events.NewRedis(client.Client, cfg.EventTopic), func() { _ = client.Close() }, nil
	case "log":
		return events.NewLogPublisher(log), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown event sink %q", cfg.EventSink)
	}
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
