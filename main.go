package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"tv-executor/internal/api"
	"tv-executor/internal/domain"
	"tv-executor/internal/engine"
	"tv-executor/internal/events"
	"tv-executor/internal/gateway"
	"tv-executor/internal/monitor"
	"tv-executor/internal/notify"
	"tv-executor/internal/order"
	"tv-executor/pkg/config"
	"tv-executor/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, logCloser, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Core services
	bus := events.NewBus()
	metrics := monitor.New()
	(&monitor.Monitor{Bus: bus, Metrics: metrics, Logger: log}).Start(ctx)

	creds := make(map[domain.ExchangeID]gateway.Credentials, len(cfg.Exchanges))
	for ex, c := range cfg.Exchanges {
		creds[ex] = gateway.Credentials(c)
	}
	connectors := gateway.NewManager(gateway.Config{
		Credentials: creds,
		Incomplete:  cfg.IncompleteExchanges,
		Testnet:     cfg.Testnet,
		MaxRetries:  cfg.MaxRetries,
		DryRun:      cfg.DryRun,
		Slippage:    cfg.Slippage,
		FeeRate:     cfg.PaperFeeRate,
	}, nil, log.With("component", "gateway"))
	metrics.WatchGauge("connectors", "Cached exchange connectors.", func() float64 {
		return float64(connectors.Stats().Total)
	})

	orders := order.NewEngine(order.Config{
		LimitOrderOffset: cfg.LimitOrderOffset,
		StopLossOffset:   cfg.StopLossOffset,
		StopLossTimeout:  cfg.StopLossTimeout,
	}, log.With("component", "order"))
	orders.SetBus(bus)
	orders.SetObserver(metrics)

	sinks, closeSinks := buildSinks(cfg, bus)
	defer closeSinks()
	dispatcher := notify.NewDispatcher(cfg.NotifyTimeout, log.With("component", "notify"), sinks...)

	svc := engine.NewImpl(engine.Config{
		Secret:        cfg.Passphrase,
		Connectors:    connectors,
		Orders:        orders,
		Notifier:      dispatcher,
		Recorder:      metrics,
		OrderTimeout:  cfg.OrderTimeout,
		NotifyTimeout: cfg.NotifyTimeout,
		Logger:        log,
		Meta: engine.SystemStatus{
			Version:     version,
			Environment: cfg.Env,
			DryRun:      cfg.DryRun,
			Testnet:     cfg.Testnet,
			StartedAt:   time.Now(),
		},
	})

	// API
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log)
	go limiter.Run(ctx, 5*time.Minute)
	replay, closeReplay := buildReplayStore(ctx, cfg, log)
	defer closeReplay()

	server := api.NewServer(api.Options{
		Engine:       svc,
		Bus:          bus,
		Metrics:      metrics,
		Logger:       log,
		JWTSecret:    cfg.JWTSecret,
		RateLimiter:  limiter,
		Replay:       replay,
		ReplayWindow: cfg.ReplayWindow,
	})
	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var (
		grpcSrv   *grpc.Server
		healthSrv *health.Server
	)
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpc.NewServer()
		healthSrv = health.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, healthSrv)
		reflection.Register(grpcSrv)
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	st := svc.Status(ctx)
	log.Info("tv-executor started",
		"version", version,
		"environment", cfg.Env,
		"addr", cfg.Addr(),
		"grpc_addr", cfg.GRPCAddr,
		"dry_run", cfg.DryRun,
		"testnet", cfg.Testnet,
		"exchanges", st.Exchanges,
		"notifications_enabled", dispatcher.Enabled(),
		"notifications", st.Notifications,
		"stop_loss_offset", cfg.StopLossOffset,
		"ws_enabled", cfg.JWTSecret != "",
	)
	if len(st.Exchanges) == 0 && !cfg.DryRun {
		log.Warn("no exchange credentials configured; every signal will fail with a configuration error")
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server failed", "error", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if healthSrv != nil {
		healthSrv.Shutdown()
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	log.Info("server exiting")
	return nil
}

// buildSinks returns the configured notification sinks and a func closing
// those that hold connections.
func buildSinks(cfg *config.Config, bus *events.Bus) ([]notify.Sink, func()) {
	var (
		sinks   []notify.Sink
		closers []io.Closer
	)
	client := &http.Client{Timeout: cfg.NotifyTimeout}
	if cfg.TelegramEnabled() {
		sinks = append(sinks, notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, "", client))
	}
	if cfg.DiscordWebhookURL != "" {
		sinks = append(sinks, notify.NewDiscord(cfg.DiscordWebhookURL, client))
	}
	if len(cfg.KafkaBrokers) > 0 {
		k := notify.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, k)
		closers = append(closers, k)
	}
	if cfg.JWTSecret != "" {
		sinks = append(sinks, notify.NewHub(bus))
	}
	return sinks, func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}
}

// buildReplayStore prefers Redis when REDIS_ADDR is set and reachable.
func buildReplayStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (api.ReplayStore, func()) {
	if cfg.ReplayWindow <= 0 {
		return nil, func() {}
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := client.Ping(pingCtx).Err()
		if err == nil {
			log.Info("replay guard using redis", "addr", cfg.RedisAddr, "window", cfg.ReplayWindow)
			return api.NewRedisReplayStore(client), func() { _ = client.Close() }
		}
		log.Warn("redis unavailable, replay guard falls back to memory", "addr", cfg.RedisAddr, "error", err)
		_ = client.Close()
	}
	store := api.NewMemoryReplayStore()
	go store.Run(ctx, time.Minute)
	return store, func() {}
}
