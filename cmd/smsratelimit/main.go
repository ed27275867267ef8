package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/parkerroan/smsratelimit"
	"github.com/parkerroan/smsratelimit/broker"
	"github.com/parkerroan/smsratelimit/history"
	"github.com/parkerroan/smsratelimit/limiter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("smsratelimit exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := smsratelimit.LoadSettings()
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checkClock(ctx, cfg, logger)

	metrics := smsratelimit.NewPrometheusMetrics()
	metrics.MustRegister()

	registry := limiter.NewRegistry()
	store := history.NewStore()

	opts := []func(*smsratelimit.Controller){
		smsratelimit.WithSettings(cfg),
		smsratelimit.WithMetrics(metrics),
		smsratelimit.WithLogger(logger),
	}

	if cfg.RedisURL != "" {
		rdb, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()

		publisher := broker.NewRedisPublisher(rdb,
			broker.WithStream(cfg.EventStream),
			broker.WithCappedStream(cfg.EventStreamLen),
			broker.WithLogger(logger),
		)
		publisher.Start(ctx)
		opts = append(opts, smsratelimit.WithPublisher(publisher))
		logger.Info("publishing admission events",
			slog.String("stream", cfg.EventStream), slog.String("instance_id", publisher.InstanceID()))
	}

	ctrl, err := smsratelimit.NewController(registry, store, opts...)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	sweepOpts := []func(*smsratelimit.Sweeper){
		smsratelimit.WithSweepErrorBackoff(cfg.SweepErrorDelay, cfg.SweepErrorDelay),
		smsratelimit.WithSweepMetrics(metrics),
		smsratelimit.WithSweepLogger(logger),
	}
	sweepers := []*smsratelimit.Sweeper{
		smsratelimit.NewLimiterSweeper(registry, cfg.InactiveThreshold, cfg.CleanupInterval, sweepOpts...),
		smsratelimit.NewHistorySweeper(store, cfg.HistoryRetention, cfg.CleanupInterval, sweepOpts...),
	}

	router := smsratelimit.NewRouter(ctrl, rate.NewLimiter(rate.Limit(cfg.MonitoringRPS), cfg.MonitoringBurst))
	router.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sweepers {
		s := s
		g.Go(func() error {
			return s.Run(gctx)
		})
	}

	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newRedisClient(url string) (*redis.Client, error) {
	if !strings.Contains(url, "://") {
		return redis.NewClient(&redis.Options{Addr: url}), nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}
