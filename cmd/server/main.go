package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"commonroom/internal/api"
	"commonroom/internal/audit"
	"commonroom/internal/config"
	"commonroom/internal/events"
	"commonroom/internal/export"
	"commonroom/internal/google"
	"commonroom/internal/logging"
	"commonroom/internal/metrics"
	"commonroom/internal/notify"
	"commonroom/internal/repository"
	"commonroom/internal/service"
	"commonroom/internal/store"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Register()
	if cfg.Monitoring.PrometheusEnabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
			logger.Info().Str("addr", addr).Msg("metrics server listening")
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	st, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init store")
	}

	cache := buildCache(ctx, cfg, logger)
	bus := events.NewEventBus()

	if cfg.Audit.Path != "" {
		journal, err := audit.Open(cfg.Audit.Path, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open audit journal")
		}
		defer journal.Close()
		journal.Attach(bus)
	}

	notifier := buildNotifier(ctx, cfg, logger)
	notify.Forward(bus, notifier)

	bookings := service.NewBookingService(st, cache, bus, cfg.Booking, logger)
	users := service.NewUserService(st, bus, logger)

	if !cfg.API.Enabled {
		logger.Info().Msg("api disabled, idling until shutdown")
		<-ctx.Done()
		return
	}

	server := api.NewServer(cfg.API, bookings, users, export.Occupancy, cfg.Exports.Path, logger)
	if err := server.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("api server failed")
	}
	logger.Info().Msg("shutdown complete")
}

func buildStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		logger.Warn().Msg("using in-memory store, data will not survive restarts")
		return store.NewMemory(0), nil
	default:
		sheetsStore, err := google.NewSheetsStore(ctx, cfg.Google)
		if err != nil {
			return nil, err
		}
		if err := sheetsStore.TestConnection(ctx); err != nil {
			return nil, err
		}
		for _, table := range []string{service.TableBookings, service.TableUsers} {
			if err := sheetsStore.WarmUpCache(ctx, table); err != nil {
				logger.Warn().Err(err).Str("table", table).Msg("row cache warm-up failed")
			}
		}
		sheetsStore.StartCacheRefresh(ctx, []string{service.TableBookings, service.TableUsers}, 5*time.Minute)
		return sheetsStore, nil
	}
}

func buildCache(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) repository.SnapshotCache {
	memCache := repository.NewMemorySnapshotCache(cfg.Cache.TTL())
	if cfg.Redis.Address == "" {
		return memCache
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, snapshot cache falls back to memory")
	}

	redisCache := repository.NewRedisSnapshotCache(client, cfg.Cache.TTL())
	return repository.NewFailoverSnapshotCache(redisCache, memCache, logger)
}

func buildNotifier(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) notify.Notifier {
	if !cfg.Telegram.Enabled {
		return notify.Noop{}
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Error().Err(err).Msg("telegram init failed, notifications disabled")
		return notify.Noop{}
	}

	n := notify.NewTelegramNotifier(bot, cfg.Telegram.ChatID, notify.RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  2 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
	}, logger)
	go n.Start(ctx)
	return n
}
