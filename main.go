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

	appcart "github.com/Zhima-Mochi/minishop-cart/internal/application/cart"
	"github.com/Zhima-Mochi/minishop-cart/internal/config"
	domcart "github.com/Zhima-Mochi/minishop-cart/internal/domain/cart"
	"github.com/Zhima-Mochi/minishop-cart/internal/infrastructure/catalog"
	"github.com/Zhima-Mochi/minishop-cart/internal/infrastructure/filestore"
	"github.com/Zhima-Mochi/minishop-cart/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-cart/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-cart/internal/infrastructure/notification"
	infraobs "github.com/Zhima-Mochi/minishop-cart/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-cart/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/minishop-cart/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-cart/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minishop-cart/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/minishop-cart/internal/infrastructure/redisstore"
	"github.com/Zhima-Mochi/minishop-cart/internal/infrastructure/sqlstore"
	"github.com/Zhima-Mochi/minishop-cart/internal/pkg/logging"
	httppresentation "github.com/Zhima-Mochi/minishop-cart/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/minishop-cart/internal/presentation/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const redisReadyAttempts = 5

// slotBackend is a persisted slot the process owns and must close.
type slotBackend interface {
	domcart.Slot
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	baseLogger := logging.MustNewLogger(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	systemLogger := logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID)

	counters, histograms, gauges := prometrics.Standard(prometrics.New(nil, "", ""))
	tel := infraobs.New(
		oteltrace.New(cfg.ServiceName),
		zaplogger.New(baseLogger),
		infraobs.Instruments{
			Counters:   counters,
			Histograms: histograms,
			Gauges:     gauges,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slot, err := openSlot(ctx, cfg.Slot)
	if err != nil {
		systemLogger.Fatal("slot_open_failed",
			zap.String("backend", cfg.Slot.Backend),
			zap.Error(err),
		)
	}
	defer func() { _ = slot.Close() }()

	// In-memory event bus carries notifications and commit events to the feed worker
	bus := outbox.NewBus(tel.Logger())
	bus.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		bus.Stop(stopCtx)
	}()

	feed := notification.NewFeed(cfg.Cart.NotificationFeed)
	notificationWorker := notification.NewWorker(bus, feed, tel,
		workerpresentation.EventObservability(tel.Logger(), tel.Tracer()),
	)
	notificationWorker.Start()

	store, err := appcart.Load(ctx, cfg.Cart.Key, appcart.Dependencies{
		Catalog:   catalog.New(cfg.Catalog.BaseURL, cfg.Catalog.Timeout, tel),
		Slot:      slot,
		Notifier:  notification.NewNotifier(bus, tel.Logger()),
		Publisher: bus,
		IDs:       id.NewUUIDGenerator(),
		Telemetry: tel,
	})
	if err != nil {
		systemLogger.Fatal("cart_load_failed",
			zap.String("key", cfg.Cart.Key),
			zap.Error(err),
		)
	}

	handler := httppresentation.NewHandler(store, feed, tel, slot.Ping)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		systemLogger.Info("http_server_start",
			zap.String("addr", server.Addr),
			zap.String("slot_backend", cfg.Slot.Backend),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error",
				zap.Error(err),
			)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error",
			zap.Error(err),
		)
	} else {
		systemLogger.Info("http_server_stopped")
	}
}

func openSlot(ctx context.Context, cfg config.SlotConfig) (slotBackend, error) {
	switch cfg.Backend {
	case config.SlotMemory:
		return memory.NewSlot(), nil
	case config.SlotFile:
		return filestore.New(cfg.Path)
	case config.SlotRedis:
		s, err := redisstore.New(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := s.WaitReady(ctx, redisReadyAttempts); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case config.SlotSQLite:
		return sqlstore.Open(ctx, sqlstore.DriverSQLite, cfg.DSN)
	case config.SlotPostgres:
		return sqlstore.Open(ctx, sqlstore.DriverPostgres, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown slot backend %q", cfg.Backend)
	}
}
