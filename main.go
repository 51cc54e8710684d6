package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yhchiang-dev/shopledger/internal/application/settlement"
	"github.com/yhchiang-dev/shopledger/internal/application/stockledger"
	"github.com/yhchiang-dev/shopledger/internal/config"
	domainOrder "github.com/yhchiang-dev/shopledger/internal/domain/order"
	domainProduct "github.com/yhchiang-dev/shopledger/internal/domain/product"
	"github.com/yhchiang-dev/shopledger/internal/infrastructure/alert"
	"github.com/yhchiang-dev/shopledger/internal/infrastructure/gateway"
	"github.com/yhchiang-dev/shopledger/internal/infrastructure/id"
	"github.com/yhchiang-dev/shopledger/internal/infrastructure/memory"
	"github.com/yhchiang-dev/shopledger/internal/infrastructure/observability/oteltrace"
	"github.com/yhchiang-dev/shopledger/internal/infrastructure/observability/prometrics"
	"github.com/yhchiang-dev/shopledger/internal/infrastructure/observability/telemetry"
	"github.com/yhchiang-dev/shopledger/internal/infrastructure/observability/zaplogger"
	"github.com/yhchiang-dev/shopledger/internal/infrastructure/postgres"
	"github.com/yhchiang-dev/shopledger/internal/observability"
	httppresentation "github.com/yhchiang-dev/shopledger/internal/presentation/http"
)

func main() {
	cfg := config.Load()

	baseLogger := zaplogger.New(
		observability.F("service", cfg.ServiceName),
		observability.F("env", cfg.Env),
	)
	type syncer interface{ Sync() error }
	if s, ok := baseLogger.(syncer); ok {
		defer func() { _ = s.Sync() }()
	}

	tel := telemetry.New(
		oteltrace.New(cfg.ServiceName),
		baseLogger,
		prometrics.NewProvider("", ""),
	)

	var (
		productRepo domainProduct.Repository
		orderRepo   domainOrder.Repository
	)
	if cfg.PostgresDSN != "" {
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			baseLogger.Error("postgres_open_failed", observability.F("error", err.Error()))
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		productRepo = postgres.NewProductRepository(db)
		orderRepo = postgres.NewOrderRepository(db)
		baseLogger.Info("store_selected", observability.F("store", "postgres"))
	} else {
		productRepo = memory.NewProductRepository()
		orderRepo = memory.NewOrderRepository()
		baseLogger.Info("store_selected", observability.F("store", "memory"))
	}

	dispatcher := alert.NewDispatcher(tel)
	alertLogger := baseLogger.With(observability.F("component", "stock_alert_listener"))
	dispatcher.Subscribe(func(_ context.Context, e domainProduct.AlertEvent) error {
		alertLogger.Warn("stock_alert_received",
			observability.F("product_id", e.ProductID),
			observability.F("kind", string(e.Kind)),
			observability.F("current_stock", e.CurrentStock),
			observability.F("threshold_stock", e.ThresholdStock),
		)
		return nil
	})

	idGenerator := id.NewUUIDGenerator()
	ledgerService := stockledger.NewService(productRepo, dispatcher, idGenerator, cfg.DefaultAlertThreshold, tel)
	settlementService := settlement.NewService(orderRepo, gateway.NewSimulator(tel), idGenerator, cfg.GatewayTimeout, tel)

	handler := httppresentation.NewHandler(ledgerService, settlementService, baseLogger, tel)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		baseLogger.Info("http_server_start",
			observability.F("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Error("http_server_error",
				observability.F("error", err.Error()),
			)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("http_server_shutdown_error",
			observability.F("error", err.Error()),
		)
	} else {
		baseLogger.Info("http_server_stopped")
	}
}
