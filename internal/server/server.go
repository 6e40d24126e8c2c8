package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dhblabs/settlement-backend/internal/evmrpc"
	"github.com/dhblabs/settlement-backend/internal/gateway"
	"github.com/dhblabs/settlement-backend/internal/monitoring"
	"github.com/dhblabs/settlement-backend/internal/oracle"
	"github.com/dhblabs/settlement-backend/internal/queue"
	"github.com/dhblabs/settlement-backend/internal/scheduler"
	"github.com/dhblabs/settlement-backend/internal/settlement"
	"github.com/dhblabs/settlement-backend/internal/store"
	pgstore "github.com/dhblabs/settlement-backend/internal/store/postgres"
	transporthttp "github.com/dhblabs/settlement-backend/internal/transport/http"
	"github.com/dhblabs/settlement-backend/internal/utils/config"
	"github.com/dhblabs/settlement-backend/internal/utils/logger"
	"github.com/dhblabs/settlement-backend/internal/worker"
)

func Init() {
	appConfig := config.New()
	logger := logger.New(appConfig.Environment)

	db := pgstore.New(appConfig, logger)
	s := store.New()

	registry, err := evmrpc.NewRegistry(appConfig.Chains, logger)
	if err != nil {
		logger.Fatal("failed to init chain wallets", map[string]string{
			"error": err.Error(),
		})
		return
	}

	metricsRegistry := prometheus.NewRegistry()
	jobMetrics := monitoring.NewJobMetrics(metricsRegistry)

	oracleSvc := oracle.New(appConfig, logger)
	gw := monitoring.NewCircuitBreakerGateway(
		gateway.New(appConfig, logger),
		monitoring.DefaultCircuitBreakerConfig,
		logger,
	)

	q := queue.New(db, s, appConfig.Settlement.VerifyWorkers, logger, jobMetrics)

	service := settlement.New(db, s, oracleSvc, gw, registry, appConfig, logger)

	w := worker.New(db, s, service, gw, oracleSvc, registry, q, appConfig, logger)
	w.RegisterHandlers()
	q.Start()

	sched := scheduler.New(db, s, service, q, jobMetrics, appConfig, logger)
	sched.Start()

	engine := transporthttp.NewHttpServer(appConfig, logger, service, gw, db, metricsRegistry)

	srv := &http.Server{
		Addr:    ":" + appConfig.ApiServer.Port,
		Handler: engine,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server stopped", map[string]string{
				"error": err.Error(),
			})
		}
	}()

	logger.Info("server started", map[string]string{
		"port": appConfig.ApiServer.Port,
	})

	// Block until asked to stop, then drain sweeps and workers before the
	// listener so no job is cut off mid-transfer.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	sched.Stop()
	q.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http shutdown", map[string]string{
			"error": err.Error(),
		})
	}
}
