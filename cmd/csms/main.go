package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"csms/internal/billing"
	"csms/internal/config"
	"csms/internal/db"
	"csms/internal/httpapi"
	"csms/internal/repo"
	"csms/internal/station"
	"csms/internal/util"
	"csms/internal/ws"

	"github.com/juju/loggo"
)

var log = loggo.GetLogger("csms.cmd")

func main() {
	cfg := config.Load()

	if err := util.SetupLogging(cfg); err != nil {
		log.Errorf("setting up logging: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Errorf("connecting to database: %v", err)
		os.Exit(1)
	}
	defer d.Close()

	devices := repo.NewDevicesRepo(d.Pool)
	payers := repo.NewPayersRepo(d.Pool)
	tariffs := repo.NewTariffsRepo(d.Pool)
	charges := repo.NewChargesRepo(d.Pool)

	notifier := billing.New(payers, tariffs, charges, billing.Settings{
		RetryInterval:    cfg.BillingRetryInterval,
		MaxAttempts:      cfg.BillingMaxAttempts,
		DefaultUnitPrice: cfg.DefaultUnitPrice,
		Currency:         cfg.Currency,
	})

	registry := station.NewSessionRegistry()
	wsHandler := ws.NewHandler(devices, registry, notifier, cfg.CallTimeout)
	srv := httpapi.NewServer(cfg, devices, charges, registry, wsHandler)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("CSMS listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server: %v", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = httpServer.Shutdown(ctx2)
	// Shutdown does not touch hijacked connections; device sessions are
	// closed through the registry.
	for _, sess := range registry.Sessions() {
		_ = sess.Close()
	}
	notifier.Stop()
	log.Infof("CSMS shutdown complete")
}
