package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/nextwaves/rfid-edge/internal/bus"
	"github.com/nextwaves/rfid-edge/internal/config"
	"github.com/nextwaves/rfid-edge/internal/control"
	"github.com/nextwaves/rfid-edge/internal/decision"
	"github.com/nextwaves/rfid-edge/internal/gateway"
	"github.com/nextwaves/rfid-edge/internal/httpapi"
	"github.com/nextwaves/rfid-edge/internal/janitor"
	"github.com/nextwaves/rfid-edge/internal/logging"
	"github.com/nextwaves/rfid-edge/internal/metrics"
	"github.com/nextwaves/rfid-edge/internal/store"
)

type options struct {
	Config   string `short:"c" long:"config" env:"EDGE_CONFIG" default:"conf/edge-config.yaml" description:"Path to the YAML configuration file"`
	LogLevel string `long:"log-level" env:"EDGE_LOG_LEVEL" description:"Override the configured log level"`
}

func main() {
	// Load .env before flag parsing so env defaults can come from it.
	_ = godotenv.Load()

	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		log.WithError(err).Fatal("edge service failed")
	}
}

func run(opts options) error {
	mgr, err := config.NewManager(opts.Config)
	if err != nil {
		return err
	}
	cfg := mgr.Current()

	logOpts := logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}
	if opts.LogLevel != "" {
		logOpts.Level = opts.LogLevel
	}
	logCloser, err := logging.Setup(logOpts)
	if err != nil {
		return err
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	log.WithFields(log.Fields{
		"config":  mgr.Path(),
		"gate_id": cfg.Gate.GateID,
	}).Info("edge service starting")

	tags, err := store.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer tags.Close()

	audit := store.NewAuditLog(tags.DB())
	m := metrics.New(prometheus.DefaultRegisterer)

	engine := decision.New(tags, audit, func() decision.Policy {
		d := mgr.Current().Decision
		return decision.Policy{
			DebounceMS:      d.DebounceMS,
			AlarmCooldownMS: d.AlarmCooldownMS,
			PassWhenInCart:  d.PassWhenInCart,
		}
	})

	b := bus.New()
	client := gateway.NewClient(mgr, engine, b, m)
	plane := control.New(mgr, tags, client)
	jan := janitor.New(mgr, tags, engine)

	workers, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		client.Run(workers)
	}()
	go func() {
		defer wg.Done()
		jan.Run(workers)
	}()
	go func() {
		defer wg.Done()
		b.RunStatusLoop(workers, client.Connected, tags.Counts)
	}()

	client.Start()

	api := httpapi.New(mgr, plane, tags, audit, b, client, jan, m)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      api.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown incomplete")
	}

	client.Stop()
	cancelWorkers()
	wg.Wait()

	// Detaches every WebSocket subscriber so the write pumps exit.
	b.Close()

	log.Info("edge service stopped")
	return nil
}
