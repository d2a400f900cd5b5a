package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/octoprompt/octostream/internal/bootstrap"
	"github.com/octoprompt/octostream/internal/config"
	"github.com/octoprompt/octostream/internal/httpserver"
	"github.com/octoprompt/octostream/internal/logging"
	"github.com/octoprompt/octostream/internal/metrics"
	"github.com/octoprompt/octostream/internal/version"
)

func main() {
	cfg, err := config.LoadStreamConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	out, logs, err := logging.Output(os.Stdout, cfg.LogFileDaemon)
	if err != nil {
		log.Fatalf("init logging: %v", err)
	}
	defer logs.Close()
	log.SetOutput(out)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[streamd] ")

	ctx := context.Background()
	store, err := bootstrap.OpenSink(ctx, cfg)
	if err != nil {
		log.Fatalf("open sink %s: %v", cfg.SinkDriver, err)
	}
	defer store.Close()

	r, err := bootstrap.BuildRouter(cfg)
	if err != nil {
		log.Fatalf("build router: %v", err)
	}
	log.Printf("providers registered: %v", r.ListProviders())
	log.Printf("routes configured: %v fallback=%q", r.ListRoutes(), r.Fallback())

	collector := metrics.NewCollector()
	engine := bootstrap.NewEngine(cfg, logging.New(out, "stream", cfg.Environment, cfg.LogLevel), collector)

	httpSrv := httpserver.New(r, engine, store, collector)
	httpSrv.SetDefaults(bootstrap.DefaultOptions(cfg))
	httpSrv.SetLogger(cfg.LogLevel, logging.New(out, "http", cfg.Environment, cfg.LogLevel))

	srv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           httpSrv.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		// streams have no write deadline; cancellation follows the client
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("streamd %s listening on %s sink=%s", version.Info(), cfg.HTTPAddress, cfg.SinkDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.FlushTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
