package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lukelocksmith/timemonitor/internal/clickup"
	"github.com/lukelocksmith/timemonitor/internal/config"
	"github.com/lukelocksmith/timemonitor/internal/mock"
	"github.com/lukelocksmith/timemonitor/internal/reconcile"
	"github.com/lukelocksmith/timemonitor/internal/session"
	"github.com/lukelocksmith/timemonitor/internal/store"
	"github.com/lukelocksmith/timemonitor/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	port := flag.Int("port", 0, "override server port")
	mockMode := flag.Bool("mock", false, "run against a synthetic upstream (no API credentials needed)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	defer st.Close()

	var client clickup.Client
	if *mockMode {
		log.Println("Running in mock mode with synthetic workers")
		client = mock.NewUpstream()
	} else {
		if cfg.Upstream.APIToken == "" || cfg.Upstream.TeamID == "" {
			log.Fatal("upstream.api_token and upstream.team_id are required (or run with -mock)")
		}
		client = clickup.NewHTTPClient(cfg.Upstream.BaseURL, cfg.Upstream.APIToken, cfg.Upstream.TeamID, cfg.Upstream.RequestTimeout)
	}

	cache := session.NewCache()
	broadcaster := ws.NewBroadcaster(cache)
	rec := reconcile.New(cfg, st, cache, broadcaster, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rec.Init(ctx); err != nil {
		log.Fatalf("Failed to recover sessions from store: %v", err)
	}

	if cfg.Reconcile.Backfill.Enabled {
		// Historical import is best effort; the live channels don't depend
		// on it.
		if err := rec.Backfill(ctx); err != nil {
			log.Printf("Backfill failed: %v", err)
		}
	}

	recDone := make(chan struct{})
	go func() {
		rec.Start(ctx)
		close(recDone)
	}()

	server := ws.NewServer(cache, broadcaster, rec, rec, cfg.Server.AllowedOrigins, cfg.Server.AuthToken)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	httpSrv := ws.NewHTTPServer(cfg.Server.Host, cfg.Server.Port, mux)
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s", httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down", sig)
	case err := <-errCh:
		log.Fatalf("Server error: %v", err)
	}

	// Stop accepting, let the in-flight poll cycle finish its store write,
	// then fall through to the deferred store close.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	cancel()
	<-recDone
	log.Println("Shutdown complete")
}
