package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/coop-adventure/sessions/internal/config"
	"github.com/coop-adventure/sessions/internal/lobby"
	"github.com/coop-adventure/sessions/internal/mock"
	"github.com/coop-adventure/sessions/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Seed the lobby with demo sessions")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	store := lobby.NewStore()
	broadcaster := ws.NewBroadcaster(store, cfg.Server.BroadcastThrottle, cfg.Server.SnapshotInterval, cfg.Server.MaxConnections)
	defer broadcaster.Stop()
	broadcaster.SetPrivacyFilter(ws.PrivacyFilterFromConfig(cfg.Privacy))

	server := ws.NewServer(cfg, store, broadcaster)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *mockMode {
		log.Println("Starting in mock mode")
		mock.NewGenerator(store).Start(ctx)
	}

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	if err := ws.ListenAndServe(ctx, cfg.Server.Host, cfg.Server.Port, mux); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Shutting down...")
}
