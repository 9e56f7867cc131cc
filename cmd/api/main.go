package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"codehaven/api/internal/app"
	"codehaven/api/internal/collab"
	"codehaven/api/internal/config"
	"codehaven/api/internal/gitrepo"
	"codehaven/api/internal/search"
	"codehaven/api/internal/session"
	"codehaven/api/internal/store"
	"codehaven/api/internal/ws"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	gitService := gitrepo.New(cfg.ReposDir)
	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	registry := collab.NewRegistry(cfg.RoomEmptyGrace, cfg.RoomIdleTimeout)
	janitorStop := make(chan struct{})
	go registry.Janitor(cfg.SweepInterval, janitorStop)
	defer close(janitorStop)

	var service *app.Service
	var mirror *session.PresenceMirror
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis presence mirror")
		mirror, err = session.NewPresenceMirror(cfg.RedisURL, cfg.PresenceTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer mirror.Close()
		service = app.NewWithPresenceMirror(cfg, dataStore, gitService, searchService, registry, mirror)
	} else {
		log.Printf("Using in-process presence only")
		service = app.New(cfg, dataStore, gitService, searchService, registry)
	}

	hub := ws.NewHub(registry, service, mirror)
	go hub.Run()
	defer hub.Stop()

	mux := http.NewServeMux()
	mux.Handle("/ws", ws.NewHandler(hub, service, cfg.CORSOrigin))
	mux.Handle("/", app.NewHTTPServer(service, cfg.CORSOrigin).Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("CodeHaven API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
