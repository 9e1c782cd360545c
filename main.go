package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/xicheng412/CliCast/internal/auth"
	"github.com/xicheng412/CliCast/internal/config"
	"github.com/xicheng412/CliCast/internal/database"
	"github.com/xicheng412/CliCast/internal/handlers"
	"github.com/xicheng412/CliCast/internal/hub"
	"github.com/xicheng412/CliCast/internal/middleware"
	"github.com/xicheng412/CliCast/internal/session"
)

//go:embed frontend/dist
var frontendFS embed.FS

// shutdownGrace bounds how long shutdown may take regardless of how many
// sessions are live.
const shutdownGrace = 10 * time.Second

func main() {
	config.Load()

	cfgStore, err := config.NewStore(filepath.Join(config.Cfg.DataPath, "config.json"), config.Cfg)
	if err != nil {
		log.Fatalf("Config init: %v", err)
	}
	if err := cfgStore.Watch(); err != nil {
		log.Printf("WARNING: config watcher: %v", err)
	}
	defer cfgStore.Close()

	if err := database.Init(filepath.Join(config.Cfg.DataPath, "clicast.db")); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	tokens := auth.NewTokenStore(cfgStore)

	registry := session.NewRegistry()
	registry.Audit = database.RecordSessionEvent

	wsHub := hub.New(registry, tokens)

	authH := &handlers.AuthHandlers{Tokens: tokens}
	sessionH := &handlers.SessionHandlers{Registry: registry, Config: cfgStore}
	configH := &handlers.ConfigHandlers{Config: cfgStore}
	dirH := &handlers.DirHandlers{Config: cfgStore}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Route("/api", func(r chi.Router) {
		// Bootstrap endpoints (no token required)
		r.Get("/health", handlers.Health)
		r.Get("/auth/status", authH.Status)
		r.Post("/auth/init", authH.Init)
		r.Post("/auth/verify", authH.Verify)
		r.Put("/auth", authH.Rotate)

		// Token-gated routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireToken(tokens))

			r.Delete("/auth", authH.Clear)

			r.Get("/config", configH.Get)
			r.Put("/config", configH.Update)

			r.Get("/dirs", dirH.List)
			r.Get("/dirs/breadcrumbs", dirH.Breadcrumbs)

			r.Post("/sessions", sessionH.Create)
			r.Get("/sessions", sessionH.List)
			r.Get("/sessions/{id}", sessionH.Get)
			r.Delete("/sessions/{id}", sessionH.Delete)
			r.Post("/sessions/{id}/stop", sessionH.Stop)
		})
	})

	// Terminal WebSockets (token validated before upgrade)
	r.Get("/ws", wsHub.ServeSession)
	r.Get("/ws/dev", wsHub.ServeDev)

	// SPA static files (embedded)
	distFS, _ := fs.Sub(frontendFS, "frontend/dist")
	spa := middleware.NewSPAHandler(distFS)
	r.NotFound(spa.ServeHTTP)

	port := cfgStore.Get().Port
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     r,
		IdleTimeout: time.Duration(config.Cfg.IdleTimeoutSeconds) * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on :%d", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
	}

	log.Println("Shutting down...")

	wsHub.CloseAll(websocket.StatusGoingAway, "server shutting down")
	registry.Shutdown()
	wsHub.StopDev()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
	log.Println("Server stopped")
}
