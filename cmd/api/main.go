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

	"readingroom/api/internal/app"
	"readingroom/api/internal/config"
	"readingroom/api/internal/render"
	"readingroom/api/internal/search"
	"readingroom/api/internal/storage"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	primary, err := storage.Open(ctx, storage.Options{
		Kind:          cfg.Storage,
		RedisURL:      cfg.RedisURL,
		DatabaseURL:   cfg.DatabaseURL,
		MigrationsDir: cfg.MigrationsDir,
		ReposDir:      cfg.ReposDir,
		Object: storage.ObjectStoreConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		},
	})
	if err != nil {
		log.Printf("WARNING: %s storage unavailable, comments will not persist: %v", cfg.Storage, err)
		primary = storage.Unavailable(err)
	}
	backend := storage.FailOpen(primary)
	defer backend.Close()
	log.Printf("Using %s storage under key %q", cfg.Storage, cfg.StorageKey)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient)
	defer searchService.Close()

	service := app.New(cfg, backend, searchService, render.NewService())
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Reading room API listening on %s", cfg.Addr)
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
