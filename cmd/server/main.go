/*
Package main is the entry point for the roleOOC chat server.

It is responsible for loading configuration, initializing the global logging system,
opening the persistence gateway and the archive object store, setting up the HTTP server,
starting the chat core and gracefully handling operating system interrupt signals
(SIGINT, SIGTERM) to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stanislavb/roleOOC/internal/app/archive"
	"github.com/stanislavb/roleOOC/internal/app/chat"
	"github.com/stanislavb/roleOOC/internal/app/db"
	"github.com/stanislavb/roleOOC/internal/app/store"
	"github.com/stanislavb/roleOOC/internal/configs"
	"github.com/stanislavb/roleOOC/internal/handler"
	"github.com/stanislavb/roleOOC/internal/pkg/logx"
	"github.com/stanislavb/roleOOC/internal/pkg/metrics"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("store_driver", cfg.StoreDriver).
		Bool("s3", cfg.HasS3()).
		Bool("user_verify", cfg.UserVerify).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var gateway store.Gateway
	switch cfg.StoreDriver {
	case configs.StoreDriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			logx.Fatal(err, "Failed to connect to the database")
		}
		defer pool.Close()
		gateway = db.New(pool)
		logx.Info("Database connection established and migrations applied")
	default:
		gateway = store.NewMemory()
		logx.Warn("Using the in-memory store, nothing survives a restart")
	}

	var objects archive.ObjectStore = archive.NewMemoryStore()
	if cfg.HasS3() {
		s3Store, err := archive.NewS3Store(ctx, archive.S3Config{
			BucketName:      cfg.S3BucketName,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			logx.Fatal(err, "Failed to initialize S3 archive storage")
		}
		objects = s3Store
	}
	archives := archive.NewService(gateway, objects)

	m := metrics.New()

	// Initialize Chat Manager
	manager, err := chat.NewManager(cfg, gateway, archives, m)
	if err != nil {
		logx.Fatal(err, "Failed to initialize chat core")
	}
	if err := manager.Start(ctx); err != nil {
		logx.Fatal(err, "Failed to start chat core")
	}

	// Setup HTTP server and routes
	router := handler.Router(&handler.AppDeps{
		Manager:  manager,
		Config:   cfg,
		Archives: archives,
		Metrics:  m,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("roleOOC server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	// Hijacked websocket connections are not tracked by Shutdown, the manager closes them.
	manager.Shutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	logx.Info("Server exited gracefully")
}
