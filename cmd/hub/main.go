package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lanlink/internal/infrastructure/relay"
	"lanlink/pkg/config"
	"lanlink/pkg/logger"
)

func main() {
	var cfg *config.Config
	var err error
	if env := os.Getenv("LANLINK_CONFIG"); env != "" {
		// An explicitly named config must exist; no silent defaults.
		cfg, err = config.LoadStrict(env)
	} else {
		configPaths := []string{
			"configs/config.yaml",
			"config.yaml",
			"/etc/lanlink/config.yaml",
		}
		for _, path := range configPaths {
			cfg, err = config.Load(path)
			if err == nil {
				break
			}
		}
	}
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	zapLogger, err := logger.New(cfg.Logging.Level)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	hub := relay.NewHub(relay.Config{
		PingInterval:      cfg.Hub.PingInterval,
		PongTimeout:       cfg.Hub.PongTimeout,
		MessagesPerSecond: cfg.Hub.MessagesPerSecond,
		Burst:             cfg.Hub.Burst,
	}, log)

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "healthy",
			"clients": len(hub.Clients()),
		})
	})

	srv := &http.Server{
		Addr:         cfg.Hub.Address,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("relay hub listening", "address", cfg.Hub.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("hub server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("graceful shutdown failed, forcing close", "error", err)
		srv.Close()
	}
	log.Infow("hub stopped")
}
