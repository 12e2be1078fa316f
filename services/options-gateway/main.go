package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gatewayauth "optionchain/gateway/auth"
	"optionchain/observability/logging"
)

func main() {
	logger := logging.Setup("options-gateway", os.Getenv("OPTIONCHAIN_ENV"))

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	store, err := NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var persistence NoncePersistence
	if cfg.NonceDBPath != "" {
		nonceDB, err := gatewayauth.NewLevelDBNoncePersistence(cfg.NonceDBPath)
		if err != nil {
			logger.Error("open nonce store", "error", err)
			os.Exit(1)
		}
		defer nonceDB.Close()
		persistence = nonceDB
	}

	auth := NewAuthenticator(cfg.APIKeys, cfg.AllowedTimestampSkew, cfg.NonceTTL, cfg.NonceCapacity, time.Now, persistence)
	if persistence != nil {
		hydrateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := auth.HydrateNonces(hydrateCtx, time.Now().Add(-cfg.NonceTTL)); err != nil {
			logger.Warn("hydrate nonces", "error", err)
		}
		cancel()
	}

	node := NewRPCNodeClient(cfg.NodeURL, cfg.NodeAuthToken)
	queue := NewWebhookQueue(
		WithQueueCapacity(cfg.WebhookQueueCapacity),
		WithHistorySize(cfg.WebhookHistorySize),
		WithQueueTTL(cfg.WebhookQueueTTL),
	)
	server := NewServer(auth, node, store, queue, cfg.Partners)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher := NewEventWatcher(node, store, queue)
	watcher.pollInterval = cfg.PollInterval
	go watcher.Run(ctx)

	worker := NewWebhookWorker(store, queue)
	go worker.Run(ctx)

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pruneCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				if err := store.PruneIdempotency(pruneCtx, time.Now().Add(-cfg.IdempotencyTTL)); err != nil {
					logger.Warn("prune idempotency keys", "error", err)
				}
				cancel()
			}
		}
	}()

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
			stop()
		}
	}()
	logger.Info("options gateway listening", "address", cfg.ListenAddress)

	<-ctx.Done()
	logger.Info("shutting down options gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
