package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"epubshelf/internal/app"
	"epubshelf/internal/config"
	"epubshelf/internal/server"
	"epubshelf/internal/util"
	"epubshelf/pkg/storage"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	accessTTL, err := config.ParseTTL(cfg.AccessTokenTTL)
	if err != nil {
		log.Fatalf("failed to parse access token TTL: %v", err)
	}
	refreshTTL, err := config.ParseTTL(cfg.RefreshTokenTTL)
	if err != nil {
		log.Fatalf("failed to parse refresh token TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	blobs, err := buildBlobStore(cfg)
	if err != nil {
		log.Fatalf("failed to init blob store: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:     cfg.DatabaseURL,
		SecretKey:       cfg.SecretKey,
		RedisAddr:       cfg.RedisAddr,
		RedisPassword:   cfg.RedisPassword,
		AccessTokenTTL:  accessTTL,
		RefreshTokenTTL: refreshTTL,
		MaxStorageBytes: cfg.MaxStorageBytesPerUser,
		Blobs:           blobs,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	var trustedProxies *util.TrustedProxies
	if cidrs, err := config.ParseTrustedProxyCIDRs(cfg.TrustedProxyCIDRs); err == nil && len(cidrs) > 0 {
		trustedProxies, err = util.NewTrustedProxies(cidrs)
		if err != nil {
			log.Fatalf("failed to parse trusted proxies: %v", err)
		}
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		MaxUploadBytes:             cfg.MaxUploadBytes,
		TrustedProxies:             trustedProxies,
		RedisAddr:                  cfg.RedisAddr,
		RedisPassword:              cfg.RedisPassword,
		RegisterRateLimitPerMinute: cfg.RegisterRateLimitPerMinute,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		RefreshRateLimitPerMinute:  cfg.RefreshRateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}

func buildBlobStore(cfg config.FileConfig) (storage.BlobStore, error) {
	if cfg.StorageDriver == "minio" {
		return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	}
	return storage.NewFileStore(cfg.StorageDir)
}
