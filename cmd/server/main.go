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

	"pawmotion/internal/app"
	"pawmotion/internal/config"
	"pawmotion/internal/server"
	"pawmotion/internal/upload"
	"pawmotion/internal/util"
	"pawmotion/internal/video"
	"pawmotion/internal/video/gemini"
	"pawmotion/internal/video/kling"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	uploads, err := upload.NewHandler(cfg.TempDir, cfg.MaxUploadBytes, cfg.AllowedExtensions)
	if err != nil {
		log.Fatalf("failed to init upload handler: %v", err)
	}

	providers := []video.Provider{
		gemini.New(gemini.Options{
			APIKey:       cfg.GeminiAPIKey,
			Model:        cfg.GeminiModel,
			PollInterval: cfg.PollInterval(),
			Timeout:      cfg.GenerationTimeout(),
		}),
		kling.New(kling.Options{
			AccessKey:    cfg.KlingAccessKey,
			SecretKey:    cfg.KlingSecretKey,
			BaseURL:      cfg.KlingBaseURL,
			Model:        cfg.KlingModel,
			PollInterval: cfg.PollInterval(),
			Timeout:      cfg.GenerationTimeout(),
		}),
	}

	appCore, err := app.New(app.Config{
		Uploads:         uploads,
		Providers:       providers,
		DefaultProvider: cfg.DefaultProvider,
		AspectRatio:     cfg.AspectRatio,
		Resolution:      cfg.Resolution,
		DurationSeconds: cfg.VideoDurationSeconds,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		MaxUploadBytes:             cfg.MaxUploadBytes,
		RedisAddr:                  cfg.RedisAddr,
		RedisPassword:              cfg.RedisPassword,
		GenerateRateLimitPerMinute: cfg.GenerateRateLimitPerMinute,
		TrustedProxyCIDRs:          cfg.TrustedProxyCIDRs,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 60 * time.Second,
		// Write timeout must outlive a full blocking generation.
		WriteTimeout: cfg.GenerationTimeout() + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				removed, err := uploads.CleanupOlderThan(cfg.CleanupMaxAge())
				if err != nil {
					slog.Warn("staged file cleanup", "err", err)
					continue
				}
				if removed > 0 {
					slog.Info("staged file cleanup", "removed", removed)
				}
			}
		}
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
