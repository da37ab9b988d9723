// Package app wires upload validation and the video providers into the
// single request flow: validate, stage, generate, return the result.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"pawmotion/internal/upload"
	"pawmotion/internal/video"
)

// Config holds runtime configuration for the core application.
type Config struct {
	Uploads         *upload.Handler
	Providers       []video.Provider
	DefaultProvider string
	AspectRatio     string
	Resolution      string
	DurationSeconds int
}

// App is the core application service behind the HTTP layer.
type App struct {
	uploads         *upload.Handler
	providers       map[string]video.Provider
	defaultProvider string
	aspectRatio     string
	resolution      string
	durationSeconds int
}

// GenerateInput is one user submission.
type GenerateInput struct {
	Filename string
	Data     []byte
	Prompt   string
	Provider string
	Mode     string
}

// New constructs the application. At least one provider is required.
func New(cfg Config) (*App, error) {
	if cfg.Uploads == nil {
		return nil, fmt.Errorf("upload handler is required")
	}
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one video provider is required")
	}
	providers := make(map[string]video.Provider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers[p.Name()] = p
	}
	defaultProvider := strings.TrimSpace(cfg.DefaultProvider)
	if defaultProvider == "" {
		defaultProvider = cfg.Providers[0].Name()
	}
	if _, ok := providers[defaultProvider]; !ok {
		return nil, fmt.Errorf("default provider %q is not registered", defaultProvider)
	}
	duration := cfg.DurationSeconds
	if duration <= 0 {
		duration = 4
	}
	return &App{
		uploads:         cfg.Uploads,
		providers:       providers,
		defaultProvider: defaultProvider,
		aspectRatio:     cfg.AspectRatio,
		resolution:      cfg.Resolution,
		durationSeconds: duration,
	}, nil
}

// Uploads exposes the upload handler for the cleanup janitor.
func (a *App) Uploads() *upload.Handler {
	return a.uploads
}

// ProviderNames lists registered providers in stable order.
func (a *App) ProviderNames() []string {
	names := make([]string, 0, len(a.providers))
	for name := range a.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultProvider returns the provider used when a submission names none.
func (a *App) DefaultProvider() string {
	return a.defaultProvider
}

// Generate runs one submission through validate, stage, and the vendor call.
// No vendor call is made unless the upload passes validation and the prompt
// is non-empty.
func (a *App) Generate(ctx context.Context, in GenerateInput, progress video.ProgressFunc) (*video.Result, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	providerName := strings.TrimSpace(in.Provider)
	if providerName == "" {
		providerName = a.defaultProvider
	}
	provider, ok := a.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerName)
	}

	video.Report(progress, "validating upload")
	stagedPath, err := a.uploads.Stage(in.Filename, in.Data)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := a.uploads.Remove(stagedPath); err != nil {
			slog.Warn("remove staged upload", "path", stagedPath, "err", err)
		}
	}()

	req := video.Request{
		Image:           in.Data,
		MIMEType:        upload.SniffMIME(in.Data),
		StagedPath:      stagedPath,
		Prompt:          prompt,
		Mode:            video.ParseMode(in.Mode),
		AspectRatio:     a.aspectRatio,
		Resolution:      a.resolution,
		DurationSeconds: a.durationSeconds,
	}

	started := time.Now()
	result, err := provider.Generate(ctx, req, progress)
	if err != nil {
		return nil, err
	}
	result.Video, result.ContentType = upload.PassThroughVideo(result.Video)
	slog.Info("video generated",
		"provider", result.Provider,
		"model", result.Model,
		"bytes", len(result.Video),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return result, nil
}
