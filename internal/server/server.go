// Package server exposes the web UI and the generation API over HTTP.
package server

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"time"

	"pawmotion/internal/app"
	"pawmotion/internal/ratelimit"
	"pawmotion/internal/upload"
	"pawmotion/internal/util"
	"pawmotion/internal/video"
)

//go:embed index.html
var pageFS embed.FS

// Form parsing needs headroom beyond the image itself for multipart framing
// and the prompt fields.
const formOverheadBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	MaxUploadBytes             int64
	RedisAddr                  string
	RedisPassword              string
	GenerateRateLimitPerMinute int
	TrustedProxyCIDRs          []string
}

// Server exposes HTTP endpoints for the app.
type Server struct {
	app             *app.App
	mux             *http.ServeMux
	page            *template.Template
	maxUploadBytes  int64
	generateLimiter *ratelimit.FixedWindowLimiter
	trustedProxies  *util.TrustedProxies
}

// New constructs the server with routes configured. The generate endpoint is
// rate limited when a Redis address is configured; without one the server
// runs unthrottled and says so in the log.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("app is required")
	}
	maxBytes := cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	limit := cfg.GenerateRateLimitPerMinute
	if limit <= 0 {
		limit = 3
	}
	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" {
		var err error
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "pawmotion:ratelimit:generate", limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init generate limiter: %w", err)
		}
	} else {
		slog.Warn("no redis addr configured, generate endpoint is not rate limited")
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	page, err := template.ParseFS(pageFS, "index.html")
	if err != nil {
		return nil, fmt.Errorf("parse page template: %w", err)
	}
	s := &Server{
		app:             cfg.App,
		mux:             http.NewServeMux(),
		page:            page,
		maxUploadBytes:  maxBytes,
		generateLimiter: limiter,
		trustedProxies:  trusted,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with middleware applied.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog("pawmotion", s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/{$}", s.handleIndex)
	s.mux.HandleFunc("/api/providers", s.handleProviders)
	s.mux.HandleFunc("/api/generate", s.handleGenerate)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pageData struct {
	MaxUploadMB     int64
	Providers       []string
	DefaultProvider string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := pageData{
		MaxUploadMB:     s.maxUploadBytes / 1024 / 1024,
		Providers:       s.app.ProviderNames(),
		DefaultProvider: s.app.DefaultProvider(),
	}
	if err := s.page.Execute(w, data); err != nil {
		slog.Error("render page", "err", err)
	}
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": s.app.ProviderNames(),
		"default":   s.app.DefaultProvider(),
		"modes":     []string{string(video.ModeSpeech), string(video.ModeDance)},
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.generateLimiter != nil && !s.allowRate(w, r) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+formOverheadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if isMaxBytesError(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "image exceeds the upload size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image is required (field: file)")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		if isMaxBytesError(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "image exceeds the upload size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "could not read uploaded image")
		return
	}

	logger := util.LoggerFromContext(r.Context())
	progress := func(stage string) {
		logger.Info("generation_progress", "stage", stage)
	}

	result, err := s.app.Generate(r.Context(), app.GenerateInput{
		Filename: header.Filename,
		Data:     data,
		Prompt:   r.FormValue("prompt"),
		Provider: r.FormValue("provider"),
		Mode:     r.FormValue("mode"),
	}, progress)
	if err != nil {
		logger.Warn("generation_failed", "err", err)
		writeGenerateError(w, err)
		return
	}

	name := fmt.Sprintf("pawmotion_%s.mp4", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(result.Video)))
	w.Header().Set("X-Video-Provider", result.Provider)
	_, _ = w.Write(result.Video)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request) bool {
	key := util.ClientIP(r, s.trustedProxies)
	if s.generateLimiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, "too many generation requests, try again in a minute")
	return false
}

// writeGenerateError maps flow errors to a user-facing status and message,
// distinguishing bad input from vendor failures.
func writeGenerateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, upload.ErrNoFile):
		writeError(w, http.StatusBadRequest, "no image was uploaded")
	case errors.Is(err, upload.ErrInvalidFileType):
		writeError(w, http.StatusBadRequest, "unsupported image type: use jpg, jpeg, png, or webp")
	case errors.Is(err, upload.ErrInvalidImage):
		writeError(w, http.StatusBadRequest, "the uploaded file is not a valid image")
	case errors.Is(err, upload.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "image exceeds the upload size limit")
	case errors.Is(err, app.ErrEmptyPrompt):
		writeError(w, http.StatusBadRequest, "enter a prompt describing the video")
	case errors.Is(err, app.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, "unknown video provider")
	case errors.Is(err, video.ErrMissingAPIKey):
		writeError(w, http.StatusServiceUnavailable, "this provider is not configured on the server")
	case errors.Is(err, video.ErrAuth):
		writeError(w, http.StatusBadGateway, "the video service rejected the server credentials")
	case errors.Is(err, video.ErrQuotaExceeded):
		writeError(w, http.StatusTooManyRequests, "the video service quota is exhausted, try again later")
	case errors.Is(err, video.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "video generation timed out, please resubmit")
	case errors.Is(err, video.ErrInvalidInput):
		writeError(w, http.StatusUnprocessableEntity, "the video service rejected this image or prompt")
	case errors.Is(err, video.ErrGenerationFailed):
		writeError(w, http.StatusBadGateway, "video generation failed, please try again")
	default:
		writeError(w, http.StatusInternalServerError, "unexpected error")
	}
}

func isMaxBytesError(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
