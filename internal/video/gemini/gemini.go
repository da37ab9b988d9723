// Package gemini generates image-to-video clips with the Veo models behind
// the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"

	"pawmotion/internal/video"
)

const (
	// DefaultModel is the Veo variant used when none is configured.
	DefaultModel = "veo-3.1-fast-generate-preview"

	defaultPollInterval = 10 * time.Second
	defaultTimeout      = 300 * time.Second
)

// Options configures the client. Zero values fall back to defaults.
type Options struct {
	APIKey       string
	Model        string
	PollInterval time.Duration
	Timeout      time.Duration
}

// Client wraps the Gemini video-generation API for one provider slot.
type Client struct {
	apiKey       string
	model        string
	pollInterval time.Duration
	timeout      time.Duration

	mu     sync.Mutex
	client *genai.Client
}

// New constructs a client. A missing API key is not an error here: it is
// reported per request, before any network call, so the rest of the app can
// run with only the other provider configured.
func New(opts Options) *Client {
	c := &Client{
		apiKey:       opts.APIKey,
		model:        opts.Model,
		pollInterval: opts.PollInterval,
		timeout:      opts.Timeout,
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	return c
}

// Name identifies the provider in the registry and API responses.
func (c *Client) Name() string {
	return "gemini"
}

func (c *Client) initClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	c.client = client
	return c.client, nil
}

// Generate submits one image-to-video request, polls the operation until it
// finishes or the deadline passes, and returns the downloaded MP4 bytes.
func (c *Client) Generate(ctx context.Context, req video.Request, progress video.ProgressFunc) (*video.Result, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", video.ErrMissingAPIKey)
	}
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	video.Report(progress, "connecting to Veo")
	client, err := c.initClient(ctx)
	if err != nil {
		return nil, translate(err)
	}

	cfg := &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
	}
	if req.AspectRatio != "" {
		cfg.AspectRatio = req.AspectRatio
	}
	if req.Resolution != "" {
		cfg.Resolution = req.Resolution
	}
	if req.DurationSeconds > 0 {
		cfg.DurationSeconds = genai.Ptr(int32(req.DurationSeconds))
	}

	image := &genai.Image{
		ImageBytes: req.Image,
		MIMEType:   req.MIMEType,
	}

	video.Report(progress, "submitting generation request")
	operation, err := client.Models.GenerateVideos(ctx, c.model, EnhancePrompt(req.Prompt), image, cfg)
	if err != nil {
		return nil, translate(err)
	}

	video.Report(progress, "waiting for generation (usually 1-3 minutes)")
	for !operation.Done {
		select {
		case <-ctx.Done():
			return nil, translate(ctx.Err())
		case <-time.After(c.pollInterval):
		}
		operation, err = client.Operations.GetVideosOperation(ctx, operation, nil)
		if err != nil {
			return nil, translate(err)
		}
	}

	if operation.Error != nil {
		return nil, fmt.Errorf("%w: %v", video.ErrGenerationFailed, operation.Error)
	}
	if operation.Response == nil || len(operation.Response.GeneratedVideos) == 0 {
		return nil, fmt.Errorf("%w: vendor returned no videos", video.ErrGenerationFailed)
	}

	video.Report(progress, "downloading result")
	generated := operation.Response.GeneratedVideos[0]
	data, err := client.Files.Download(ctx, genai.NewDownloadURIFromVideo(generated.Video), nil)
	if err != nil {
		return nil, translate(err)
	}

	return &video.Result{
		Video:       data,
		ContentType: "video/mp4",
		Provider:    c.Name(),
		Model:       c.model,
		Elapsed:     time.Since(started),
	}, nil
}

// EnhancePrompt frames the user prompt so the dog's identity and background
// are preserved while only its behavior changes.
func EnhancePrompt(prompt string) string {
	return "Animate the dog in the photo so it moves naturally according to the prompt. " +
		"Preserve the dog's appearance and the original background; only its behavior changes.\n\n" +
		"Prompt: " + prompt
}

// translate maps vendor/SDK failures onto the generic error kinds.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: vendor did not finish in time", video.ErrTimeout)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401, 403:
			return fmt.Errorf("%w: %s", video.ErrAuth, apiErr.Message)
		case 429:
			return fmt.Errorf("%w: %s", video.ErrQuotaExceeded, apiErr.Message)
		case 400, 422:
			return fmt.Errorf("%w: %s", video.ErrInvalidInput, apiErr.Message)
		case 504:
			return fmt.Errorf("%w: %s", video.ErrTimeout, apiErr.Message)
		}
		return fmt.Errorf("%w: %s", video.ErrGenerationFailed, apiErr.Message)
	}
	return fmt.Errorf("%w: %v", video.ErrGenerationFailed, err)
}
