// Package kling generates image-to-video clips with the Kling AI REST API.
package kling

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"pawmotion/internal/video"
)

const (
	defaultBaseURL      = "https://api.klingai.com/v1"
	defaultModel        = "kling-v2-6"
	defaultPollInterval = 10 * time.Second
	defaultTimeout      = 10 * time.Minute

	tokenTTL      = 30 * time.Minute
	tokenNBFSkew  = 5 * time.Second
	minVideoBytes = 10 * 1024
)

// Options configures the client. Zero values fall back to defaults.
type Options struct {
	AccessKey    string
	SecretKey    string
	BaseURL      string
	Model        string
	PollInterval time.Duration
	Timeout      time.Duration
}

// Client calls the Kling AI image2video API.
type Client struct {
	accessKey    string
	secretKey    string
	baseURL      string
	model        string
	pollInterval time.Duration
	timeout      time.Duration
	httpClient   *http.Client
}

// New constructs a client. Missing credentials are reported per request,
// before any network call.
func New(opts Options) *Client {
	c := &Client{
		accessKey:    strings.TrimSpace(opts.AccessKey),
		secretKey:    strings.TrimSpace(opts.SecretKey),
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		model:        opts.Model,
		pollInterval: opts.PollInterval,
		timeout:      opts.Timeout,
		httpClient:   &http.Client{Timeout: 2 * time.Minute},
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.model == "" {
		c.model = defaultModel
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
	return "kling"
}

// signedToken mints a short-lived HS256 JWT from the access/secret key pair.
func (c *Client) signedToken() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.accessKey,
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		NotBefore: jwt.NewNumericDate(now.Add(-tokenNBFSkew)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.secretKey))
	if err != nil {
		return "", fmt.Errorf("sign kling token: %w", err)
	}
	return signed, nil
}

type submitRequest struct {
	ModelName   string `json:"model_name"`
	Image       string `json:"image"`
	Prompt      string `json:"prompt"`
	Duration    string `json:"duration"`
	AspectRatio string `json:"aspect_ratio"`
	Mode        string `json:"mode"`
	EnableAudio bool   `json:"enable_audio"`
}

type apiEnvelope struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Data    taskData `json:"data"`
}

type taskData struct {
	TaskID        string     `json:"task_id"`
	TaskStatus    string     `json:"task_status"`
	TaskStatusMsg string     `json:"task_status_msg"`
	TaskResult    taskResult `json:"task_result"`
}

type taskResult struct {
	Videos []taskVideo `json:"videos"`
}

type taskVideo struct {
	URL      string `json:"url"`
	Duration string `json:"duration"`
}

// Generate submits one image2video task, polls it until success/failure or
// the deadline, and downloads the resulting video.
func (c *Client) Generate(ctx context.Context, req video.Request, progress video.ProgressFunc) (*video.Result, error) {
	if c.accessKey == "" || c.secretKey == "" {
		return nil, fmt.Errorf("%w: KLING_ACCESS_KEY and KLING_SECRET_KEY are not set", video.ErrMissingAPIKey)
	}
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	duration := req.DurationSeconds
	if duration != 5 && duration != 10 {
		duration = 5
	}

	video.Report(progress, "submitting generation request")
	body := submitRequest{
		ModelName:   c.model,
		Image:       base64.StdEncoding.EncodeToString(req.Image),
		Prompt:      BuildPrompt(req.Mode, req.Prompt),
		Duration:    strconv.Itoa(duration),
		AspectRatio: req.AspectRatio,
		Mode:        "pro",
		EnableAudio: true,
	}
	var submitted apiEnvelope
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/videos/image2video", body, &submitted); err != nil {
		return nil, err
	}
	if submitted.Code != 0 {
		return nil, fmt.Errorf("%w: %s", video.ErrGenerationFailed, submitted.Message)
	}
	taskID := submitted.Data.TaskID
	if taskID == "" {
		return nil, fmt.Errorf("%w: vendor returned no task id", video.ErrGenerationFailed)
	}

	video.Report(progress, "waiting for generation (usually 2-5 minutes)")
	task, err := c.pollTask(ctx, taskID, progress)
	if err != nil {
		return nil, err
	}

	if len(task.TaskResult.Videos) == 0 || task.TaskResult.Videos[0].URL == "" {
		return nil, fmt.Errorf("%w: vendor returned no video url", video.ErrGenerationFailed)
	}

	video.Report(progress, "downloading result")
	data, err := c.downloadVideo(ctx, task.TaskResult.Videos[0].URL)
	if err != nil {
		return nil, err
	}

	return &video.Result{
		Video:       data,
		ContentType: "video/mp4",
		Provider:    c.Name(),
		Model:       c.model,
		Elapsed:     time.Since(started),
	}, nil
}

func (c *Client) pollTask(ctx context.Context, taskID string, progress video.ProgressFunc) (*taskData, error) {
	pollURL := c.baseURL + "/videos/image2video/" + taskID
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: vendor did not finish in time", video.ErrTimeout)
			}
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		var polled apiEnvelope
		if err := c.doJSON(ctx, http.MethodGet, pollURL, nil, &polled); err != nil {
			if errors.Is(err, video.ErrAuth) {
				return nil, err
			}
			// Transient poll failures are retried until the deadline.
			continue
		}
		switch polled.Data.TaskStatus {
		case "succeed":
			return &polled.Data, nil
		case "failed":
			msg := polled.Data.TaskStatusMsg
			if msg == "" {
				msg = "unknown vendor failure"
			}
			return nil, fmt.Errorf("%w: %s", video.ErrGenerationFailed, msg)
		}
		video.Report(progress, "still generating")
	}
}

func (c *Client) downloadVideo(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: result download interrupted", video.ErrTimeout)
			case <-time.After(3 * time.Second):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusOK && len(data) >= minVideoBytes {
			return data, nil
		}
		lastErr = fmt.Errorf("download status %d, %d bytes", resp.StatusCode, len(data))
	}
	return nil, fmt.Errorf("%w: result download failed: %v", video.ErrGenerationFailed, lastErr)
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload any, out *apiEnvelope) error {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}
	token, err := c.signedToken()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: vendor did not finish in time", video.ErrTimeout)
		}
		return fmt.Errorf("%w: %v", video.ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: kling status %d", video.ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: kling status %d", video.ErrQuotaExceeded, resp.StatusCode)
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: kling status %d", video.ErrInvalidInput, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: kling status %d", video.ErrGenerationFailed, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode kling response: %v", video.ErrGenerationFailed, err)
	}
	return nil
}

// BuildPrompt applies the mode-specific template around the user prompt. The
// user prompt stays the highest-priority instruction for better adherence.
func BuildPrompt(mode video.Mode, prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if mode == video.ModeDance {
		return "Follow USER_PROMPT as the highest-priority instruction.\n" +
			"Preserve the dog's identity and the original background.\n" +
			"Make the dog move naturally and energetically according to USER_PROMPT.\n" +
			"No subtitles, no extra text overlays.\n\n" +
			"USER_PROMPT:\n" + prompt
	}
	return "The dog in the photo opens its mouth and speaks the following dialogue " +
		"with accurate lip-sync mouth movements.\n" +
		"The dog's mouth moves naturally matching each syllable of the dialogue.\n" +
		"Preserve the dog's identity and the original background.\n" +
		"No subtitles, no extra text overlays.\n\n" +
		"Dialogue:\n" + prompt
}
