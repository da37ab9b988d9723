// Package video defines the provider-neutral generation request/result types
// and the error kinds vendor clients translate their failures into.
package video

import (
	"context"
	"errors"
	"time"
)

// Mode selects how the prompt is framed for the vendor.
type Mode string

const (
	// ModeSpeech animates the dog speaking the prompt as lip-synced dialogue.
	ModeSpeech Mode = "speech"
	// ModeDance animates the dog moving according to the prompt.
	ModeDance Mode = "dance"
)

// ParseMode maps a request field to a known mode, defaulting to speech.
func ParseMode(raw string) Mode {
	if Mode(raw) == ModeDance {
		return ModeDance
	}
	return ModeSpeech
}

// Request carries one staged image and prompt to a provider. It has no
// identity beyond the single call.
type Request struct {
	Image           []byte
	MIMEType        string
	StagedPath      string
	Prompt          string
	Mode            Mode
	AspectRatio     string
	Resolution      string
	DurationSeconds int
}

// Result is the vendor's successful response: a playable video byte stream.
type Result struct {
	Video       []byte
	ContentType string
	Provider    string
	Model       string
	Elapsed     time.Duration
}

// ProgressFunc receives coarse stage descriptions while a generation blocks.
type ProgressFunc func(stage string)

// Provider generates one video per call against an external vendor.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request, progress ProgressFunc) (*Result, error)
}

// Error kinds surfaced to the controller. Vendor clients wrap these with
// detail; the server boundary maps them to user-facing responses.
var (
	ErrMissingAPIKey    = errors.New("vendor api key not configured")
	ErrAuth             = errors.New("vendor rejected credentials")
	ErrQuotaExceeded    = errors.New("vendor quota exceeded")
	ErrTimeout          = errors.New("video generation timed out")
	ErrInvalidInput     = errors.New("vendor rejected generation input")
	ErrGenerationFailed = errors.New("video generation failed")
)

// Report invokes the progress hook when one is set.
func Report(progress ProgressFunc, stage string) {
	if progress != nil {
		progress(stage)
	}
}
