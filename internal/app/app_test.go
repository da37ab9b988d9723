package app

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"pawmotion/internal/upload"
	"pawmotion/internal/video"
)

// fakeProvider counts vendor calls and returns scripted results.
type fakeProvider struct {
	name    string
	calls   int
	err     error
	lastReq video.Request
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(_ context.Context, req video.Request, _ video.ProgressFunc) (*video.Result, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &video.Result{
		Video:       mp4Bytes(2048),
		ContentType: "video/mp4",
		Provider:    f.name,
		Model:       "fake-model",
	}, nil
}

func mp4Bytes(size int) []byte {
	data := bytes.Repeat([]byte{0x00}, size)
	copy(data, []byte{0x00, 0x00, 0x00, 0x20})
	copy(data[4:], []byte("ftypisom"))
	return data
}

func jpegBytes(size int) []byte {
	data := bytes.Repeat([]byte{0x42}, size)
	copy(data, []byte{0xff, 0xd8, 0xff, 0xe0})
	return data
}

func newTestApp(t *testing.T, providers ...video.Provider) *App {
	t.Helper()
	uploads, err := upload.NewHandler(t.TempDir(), 10*1024*1024, nil)
	if err != nil {
		t.Fatalf("new upload handler: %v", err)
	}
	a, err := New(Config{
		Uploads:         uploads,
		Providers:       providers,
		DurationSeconds: 4,
		AspectRatio:     "16:9",
		Resolution:      "720p",
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func TestGenerateHappyPathMakesExactlyOneVendorCall(t *testing.T) {
	provider := &fakeProvider{name: "gemini"}
	a := newTestApp(t, provider)

	result, err := a.Generate(context.Background(), GenerateInput{
		Filename: "dog.jpg",
		Data:     jpegBytes(2 * 1024 * 1024),
		Prompt:   "dog running on a beach",
	}, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("vendor calls = %d, want exactly 1", provider.calls)
	}
	if len(result.Video) == 0 || result.ContentType != "video/mp4" {
		t.Fatalf("expected playable video result, got %d bytes %q", len(result.Video), result.ContentType)
	}
	if provider.lastReq.MIMEType != "image/jpeg" {
		t.Fatalf("request MIME = %q, want image/jpeg", provider.lastReq.MIMEType)
	}
	if provider.lastReq.Prompt != "dog running on a beach" {
		t.Fatalf("request prompt = %q", provider.lastReq.Prompt)
	}
}

func TestGenerateInvalidTypeSkipsVendor(t *testing.T) {
	provider := &fakeProvider{name: "gemini"}
	a := newTestApp(t, provider)

	_, err := a.Generate(context.Background(), GenerateInput{
		Filename: "dog.txt",
		Data:     jpegBytes(4096),
		Prompt:   "dog running on a beach",
	}, nil)
	if !errors.Is(err, upload.ErrInvalidFileType) {
		t.Fatalf("error = %v, want ErrInvalidFileType", err)
	}
	if provider.calls != 0 {
		t.Fatalf("vendor calls = %d, want 0 for invalid upload", provider.calls)
	}
}

func TestGenerateOversizeSkipsVendor(t *testing.T) {
	provider := &fakeProvider{name: "gemini"}
	a := newTestApp(t, provider)

	_, err := a.Generate(context.Background(), GenerateInput{
		Filename: "dog.jpg",
		Data:     jpegBytes(60 * 1024 * 1024),
		Prompt:   "dog running on a beach",
	}, nil)
	if !errors.Is(err, upload.ErrFileTooLarge) {
		t.Fatalf("error = %v, want ErrFileTooLarge", err)
	}
	if provider.calls != 0 {
		t.Fatalf("vendor calls = %d, want 0 for oversize upload", provider.calls)
	}
}

func TestGenerateEmptyPromptSkipsVendor(t *testing.T) {
	provider := &fakeProvider{name: "gemini"}
	a := newTestApp(t, provider)

	_, err := a.Generate(context.Background(), GenerateInput{
		Filename: "dog.jpg",
		Data:     jpegBytes(4096),
		Prompt:   "   ",
	}, nil)
	if !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("error = %v, want ErrEmptyPrompt", err)
	}
	if provider.calls != 0 {
		t.Fatalf("vendor calls = %d, want 0 for empty prompt", provider.calls)
	}
}

func TestGenerateMissingAPIKeySurfacedBeforeNetwork(t *testing.T) {
	provider := &fakeProvider{name: "gemini", err: video.ErrMissingAPIKey}
	a := newTestApp(t, provider)

	_, err := a.Generate(context.Background(), GenerateInput{
		Filename: "dog.jpg",
		Data:     jpegBytes(4096),
		Prompt:   "dog running on a beach",
	}, nil)
	if !errors.Is(err, video.ErrMissingAPIKey) {
		t.Fatalf("error = %v, want ErrMissingAPIKey", err)
	}
}

func TestGenerateTimeoutThenResubmitSucceeds(t *testing.T) {
	provider := &fakeProvider{name: "gemini", err: video.ErrTimeout}
	a := newTestApp(t, provider)

	in := GenerateInput{
		Filename: "dog.jpg",
		Data:     jpegBytes(4096),
		Prompt:   "dog running on a beach",
	}
	_, err := a.Generate(context.Background(), in, nil)
	if !errors.Is(err, video.ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}

	provider.err = nil
	if _, err := a.Generate(context.Background(), in, nil); err != nil {
		t.Fatalf("resubmission should succeed: %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("vendor calls = %d, want 2 across both submissions", provider.calls)
	}
}

func TestGenerateUnknownProvider(t *testing.T) {
	a := newTestApp(t, &fakeProvider{name: "gemini"})

	_, err := a.Generate(context.Background(), GenerateInput{
		Filename: "dog.jpg",
		Data:     jpegBytes(4096),
		Prompt:   "dog running on a beach",
		Provider: "sora",
	}, nil)
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("error = %v, want ErrUnknownProvider", err)
	}
}

func TestGenerateRoutesToNamedProvider(t *testing.T) {
	gemini := &fakeProvider{name: "gemini"}
	kling := &fakeProvider{name: "kling"}
	a := newTestApp(t, gemini, kling)

	_, err := a.Generate(context.Background(), GenerateInput{
		Filename: "dog.jpg",
		Data:     jpegBytes(4096),
		Prompt:   "hello",
		Provider: "kling",
		Mode:     "dance",
	}, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if kling.calls != 1 || gemini.calls != 0 {
		t.Fatalf("calls gemini=%d kling=%d, want 0/1", gemini.calls, kling.calls)
	}
	if kling.lastReq.Mode != video.ModeDance {
		t.Fatalf("mode = %q, want dance", kling.lastReq.Mode)
	}
}

func TestProviderNamesSorted(t *testing.T) {
	a := newTestApp(t, &fakeProvider{name: "kling"}, &fakeProvider{name: "gemini"})
	names := a.ProviderNames()
	if len(names) != 2 || names[0] != "gemini" || names[1] != "kling" {
		t.Fatalf("provider names = %v", names)
	}
}
