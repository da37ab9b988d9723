package upload

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func jpegBytes(size int) []byte {
	data := bytes.Repeat([]byte{0x42}, size)
	copy(data, []byte{0xff, 0xd8, 0xff, 0xe0})
	return data
}

func pngBytes(size int) []byte {
	data := bytes.Repeat([]byte{0x42}, size)
	copy(data, []byte("\x89PNG\r\n\x1a\n"))
	return data
}

func newTestHandler(t *testing.T, maxBytes int64) *Handler {
	t.Helper()
	h, err := NewHandler(t.TempDir(), maxBytes, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h
}

func TestValidate(t *testing.T) {
	h := newTestHandler(t, 10*1024*1024)

	tests := []struct {
		name     string
		filename string
		data     []byte
		wantErr  error
	}{
		{"valid jpeg", "dog.jpg", jpegBytes(2 * 1024 * 1024), nil},
		{"valid png", "dog.png", pngBytes(4096), nil},
		{"text extension", "dog.txt", jpegBytes(4096), ErrInvalidFileType},
		{"no extension", "dog", jpegBytes(4096), ErrInvalidFileType},
		{"oversize", "dog.jpg", jpegBytes(11 * 1024 * 1024), ErrFileTooLarge},
		{"empty upload", "dog.jpg", nil, ErrNoFile},
		{"tiny file", "dog.jpg", jpegBytes(50), ErrInvalidImage},
		{"wrong content", "dog.jpg", bytes.Repeat([]byte("not an image "), 100), ErrInvalidFileType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.Validate(tt.filename, tt.data)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("validate: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("validate error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSixtyMegabyteUpload(t *testing.T) {
	h := newTestHandler(t, 10*1024*1024)
	if err := h.Validate("dog.jpg", jpegBytes(60*1024*1024)); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("validate error = %v, want ErrFileTooLarge", err)
	}
}

func TestStageWritesUniqueTempFile(t *testing.T) {
	h := newTestHandler(t, 10*1024*1024)
	data := jpegBytes(4096)

	path1, err := h.Stage("dog.jpg", data)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	path2, err := h.Stage("dog.jpg", data)
	if err != nil {
		t.Fatalf("stage second: %v", err)
	}
	if path1 == path2 {
		t.Fatalf("staged paths should be unique, both %q", path1)
	}
	if !strings.HasPrefix(filepath.Base(path1), "dog_") {
		t.Fatalf("staged name %q missing prefix", filepath.Base(path1))
	}
	if !strings.HasSuffix(path1, ".jpg") {
		t.Fatalf("staged name %q missing extension", path1)
	}

	got, err := h.ReadStaged(path1)
	if err != nil {
		t.Fatalf("read staged: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("staged bytes differ from upload")
	}
}

func TestStageRejectsInvalidWithoutWriting(t *testing.T) {
	dir := t.TempDir()
	h, err := NewHandler(dir, 10*1024*1024, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	if _, err := h.Stage("dog.txt", jpegBytes(4096)); !errors.Is(err, ErrInvalidFileType) {
		t.Fatalf("stage error = %v, want ErrInvalidFileType", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty staging dir, found %d entries", len(entries))
	}
}

func TestReadStagedRejectsOutsidePath(t *testing.T) {
	h := newTestHandler(t, 10*1024*1024)
	if _, err := h.ReadStaged("/etc/passwd"); err == nil {
		t.Fatal("expected error for path outside staging dir")
	}
}

func TestCleanupOlderThan(t *testing.T) {
	dir := t.TempDir()
	h, err := NewHandler(dir, 10*1024*1024, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	old, err := h.Stage("dog.jpg", jpegBytes(4096))
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	fresh, err := h.Stage("dog.png", pngBytes(4096))
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	// Unrelated files in the directory must not be touched.
	other := filepath.Join(dir, "unrelated.bin")
	if err := os.WriteFile(other, []byte("keep"), 0o644); err != nil {
		t.Fatalf("write unrelated: %v", err)
	}
	if err := os.Chtimes(other, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed, err := h.CleanupOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("stale staged file should be gone")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh staged file should remain: %v", err)
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("unrelated file should remain: %v", err)
	}
}

func TestSniffMIME(t *testing.T) {
	webp := append([]byte("RIFF\x10\x00\x00\x00WEBPVP8 "), bytes.Repeat([]byte{0}, 32)...)
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", jpegBytes(512), "image/jpeg"},
		{"png", pngBytes(512), "image/png"},
		{"webp", webp, "image/webp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SniffMIME(tt.data); got != tt.want {
				t.Fatalf("SniffMIME = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPassThroughVideo(t *testing.T) {
	mp4 := append([]byte{0x00, 0x00, 0x00, 0x20}, []byte("ftypisom")...)
	mp4 = append(mp4, bytes.Repeat([]byte{0}, 64)...)

	got, contentType := PassThroughVideo(mp4)
	if !bytes.Equal(got, mp4) {
		t.Fatalf("video bytes were modified")
	}
	if contentType != "video/mp4" {
		t.Fatalf("content type = %q, want video/mp4", contentType)
	}

	_, contentType = PassThroughVideo([]byte("not a video"))
	if contentType == "video/mp4" {
		t.Fatalf("unexpected video/mp4 for non-video bytes")
	}
}
