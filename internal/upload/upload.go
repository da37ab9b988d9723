// Package upload validates user-submitted dog photos and stages them as
// transient temp files for the duration of a single generation request.
package upload

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoFile indicates the submission carried no file at all.
	ErrNoFile = errors.New("no file uploaded")
	// ErrInvalidFileType indicates an extension or MIME type outside the allowlist.
	ErrInvalidFileType = errors.New("unsupported image type")
	// ErrFileTooLarge indicates the upload exceeds the configured size limit.
	ErrFileTooLarge = errors.New("image exceeds size limit")
	// ErrInvalidImage indicates bytes too small or malformed to be a real image.
	ErrInvalidImage = errors.New("not a valid image file")
)

// Files smaller than this cannot be a decodable image.
const minImageBytes = 100

const stagedPrefix = "dog_"

// Handler validates uploads and stages them under a base directory.
type Handler struct {
	dir         string
	maxBytes    int64
	allowedExts map[string]struct{}
}

// NewHandler creates the staging directory if missing.
func NewHandler(dir string, maxBytes int64, extensions []string) (*Handler, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("staging dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	return &Handler{
		dir:         dir,
		maxBytes:    maxBytes,
		allowedExts: normalizeExtensions(extensions),
	}, nil
}

// MaxBytes returns the configured upload size limit.
func (h *Handler) MaxBytes() int64 {
	return h.maxBytes
}

// Validate checks filename extension, size, and sniffed content type.
// It returns one of the sentinel errors so callers can name the violated
// constraint to the user.
func (h *Handler) Validate(filename string, data []byte) error {
	if len(data) == 0 {
		return ErrNoFile
	}
	if int64(len(data)) > h.maxBytes {
		return fmt.Errorf("%w: %.1fMB over %dMB limit", ErrFileTooLarge,
			float64(len(data))/1024/1024, h.maxBytes/1024/1024)
	}
	if !h.extensionAllowed(filename) {
		return fmt.Errorf("%w: %s", ErrInvalidFileType, strings.ToLower(filepath.Ext(filename)))
	}
	if len(data) < minImageBytes {
		return ErrInvalidImage
	}
	if !mimeAllowed(SniffMIME(data)) {
		return fmt.Errorf("%w: content does not look like an image", ErrInvalidFileType)
	}
	return nil
}

// Stage validates the upload and writes it to a uniquely named temp file,
// returning the staged path.
func (h *Handler) Stage(filename string, data []byte) (string, error) {
	if err := h.Validate(filename, data); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(safeFilename(filename)))
	name := fmt.Sprintf("%s%s%s", stagedPrefix, uuid.NewString(), ext)
	target := filepath.Join(h.dir, name)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}
	return target, nil
}

// ReadStaged loads a previously staged file back into memory. The path must
// be inside the staging directory.
func (h *Handler) ReadStaged(path string) ([]byte, error) {
	clean := filepath.Clean(path)
	if filepath.Dir(clean) != filepath.Clean(h.dir) {
		return nil, fmt.Errorf("staged path outside staging dir: %s", path)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("read staged file: %w", err)
	}
	return data, nil
}

// Remove deletes a staged file, ignoring already-gone files.
func (h *Handler) Remove(path string) error {
	err := os.Remove(filepath.Clean(path))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CleanupOlderThan removes staged files older than maxAge and reports how
// many were deleted. Only files this package created are touched.
func (h *Handler) CleanupOlderThan(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return 0, fmt.Errorf("list staging dir: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), stagedPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(h.dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// SniffMIME determines the image content type from magic bytes, falling back
// to stdlib content detection for anything unrecognized.
func SniffMIME(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return "image/png"
	case bytes.HasPrefix(data, []byte("RIFF")) && len(data) >= 16 && bytes.Contains(data[:16], []byte("WEBP")):
		return "image/webp"
	case bytes.HasPrefix(data, []byte("\xff\xd8\xff")):
		return "image/jpeg"
	}
	return http.DetectContentType(data)
}

// PassThroughVideo hands generated video bytes to the display layer unchanged
// and reports the content type to serve them under. Vendor output is MP4
// (ISO base media, "ftyp" at offset 4); anything else is sniffed.
func PassThroughVideo(data []byte) ([]byte, string) {
	if len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")) {
		return data, "video/mp4"
	}
	return data, http.DetectContentType(data)
}

func mimeAllowed(mime string) bool {
	switch mime {
	case "image/jpeg", "image/png", "image/webp":
		return true
	}
	return false
}

func (h *Handler) extensionAllowed(filename string) bool {
	if len(h.allowedExts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	_, ok := h.allowedExts[ext]
	return ok
}

func normalizeExtensions(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		exts = []string{".jpg", ".jpeg", ".png", ".webp"}
	}
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}

func safeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	name = strings.TrimSpace(name)
	if name == "" {
		return "upload"
	}
	return name
}
