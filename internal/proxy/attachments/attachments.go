// Package attachments materializes inbound image parts (inline base64 or
// remote URLs) as local temporary files so they can be attached to an
// upstream exchange, and guarantees their removal afterwards.
package attachments

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/gemini-relay/internal/proxy/mappers"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Materialize writes every image part to a temp file and returns the
// paths in part order. On any failure the already-written files are
// removed before the error is returned, so callers never inherit partial
// state.
func Materialize(ctx context.Context, parts []mappers.ImagePart) ([]string, error) {
	var paths []string
	for _, part := range parts {
		var (
			path string
			err  error
		)
		switch {
		case strings.HasPrefix(part.URL, "data:"):
			path, err = FromBase64(part.URL)
		case strings.HasPrefix(part.URL, "http://"), strings.HasPrefix(part.URL, "https://"):
			path, err = FromURL(ctx, part.URL)
		default:
			// Unrecognized references are skipped, matching the relay's
			// tolerant handling of client payload quirks.
			continue
		}
		if err != nil {
			Cleanup(paths)
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// FromBase64 decodes an inline image (raw base64 or data: URI) to a temp
// file and returns its path.
func FromBase64(encoded string) (string, error) {
	if idx := strings.Index(encoded, "base64,"); idx >= 0 {
		encoded = encoded[idx+len("base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode inline image: %w", err)
	}

	path := tempPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write inline image: %w", err)
	}
	return path, nil
}

// FromURL downloads a remote image to a temp file and returns its path.
// A partial download is deleted before the error is returned.
func FromURL(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build image download request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download image %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download image %s: status %d", rawURL, resp.StatusCode)
	}

	path := tempPath()
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("stream image %s to disk: %w", rawURL, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close temp image: %w", err)
	}
	return path, nil
}

// Cleanup removes every temp file, logging rather than failing on errors;
// it runs on every exit path of a proxied request.
func Cleanup(paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("⚠️ Failed to remove temp attachment %s: %v", path, err)
		}
	}
}

func tempPath() string {
	return filepath.Join(os.TempDir(), "temp_chat_img_"+uuid.New().String()+".png")
}
