// Package attachment materializes inline image payloads as temporary
// files so the engine can reference them by path.
package attachment

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cenkalti/backoff/v4"

	"github.com/coderelay/coderelay/internal/logging"
	"github.com/coderelay/coderelay/pkg/types"
)

// dataURL matches "data:<mime>;base64,<payload>".
var dataURL = regexp.MustCompile(`^data:([^;]+);base64,(.+)$`)

const tempSubdir = ".tmp/images"

// Handle tracks the temp files written for one prompt so they can be
// released in bulk once the stream ends.
type Handle struct {
	paths []string
	dir   string
}

// Paths returns the materialized file paths.
func (h *Handle) Paths() []string {
	if h == nil {
		return nil
	}
	return h.paths
}

// Cleanup removes the temp files and their directory. Removal is
// best-effort with a short retry; failures are logged, never fatal.
func (h *Handle) Cleanup() {
	if h == nil || len(h.paths) == 0 {
		return
	}

	for _, path := range h.paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logging.Warn().Err(err).Str("path", path).Msg("failed to delete temp image")
		}
	}

	if h.dir == "" {
		return
	}

	// Editors or indexers occasionally hold the directory open for a
	// moment; retry briefly before giving up.
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	err := backoff.Retry(func() error {
		return os.RemoveAll(h.dir)
	}, b)
	if err != nil {
		logging.Warn().Err(err).Str("dir", h.dir).Msg("failed to delete temp image directory")
		return
	}

	logging.Debug().Int("count", len(h.paths)).Str("dir", h.dir).Msg("cleaned up temp images")
}

// Store writes inline images under <workDir>/.tmp/images.
type Store struct{}

// NewStore creates an attachment store.
func NewStore() *Store {
	return &Store{}
}

// Materialize writes each inline image to a temp file and returns the
// prompt annotated with the file paths, plus a cleanup handle. Any
// failure degrades to the original prompt; attachments are never a
// reason to fail a stream.
func (s *Store) Materialize(prompt string, images []types.InlineImage, workDir string) (string, *Handle) {
	handle := &Handle{}
	if len(images) == 0 {
		return prompt, handle
	}

	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			logging.Error().Err(err).Msg("cannot resolve working directory for attachments")
			return prompt, handle
		}
		workDir = wd
	}

	dir := filepath.Join(workDir, tempSubdir, strconv.FormatInt(time.Now().UnixMilli(), 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logging.Error().Err(err).Str("dir", dir).Msg("failed to create temp image directory")
		return prompt, handle
	}
	handle.dir = dir

	for i, image := range images {
		m := dataURL.FindStringSubmatch(image.Data)
		if m == nil {
			logging.Error().Int("index", i).Msg("invalid image data format")
			continue
		}

		ext := "png"
		if parts := strings.SplitN(m[1], "/", 2); len(parts) == 2 && parts[1] != "" {
			ext = parts[1]
		}

		raw, err := base64.StdEncoding.DecodeString(m[2])
		if err != nil {
			logging.Error().Err(err).Int("index", i).Msg("failed to decode image payload")
			continue
		}

		path := filepath.Join(dir, fmt.Sprintf("image_%d.%s", i, ext))
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			logging.Error().Err(err).Str("path", path).Msg("failed to write temp image")
			continue
		}
		handle.paths = append(handle.paths, path)
	}

	if len(handle.paths) == 0 || strings.TrimSpace(prompt) == "" {
		return prompt, handle
	}

	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\n[Images provided at the following paths:]\n")
	for i, path := range handle.paths {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, path)
	}

	logging.Debug().Int("count", len(handle.paths)).Str("dir", dir).Msg("materialized prompt images")
	return strings.TrimRight(sb.String(), "\n"), handle
}

// SweepStale removes leftover temp image directories older than maxAge,
// typically ones orphaned by a previous crash.
func (s *Store) SweepStale(workDir string, maxAge time.Duration) error {
	base := filepath.Join(workDir, tempSubdir)
	matches, err := doublestar.FilepathGlob(filepath.Join(base, "*"))
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	for _, dir := range matches {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(dir); err != nil {
				logging.Warn().Err(err).Str("dir", dir).Msg("failed to sweep stale attachment directory")
				continue
			}
			logging.Debug().Str("dir", dir).Msg("swept stale attachment directory")
		}
	}
	return nil
}
