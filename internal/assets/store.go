// Package assets is the filesystem store for generated and uploaded
// images. Files are named <purpose-prefix><random>.png, served under the
// relay's /static/images/ path, and reclaimed by a scheduled sweep once
// older than the configured expiry window.
package assets

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Purpose prefixes. The prefix records why a file exists, which is all an
// operator needs when inspecting the directory.
const (
	PrefixGenerated = "gen_"
	PrefixEdited    = "edit_"
	PrefixUploaded  = "upload_"
)

type Store struct {
	dir    string
	expiry time.Duration
	runner *cron.Cron
}

// NewStore creates the asset directory if needed.
func NewStore(dir string, expiry time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create asset directory: %w", err)
	}
	return &Store{dir: dir, expiry: expiry}, nil
}

// Dir returns the asset directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes image bytes under a fresh random name with the given purpose
// prefix and returns the filename.
func (s *Store) Save(prefix string, data []byte) (string, error) {
	filename := prefix + uuid.New().String() + ".png"
	if err := os.WriteFile(filepath.Join(s.dir, filename), data, 0o644); err != nil {
		return "", fmt.Errorf("save asset: %w", err)
	}
	return filename, nil
}

// SaveStream streams an upload to disk, for multipart reference images.
func (s *Store) SaveStream(prefix string, r io.Reader) (string, error) {
	filename := prefix + uuid.New().String() + ".png"
	path := filepath.Join(s.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create asset: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write asset: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close asset: %w", err)
	}
	return filename, nil
}

// Path returns the on-disk path for a stored filename.
func (s *Store) Path(filename string) string {
	return filepath.Join(s.dir, filename)
}

// URL builds the public URL for a stored filename.
func (s *Store) URL(baseURL, filename string) string {
	return strings.TrimRight(baseURL, "/") + "/static/images/" + filename
}

// StartSweep schedules the expiry sweep (e.g. "@every 1h") until Stop.
func (s *Store) StartSweep(spec string) error {
	runner := cron.New()
	if _, err := runner.AddFunc(spec, func() {
		if n := s.sweepOnce(time.Now()); n > 0 {
			log.Printf("🧹 Swept %d expired assets (older than %s)", n, s.expiry)
		}
	}); err != nil {
		return fmt.Errorf("schedule asset sweep: %w", err)
	}
	runner.Start()
	s.runner = runner
	return nil
}

// Stop halts the sweep schedule.
func (s *Store) Stop() {
	if s.runner != nil {
		s.runner.Stop()
	}
}

// sweepOnce deletes regular files older than the expiry window. One
// failed deletion never aborts the rest of the sweep. Subdirectories are
// left alone.
func (s *Store) sweepOnce(now time.Time) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		log.Printf("❌ Asset sweep failed to read %s: %v", s.dir, err)
		return 0
	}

	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			log.Printf("❌ Asset sweep stat %s: %v", entry.Name(), err)
			continue
		}
		if now.Sub(info.ModTime()) <= s.expiry {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			log.Printf("❌ Asset sweep delete %s: %v", entry.Name(), err)
			continue
		}
		deleted++
	}
	return deleted
}
