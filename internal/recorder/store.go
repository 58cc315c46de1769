package recorder

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/segmentio/ksuid"
)

// Artifact is one finalized recording on disk
type Artifact struct {
	Path      string    `json:"path"`
	MimeType  string    `json:"mime_type"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists finalized recordings and sweeps expired ones.
//
// Artifact names are ksuids, so lexical order is creation order and
// concurrent sessions never collide.
type Store struct {
	dir    string
	maxAge time.Duration
	cron   *cron.Cron
}

// NewStore creates the output directory if needed. maxAge <= 0 disables
// the retention sweep.
func NewStore(dir string, maxAge time.Duration) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory %s: %w", dir, err)
	}
	return &Store{dir: dir, maxAge: maxAge}, nil
}

// Dir returns the artifact directory
func (s *Store) Dir() string {
	return s.dir
}

// Create opens a new artifact file for writing. The caller owns the
// handle and must close it when the recording is finalized.
func (s *Store) Create(ext string) (*os.File, error) {
	name := fmt.Sprintf("%s.%s", ksuid.New().String(), ext)
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact %s: %w", path, err)
	}
	return f, nil
}

// List returns the stored artifacts, oldest first
func (s *Store) List() ([]Artifact, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact directory: %w", err)
	}

	var out []Artifact
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Artifact{
			Path:      filepath.Join(s.dir, entry.Name()),
			MimeType:  mimeForExt(filepath.Ext(entry.Name())),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// StartRetention schedules the hourly expiry sweep
func (s *Store) StartRetention() {
	if s.maxAge <= 0 {
		slog.Info("artifact retention disabled")
		return
	}
	s.cron = cron.New()
	s.cron.AddFunc("@hourly", s.sweep)
	s.cron.Start()
	s.sweep()
	slog.Info("artifact retention started",
		"dir", s.dir,
		"max_age", s.maxAge,
	)
}

// StopRetention halts the sweep scheduler
func (s *Store) StopRetention() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// sweep removes artifacts older than the retention window
func (s *Store) sweep() {
	artifacts, err := s.List()
	if err != nil {
		slog.Warn("retention sweep failed", "error", err)
		return
	}

	cutoff := time.Now().Add(-s.maxAge)
	removed := 0
	for _, a := range artifacts {
		if a.CreatedAt.After(cutoff) {
			continue
		}
		if err := os.Remove(a.Path); err != nil {
			slog.Warn("failed to remove expired artifact",
				"path", a.Path,
				"error", err,
			)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("removed expired artifacts", "count", removed)
	}
}

func mimeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".webm":
		return "video/webm"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
